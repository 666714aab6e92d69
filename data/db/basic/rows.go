package basic

import "database/sql"

// rows 与 row 直接借用 database/sql 的方法集满足 core.IRows / core.IRow
type rows struct{ *sql.Rows }

type row struct{ *sql.Row }
