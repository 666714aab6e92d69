// Package dialect 收拢 sqlite 与 mysql 在建表和错误识别上的差异
package dialect

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	core "gochen-trade/data/db"
)

type Name string

const (
	NameMySQL   Name = "mysql"
	NameSQLite  Name = "sqlite"
	NameUnknown Name = ""
)

// mysqlDuplicateEntry ER_DUP_ENTRY
const mysqlDuplicateEntry = 1062

type Dialect struct {
	name Name
}

// New 按驱动名构造方言，大小写不敏感；sqlite3 视同 sqlite
func New(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql":
		return Dialect{name: NameMySQL}
	case "sqlite", "sqlite3":
		return Dialect{name: NameSQLite}
	}
	return Dialect{name: NameUnknown}
}

// FromDatabase db 未实现 core.IDialectNameProvider 时返回 Unknown
func FromDatabase(db core.IDatabase) Dialect {
	if p, ok := db.(core.IDialectNameProvider); ok {
		return New(p.GetDialectName())
	}
	return Dialect{name: NameUnknown}
}

func (d Dialect) Name() Name { return d.name }

// QuoteIdentifier 对 schema.table 形式逐段加引号，Unknown 方言原样返回
func (d Dialect) QuoteIdentifier(name string) string {
	var q string
	switch d.name {
	case NameMySQL:
		q = "`"
	case NameSQLite:
		q = `"`
	default:
		return name
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p != "" {
			parts[i] = q + p + q
		}
	}
	return strings.Join(parts, ".")
}

// DocumentColumnType JSON 文档列
func (d Dialect) DocumentColumnType() string {
	if d.name == NameMySQL {
		return "LONGTEXT"
	}
	return "TEXT"
}

// KeyColumnType 主键列；MySQL 的 TEXT 不能做主键
func (d Dialect) KeyColumnType() string {
	if d.name == NameMySQL {
		return "VARCHAR(64)"
	}
	return "TEXT"
}

// IsUniqueViolation 识别主键或唯一键冲突
//
// 优先看驱动错误码；sqlite 未开扩展码或错误已被转成字符串时退回到消息匹配。
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		if code := liteErr.Code(); code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	switch d.name {
	case NameMySQL:
		return strings.Contains(msg, "duplicate entry")
	case NameSQLite:
		return strings.Contains(msg, "unique constraint failed")
	}
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}
