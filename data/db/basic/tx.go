package basic

import (
	"context"
	"database/sql"
	"errors"

	core "gochen-trade/data/db"
)

// ErrNestedTx 事务内不允许再开事务，事务边界由仓储自己管理
var ErrNestedTx = errors.New("basic: nested transaction")

// Tx 包装 *sql.Tx，语句执行方式与 DB 一致
type Tx struct {
	tx     *sql.Tx
	driver string
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	r, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows{r}, nil
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return row{t.tx.QueryRowContext(ctx, query, args...)}
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) Begin(context.Context) (core.ITransaction, error) { return nil, ErrNestedTx }

// Close 对事务无意义，结束事务请用 Commit 或 Rollback
func (t *Tx) Close() error { return nil }

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func (t *Tx) GetDialectName() string { return t.driver }

var _ core.ITransaction = (*Tx)(nil)
