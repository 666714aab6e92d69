// Package db 定义文档仓储使用的最小数据库抽象，具体驱动在 basic 中装配
package db

import (
	"context"
	"database/sql"
	"time"
)

// IDatabase 语句执行入口，*basic.DB 与事务都实现它
type IDatabase interface {
	Query(ctx context.Context, query string, args ...any) (IRows, error)
	QueryRow(ctx context.Context, query string, args ...any) IRow
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	// Begin 开启事务；事务本身再调用 Begin 会返回错误
	Begin(ctx context.Context) (ITransaction, error)
	Close() error
}

// IDialectNameProvider 由知道自身驱动名的实现提供，dialect.FromDatabase 据此选择方言
type IDialectNameProvider interface {
	GetDialectName() string
}

type ITransaction interface {
	IDatabase
	Commit() error
	Rollback() error
}

type IRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

type IRow interface {
	Scan(dest ...any) error
	Err() error
}

// DBConfig 连接配置
//
// DSN 非空时直接使用；否则 mysql 由 Host/Port/Database 拼装，sqlite 把 Database 当作文件路径。
type DBConfig struct {
	Driver string
	DSN    string

	Host     string
	Port     int
	Database string
	Username string
	Password string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	ParseTime bool
}
