package basic

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	core "gochen-trade/data/db"
	"gochen-trade/data/db/dialect"
)

// DB 基于 database/sql 的最小实现，满足 core.IDatabase 抽象
type DB struct {
	db     *sql.DB
	driver string
}

// New 根据 core.DBConfig 创建数据库实例并做连通性检查
//
// 支持的驱动：
//   - sqlite（modernc.org/sqlite，默认）：Database/DSN 为文件路径或 ":memory:"
//   - mysql（go-sql-driver/mysql）：优先使用 DSN，否则按 Host/Port/Database 拼装
func New(config core.DBConfig) (*DB, error) {
	driver := config.Driver
	if driver == "" {
		driver = "sqlite"
	}

	dsn, err := BuildDSN(config)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	// 每个 :memory: 连接都是独立数据库，必须限制为单连接
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, driver: driver}, nil
}

// BuildDSN 根据配置生成驱动连接串
func BuildDSN(config core.DBConfig) (string, error) {
	if config.DSN != "" {
		return config.DSN, nil
	}
	switch dialect.New(config.Driver).Name() {
	case dialect.NameMySQL:
		if config.Host == "" {
			return "", fmt.Errorf("mysql host is required")
		}
		cfg := mysql.NewConfig()
		cfg.User = config.Username
		cfg.Passwd = config.Password
		cfg.Net = "tcp"
		port := config.Port
		if port == 0 {
			port = 3306
		}
		cfg.Addr = net.JoinHostPort(config.Host, strconv.Itoa(port))
		cfg.DBName = config.Database
		cfg.ParseTime = config.ParseTime
		return cfg.FormatDSN(), nil
	case dialect.NameSQLite, dialect.NameUnknown:
		if config.Database == "" {
			return ":memory:", nil
		}
		return config.Database, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", config.Driver)
	}
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	r, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows{r}, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return row{d.db.QueryRowContext(ctx, query, args...)}
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, query, args...)
}

func (d *DB) Begin(ctx context.Context) (core.ITransaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, driver: d.driver}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) GetDialectName() string { return d.driver }

var _ core.IDatabase = (*DB)(nil)
