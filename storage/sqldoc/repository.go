// Package sqldoc 提供基于关系数据库的文档型实体仓储
//
// 每个实体占一行 (id, version, doc)，doc 为编码后的实体文档。
// 条件查询在读取后于内存中过滤，适合中小规模的服务私有数据。
package sqldoc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	core "gochen-trade/data/db"
	sqlbuilder "gochen-trade/data/db/sql"
	"gochen-trade/domain/entity"
	"gochen-trade/domain/repository"
	"gochen-trade/logging"
)

// Repository SQL 文档仓储
type Repository[T entity.IEntity[ID], ID repository.Key] struct {
	db     core.IDatabase
	codec  repository.ICodec[T]
	table  string
	logger logging.Logger
}

// NewRepository 创建 SQL 文档仓储
//
// 参数：
//   - db: 数据库连接（basic.DB 或事务）
//   - table: 表名，需为安全标识符
//   - codec: 实体编解码器
func NewRepository[T entity.IEntity[ID], ID repository.Key](db core.IDatabase, table string, codec repository.ICodec[T]) *Repository[T, ID] {
	return &Repository[T, ID]{
		db:     db,
		codec:  codec,
		table:  table,
		logger: logging.ComponentLogger("storage.sqldoc").WithFields(logging.String("table", table)),
	}
}

// EnsureSchema 创建数据表（已存在时忽略）
func (r *Repository[T, ID]) EnsureSchema(ctx context.Context) error {
	d := sqlbuilder.New(r.db).Dialect()
	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s %s NOT NULL PRIMARY KEY, %s BIGINT NOT NULL, %s %s NOT NULL)",
		d.QuoteIdentifier(r.table),
		d.QuoteIdentifier("id"), d.KeyColumnType(),
		d.QuoteIdentifier("version"),
		d.QuoteIdentifier("doc"), d.DocumentColumnType(),
	)
	if _, err := r.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure table %s: %w", r.table, err)
	}
	return nil
}

func (r *Repository[T, ID]) Create(ctx context.Context, e T) error {
	id := e.GetID()
	doc, err := r.codec.Encode(e)
	if err != nil {
		return repository.Failed(id, err)
	}

	sb := sqlbuilder.New(r.db)
	_, err = sb.InsertInto(r.table).
		Columns("id", "version", "doc").
		Values(id.String(), int64(1), string(doc)).
		Exec(ctx)
	if err != nil {
		if sb.Dialect().IsUniqueViolation(err) {
			return repository.AlreadyExists(id)
		}
		return repository.Failed(id, err)
	}
	e.SetVersion(1)
	return nil
}

func (r *Repository[T, ID]) Get(ctx context.Context, id ID) (T, bool, error) {
	var (
		zero    T
		version int64
		doc     string
	)
	err := sqlbuilder.New(r.db).Select("version", "doc").
		From(r.table).
		Where("id = ?", id.String()).
		QueryRow(ctx).
		Scan(&version, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, repository.Failed(id, err)
	}
	e, err := r.decode(version, doc)
	if err != nil {
		return zero, false, repository.Failed(id, err)
	}
	return e, true, nil
}

func (r *Repository[T, ID]) Find(ctx context.Context, pred repository.Predicate[T]) (T, bool, error) {
	var zero T
	all, err := r.GetAll(ctx, pred)
	if err != nil {
		return zero, false, err
	}
	if len(all) == 0 {
		return zero, false, nil
	}
	return all[0], true, nil
}

func (r *Repository[T, ID]) GetAll(ctx context.Context, pred repository.Predicate[T]) ([]T, error) {
	rows, err := sqlbuilder.New(r.db).Select("version", "doc").
		From(r.table).
		OrderBy("id").
		Query(ctx)
	if err != nil {
		return nil, repository.Failed(nil, err)
	}
	defer rows.Close()

	var result []T
	for rows.Next() {
		var (
			version int64
			doc     string
		)
		if err := rows.Scan(&version, &doc); err != nil {
			return nil, repository.Failed(nil, err)
		}
		e, err := r.decode(version, doc)
		if err != nil {
			return nil, repository.Failed(nil, err)
		}
		if pred.Match(e) {
			result = append(result, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, repository.Failed(nil, err)
	}
	return result, nil
}

// Update 以 version 为条件更新
//
// 影响行数为 0 时在同一事务内区分"不存在"与"版本冲突"。
func (r *Repository[T, ID]) Update(ctx context.Context, e T) error {
	id := e.GetID()
	doc, err := r.codec.Encode(e)
	if err != nil {
		return repository.Failed(id, err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return repository.Failed(id, err)
	}
	defer tx.Rollback()

	expected := e.GetVersion()
	res, err := sqlbuilder.New(tx).Update(r.table).
		Set("doc", string(doc)).
		Set("version", expected+1).
		Where("id = ?", id.String()).
		Where("version = ?", expected).
		Exec(ctx)
	if err != nil {
		return repository.Failed(id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return repository.Failed(id, err)
	}

	if affected == 0 {
		var current int64
		err := sqlbuilder.New(tx).Select("version").
			From(r.table).
			Where("id = ?", id.String()).
			QueryRow(ctx).
			Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return repository.NotFound(id)
		}
		if err != nil {
			return repository.Failed(id, err)
		}
		r.logger.Debug(ctx, "版本冲突",
			logging.String("id", id.String()),
			logging.Int64("expected", expected),
			logging.Int64("current", current))
		return repository.VersionConflict(id, expected)
	}

	if err := tx.Commit(); err != nil {
		return repository.Failed(id, err)
	}
	e.SetVersion(expected + 1)
	return nil
}

func (r *Repository[T, ID]) Remove(ctx context.Context, id ID) error {
	_, err := sqlbuilder.New(r.db).DeleteFrom(r.table).
		Where("id = ?", id.String()).
		Exec(ctx)
	if err != nil {
		return repository.Failed(id, err)
	}
	return nil
}

func (r *Repository[T, ID]) decode(version int64, doc string) (T, error) {
	e, err := r.codec.Decode([]byte(doc))
	if err != nil {
		return e, err
	}
	e.SetVersion(version)
	return e, nil
}
