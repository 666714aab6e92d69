// Package sql 面向 core.IDatabase 的文档表语句构建器
//
// 表名与列名只接受 [A-Za-z_][A-Za-z0-9_]*（可带一段 schema 前缀），
// 不合法的标识符在执行时返回 ErrUnsafeIdentifier，而不是拼进语句。
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	core "gochen-trade/data/db"
	"gochen-trade/data/db/dialect"
)

var ErrUnsafeIdentifier = errors.New("unsafe sql identifier")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Builder 绑定数据库（或事务）与方言
type Builder struct {
	db      core.IDatabase
	dialect dialect.Dialect
}

// New 方言由 db 推断；事务对象同样满足 core.IDatabase
func New(db core.IDatabase) *Builder {
	return &Builder{db: db, dialect: dialect.FromDatabase(db)}
}

func (b *Builder) Dialect() dialect.Dialect { return b.dialect }

// stmt 各类语句共享的表名、条件与标识符校验
type stmt struct {
	b     *Builder
	table string
	conds []string
	args  []any
	err   error
}

func (s *stmt) quote(name string) string {
	if name == "*" {
		return name
	}
	if !identifierPattern.MatchString(name) {
		if s.err == nil {
			s.err = fmt.Errorf("%w: %q", ErrUnsafeIdentifier, name)
		}
		return ""
	}
	return s.b.dialect.QuoteIdentifier(name)
}

func (s *stmt) where(cond string, args []any) {
	if cond == "" {
		return
	}
	s.conds = append(s.conds, cond)
	s.args = append(s.args, args...)
}

func (s *stmt) writeWhere(sb *strings.Builder) {
	if len(s.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(s.conds, " AND "))
	}
}

// SelectStmt SELECT 语句
type SelectStmt struct {
	stmt
	cols    []string
	orderBy string
	limit   int
}

func (b *Builder) Select(cols ...string) *SelectStmt {
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	return &SelectStmt{stmt: stmt{b: b}, cols: cols}
}

func (s *SelectStmt) From(table string) *SelectStmt {
	s.table = table
	return s
}

func (s *SelectStmt) Where(cond string, args ...any) *SelectStmt {
	s.where(cond, args)
	return s
}

// OrderBy 按单列排序，列名同样经过校验
func (s *SelectStmt) OrderBy(col string) *SelectStmt {
	s.orderBy = col
	return s
}

func (s *SelectStmt) Limit(n int) *SelectStmt {
	s.limit = n
	return s
}

// Build 返回语句与参数，多次调用结果一致
func (s *SelectStmt) Build() (string, []any, error) {
	cols := make([]string, len(s.cols))
	for i, c := range s.cols {
		cols[i] = s.quote(c)
	}
	var sb strings.Builder
	sb.WriteString("SELECT " + strings.Join(cols, ", ") + " FROM " + s.quote(s.table))
	s.writeWhere(&sb)
	args := append([]any(nil), s.args...)
	if s.orderBy != "" {
		sb.WriteString(" ORDER BY " + s.quote(s.orderBy))
	}
	if s.limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, s.limit)
	}
	return sb.String(), args, s.err
}

func (s *SelectStmt) Query(ctx context.Context) (core.IRows, error) {
	q, args, err := s.Build()
	if err != nil {
		return nil, err
	}
	return s.b.db.Query(ctx, q, args...)
}

func (s *SelectStmt) QueryRow(ctx context.Context) core.IRow {
	q, args, err := s.Build()
	if err != nil {
		return errRow{err}
	}
	return s.b.db.QueryRow(ctx, q, args...)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }
func (r errRow) Err() error        { return r.err }

// InsertStmt 单行 INSERT
type InsertStmt struct {
	stmt
	cols []string
	vals []any
}

func (b *Builder) InsertInto(table string) *InsertStmt {
	return &InsertStmt{stmt: stmt{b: b, table: table}}
}

func (s *InsertStmt) Columns(cols ...string) *InsertStmt {
	s.cols = cols
	return s
}
func (s *InsertStmt) Values(vals ...any) *InsertStmt {
	s.vals = vals
	return s
}

func (s *InsertStmt) Build() (string, []any, error) {
	if len(s.cols) == 0 || len(s.cols) != len(s.vals) {
		return "", nil, fmt.Errorf("insert into %s: %d columns, %d values", s.table, len(s.cols), len(s.vals))
	}
	cols := make([]string, len(s.cols))
	for i, c := range s.cols {
		cols[i] = s.quote(c)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	q := "INSERT INTO " + s.quote(s.table) + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders + ")"
	return q, append([]any(nil), s.vals...), s.err
}

func (s *InsertStmt) Exec(ctx context.Context) (sql.Result, error) {
	q, args, err := s.Build()
	if err != nil {
		return nil, err
	}
	return s.b.db.Exec(ctx, q, args...)
}

// UpdateStmt UPDATE，SET 参数在 WHERE 参数之前
type UpdateStmt struct {
	stmt
	sets    []string
	setArgs []any
}

func (b *Builder) Update(table string) *UpdateStmt {
	return &UpdateStmt{stmt: stmt{b: b, table: table}}
}

func (s *UpdateStmt) Set(col string, val any) *UpdateStmt {
	s.sets = append(s.sets, col)
	s.setArgs = append(s.setArgs, val)
	return s
}

func (s *UpdateStmt) Where(cond string, args ...any) *UpdateStmt {
	s.where(cond, args)
	return s
}

func (s *UpdateStmt) Build() (string, []any, error) {
	if len(s.sets) == 0 {
		return "", nil, fmt.Errorf("update %s: nothing to set", s.table)
	}
	assigns := make([]string, len(s.sets))
	for i, c := range s.sets {
		assigns[i] = s.quote(c) + " = ?"
	}
	var sb strings.Builder
	sb.WriteString("UPDATE " + s.quote(s.table) + " SET " + strings.Join(assigns, ", "))
	s.writeWhere(&sb)
	args := make([]any, 0, len(s.setArgs)+len(s.args))
	args = append(append(args, s.setArgs...), s.args...)
	return sb.String(), args, s.err
}

func (s *UpdateStmt) Exec(ctx context.Context) (sql.Result, error) {
	q, args, err := s.Build()
	if err != nil {
		return nil, err
	}
	return s.b.db.Exec(ctx, q, args...)
}

// DeleteStmt DELETE
type DeleteStmt struct {
	stmt
}

func (b *Builder) DeleteFrom(table string) *DeleteStmt {
	return &DeleteStmt{stmt: stmt{b: b, table: table}}
}

func (s *DeleteStmt) Where(cond string, args ...any) *DeleteStmt {
	s.where(cond, args)
	return s
}

func (s *DeleteStmt) Build() (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("DELETE FROM " + s.quote(s.table))
	s.writeWhere(&sb)
	return sb.String(), append([]any(nil), s.args...), s.err
}

func (s *DeleteStmt) Exec(ctx context.Context) (sql.Result, error) {
	q, args, err := s.Build()
	if err != nil {
		return nil, err
	}
	return s.b.db.Exec(ctx, q, args...)
}
