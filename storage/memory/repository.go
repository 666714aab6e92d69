// Package memory 提供进程内的通用实体仓储实现
// 适用于单机部署、开发环境和测试场景
package memory

import (
	"context"
	"sync"

	"gochen-trade/domain/entity"
	"gochen-trade/domain/repository"
)

type record struct {
	version int64
	doc     []byte
}

// Repository 内存仓储
//
// 实体以编码后的文档保存，读写都经过编解码，保证调用方拿到的是副本。
type Repository[T entity.IEntity[ID], ID comparable] struct {
	codec   repository.ICodec[T]
	records map[ID]record
	order   []ID
	mu      sync.RWMutex
}

// NewRepository 创建内存仓储
func NewRepository[T entity.IEntity[ID], ID comparable](codec repository.ICodec[T]) *Repository[T, ID] {
	return &Repository[T, ID]{
		codec:   codec,
		records: make(map[ID]record),
	}
}

func (r *Repository[T, ID]) Create(ctx context.Context, e T) error {
	id := e.GetID()
	doc, err := r.codec.Encode(e)
	if err != nil {
		return repository.Failed(id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[id]; exists {
		return repository.AlreadyExists(id)
	}
	r.records[id] = record{version: 1, doc: doc}
	r.order = append(r.order, id)
	e.SetVersion(1)
	return nil
}

func (r *Repository[T, ID]) Get(ctx context.Context, id ID) (T, bool, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()

	var zero T
	if !ok {
		return zero, false, nil
	}
	e, err := r.decode(rec)
	if err != nil {
		return zero, false, repository.Failed(id, err)
	}
	return e, true, nil
}

func (r *Repository[T, ID]) Find(ctx context.Context, pred repository.Predicate[T]) (T, bool, error) {
	var zero T
	for _, rec := range r.snapshot() {
		e, err := r.decode(rec)
		if err != nil {
			return zero, false, repository.Failed(nil, err)
		}
		if pred.Match(e) {
			return e, true, nil
		}
	}
	return zero, false, nil
}

func (r *Repository[T, ID]) GetAll(ctx context.Context, pred repository.Predicate[T]) ([]T, error) {
	snapshot := r.snapshot()
	result := make([]T, 0, len(snapshot))
	for _, rec := range snapshot {
		e, err := r.decode(rec)
		if err != nil {
			return nil, repository.Failed(nil, err)
		}
		if pred.Match(e) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (r *Repository[T, ID]) Update(ctx context.Context, e T) error {
	id := e.GetID()
	doc, err := r.codec.Encode(e)
	if err != nil {
		return repository.Failed(id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return repository.NotFound(id)
	}
	if rec.version != e.GetVersion() {
		return repository.VersionConflict(id, e.GetVersion())
	}
	next := rec.version + 1
	r.records[id] = record{version: next, doc: doc}
	e.SetVersion(next)
	return nil
}

func (r *Repository[T, ID]) Remove(ctx context.Context, id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return nil
	}
	delete(r.records, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len 返回当前实体数量
func (r *Repository[T, ID]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// snapshot 按插入顺序复制记录，遍历期间不持锁
func (r *Repository[T, ID]) snapshot() []record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id])
	}
	return out
}

func (r *Repository[T, ID]) decode(rec record) (T, error) {
	e, err := r.codec.Decode(rec.doc)
	if err != nil {
		return e, err
	}
	e.SetVersion(rec.version)
	return e, nil
}

