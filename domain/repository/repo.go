package repository

import (
	"context"
	"fmt"

	"gochen-trade/domain/entity"
)

// Predicate 实体过滤条件，nil 表示不过滤
type Predicate[T any] func(T) bool

// Match 判断实体是否满足条件（nil 条件恒为真）
func (p Predicate[T]) Match(e T) bool {
	return p == nil || p(e)
}

// Key 文档型存储引擎要求的 ID 约束：可比较并能转成存储键
type Key interface {
	comparable
	fmt.Stringer
}

// IRepository 通用实体仓储接口
//
// 约定：
//   - Create 遇到同 ID 实体返回 ErrEntityAlreadyExists；
//   - Get/Find 查不到时返回 found=false 与 nil 错误，调用方按存在与否分支；
//   - GetAll 的 pred 可为 nil，表示列出全部；
//   - Update 以实体当前版本为前提条件写入，实体不存在返回 ErrEntityNotFound，
//     版本不一致返回 ErrVersionConflict；成功后通过 SetVersion 回填新版本；
//   - Remove 幂等，删除不存在的 ID 不报错。
//
// 所有操作仅保证单实体原子性。
type IRepository[T entity.IEntity[ID], ID comparable] interface {
	// Create 创建实体
	Create(ctx context.Context, e T) error

	// Get 通过 ID 获取实体
	Get(ctx context.Context, id ID) (T, bool, error)

	// Find 返回第一个满足条件的实体
	Find(ctx context.Context, pred Predicate[T]) (T, bool, error)

	// GetAll 返回全部满足条件的实体
	GetAll(ctx context.Context, pred Predicate[T]) ([]T, error)

	// Update 按版本条件替换实体
	Update(ctx context.Context, e T) error

	// Remove 删除实体（幂等）
	Remove(ctx context.Context, id ID) error
}
