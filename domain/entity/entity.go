// Package entity 定义领域实体的核心接口体系
//
// 设计原则：
// 1. 接口最小化 - 每个接口只包含必需的方法
// 2. 泛型支持 - 提供类型安全的 ID 类型
package entity

// IObject 最基础的对象接口，所有实体的根接口
// 使用泛型支持不同的 ID 类型（uuid.UUID、string 等）
type IObject[T comparable] interface {
	// GetID 返回对象的唯一标识
	GetID() T
}

// IEntity 实体接口，在 IObject 基础上增加版本控制
// 版本号用于乐观锁，防止并发冲突
type IEntity[T comparable] interface {
	IObject[T]

	// GetVersion 返回实体的乐观锁版本号
	// 每次写入成功后由仓储递增
	GetVersion() int64

	// SetVersion 由仓储在写入成功后回填新版本号
	SetVersion(version int64)
}

// Versioned 乐观锁版本字段（用于嵌入）
type Versioned struct {
	Version int64 `json:"version"`
}

// GetVersion 实现 IEntity 接口
func (v *Versioned) GetVersion() int64 {
	return v.Version
}

// SetVersion 实现 IEntity 接口
func (v *Versioned) SetVersion(version int64) {
	v.Version = version
}
