package repository

import "fmt"

// 常见错误
var (
	ErrEntityNotFound      = &RepositoryError{Code: "ENTITY_NOT_FOUND", Message: "entity not found"}
	ErrEntityAlreadyExists = &RepositoryError{Code: "ENTITY_ALREADY_EXISTS", Message: "entity already exists"}
	ErrInvalidID           = &RepositoryError{Code: "INVALID_ID", Message: "invalid entity id"}
	ErrVersionConflict     = &RepositoryError{Code: "VERSION_CONFLICT", Message: "version conflict (optimistic lock)"}
	ErrRepositoryFailed    = &RepositoryError{Code: "REPOSITORY_FAILED", Message: "repository operation failed"}
)

// RepositoryError 仓储错误
type RepositoryError struct {
	Code     string
	Message  string
	EntityID interface{}
	Cause    error
}

func (e *RepositoryError) Error() string {
	msg := e.Message
	if e.EntityID != nil {
		msg = fmt.Sprintf("%s (id=%v)", msg, e.EntityID)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *RepositoryError) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，使携带 EntityID 的错误能与哨兵错误比较
func (e *RepositoryError) Is(target error) bool {
	t, ok := target.(*RepositoryError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NotFound 创建携带实体 ID 的未找到错误
func NotFound(id interface{}) error {
	return &RepositoryError{Code: ErrEntityNotFound.Code, Message: ErrEntityNotFound.Message, EntityID: id}
}

// AlreadyExists 创建携带实体 ID 的重复键错误
func AlreadyExists(id interface{}) error {
	return &RepositoryError{Code: ErrEntityAlreadyExists.Code, Message: ErrEntityAlreadyExists.Message, EntityID: id}
}

// VersionConflict 创建携带实体 ID 与期望版本的冲突错误
func VersionConflict(id interface{}, expected int64) error {
	return &RepositoryError{
		Code:     ErrVersionConflict.Code,
		Message:  fmt.Sprintf("%s: expected version %d", ErrVersionConflict.Message, expected),
		EntityID: id,
	}
}

// Failed 包装底层存储错误
func Failed(id interface{}, cause error) error {
	return &RepositoryError{Code: ErrRepositoryFailed.Code, Message: ErrRepositoryFailed.Message, EntityID: id, Cause: cause}
}
