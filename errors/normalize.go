package errors

import (
	stdErrors "errors"

	repository "gochen-trade/domain/repository"
)

// Normalize 将仓储层/领域层的错误规范化为 AppError。
//
// 注意：
//   - 如果传入的 err 已经是 IError，则原样返回；
//   - 未识别的错误保持原样，不强行包装，交由调用方决定是否 Wrap。
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return err
	}

	switch {
	case stdErrors.Is(err, repository.ErrEntityNotFound):
		return WrapError(err, ErrCodeNotFound, "实体未找到")
	case stdErrors.Is(err, repository.ErrEntityAlreadyExists):
		return WrapError(err, ErrCodeDuplicate, "实体已存在")
	case stdErrors.Is(err, repository.ErrVersionConflict):
		return WrapError(err, ErrCodeConcurrency, "仓储版本冲突")
	case stdErrors.Is(err, repository.ErrInvalidID):
		return WrapError(err, ErrCodeInvalidInput, "无效的实体ID")
	}

	return err
}
