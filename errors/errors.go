// Package errors 带错误码的应用错误，调用方按错误码而不是错误文本判断结果
package errors

import (
	stdErrors "errors"
	"fmt"
)

// ErrorCode 错误代码类型
type ErrorCode string

const (
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"

	ErrCodeValidation  ErrorCode = "VALIDATION_ERROR"
	ErrCodeDuplicate   ErrorCode = "DUPLICATE_ERROR"
	ErrCodeConcurrency ErrorCode = "CONCURRENCY_ERROR"

	// 交易领域
	ErrCodeUnknownItem       ErrorCode = "UNKNOWN_ITEM"
	ErrCodeUnknownUser       ErrorCode = "UNKNOWN_USER"
	ErrCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"

	// 基础设施
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeQueue    ErrorCode = "QUEUE_ERROR"
)

// IError 带错误码的错误
type IError interface {
	error
	Code() ErrorCode
	Message() string
	Cause() error
}

// AppError IError 的实现，同码错误经 errors.Is 相互匹配
type AppError struct {
	code    ErrorCode
	message string
	cause   error
}

func NewError(code ErrorCode, message string) IError {
	return &AppError{code: code, message: message}
}

// WrapError err 为 nil 时返回 nil
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}
	return &AppError{code: code, message: message, cause: err}
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *AppError) Code() ErrorCode { return e.code }
func (e *AppError) Message() string { return e.message }
func (e *AppError) Cause() error    { return e.cause }
func (e *AppError) Unwrap() error   { return e.cause }

// Is 目标为 AppError 时按错误码比较；cause 由 errors.Is 经 Unwrap 继续匹配
func (e *AppError) Is(target error) bool {
	if target == nil {
		return false
	}
	if appErr, ok := target.(*AppError); ok {
		return e.code == appErr.code
	}
	return false
}

// 哨兵错误，用于 errors.Is 按码匹配
var (
	ErrNotFound          = NewError(ErrCodeNotFound, "资源未找到")
	ErrValidation        = NewError(ErrCodeValidation, "数据验证失败")
	ErrDuplicate         = NewError(ErrCodeDuplicate, "数据重复")
	ErrUnknownItem       = NewError(ErrCodeUnknownItem, "未知物品")
	ErrUnknownUser       = NewError(ErrCodeUnknownUser, "未知用户")
	ErrInsufficientFunds = NewError(ErrCodeInsufficientFunds, "余额不足")
)

func IsNotFound(err error) bool    { return IsErrorCode(err, ErrCodeNotFound) }
func IsValidation(err error) bool  { return IsErrorCode(err, ErrCodeValidation) }
func IsUnknownItem(err error) bool { return IsErrorCode(err, ErrCodeUnknownItem) }

// IsErrorCode 错误链中最外层 AppError 的错误码是否为 code
func IsErrorCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stdErrors.As(err, &appErr) && appErr.code == code
}

// GetErrorCode 非 AppError 返回 ErrCodeInternal，nil 返回空
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}
	return ErrCodeInternal
}
