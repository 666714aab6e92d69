package trading

import (
	"fmt"

	"github.com/google/uuid"

	"gochen-trade/domain/repository"
)

// ErrorCode saga 错误码
type ErrorCode string

const (
	ErrCodeSagaNotFound      ErrorCode = "SAGA_NOT_FOUND"
	ErrCodeSagaAlreadyExists ErrorCode = "SAGA_ALREADY_EXISTS"
	ErrCodeSagaStoreFailed   ErrorCode = "SAGA_STORE_FAILED"
	ErrCodeSagaBadCommand    ErrorCode = "SAGA_BAD_COMMAND"
)

// SagaError saga 错误
//
// Cause 保留仓储层错误，errors.Normalize 可据此映射到统一错误码。
type SagaError struct {
	Code          ErrorCode
	Message       string
	CorrelationID uuid.UUID
	Cause         error
}

func (e *SagaError) Error() string {
	base := fmt.Sprintf("%s: %s (saga=%s)", e.Code, e.Message, e.CorrelationID)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *SagaError) Unwrap() error { return e.Cause }

// Is 基于错误码匹配
func (e *SagaError) Is(target error) bool {
	t, ok := target.(*SagaError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// 哨兵错误，仅用于 errors.Is 比较
var (
	ErrSagaNotFound      = &SagaError{Code: ErrCodeSagaNotFound}
	ErrSagaAlreadyExists = &SagaError{Code: ErrCodeSagaAlreadyExists}
	ErrSagaStoreFailed   = &SagaError{Code: ErrCodeSagaStoreFailed}
)

func newSagaNotFoundError(correlationID uuid.UUID) *SagaError {
	return &SagaError{
		Code:          ErrCodeSagaNotFound,
		Message:       "saga not found",
		CorrelationID: correlationID,
		Cause:         repository.NotFound(correlationID),
	}
}

func newSagaAlreadyExistsError(correlationID uuid.UUID, cause error) *SagaError {
	return &SagaError{
		Code:          ErrCodeSagaAlreadyExists,
		Message:       "saga already exists",
		CorrelationID: correlationID,
		Cause:         cause,
	}
}

func newSagaStoreError(correlationID uuid.UUID, cause error) *SagaError {
	return &SagaError{
		Code:          ErrCodeSagaStoreFailed,
		Message:       "saga store failed",
		CorrelationID: correlationID,
		Cause:         cause,
	}
}

func newBadCommandError(correlationID uuid.UUID, messageType string, cause error) *SagaError {
	return &SagaError{
		Code:          ErrCodeSagaBadCommand,
		Message:       "cannot encode command " + messageType,
		CorrelationID: correlationID,
		Cause:         cause,
	}
}
