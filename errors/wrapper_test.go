package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	repository "gochen-trade/domain/repository"
)

// TestWrapPublishError 发布失败归为队列错误并保留原因
func TestWrapPublishError(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("connection reset")

	wrapped := WrapPublishError(ctx, cause, "trading.purchase-requested")

	require.Error(t, wrapped)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, ErrCodeQueue, GetErrorCode(wrapped))
	assert.Nil(t, WrapPublishError(ctx, nil, "x"))
}

func TestWrapWithLog(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := WrapWithLog(context.Background(), cause, ErrCodeDatabase, "写入失败")
	assert.Equal(t, ErrCodeDatabase, GetErrorCode(err))
	assert.ErrorIs(t, err, cause)
}

// TestAppError_IsByCode 同码错误相互匹配
func TestAppError_IsByCode(t *testing.T) {
	err := NewError(ErrCodeUnknownItem, "catalog item 42 not found")

	assert.ErrorIs(t, err, ErrUnknownItem)
	assert.NotErrorIs(t, err, ErrUnknownUser)
	assert.True(t, IsUnknownItem(fmt.Errorf("grant: %w", err)))
}

func TestNormalize(t *testing.T) {
	assert.Nil(t, Normalize(nil))

	cases := []struct {
		err  error
		code ErrorCode
	}{
		{repository.ErrEntityNotFound, ErrCodeNotFound},
		{repository.ErrEntityAlreadyExists, ErrCodeDuplicate},
		{fmt.Errorf("save: %w", repository.ErrVersionConflict), ErrCodeConcurrency},
		{repository.ErrInvalidID, ErrCodeInvalidInput},
	}
	for _, c := range cases {
		normalized := Normalize(c.err)
		assert.Equal(t, c.code, GetErrorCode(normalized), c.err.Error())
		assert.ErrorIs(t, normalized, c.err)
	}

	already := NewError(ErrCodeUnknownUser, "x")
	assert.Same(t, already, Normalize(already))

	plain := errors.New("plain")
	assert.Equal(t, plain, Normalize(plain))
}
