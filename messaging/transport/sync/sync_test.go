package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
)

func startedTransport(t *testing.T) *SyncTransport {
	t.Helper()
	tpt := NewSyncTransport()
	require.NoError(t, tpt.Start(context.Background()))
	t.Cleanup(func() { _ = tpt.Close() })
	return tpt
}

func TestSyncTransport_PublishFlow(t *testing.T) {
	tpt := startedTransport(t)

	calls := 0
	require.NoError(t, tpt.Subscribe("T", messaging.NewHandler("inc", func(ctx context.Context, m messaging.IMessage) error {
		calls++
		return nil
	})))

	require.NoError(t, tpt.Publish(context.Background(), messaging.NewMessage("1", "T", nil)))
	assert.Equal(t, 1, calls)
}

func TestSyncTransport_NotRunning(t *testing.T) {
	tpt := NewSyncTransport()
	assert.Error(t, tpt.Publish(context.Background(), messaging.NewMessage("x", "T", nil)))
}

// TestSyncTransport_TransientErrorsReturned 普通错误返回给发布方
func TestSyncTransport_TransientErrorsReturned(t *testing.T) {
	tpt := startedTransport(t)
	boom := errors.New("boom")
	require.NoError(t, tpt.Subscribe("T", messaging.NewHandler("a", func(ctx context.Context, m messaging.IMessage) error { return boom })))

	second := false
	require.NoError(t, tpt.Subscribe("T", messaging.NewHandler("b", func(ctx context.Context, m messaging.IMessage) error {
		second = true
		return nil
	})))

	err := tpt.Publish(context.Background(), messaging.NewMessage("1", "T", nil))
	assert.ErrorIs(t, err, boom)
	assert.True(t, second, "一个处理器失败不影响其他处理器")
}

// TestSyncTransport_PermanentErrorsDeadLettered 不可重试错误进入死信，不返回给发布方
func TestSyncTransport_PermanentErrorsDeadLettered(t *testing.T) {
	var deadID string
	tpt := startedTransport(t)
	tpt.WithDeadLetter(func(ctx context.Context, m messaging.IMessage, err error) { deadID = m.GetID() })

	require.NoError(t, tpt.Subscribe("T", messaging.NewHandler("a", func(ctx context.Context, m messaging.IMessage) error {
		return retry.Permanent(errors.New("unknown item"))
	})))

	require.NoError(t, tpt.Publish(context.Background(), messaging.NewMessage("m-9", "T", nil)))
	assert.Equal(t, "m-9", deadID)
	assert.Equal(t, int64(1), tpt.Stats().DeadLetters)
}

func TestSyncTransport_Unsubscribe(t *testing.T) {
	tpt := startedTransport(t)
	calls := 0
	h := messaging.NewHandler("h", func(ctx context.Context, m messaging.IMessage) error {
		calls++
		return nil
	})
	require.NoError(t, tpt.Subscribe("T", h))
	require.NoError(t, tpt.Unsubscribe("T", h))
	require.NoError(t, tpt.Publish(context.Background(), messaging.NewMessage("1", "T", nil)))
	assert.Equal(t, 0, calls)
	assert.Error(t, tpt.Unsubscribe("T", h))
}
