package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
)

func countingHandler(count *int32) messaging.IMessageHandler {
	return messaging.NewHandler("counting", func(ctx context.Context, m messaging.IMessage) error {
		atomic.AddInt32(count, 1)
		return nil
	})
}

func fastRetry(attempts int) retry.Config {
	return retry.Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, BackoffFactor: 1, MaxDelay: time.Millisecond}
}

func TestMemoryTransport_PublishFlow(t *testing.T) {
	tpt := NewMemoryTransport(16, 2)
	ctx := context.Background()
	require.NoError(t, tpt.Start(ctx))

	var cnt int32
	require.NoError(t, tpt.Subscribe("test", countingHandler(&cnt)))
	require.NoError(t, tpt.Publish(ctx, messaging.NewMessage("m1", "test", nil)))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&cnt) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, tpt.Close())
}

func TestMemoryTransport_WildcardHandler(t *testing.T) {
	tpt := NewMemoryTransport(16, 1)
	ctx := context.Background()
	require.NoError(t, tpt.Start(ctx))

	var cnt int32
	require.NoError(t, tpt.Subscribe("*", countingHandler(&cnt)))
	require.NoError(t, tpt.PublishAll(ctx, []messaging.IMessage{
		messaging.NewMessage("a", "x", nil),
		messaging.NewMessage("b", "y", nil),
	}))
	require.NoError(t, tpt.Close())
	assert.Equal(t, int32(2), atomic.LoadInt32(&cnt))
}

func TestMemoryTransport_CloseDrainsQueue(t *testing.T) {
	tpt := NewMemoryTransport(16, 1)
	ctx := context.Background()
	require.NoError(t, tpt.Start(ctx))

	var cnt int32
	require.NoError(t, tpt.Subscribe("test", countingHandler(&cnt)))
	require.NoError(t, tpt.Publish(ctx, messaging.NewMessage("m1", "test", nil)))
	require.NoError(t, tpt.Publish(ctx, messaging.NewMessage("m2", "test", nil)))

	require.NoError(t, tpt.Close())
	assert.Equal(t, int32(2), atomic.LoadInt32(&cnt))

	assert.Error(t, tpt.Publish(ctx, messaging.NewMessage("m3", "test", nil)), "关闭后拒绝发布")
}

// TestMemoryTransport_RetriesTransientFailure 暂时性错误按策略重投直至成功
func TestMemoryTransport_RetriesTransientFailure(t *testing.T) {
	tpt := NewMemoryTransportWithOptions(Options{WorkerCount: 1, Retry: fastRetry(3)})
	ctx := context.Background()
	require.NoError(t, tpt.Start(ctx))

	var attempts int32
	require.NoError(t, tpt.Subscribe("flaky", messaging.NewHandler("flaky", func(ctx context.Context, m messaging.IMessage) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("storage unavailable")
		}
		return nil
	})))
	require.NoError(t, tpt.Publish(ctx, messaging.NewMessage("m1", "flaky", nil)))
	require.NoError(t, tpt.Close())

	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, int64(0), tpt.Stats().DeadLetters)
}

// TestMemoryTransport_PermanentGoesToDeadLetter 不可重试错误只投递一次并进入死信
func TestMemoryTransport_PermanentGoesToDeadLetter(t *testing.T) {
	var mu sync.Mutex
	var dead []string
	tpt := NewMemoryTransportWithOptions(Options{
		WorkerCount: 1,
		Retry:       fastRetry(5),
		DeadLetter: func(ctx context.Context, m messaging.IMessage, err error) {
			mu.Lock()
			defer mu.Unlock()
			dead = append(dead, m.GetID())
		},
	})
	ctx := context.Background()
	require.NoError(t, tpt.Start(ctx))

	var attempts int32
	require.NoError(t, tpt.Subscribe("grant", messaging.NewHandler("grant", func(ctx context.Context, m messaging.IMessage) error {
		atomic.AddInt32(&attempts, 1)
		return retry.Permanent(errors.New("unknown item"))
	})))
	require.NoError(t, tpt.Publish(ctx, messaging.NewMessage("m1", "grant", nil)))
	require.NoError(t, tpt.Close())

	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Equal(t, []string{"m1"}, dead)
	assert.Equal(t, int64(1), tpt.Stats().DeadLetters)
}

func TestMemoryTransport_ExhaustedRetriesGoToDeadLetter(t *testing.T) {
	var deadErr error
	tpt := NewMemoryTransportWithOptions(Options{
		WorkerCount: 1,
		Retry:       fastRetry(2),
		DeadLetter:  func(ctx context.Context, m messaging.IMessage, err error) { deadErr = err },
	})
	ctx := context.Background()
	require.NoError(t, tpt.Start(ctx))

	boom := errors.New("boom")
	var attempts int32
	require.NoError(t, tpt.Subscribe("t", messaging.NewHandler("h", func(ctx context.Context, m messaging.IMessage) error {
		atomic.AddInt32(&attempts, 1)
		return boom
	})))
	require.NoError(t, tpt.Publish(ctx, messaging.NewMessage("m1", "t", nil)))
	require.NoError(t, tpt.Close())

	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
	assert.ErrorIs(t, deadErr, boom)
}

func TestMemoryTransport_CloseWithContextTimeout(t *testing.T) {
	tpt := NewMemoryTransport(4, 1)
	ctx := context.Background()
	require.NoError(t, tpt.Start(ctx))

	blockCh := make(chan struct{})
	t.Cleanup(func() { close(blockCh) })
	require.NoError(t, tpt.Subscribe("block", messaging.NewHandler("block", func(ctx context.Context, m messaging.IMessage) error {
		<-blockCh
		return nil
	})))
	require.NoError(t, tpt.Publish(ctx, messaging.NewMessage("m1", "block", nil)))

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err := tpt.CloseWithContext(timeoutCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// 已关闭，再次关闭返回错误
	require.Error(t, tpt.CloseWithTimeout(10*time.Millisecond))
}

func TestMemoryTransport_CloseWithPendingMessages(t *testing.T) {
	tpt := NewMemoryTransportForTest(4)
	ctx := context.Background()
	require.NoError(t, tpt.Start(ctx))

	require.NoError(t, tpt.Publish(ctx, messaging.NewMessage("m1", "none", nil)))
	require.NoError(t, tpt.Publish(ctx, messaging.NewMessage("m2", "none", nil)))

	pending, err := tpt.CloseWithContext(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

func TestMemoryTransport_QueueFull(t *testing.T) {
	tpt := NewMemoryTransportForTest(1)
	ctx := context.Background()
	require.NoError(t, tpt.Start(ctx))
	t.Cleanup(func() { _, _ = tpt.CloseWithContext(ctx) })

	require.NoError(t, tpt.Publish(ctx, messaging.NewMessage("m1", "t", nil)))
	assert.Error(t, tpt.Publish(ctx, messaging.NewMessage("m2", "t", nil)))
	assert.Equal(t, 1, tpt.Stats().QueueDepth)
}
