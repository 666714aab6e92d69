package memory

import (
	"context"
	"fmt"
	"time"

	"gochen-trade/logging"
	"gochen-trade/messaging"
)

// Start 启动 Worker 池
func (t *MemoryTransport) Start(ctx context.Context) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.running {
		return fmt.Errorf("memory transport is already running")
	}
	t.running = true

	for i := 0; i < t.workerCount; i++ {
		t.wg.Add(1)
		go t.worker(ctx)
	}
	return nil
}

// Close 关闭传输层并等待队列中的消息处理完毕
func (t *MemoryTransport) Close() error {
	pending, err := t.CloseWithContext(context.Background())
	if len(pending) > 0 {
		t.logger.Warn(context.Background(), "关闭时丢弃未处理消息", logging.Int("count", len(pending)))
	}
	return err
}

// CloseWithTimeout 在超时时间内关闭
func (t *MemoryTransport) CloseWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := t.CloseWithContext(ctx)
	return err
}

// CloseWithContext 停止接收新消息并等待 Worker 清空队列
//
// 返回：
//   - pending: 无 Worker 时仍留在队列中的消息
//   - error: 未启动，或 ctx 在 Worker 退出前结束
func (t *MemoryTransport) CloseWithContext(ctx context.Context) ([]messaging.IMessage, error) {
	t.mutex.Lock()
	if !t.running {
		t.mutex.Unlock()
		return nil, ErrNotRunning
	}
	t.running = false
	queue := t.queue
	close(queue)
	t.mutex.Unlock()

	if t.workerCount == 0 {
		pending := make([]messaging.IMessage, 0, len(queue))
		for message := range queue {
			pending = append(pending, message)
		}
		return pending, nil
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("memory transport close: %w", ctx.Err())
	}
}

// worker 从队列取消息分发，队列关闭且读空后退出
func (t *MemoryTransport) worker(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case message, ok := <-t.queue:
			if !ok {
				return
			}
			t.dispatch(ctx, message)
		case <-ctx.Done():
			return
		}
	}
}
