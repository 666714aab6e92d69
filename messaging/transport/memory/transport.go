// Package memory 单进程内的异步传输：有界队列加固定数量的 worker
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"gochen-trade/logging"
	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
)

var (
	ErrNotRunning = errors.New("memory transport is not running")
	// ErrQueueFull 队列满时不阻塞发布方，由上层按可重试错误处理
	ErrQueueFull = errors.New("memory transport queue is full")
)

type Options struct {
	// QueueSize 队列容量（<=0 时默认 1000）
	QueueSize int

	// WorkerCount Worker 数量（<=0 时默认 4）
	WorkerCount int

	// Retry 处理器失败后的进程内重投策略；MaxAttempts 为 0 时默认 3 次
	Retry retry.Config

	// DeadLetter 重投耗尽或遇到不可重试错误时回调（可选）
	DeadLetter messaging.DeadLetterFunc

	Logger logging.Logger
}

// MemoryTransport 内存消息传输实现
//
// 消息进入有界队列后由 Worker 池异步分发；每个处理器独立重试，
// 一个处理器失败不影响同一消息的其他处理器。
type MemoryTransport struct {
	registry    messaging.Registry
	queue       chan messaging.IMessage
	queueSize   int
	workerCount int
	retry       retry.Config
	deadLetter  messaging.DeadLetterFunc
	deadLetters atomic.Int64
	logger      logging.Logger
	running     bool
	mutex       sync.RWMutex
	wg          sync.WaitGroup
}

// NewMemoryTransport 创建内存传输实例
func NewMemoryTransport(queueSize, workerCount int) *MemoryTransport {
	return NewMemoryTransportWithOptions(Options{QueueSize: queueSize, WorkerCount: workerCount})
}

// NewMemoryTransportWithOptions 按配置创建内存传输实例
func NewMemoryTransportWithOptions(opts Options) *MemoryTransport {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 4
	}
	return newMemoryTransport(opts)
}

// NewMemoryTransportForTest 创建 0 worker 的传输实例，用于验证关闭时的队列 drain
func NewMemoryTransportForTest(queueSize int) *MemoryTransport {
	return newMemoryTransport(Options{QueueSize: queueSize})
}

func newMemoryTransport(opts Options) *MemoryTransport {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = logging.ComponentLogger("transport.memory")
	}
	return &MemoryTransport{
		queue:       make(chan messaging.IMessage, opts.QueueSize),
		queueSize:   opts.QueueSize,
		workerCount: opts.WorkerCount,
		retry:       opts.Retry,
		deadLetter:  opts.DeadLetter,
		logger:      opts.Logger,
	}
}

// Publish 发布消息到队列，队列满时立即返回错误
func (t *MemoryTransport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if !t.running {
		return ErrNotRunning
	}
	return t.enqueueLocked(ctx, message)
}

// PublishAll 批量发布，任一消息失败即返回
func (t *MemoryTransport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	if len(messages) == 0 {
		return nil
	}

	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if !t.running {
		return ErrNotRunning
	}
	for _, message := range messages {
		if err := t.enqueueLocked(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

// enqueueLocked 在读锁下入队，保证不会写入已关闭的队列
func (t *MemoryTransport) enqueueLocked(ctx context.Context, message messaging.IMessage) error {
	select {
	case t.queue <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Subscribe 可在运行中调用，新处理器从下一条出队的消息开始生效
func (t *MemoryTransport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.registry.Add(messageType, handler)
	return nil
}

func (t *MemoryTransport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	if _, found := t.registry.Remove(messageType, handler); !found {
		return fmt.Errorf("handler %s not subscribed to %s", handler.Type(), messageType)
	}
	return nil
}

func (t *MemoryTransport) Stats() messaging.TransportStats {
	stats := t.registry.Stats()
	t.mutex.RLock()
	stats.Running = t.running
	t.mutex.RUnlock()
	stats.QueueSize = t.queueSize
	stats.QueueDepth = len(t.queue)
	stats.WorkerCount = t.workerCount
	stats.DeadLetters = t.deadLetters.Load()
	return stats
}
