// Package sync 在发布方 goroutine 内直接调用处理器的传输，测试用它得到确定的执行顺序
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"gochen-trade/logging"
	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
)

var ErrNotRunning = errors.New("sync transport is not running")

// SyncTransport 普通错误原样返回给发布方，由发布方决定是否重发；
// 不可重试错误只计入死信并回调，不影响 Publish 的返回值。
type SyncTransport struct {
	registry    messaging.Registry
	deadLetter  messaging.DeadLetterFunc
	deadLetters atomic.Int64
	running     atomic.Bool
	logger      logging.Logger
}

func NewSyncTransport() *SyncTransport {
	return &SyncTransport{logger: logging.ComponentLogger("transport.sync")}
}

func (t *SyncTransport) WithDeadLetter(fn messaging.DeadLetterFunc) *SyncTransport {
	t.deadLetter = fn
	return t
}

func (t *SyncTransport) Publish(ctx context.Context, message messaging.IMessage) error {
	if !t.running.Load() {
		return ErrNotRunning
	}
	var errs []error
	for _, handler := range t.registry.For(message.GetType()) {
		err := handler.Handle(ctx, message)
		switch {
		case err == nil:
		case retry.IsPermanent(err):
			t.deadLetters.Add(1)
			t.logger.Warn(ctx, "处理器拒绝消息",
				logging.String("handler", handler.Type()),
				logging.String("message_type", message.GetType()),
				logging.String("correlation_id", messaging.CorrelationID(message)),
				logging.Error(err))
			if t.deadLetter != nil {
				t.deadLetter(ctx, message, err)
			}
		default:
			errs = append(errs, fmt.Errorf("%s: %w", handler.Type(), err))
		}
	}
	return errors.Join(errs...)
}

// PublishAll 遇到第一条失败即停止
func (t *SyncTransport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, message := range messages {
		if err := t.Publish(ctx, message); err != nil {
			return fmt.Errorf("publish %s: %w", message.GetID(), err)
		}
	}
	return nil
}

func (t *SyncTransport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.registry.Add(messageType, handler)
	return nil
}

func (t *SyncTransport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	if _, found := t.registry.Remove(messageType, handler); !found {
		return fmt.Errorf("handler %s not subscribed to %s", handler.Type(), messageType)
	}
	return nil
}

func (t *SyncTransport) Start(context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return errors.New("sync transport already running")
	}
	return nil
}

func (t *SyncTransport) Close() error {
	if !t.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	return nil
}

func (t *SyncTransport) Stats() messaging.TransportStats {
	stats := t.registry.Stats()
	stats.Running = t.running.Load()
	stats.DeadLetters = t.deadLetters.Load()
	return stats
}
