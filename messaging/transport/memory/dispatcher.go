package memory

import (
	"context"

	"gochen-trade/logging"
	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
)

// dispatch 每个处理器独立重投，一个处理器失败不影响其他处理器
func (t *MemoryTransport) dispatch(ctx context.Context, message messaging.IMessage) {
	for _, handler := range t.registry.For(message.GetType()) {
		t.deliver(ctx, handler, message)
	}
}

// deliver 带重投地调用单个处理器，最终失败时进入死信
func (t *MemoryTransport) deliver(ctx context.Context, handler messaging.IMessageHandler, message messaging.IMessage) {
	err := retry.DoWithInfo(ctx, func(ctx context.Context, attempt int) error {
		err := handler.Handle(ctx, message)
		if err != nil && !retry.IsPermanent(err) && attempt < t.retry.MaxAttempts {
			t.logger.Debug(ctx, "处理失败，准备重投",
				logging.String("handler", handler.Type()),
				logging.String("message_id", message.GetID()),
				logging.Int("attempt", attempt),
				logging.Error(err))
		}
		return err
	}, t.retry)
	if err == nil {
		return
	}

	t.deadLetters.Add(1)
	t.logger.Warn(ctx, "消息处理最终失败",
		logging.String("handler", handler.Type()),
		logging.String("message_type", message.GetType()),
		logging.String("message_id", message.GetID()),
		logging.String("correlation_id", messaging.CorrelationID(message)),
		logging.Bool("permanent", retry.IsPermanent(err)),
		logging.Error(err))
	if t.deadLetter != nil {
		t.deadLetter(ctx, message, err)
	}
}
