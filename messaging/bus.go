package messaging

import (
	"context"
	"fmt"
	"sync"
)

// HandlerFunc 中间件链中的基本执行单元
type HandlerFunc func(ctx context.Context, message IMessage) error

// IMiddleware 消息中间件
//
// 通过 Use 注册的中间件作用于发布路径，通过 UseConsumer 注册的作用于消费路径。
type IMiddleware interface {
	Handle(ctx context.Context, message IMessage, next HandlerFunc) error
	Name() string
}

// IMessageBus 消息总线接口
type IMessageBus interface {
	Subscribe(ctx context.Context, messageType string, handler IMessageHandler) error
	Unsubscribe(ctx context.Context, messageType string, handler IMessageHandler) error
	Publish(ctx context.Context, message IMessage) error
	PublishAll(ctx context.Context, messages []IMessage) error
	Use(middleware IMiddleware)
	UseConsumer(middleware IMiddleware)
}

type subscriptionKey struct {
	messageType string
	handler     IMessageHandler
}

// MessageBus 消息总线
//
// 生命周期：先注册中间件与订阅，再 Start；Close 等待在途消息处理完毕后停止消费。
type MessageBus struct {
	transport           Transport
	middlewares         []IMiddleware
	consumerMiddlewares []IMiddleware
	subscriptions       map[subscriptionKey]IMessageHandler
	mutex               sync.RWMutex
}

// NewMessageBus 创建消息总线
func NewMessageBus(transport Transport) *MessageBus {
	return &MessageBus{
		transport:     transport,
		subscriptions: make(map[subscriptionKey]IMessageHandler),
	}
}

// Use 注册发布中间件
func (bus *MessageBus) Use(middleware IMiddleware) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()
	bus.middlewares = append(bus.middlewares, middleware)
}

// UseConsumer 注册消费中间件，包裹所有订阅的处理器（含已订阅的）
func (bus *MessageBus) UseConsumer(middleware IMiddleware) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()
	bus.consumerMiddlewares = append(bus.consumerMiddlewares, middleware)
}

// Subscribe 订阅处理器，同一处理器对同一类型重复订阅返回错误
func (bus *MessageBus) Subscribe(ctx context.Context, messageType string, handler IMessageHandler) error {
	key := subscriptionKey{messageType: messageType, handler: handler}

	bus.mutex.Lock()
	if _, exists := bus.subscriptions[key]; exists {
		bus.mutex.Unlock()
		return fmt.Errorf("handler %s already subscribed to %s", handler.Type(), messageType)
	}
	wrapped := &consumerHandler{bus: bus, inner: handler}
	bus.subscriptions[key] = wrapped
	bus.mutex.Unlock()

	if err := bus.transport.Subscribe(messageType, wrapped); err != nil {
		bus.mutex.Lock()
		delete(bus.subscriptions, key)
		bus.mutex.Unlock()
		return err
	}
	return nil
}

// Unsubscribe 取消订阅
func (bus *MessageBus) Unsubscribe(ctx context.Context, messageType string, handler IMessageHandler) error {
	key := subscriptionKey{messageType: messageType, handler: handler}

	bus.mutex.Lock()
	wrapped, ok := bus.subscriptions[key]
	if ok {
		delete(bus.subscriptions, key)
	}
	bus.mutex.Unlock()

	if !ok {
		return fmt.Errorf("handler %s not subscribed to %s", handler.Type(), messageType)
	}
	return bus.transport.Unsubscribe(messageType, wrapped)
}

// Publish 执行发布中间件后交给传输层
func (bus *MessageBus) Publish(ctx context.Context, message IMessage) error {
	return chain(bus.publishMiddlewares(), func(ctx context.Context, msg IMessage) error {
		return bus.transport.Publish(ctx, msg)
	})(ctx, message)
}

// PublishAll 逐条执行发布中间件后批量交给传输层
func (bus *MessageBus) PublishAll(ctx context.Context, messages []IMessage) error {
	if len(messages) == 0 {
		return nil
	}

	middlewares := bus.publishMiddlewares()
	batched := make([]IMessage, 0, len(messages))
	collect := chain(middlewares, func(ctx context.Context, msg IMessage) error {
		batched = append(batched, msg)
		return nil
	})
	for _, message := range messages {
		if err := collect(ctx, message); err != nil {
			return fmt.Errorf("failed to publish message %s: %w", message.GetID(), err)
		}
	}
	if len(batched) == 0 {
		return nil
	}
	if err := bus.transport.PublishAll(ctx, batched); err != nil {
		return fmt.Errorf("failed to publish batch (%d messages): %w", len(batched), err)
	}
	return nil
}

// Start 启动传输层开始消费
func (bus *MessageBus) Start(ctx context.Context) error {
	return bus.transport.Start(ctx)
}

// Close 关闭传输层
func (bus *MessageBus) Close() error {
	return bus.transport.Close()
}

// Stats 返回传输层统计
func (bus *MessageBus) Stats() TransportStats {
	return bus.transport.Stats()
}

func (bus *MessageBus) publishMiddlewares() []IMiddleware {
	bus.mutex.RLock()
	defer bus.mutex.RUnlock()
	return bus.middlewares
}

func (bus *MessageBus) consumeMiddlewares() []IMiddleware {
	bus.mutex.RLock()
	defer bus.mutex.RUnlock()
	return bus.consumerMiddlewares
}

// chain 构建中间件链，注册顺序即执行顺序
func chain(middlewares []IMiddleware, final HandlerFunc) HandlerFunc {
	next := final
	for i := len(middlewares) - 1; i >= 0; i-- {
		middleware := middlewares[i]
		currentNext := next
		next = func(ctx context.Context, msg IMessage) error {
			return middleware.Handle(ctx, msg, currentNext)
		}
	}
	return next
}

// consumerHandler 把消费中间件与入站上下文套在用户处理器外层
type consumerHandler struct {
	bus   *MessageBus
	inner IMessageHandler
}

func (h *consumerHandler) Type() string { return h.inner.Type() }

func (h *consumerHandler) Handle(ctx context.Context, message IMessage) error {
	ctx = ContextWithInbound(ctx, message)
	ctx = ContextWithHandler(ctx, h.inner.Type())
	return chain(h.bus.consumeMiddlewares(), h.inner.Handle)(ctx, message)
}
