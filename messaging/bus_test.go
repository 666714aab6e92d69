package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inlineTransport 同步调用处理器的测试传输
type inlineTransport struct {
	mu         sync.Mutex
	registry   Registry
	published  []IMessage
	batches    [][]IMessage
	publishErr error
	order      *[]string
}

func newInlineTransport() *inlineTransport {
	return &inlineTransport{}
}

func (m *inlineTransport) Publish(ctx context.Context, message IMessage) error {
	m.mu.Lock()
	if m.order != nil {
		*m.order = append(*m.order, "transport")
	}
	m.published = append(m.published, message)
	m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	var errs []error
	for _, h := range m.registry.For(message.GetType()) {
		errs = append(errs, h.Handle(ctx, message))
	}
	return errors.Join(errs...)
}

func (m *inlineTransport) PublishAll(ctx context.Context, messages []IMessage) error {
	m.mu.Lock()
	m.batches = append(m.batches, messages)
	m.mu.Unlock()
	return m.publishErr
}

func (m *inlineTransport) Subscribe(messageType string, handler IMessageHandler) error {
	m.registry.Add(messageType, handler)
	return nil
}

func (m *inlineTransport) Unsubscribe(messageType string, handler IMessageHandler) error {
	if _, found := m.registry.Remove(messageType, handler); !found {
		return errors.New("not found")
	}
	return nil
}

func (m *inlineTransport) Start(ctx context.Context) error { return nil }
func (m *inlineTransport) Close() error                    { return nil }
func (m *inlineTransport) Stats() TransportStats           { return m.registry.Stats() }

type recordingMiddleware struct {
	name  string
	order *[]string
	err   error
}

func (mw recordingMiddleware) Handle(ctx context.Context, message IMessage, next HandlerFunc) error {
	*mw.order = append(*mw.order, mw.name)
	if mw.err != nil {
		return mw.err
	}
	return next(ctx, message)
}

func (mw recordingMiddleware) Name() string { return mw.name }

func TestMessageBus_PublishMiddlewareOrder(t *testing.T) {
	order := make([]string, 0, 3)
	transport := newInlineTransport()
	transport.order = &order

	bus := NewMessageBus(transport)
	bus.Use(recordingMiddleware{name: "mw1", order: &order})
	bus.Use(recordingMiddleware{name: "mw2", order: &order})

	msg := NewCommand("msg-1", "test", "corr-1", nil)
	require.NoError(t, bus.Publish(context.Background(), msg))

	assert.Equal(t, []string{"mw1", "mw2", "transport"}, order)
	require.Len(t, transport.published, 1)
	assert.Same(t, msg, transport.published[0])
}

func TestMessageBus_PublishAllMiddlewareError(t *testing.T) {
	order := make([]string, 0, 1)
	transport := newInlineTransport()

	mwErr := errors.New("middleware failed")
	bus := NewMessageBus(transport)
	bus.Use(recordingMiddleware{name: "mw-error", order: &order, err: mwErr})

	err := bus.PublishAll(context.Background(), []IMessage{NewMessage("m", "t", nil)})
	require.ErrorIs(t, err, mwErr)
	assert.Empty(t, transport.batches)
	assert.Equal(t, []string{"mw-error"}, order)
}

func TestMessageBus_PublishAllBatches(t *testing.T) {
	transport := newInlineTransport()
	bus := NewMessageBus(transport)

	msg1 := NewMessage("msg-1", "t", nil)
	msg2 := NewMessage("msg-2", "t", nil)
	require.NoError(t, bus.PublishAll(context.Background(), []IMessage{msg1, msg2}))

	require.Len(t, transport.batches, 1)
	assert.Equal(t, []IMessage{msg1, msg2}, transport.batches[0])
}

// TestMessageBus_ConsumerMiddlewareWrapsHandlers 消费中间件包裹处理器并注入入站上下文
func TestMessageBus_ConsumerMiddlewareWrapsHandlers(t *testing.T) {
	order := make([]string, 0, 3)
	transport := newInlineTransport()
	bus := NewMessageBus(transport)

	var seenInbound IMessage
	var seenHandler string
	handler := NewHandler("inventory.grant", func(ctx context.Context, m IMessage) error {
		order = append(order, "handler")
		seenInbound = InboundFromContext(ctx)
		seenHandler = HandlerFromContext(ctx)
		return nil
	})
	require.NoError(t, bus.Subscribe(context.Background(), "grant", handler))

	// 订阅之后注册的消费中间件同样生效
	bus.UseConsumer(recordingMiddleware{name: "c1", order: &order})
	bus.UseConsumer(recordingMiddleware{name: "c2", order: &order})

	msg := NewCommand("m1", "grant", "corr", nil)
	require.NoError(t, bus.Publish(context.Background(), msg))

	assert.Equal(t, []string{"c1", "c2", "handler"}, order)
	assert.Same(t, msg, seenInbound)
	assert.Equal(t, "inventory.grant", seenHandler)
}

func TestMessageBus_SubscribeUnsubscribe(t *testing.T) {
	transport := newInlineTransport()
	bus := NewMessageBus(transport)
	ctx := context.Background()

	calls := 0
	handler := NewHandler("h", func(ctx context.Context, m IMessage) error {
		calls++
		return nil
	})
	require.NoError(t, bus.Subscribe(ctx, "t", handler))
	assert.Error(t, bus.Subscribe(ctx, "t", handler), "重复订阅")

	require.NoError(t, bus.Publish(ctx, NewMessage("1", "t", nil)))
	require.NoError(t, bus.Unsubscribe(ctx, "t", handler))
	require.NoError(t, bus.Publish(ctx, NewMessage("2", "t", nil)))

	assert.Equal(t, 1, calls)
	assert.Error(t, bus.Unsubscribe(ctx, "t", handler))
}

func TestMessageBus_ConcurrentUseAndPublish(t *testing.T) {
	transport := newInlineTransport()
	bus := NewMessageBus(transport)
	order := make([]string, 0)
	var orderMu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Use(lockedMiddleware{mu: &orderMu, order: &order})
		}()
		go func() {
			defer wg.Done()
			_ = bus.Publish(context.Background(), NewMessage("m", "t", nil))
		}()
	}
	wg.Wait()
	assert.Len(t, transport.published, 20)
}

type lockedMiddleware struct {
	mu    *sync.Mutex
	order *[]string
}

func (m lockedMiddleware) Handle(ctx context.Context, message IMessage, next HandlerFunc) error {
	m.mu.Lock()
	*m.order = append(*m.order, "x")
	m.mu.Unlock()
	return next(ctx, message)
}

func (m lockedMiddleware) Name() string { return "locked" }
