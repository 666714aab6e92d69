// Package natsjetstream 基于 NATS JetStream 的消息传输实现
//
// 每种消息类型对应一个主题 {SubjectPrefix}{type} 与一个持久化队列消费者；
// 处理成功 Ack，暂时性失败按退避 NakWithDelay，不可重试或超过 MaxDeliver 时 Term。
package natsjetstream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"gochen-trade/logging"
	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
)

// Config JetStream 传输配置
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	DurablePrefix string
	AckWait       time.Duration
	MaxAckPending int

	// MaxDeliver 单条消息最大投递次数，超过后终止（默认 5）
	MaxDeliver int

	// Retry 计算 NakWithDelay 的退避
	Retry retry.Config

	DeadLetter messaging.DeadLetterFunc
	Logger     logging.Logger
	Conn       *nats.Conn

	Retention string // workqueue|limits|interest（默认 limits，多个服务可各自消费）
	MaxBytes  int64
	Replicas  int
}

// Transport 实现 messaging.Transport
type Transport struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	js       nats.JetStreamContext
	ownsConn bool

	registry    messaging.Registry
	subs        map[string]*nats.Subscription
	deadLetters atomic.Int64

	mu      sync.RWMutex
	running bool
}

// NewTransport 创建 JetStream 传输
func NewTransport(cfg Config) *Transport {
	if cfg.Stream == "" {
		cfg.Stream = "PLAYTRADE"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "bus."
	}
	if cfg.DurablePrefix == "" {
		cfg.DurablePrefix = "playtrade-"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = 1024
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 5
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("transport.nats")
	}
	return &Transport{
		cfg:    cfg,
		logger: cfg.Logger,
		subs:   make(map[string]*nats.Subscription),
	}
}

func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mu.RLock()
	js := t.js
	running := t.running
	t.mu.RUnlock()
	if !running || js == nil {
		return errors.New("nats transport not running")
	}
	data, err := messaging.Marshal(message)
	if err != nil {
		return err
	}
	// 消息 ID 同时作为 JetStream 去重 ID，重发的命令在去重窗口内被服务端丢弃
	_, err = js.Publish(t.subjectName(message.GetType()), data, nats.MsgId(message.GetID()), nats.Context(ctx))
	return err
}

func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, msg := range messages {
		if err := t.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registry.Add(messageType, handler)
	if t.running {
		return t.subscribeLocked(messageType)
	}
	return nil
}

// Unsubscribe 最后一个处理器移除后排空该类型的消费者
func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if remaining, _ := t.registry.Remove(messageType, handler); remaining == 0 {
		if sub, ok := t.subs[messageType]; ok {
			_ = sub.Drain()
			delete(t.subs, messageType)
		}
	}
	return nil
}

func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("nats transport already running")
	}
	if err := t.ensureConnection(); err != nil {
		return err
	}
	if err := t.ensureStream(); err != nil {
		return err
	}
	for _, mt := range t.registry.Types() {
		if err := t.subscribeLocked(mt); err != nil {
			return err
		}
	}
	t.running = true
	return nil
}

// Close 排空订阅（等待在途消息处理完成）后断开连接
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.running = false
		for mt, sub := range t.subs {
			if err := sub.Drain(); err != nil {
				t.logger.Warn(context.Background(), "订阅排空失败", logging.String("message_type", mt), logging.Error(err))
			}
			delete(t.subs, mt)
		}
	}
	if t.ownsConn && t.conn != nil {
		if err := t.conn.Drain(); err != nil {
			t.conn.Close()
		}
	}
	t.conn = nil
	t.js = nil
	return nil
}

func (t *Transport) Stats() messaging.TransportStats {
	stats := t.registry.Stats()
	t.mu.RLock()
	stats.Running = t.running
	t.mu.RUnlock()
	stats.DeadLetters = t.deadLetters.Load()
	return stats
}

func (t *Transport) ensureConnection() error {
	if t.conn != nil && t.js != nil {
		return nil
	}
	if t.cfg.Conn != nil {
		t.conn = t.cfg.Conn
	} else {
		url := t.cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url, nats.Name(t.cfg.DurablePrefix+"client"))
		if err != nil {
			return err
		}
		t.conn = conn
		t.ownsConn = true
	}
	js, err := t.conn.JetStream()
	if err != nil {
		return err
	}
	t.js = js
	return nil
}

func (t *Transport) ensureStream() error {
	_, err := t.js.StreamInfo(t.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(err.Error(), "stream not found") {
		return err
	}
	_, err = t.js.AddStream(streamConfig(t.cfg))
	return err
}

func streamConfig(cfg Config) *nats.StreamConfig {
	retention := nats.LimitsPolicy
	switch strings.ToLower(cfg.Retention) {
	case "workqueue":
		retention = nats.WorkQueuePolicy
	case "interest":
		retention = nats.InterestPolicy
	}
	sc := &nats.StreamConfig{
		Name:              cfg.Stream,
		Subjects:          []string{cfg.SubjectPrefix + ">"},
		Retention:         retention,
		MaxMsgsPerSubject: -1,
		Duplicates:        2 * time.Minute,
	}
	if cfg.MaxBytes > 0 {
		sc.MaxBytes = cfg.MaxBytes
	}
	if cfg.Replicas > 0 {
		sc.Replicas = cfg.Replicas
	}
	return sc
}

func (t *Transport) subscribeLocked(messageType string) error {
	if _, exists := t.subs[messageType]; exists {
		return nil
	}
	subject := t.subjectName(messageType)
	durable := t.durableName(messageType)
	sub, err := t.js.QueueSubscribe(subject, durable, t.handleMessage,
		nats.ManualAck(),
		nats.Durable(durable),
		nats.AckWait(t.cfg.AckWait),
		nats.MaxAckPending(t.cfg.MaxAckPending),
		nats.MaxDeliver(t.cfg.MaxDeliver))
	if err != nil {
		return err
	}
	t.subs[messageType] = sub
	return nil
}

func (t *Transport) handleMessage(msg *nats.Msg) {
	ctx := context.Background()
	decoded, err := messaging.Unmarshal(msg.Data)
	if err != nil {
		// 无法解码的消息重投也无法处理
		t.logger.Warn(ctx, "消息解码失败，终止投递", logging.String("subject", msg.Subject), logging.Error(err))
		_ = msg.Term()
		return
	}

	delivered := 1
	if meta, err := msg.Metadata(); err == nil {
		delivered = int(meta.NumDelivered)
	}

	handleErr := messaging.HandleAll(ctx, t.registry.For(decoded.GetType()), decoded)
	t.settle(ctx, msg, decoded, handleErr, delivered)
}

// acker 抽象 *nats.Msg 的确认方法
type acker interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

func (t *Transport) settle(ctx context.Context, msg acker, decoded messaging.IMessage, handleErr error, delivered int) {
	var ackErr error
	switch messaging.Decide(handleErr, delivered, t.cfg.MaxDeliver) {
	case messaging.Ack:
		ackErr = msg.Ack()
	case messaging.Redeliver:
		t.logger.Debug(ctx, "处理失败，延迟重投",
			logging.String("message_id", decoded.GetID()),
			logging.Int("delivered", delivered),
			logging.Error(handleErr))
		ackErr = msg.NakWithDelay(t.cfg.Retry.Delay(delivered))
	case messaging.DeadLetter:
		t.deadLetters.Add(1)
		t.logger.Warn(ctx, "消息处理最终失败，终止投递",
			logging.String("message_type", decoded.GetType()),
			logging.String("message_id", decoded.GetID()),
			logging.String("correlation_id", messaging.CorrelationID(decoded)),
			logging.Int("delivered", delivered),
			logging.Error(handleErr))
		if t.cfg.DeadLetter != nil {
			t.cfg.DeadLetter(ctx, decoded, handleErr)
		}
		ackErr = msg.Term()
	}
	if ackErr != nil {
		t.logger.Warn(ctx, "nats ack failed", logging.String("message_id", decoded.GetID()), logging.Error(ackErr))
	}
}

func (t *Transport) subjectName(messageType string) string {
	return t.cfg.SubjectPrefix + messageType
}

// durableName 持久消费者名不能包含 '.'
func (t *Transport) durableName(messageType string) string {
	return t.cfg.DurablePrefix + strings.NewReplacer(".", "_", "*", "all", ">", "all").Replace(messageType)
}
