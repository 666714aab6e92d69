// Package kafka 基于 Kafka 的消息传输实现
//
// 每种消息类型一个主题 {TopicPrefix}{type}，消息键为关联 ID，同一 saga 的消息落在同一分区内有序。
// Kafka 没有单条消息的否定确认：暂时性失败在分区内按退避原地重试，
// 重试耗尽或不可重试时写入死信主题 {TopicPrefix}dead-letter 后提交位移。
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"gochen-trade/logging"
	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
)

const (
	headerMessageID   = "message_id"
	headerMessageType = "message_type"
	headerError       = "error"
	headerSourceTopic = "source_topic"
)

// Reader 消费端抽象，*kafka.Reader 满足该接口
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer 生产端抽象，*kafka.Writer 满足该接口
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config Kafka 传输配置
type Config struct {
	Brokers     []string
	TopicPrefix string
	GroupID     string

	// BatchTimeout 生产端批量等待时间，默认 10ms
	BatchTimeout time.Duration

	// Retry 分区内原地重试的次数与退避，MaxAttempts 即最大投递次数
	Retry retry.Config

	DeadLetter messaging.DeadLetterFunc
	Logger     logging.Logger

	// Writer / NewReader 为空时按 Brokers 创建
	Writer    Writer
	NewReader func(topic string) Reader
}

// Transport 实现 messaging.Transport
type Transport struct {
	cfg    Config
	logger logging.Logger
	writer Writer

	registry messaging.Registry
	readers  map[string]Reader

	deadLetters atomic.Int64
	wg          sync.WaitGroup
	baseCtx     context.Context
	cancel      context.CancelFunc

	mu      sync.RWMutex
	running bool
}

// NewTransport 创建 Kafka 传输
func NewTransport(cfg Config) *Transport {
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"localhost:9092"}
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "playtrade."
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "playtrade"
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("transport.kafka")
	}
	t := &Transport{
		cfg:     cfg,
		logger:  cfg.Logger,
		readers: make(map[string]Reader),
	}
	if cfg.NewReader == nil {
		t.cfg.NewReader = t.defaultReader
	}
	return t
}

func (t *Transport) defaultReader(topic string) Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        t.cfg.Brokers,
		GroupID:        t.cfg.GroupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
}

func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	return t.PublishAll(ctx, []messaging.IMessage{message})
}

// PublishAll 一次批量写入，Writer 按分区拆分
func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	t.mu.RLock()
	w := t.writer
	running := t.running
	t.mu.RUnlock()
	if !running || w == nil {
		return errors.New("kafka transport not running")
	}
	if len(messages) == 0 {
		return nil
	}
	out := make([]kafka.Message, 0, len(messages))
	for _, m := range messages {
		km, err := t.encode(m)
		if err != nil {
			return err
		}
		out = append(out, km)
	}
	return w.WriteMessages(ctx, out...)
}

func (t *Transport) encode(m messaging.IMessage) (kafka.Message, error) {
	value, err := messaging.Marshal(m)
	if err != nil {
		return kafka.Message{}, err
	}
	key := messaging.CorrelationID(m)
	if key == "" {
		key = m.GetID()
	}
	return kafka.Message{
		Topic: t.topicName(m.GetType()),
		Key:   []byte(key),
		Value: value,
		Time:  m.GetTimestamp(),
		Headers: []kafka.Header{
			{Key: headerMessageID, Value: []byte(m.GetID())},
			{Key: headerMessageType, Value: []byte(m.GetType())},
		},
	}, nil
}

// Subscribe "*" 处理器不单独消费主题，附加到每个已订阅主题的消息上
func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registry.Add(messageType, handler)
	if t.running && messageType != messaging.Wildcard {
		t.readLocked(messageType)
	}
	return nil
}

func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if remaining, _ := t.registry.Remove(messageType, handler); remaining == 0 {
		if r, ok := t.readers[messageType]; ok {
			_ = r.Close()
			delete(t.readers, messageType)
		}
	}
	return nil
}

func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("kafka transport already running")
	}
	if t.cfg.Writer != nil {
		t.writer = t.cfg.Writer
	} else {
		t.writer = &kafka.Writer{
			Addr:                   kafka.TCP(t.cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           t.cfg.BatchTimeout,
			AllowAutoTopicCreation: true,
		}
	}
	t.baseCtx, t.cancel = context.WithCancel(context.Background())
	for _, mt := range t.registry.Types() {
		if mt != messaging.Wildcard {
			t.readLocked(mt)
		}
	}
	t.running = true
	return nil
}

// Close 停止拉取，等待在途消息处理完成后关闭读写端
func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.cancel()
	readers := t.readers
	t.readers = make(map[string]Reader)
	t.mu.Unlock()

	t.wg.Wait()

	var errs []error
	for mt, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reader %s: %w", mt, err))
		}
	}
	t.mu.Lock()
	w := t.writer
	t.writer = nil
	t.mu.Unlock()
	if w != nil {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Stats WorkerCount 为正在拉取的主题数
func (t *Transport) Stats() messaging.TransportStats {
	stats := t.registry.Stats()
	t.mu.RLock()
	stats.Running = t.running
	stats.WorkerCount = len(t.readers)
	t.mu.RUnlock()
	stats.DeadLetters = t.deadLetters.Load()
	return stats
}

func (t *Transport) readLocked(messageType string) {
	if _, exists := t.readers[messageType]; exists {
		return
	}
	r := t.cfg.NewReader(t.topicName(messageType))
	t.readers[messageType] = r
	t.wg.Add(1)
	go t.readLoop(t.baseCtx, messageType, r)
}

func (t *Transport) readLoop(ctx context.Context, messageType string, r Reader) {
	defer t.wg.Done()
	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			t.logger.Warn(ctx, "kafka 拉取失败", logging.String("message_type", messageType), logging.Error(err))
			if !sleep(ctx, t.cfg.Retry.InitialDelay) {
				return
			}
			continue
		}
		if t.process(ctx, messageType, km) {
			if err := r.CommitMessages(ctx, km); err != nil && ctx.Err() == nil {
				t.logger.Warn(ctx, "kafka 位移提交失败",
					logging.String("topic", km.Topic),
					logging.Int64("offset", km.Offset),
					logging.Error(err))
			}
		}
	}
}

// process 处理一条消息，返回是否可以提交位移
func (t *Transport) process(ctx context.Context, messageType string, km kafka.Message) bool {
	decoded, err := messaging.Unmarshal(km.Value)
	if err != nil {
		t.logger.Warn(ctx, "消息解码失败，写入死信", logging.String("topic", km.Topic), logging.Error(err))
		return t.deadLetter(ctx, km, nil, err)
	}
	handlers := t.registry.For(messageType)
	handleErr := retry.DoWithInfo(ctx, func(ctx context.Context, attempt int) error {
		err := messaging.HandleAll(ctx, handlers, decoded)
		if err != nil && messaging.Decide(err, attempt, t.cfg.Retry.MaxAttempts) == messaging.Redeliver {
			t.logger.Debug(ctx, "处理失败，分区内重试",
				logging.String("message_id", decoded.GetID()),
				logging.Int("attempt", attempt),
				logging.Error(err))
		}
		return err
	}, t.cfg.Retry)
	if handleErr == nil {
		return true
	}
	if ctx.Err() != nil {
		// 关闭期间中断的消息不提交，重启后由消费组重新投递
		return false
	}
	return t.deadLetter(ctx, km, decoded, handleErr)
}

func (t *Transport) deadLetter(ctx context.Context, km kafka.Message, decoded messaging.IMessage, cause error) bool {
	t.deadLetters.Add(1)
	if decoded != nil {
		t.logger.Warn(ctx, "消息处理最终失败，写入死信",
			logging.String("message_type", decoded.GetType()),
			logging.String("message_id", decoded.GetID()),
			logging.String("correlation_id", messaging.CorrelationID(decoded)),
			logging.Bool("permanent", retry.IsPermanent(cause)),
			logging.Error(cause))
		if t.cfg.DeadLetter != nil {
			t.cfg.DeadLetter(ctx, decoded, cause)
		}
	}

	t.mu.RLock()
	w := t.writer
	t.mu.RUnlock()
	if w == nil {
		return false
	}
	headers := append([]kafka.Header(nil), km.Headers...)
	headers = append(headers,
		kafka.Header{Key: headerSourceTopic, Value: []byte(km.Topic)},
		kafka.Header{Key: headerError, Value: []byte(cause.Error())})
	err := w.WriteMessages(ctx, kafka.Message{
		Topic:   t.cfg.TopicPrefix + "dead-letter",
		Key:     km.Key,
		Value:   km.Value,
		Headers: headers,
	})
	if err != nil {
		t.logger.Error(ctx, "写入死信主题失败，暂不提交位移", logging.String("topic", km.Topic), logging.Error(err))
		return false
	}
	return true
}

func (t *Transport) topicName(messageType string) string {
	return t.cfg.TopicPrefix + strings.TrimSpace(messageType)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
