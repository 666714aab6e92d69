// Package redisstreams 基于 Redis Streams 消费组的消息传输实现
//
// 每种消息类型一条流 {StreamPrefix}{type}。消费失败时在进程内按退避重试，
// 重试耗尽或遇到不可重试错误时写入死信流 {StreamPrefix}dead-letter 后 XACK。
// 启动时先处理本消费者遗留的 pending 条目，再读取新消息。
package redisstreams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"gochen-trade/logging"
	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
)

// client 所依赖的 go-redis 命令子集（便于测试替换）
type client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	Close() error
}

// Config Redis Streams 传输配置
type Config struct {
	Client       redis.UniversalClient
	Addr         string
	Username     string
	Password     string
	DB           int
	StreamPrefix string
	GroupName    string
	ConsumerName string
	BlockTimeout time.Duration
	ReadCount    int64

	// Retry 进程内重试策略
	Retry      retry.Config
	DeadLetter messaging.DeadLetterFunc
	Logger     logging.Logger

	MaxPublishConcurrency int           // 限制同时进行的 XADD 数，0 表示不限制
	MinReadBackoff        time.Duration // 读取错误最小退避，默认 100ms
	MaxReadBackoff        time.Duration // 读取错误最大退避，默认 5s
}

// Transport 实现 messaging.Transport
type Transport struct {
	cfg       Config
	client    client
	ownClient bool
	logger    logging.Logger

	registry      messaging.Registry
	subscriptions map[string]bool
	deadLetters   atomic.Int64

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	pubSem chan struct{}
}

// NewTransport 创建 Redis Streams 传输
func NewTransport(cfg Config) (*Transport, error) {
	var cl client
	var own bool
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, errors.New("redis client not configured")
		}
		cl = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		own = true
	}
	return newTransport(cfg, cl, own), nil
}

func newTransport(cfg Config, cl client, own bool) *Transport {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "bus:"
	}
	if cfg.GroupName == "" {
		cfg.GroupName = "playtrade"
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "consumer-" + uuid.NewString()
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 10
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.MinReadBackoff <= 0 {
		cfg.MinReadBackoff = 100 * time.Millisecond
	}
	if cfg.MaxReadBackoff <= 0 {
		cfg.MaxReadBackoff = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("transport.redisstreams")
	}
	t := &Transport{
		cfg:           cfg,
		client:        cl,
		ownClient:     own,
		logger:        cfg.Logger,
		subscriptions: make(map[string]bool),
	}
	if cfg.MaxPublishConcurrency > 0 {
		t.pubSem = make(chan struct{}, cfg.MaxPublishConcurrency)
	}
	return t
}

func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	if t.pubSem != nil {
		select {
		case t.pubSem <- struct{}{}:
			defer func() { <-t.pubSem }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	values, err := encodeMessage(message)
	if err != nil {
		return err
	}
	return t.client.XAdd(ctx, &redis.XAddArgs{Stream: t.streamName(message.GetType()), Values: values}).Err()
}

// PublishAll 逐条 XADD
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
		t.startReaderLocked(messageType)
	}
	return nil
}

// Unsubscribe 读取循环保持运行，没有处理器的条目直接确认
func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.registry.Remove(messageType, handler)
	return nil
}

func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("redis streams transport already running")
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	for _, mt := range t.registry.Types() {
		t.startReaderLocked(mt)
	}
	t.running = true
	return nil
}

// Close 停止读取并等待正在处理的批次完成
func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		if t.ownClient {
			return t.client.Close()
		}
		return nil
	}
	t.running = false
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	if t.ownClient {
		return t.client.Close()
	}
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

func (t *Transport) startReaderLocked(messageType string) {
	if t.subscriptions[messageType] {
		return
	}
	t.subscriptions[messageType] = true
	t.wg.Add(1)
	go t.readLoop(t.ctx, messageType)
}

func (t *Transport) readLoop(ctx context.Context, messageType string) {
	defer t.wg.Done()
	stream := t.streamName(messageType)
	if err := t.ensureGroup(ctx, stream); err != nil {
		t.logger.Warn(ctx, "ensure group failed", logging.String("stream", stream), logging.Error(err))
	}

	// "0" 读取本消费者已领取未确认的条目，读空后切换到 ">" 只读新消息
	cursor := "0"
	backoff := t.cfg.MinReadBackoff
	for ctx.Err() == nil {
		args := &redis.XReadGroupArgs{
			Group:    t.cfg.GroupName,
			Consumer: t.cfg.ConsumerName,
			Streams:  []string{stream, cursor},
			Count:    t.cfg.ReadCount,
		}
		if cursor == ">" {
			args.Block = t.cfg.BlockTimeout
		}
		res, err := t.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				cursor = ">"
				continue
			}
			t.logger.Warn(ctx, "xreadgroup failed", logging.Duration("backoff", backoff), logging.Error(err))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			backoff = min(backoff*2, t.cfg.MaxReadBackoff)
			continue
		}
		backoff = t.cfg.MinReadBackoff

		entries := 0
		for _, streamRes := range res {
			for _, entry := range streamRes.Messages {
				entries++
				t.handleEntry(ctx, streamRes.Stream, entry)
			}
		}
		if cursor == "0" && entries == 0 {
			cursor = ">"
		}
	}
}

// handleEntry 处理单条流记录并确认
func (t *Transport) handleEntry(ctx context.Context, stream string, entry redis.XMessage) {
	msg, err := decodeMessage(entry)
	if err != nil {
		t.logger.Warn(ctx, "decode redis stream entry failed", logging.String("entry_id", entry.ID), logging.Error(err))
		t.deadLetter(ctx, stream, entry.Values, nil, err)
		t.ack(ctx, stream, entry.ID)
		return
	}

	handlers := t.registry.For(msg.GetType())
	handleErr := retry.Do(ctx, func(ctx context.Context) error {
		return messaging.HandleAll(ctx, handlers, msg)
	}, t.cfg.Retry)

	// ctx 取消导致的失败不确认，条目留在 pending 中，下次启动时重新处理
	if handleErr != nil && ctx.Err() != nil {
		return
	}
	if handleErr != nil {
		t.logger.Warn(ctx, "消息处理最终失败，转入死信流",
			logging.String("message_type", msg.GetType()),
			logging.String("message_id", msg.GetID()),
			logging.String("correlation_id", messaging.CorrelationID(msg)),
			logging.Bool("permanent", retry.IsPermanent(handleErr)),
			logging.Error(handleErr))
		t.deadLetter(ctx, stream, entry.Values, msg, handleErr)
	}
	t.ack(ctx, stream, entry.ID)
}

func (t *Transport) deadLetter(ctx context.Context, stream string, values map[string]interface{}, msg messaging.IMessage, cause error) {
	t.deadLetters.Add(1)
	dlq := make(map[string]interface{}, len(values)+2)
	for k, v := range values {
		dlq[k] = v
	}
	dlq["source_stream"] = stream
	dlq["error"] = cause.Error()
	if err := t.client.XAdd(ctx, &redis.XAddArgs{Stream: t.deadLetterStream(), Values: dlq}).Err(); err != nil {
		t.logger.Error(ctx, "写入死信流失败", logging.String("stream", stream), logging.Error(err))
	}
	if msg != nil && t.cfg.DeadLetter != nil {
		t.cfg.DeadLetter(ctx, msg, cause)
	}
}

func (t *Transport) ack(ctx context.Context, stream, id string) {
	if err := t.client.XAck(ctx, stream, t.cfg.GroupName, id).Err(); err != nil {
		t.logger.Warn(ctx, "xack failed", logging.String("entry_id", id), logging.Error(err))
	}
}

func (t *Transport) ensureGroup(ctx context.Context, stream string) error {
	err := t.client.XGroupCreateMkStream(ctx, stream, t.cfg.GroupName, "0").Err()
	if err == nil || strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP") {
		return nil
	}
	return err
}

func (t *Transport) streamName(messageType string) string {
	return t.cfg.StreamPrefix + messageType
}

func (t *Transport) deadLetterStream() string {
	return t.cfg.StreamPrefix + "dead-letter"
}

// encodeMessage 流条目字段与 JSON 信封字段一致
func encodeMessage(msg messaging.IMessage) (map[string]interface{}, error) {
	payload, err := messaging.MarshalPayload(msg.GetPayload())
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(msg.GetMetadata())
	if err != nil {
		return nil, err
	}
	ts := msg.GetTimestamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]interface{}{
		"id":        msg.GetID(),
		"type":      msg.GetType(),
		"timestamp": strconv.FormatInt(ts.UnixNano(), 10),
		"payload":   string(payload),
		"metadata":  string(metadata),
	}, nil
}

func decodeMessage(entry redis.XMessage) (*messaging.Message, error) {
	id, _ := entry.Values["id"].(string)
	msgType, _ := entry.Values["type"].(string)
	payloadRaw, _ := entry.Values["payload"].(string)
	metadataRaw, _ := entry.Values["metadata"].(string)

	if msgType == "" {
		return nil, errors.New("stream entry missing type")
	}
	if payloadRaw != "" && !json.Valid([]byte(payloadRaw)) {
		return nil, errors.New("stream entry payload is not valid JSON")
	}
	metadata := make(map[string]string)
	if metadataRaw != "" {
		if err := json.Unmarshal([]byte(metadataRaw), &metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}

	ts := time.Now().UTC()
	switch v := entry.Values["timestamp"].(type) {
	case int64:
		ts = time.Unix(0, v).UTC()
	case string:
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			ts = time.Unix(0, ns).UTC()
		}
	}

	// 未携带消息 ID 时退回流条目 ID
	if id == "" {
		id = entry.ID
	}

	return &messaging.Message{
		ID:        id,
		Type:      msgType,
		Timestamp: ts,
		Payload:   json.RawMessage(payloadRaw),
		Metadata:  metadata,
	}, nil
}
