package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"gochen-trade/cache"
	"gochen-trade/logging"
	"gochen-trade/messaging"
)

// IdempotencyStore 已处理消息记录
type IdempotencyStore interface {
	// Seen 返回 key 是否已成功处理过
	Seen(ctx context.Context, key string) (bool, error)
	// Mark 记录 key 已成功处理
	Mark(ctx context.Context, key string) error
}

// IdempotencyMiddleware 消费幂等中间件
//
// 以 "消息 ID:处理器名" 为键：同一条消息被重复投递时，每个处理器只成功执行一次。
// 同一键的处理串行执行，只有处理成功才记录，失败的消息可被重投。
type IdempotencyMiddleware struct {
	store  IdempotencyStore
	logger logging.Logger

	mutex sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewIdempotencyMiddleware 创建消费幂等中间件
func NewIdempotencyMiddleware(store IdempotencyStore) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		store:  store,
		logger: logging.ComponentLogger("messaging.idempotency"),
		locks:  make(map[string]*keyLock),
	}
}

func (m *IdempotencyMiddleware) Name() string { return "Idempotency" }

func (m *IdempotencyMiddleware) Handle(ctx context.Context, message messaging.IMessage, next messaging.HandlerFunc) error {
	if message == nil || message.GetID() == "" {
		return next(ctx, message)
	}
	key := IdempotencyKey(message.GetID(), messaging.HandlerFromContext(ctx))

	lock := m.acquire(key)
	defer m.release(key, lock)

	seen, err := m.store.Seen(ctx, key)
	if err != nil {
		// 存储不可用时交给传输层重投
		return fmt.Errorf("idempotency lookup %s: %w", key, err)
	}
	if seen {
		m.logger.Debug(ctx, "重复消息，跳过",
			logging.String("message_id", message.GetID()),
			logging.String("message_type", message.GetType()),
			logging.String("correlation_id", messaging.CorrelationID(message)),
			logging.String("handler", messaging.HandlerFromContext(ctx)))
		return nil
	}

	if err := next(ctx, message); err != nil {
		return err
	}

	if err := m.store.Mark(ctx, key); err != nil {
		m.logger.Warn(ctx, "幂等记录写入失败",
			logging.String("key", key),
			logging.Error(err))
	}
	return nil
}

// IdempotencyKey 组合消息 ID 与处理器名
func IdempotencyKey(messageID, handler string) string {
	if handler == "" {
		return messageID
	}
	return messageID + ":" + handler
}

func (m *IdempotencyMiddleware) acquire(key string) *keyLock {
	m.mutex.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mutex.Unlock()

	l.mu.Lock()
	return l
}

func (m *IdempotencyMiddleware) release(key string, l *keyLock) {
	l.mu.Unlock()

	m.mutex.Lock()
	defer m.mutex.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// MemoryIdempotencyStore 进程内幂等记录，基于带 TTL 的 LRU 缓存
type MemoryIdempotencyStore struct {
	processed *cache.Cache[string, time.Time]
}

// NewMemoryIdempotencyStore 创建进程内幂等记录
//
// 参数：
//   - ttl: 记录保留时间，超过后同 ID 消息可再次执行
//   - maxSize: 最大记录数，0 表示不限制
func NewMemoryIdempotencyStore(ttl time.Duration, maxSize int) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		processed: cache.New[string, time.Time](cache.Config{
			Name:    "idempotency",
			MaxSize: maxSize,
			TTL:     ttl,
		}),
	}
}

func (s *MemoryIdempotencyStore) Seen(ctx context.Context, key string) (bool, error) {
	return s.processed.Contains(key), nil
}

func (s *MemoryIdempotencyStore) Mark(ctx context.Context, key string) error {
	s.processed.SetIfAbsent(key, time.Now())
	return nil
}

// Cleanup 清理过期记录，返回清理数量
func (s *MemoryIdempotencyStore) Cleanup() int {
	return s.processed.CleanExpired()
}

// Size 当前记录数
func (s *MemoryIdempotencyStore) Size() int {
	return s.processed.Size()
}

// RunCleanup 按间隔清理过期记录直到 ctx 结束
func (s *MemoryIdempotencyStore) RunCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// RedisClient RedisIdempotencyStore 依赖的命令子集，redis.UniversalClient 满足该接口
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisIdempotencyStore 多实例共享的幂等记录
type RedisIdempotencyStore struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotencyStore 创建 Redis 幂等记录，键为 {prefix}{key}
func NewRedisIdempotencyStore(client RedisClient, prefix string, ttl time.Duration) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = "playtrade:processed:"
	}
	return &RedisIdempotencyStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisIdempotencyStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisIdempotencyStore) Mark(ctx context.Context, key string) error {
	return s.client.SetNX(ctx, s.prefix+key, time.Now().UnixMilli(), s.ttl).Err()
}
