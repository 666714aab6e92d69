// Package cache 提供带容量上限与过期时间的进程内泛型缓存
//
// 用于消费幂等记录、目录价格等"可丢失"的热点数据：
// 条目超过 MaxSize 时按 LRU 驱逐，超过 TTL 时在访问或清理时过期。
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Config 缓存配置
type Config struct {
	// Name 缓存名称（用于日志和 String）
	Name string

	// MaxSize 最大条目数，0 表示不限制
	MaxSize int

	// TTL 过期时间，0 表示永不过期
	TTL time.Duration

	// RefreshOnAccess 命中时是否刷新过期计时
	//
	// 幂等记录等需要"写入后固定期限"的场景应保持 false。
	RefreshOnAccess bool

	// OnEvict 条目被驱逐或过期时回调（持锁调用，不得回调缓存自身）
	OnEvict func(key, value any)
}

// Stats 统计信息
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expires   int64
	Size      int
}

type entry[K comparable, V any] struct {
	key     K
	value   V
	touched time.Time
	elem    *list.Element
}

// Cache 泛型 LRU + TTL 缓存，并发安全
type Cache[K comparable, V any] struct {
	config Config
	items  map[K]*entry[K, V]
	lru    *list.List // 最近使用的在前
	stats  Stats
	now    func() time.Time
	mu     sync.Mutex
}

// New 创建缓存
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	return &Cache[K, V]{
		config: config,
		items:  make(map[K]*entry[K, V]),
		lru:    list.New(),
		now:    time.Now,
	}
}

// Get 获取未过期的值
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lookupLocked(key)
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	if c.config.RefreshOnAccess {
		e.touched = c.now()
	}
	c.lru.MoveToFront(e.elem)
	c.stats.Hits++
	return e.value, true
}

// Contains 判断键是否存在且未过期，不影响统计与 LRU 顺序
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lookupLocked(key)
	return ok
}

// Set 写入或覆盖
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

// SetIfAbsent 仅当键不存在（或已过期）时写入，返回是否写入
func (c *Cache[K, V]) SetIfAbsent(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookupLocked(key); ok {
		return false
	}
	c.setLocked(key, value)
	return true
}

// Delete 删除条目，返回是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.lru.Remove(e.elem)
	delete(c.items, key)
	return true
}

// CleanExpired 清理所有过期条目，返回清理数量
func (c *Cache[K, V]) CleanExpired() int {
	if c.config.TTL <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cleaned := 0
	for _, e := range c.items {
		if c.expiredLocked(e) {
			c.evictLocked(e)
			c.stats.Expires++
			cleaned++
		}
	}
	return cleaned
}

// Size 当前条目数（含尚未清理的过期条目）
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats 返回统计副本
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

func (c *Cache[K, V]) String() string {
	s := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d hits=%d misses=%d evictions=%d expires=%d",
		c.config.Name, s.Size, c.config.MaxSize, s.Hits, s.Misses, s.Evictions, s.Expires)
}

func (c *Cache[K, V]) lookupLocked(key K) (*entry[K, V], bool) {
	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.expiredLocked(e) {
		c.evictLocked(e)
		c.stats.Expires++
		return nil, false
	}
	return e, true
}

func (c *Cache[K, V]) setLocked(key K, value V) {
	now := c.now()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.touched = now
		c.lru.MoveToFront(e.elem)
		return
	}
	if c.config.MaxSize > 0 && len(c.items) >= c.config.MaxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.evictLocked(oldest.Value.(*entry[K, V]))
			c.stats.Evictions++
		}
	}
	e := &entry[K, V]{key: key, value: value, touched: now}
	e.elem = c.lru.PushFront(e)
	c.items[key] = e
}

func (c *Cache[K, V]) expiredLocked(e *entry[K, V]) bool {
	return c.config.TTL > 0 && c.now().Sub(e.touched) >= c.config.TTL
}

func (c *Cache[K, V]) evictLocked(e *entry[K, V]) {
	if c.config.OnEvict != nil {
		c.config.OnEvict(e.key, e.value)
	}
	c.lru.Remove(e.elem)
	delete(c.items, e.key)
}
