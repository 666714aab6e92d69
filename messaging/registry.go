package messaging

import (
	"sort"
	"sync"
)

// Wildcard 订阅该类型的处理器接收所有消息
const Wildcard = "*"

// Registry 按消息类型登记处理器，各传输实现共用
//
// 零值可用，并发安全。
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]IMessageHandler
}

// Add 返回加入后该类型的处理器数
func (r *Registry) Add(messageType string, handler IMessageHandler) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string][]IMessageHandler)
	}
	r.handlers[messageType] = append(r.handlers[messageType], handler)
	return len(r.handlers[messageType])
}

// Remove 按指针相等移除一个处理器，返回剩余数量与是否找到
func (r *Registry) Remove(messageType string, handler IMessageHandler) (remaining int, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.handlers[messageType]
	for i, h := range hs {
		if h != handler {
			continue
		}
		next := make([]IMessageHandler, 0, len(hs)-1)
		next = append(next, hs[:i]...)
		next = append(next, hs[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, messageType)
		} else {
			r.handlers[messageType] = next
		}
		return len(next), true
	}
	return len(hs), false
}

// For 返回该类型的处理器副本，通配订阅排在最后
func (r *Registry) For(messageType string) []IMessageHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exact := r.handlers[messageType]
	var wildcard []IMessageHandler
	if messageType != Wildcard {
		wildcard = r.handlers[Wildcard]
	}
	out := make([]IMessageHandler, 0, len(exact)+len(wildcard))
	out = append(out, exact...)
	return append(out, wildcard...)
}

// Types 已订阅的消息类型，按字典序
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for mt := range r.handlers {
		types = append(types, mt)
	}
	sort.Strings(types)
	return types
}

// Stats 填充 TransportStats 的订阅部分
func (r *Registry) Stats() TransportStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := TransportStats{MessageTypes: make([]string, 0, len(r.handlers))}
	for mt, hs := range r.handlers {
		stats.MessageTypes = append(stats.MessageTypes, mt)
		stats.HandlerCount += len(hs)
	}
	sort.Strings(stats.MessageTypes)
	return stats
}
