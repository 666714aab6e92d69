package messaging

import (
	"context"
)

// Transport 消息传输接口
//
// 投递语义为至少一次：处理器成功才确认；返回 retry.Permanent 错误的消息
// 不再重投，直接终止或进入死信；其余错误按有限退避重投。
type Transport interface {
	Publish(ctx context.Context, message IMessage) error
	PublishAll(ctx context.Context, messages []IMessage) error
	Subscribe(messageType string, handler IMessageHandler) error
	Unsubscribe(messageType string, handler IMessageHandler) error
	Start(ctx context.Context) error
	Close() error
	Stats() TransportStats
}

// DeadLetterFunc 消息最终处理失败时的回调
type DeadLetterFunc func(ctx context.Context, message IMessage, err error)

// TransportStats 传输层统计信息
type TransportStats struct {
	Running      bool     `json:"running"`
	HandlerCount int      `json:"handler_count"`
	MessageTypes []string `json:"message_types"`
	QueueSize    int      `json:"queue_size,omitempty"`
	QueueDepth   int      `json:"queue_depth,omitempty"`
	WorkerCount  int      `json:"worker_count,omitempty"`
	DeadLetters  int64    `json:"dead_letters,omitempty"`
}
