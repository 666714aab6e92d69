// Package messaging 提供消息信封、处理器、传输层抽象与消息总线
package messaging

import (
	"time"
)

// 消息种类，写入 Metadata[MetaKind]
const (
	KindCommand = "command"
	KindEvent   = "event"
)

// 元数据键
const (
	MetaCorrelationID = "correlation_id"
	MetaCausationID   = "causation_id"
	MetaTraceID       = "trace_id"
	MetaKind          = "kind"
	MetaTraceParent   = "traceparent"
)

// IMessage 消息接口
type IMessage interface {
	// GetID 消息 ID，同一逻辑消息的重复投递 ID 相同
	GetID() string

	// GetType 消息类型，即路由键（每种契约一个）
	GetType() string

	GetTimestamp() time.Time

	// GetPayload 消息体：进程内传输为契约结构体，跨进程传输为原始 JSON
	GetPayload() any

	// GetMetadata 元数据，返回值可直接修改
	GetMetadata() map[string]string
}

// Message 消息基础实现
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (m *Message) GetID() string           { return m.ID }
func (m *Message) GetType() string         { return m.Type }
func (m *Message) GetTimestamp() time.Time { return m.Timestamp }
func (m *Message) GetPayload() any         { return m.Payload }

func (m *Message) GetMetadata() map[string]string {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	return m.Metadata
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key, value string) {
	m.GetMetadata()[key] = value
}

// NewMessage 创建消息
func NewMessage(id, messageType string, payload any) *Message {
	return &Message{
		ID:        id,
		Type:      messageType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Metadata:  make(map[string]string),
	}
}

// NewCommand 创建命令消息并写入关联 ID
func NewCommand(id, messageType, correlationID string, payload any) *Message {
	m := NewMessage(id, messageType, payload)
	m.Metadata[MetaKind] = KindCommand
	if correlationID != "" {
		m.Metadata[MetaCorrelationID] = correlationID
	}
	return m
}

// NewEvent 创建事件消息并写入关联 ID
func NewEvent(id, messageType, correlationID string, payload any) *Message {
	m := NewMessage(id, messageType, payload)
	m.Metadata[MetaKind] = KindEvent
	if correlationID != "" {
		m.Metadata[MetaCorrelationID] = correlationID
	}
	return m
}

// CorrelationID 读取消息的关联 ID
func CorrelationID(m IMessage) string {
	if m == nil {
		return ""
	}
	return m.GetMetadata()[MetaCorrelationID]
}

// Kind 读取消息种类
func Kind(m IMessage) string {
	if m == nil {
		return ""
	}
	return m.GetMetadata()[MetaKind]
}
