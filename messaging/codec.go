package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope 跨进程传输的 JSON 信封
type envelope struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp int64             `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Marshal 编码消息为 JSON 信封，NATS / RabbitMQ / Kafka 共用
func Marshal(m IMessage) ([]byte, error) {
	payload, err := MarshalPayload(m.GetPayload())
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		ID:        m.GetID(),
		Type:      m.GetType(),
		Timestamp: m.GetTimestamp().UnixNano(),
		Payload:   payload,
		Metadata:  m.GetMetadata(),
	})
}

// Unmarshal 解码 JSON 信封，Payload 保留为 json.RawMessage
func Unmarshal(data []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode message envelope: missing type")
	}
	msg := &Message{
		ID:        env.ID,
		Type:      env.Type,
		Timestamp: time.Unix(0, env.Timestamp).UTC(),
		Payload:   env.Payload,
		Metadata:  env.Metadata,
	}
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]string)
	}
	return msg, nil
}

// MarshalPayload 编码消息体，已是原始 JSON 时原样返回
func MarshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return data, nil
	}
}
