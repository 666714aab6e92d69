package contracts

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
)

// MessageID 由关联 ID 与消息类型派生确定性消息 ID
//
// 同一 saga 重新发布的命令与重复产生的结果事件拥有相同 ID，可被消费幂等识别。
func MessageID(correlationID uuid.UUID, messageType string) string {
	return uuid.NewSHA1(correlationID, []byte(messageType)).String()
}

// NewCommand 创建属于某个 saga 的命令消息
func NewCommand(messageType string, correlationID uuid.UUID, payload any) *messaging.Message {
	return messaging.NewCommand(MessageID(correlationID, messageType), messageType, correlationID.String(), payload)
}

// NewOutcome 创建属于某个 saga 的结果事件
func NewOutcome(messageType string, correlationID uuid.UUID, payload any) *messaging.Message {
	return messaging.NewEvent(MessageID(correlationID, messageType), messageType, correlationID.String(), payload)
}

// NewCatalogEvent 创建目录事件，目录事件不属于任何 saga
func NewCatalogEvent(messageType string, payload any) *messaging.Message {
	return messaging.NewEvent(uuid.NewString(), messageType, "", payload)
}

// Decode 将消息体解码为契约结构体
//
// 进程内传输的消息体即为契约结构体（或其指针），跨进程传输为原始 JSON；
// 无法解码的消息重投也无法处理，返回不可重试错误。
func Decode[T any](message messaging.IMessage) (T, error) {
	var out T
	switch p := message.GetPayload().(type) {
	case T:
		return p, nil
	case *T:
		if p == nil {
			return out, retry.Permanent(fmt.Errorf("decode %s: nil payload", message.GetType()))
		}
		return *p, nil
	case json.RawMessage:
		return out, unmarshal(message.GetType(), p, &out)
	case []byte:
		return out, unmarshal(message.GetType(), p, &out)
	case nil:
		return out, retry.Permanent(fmt.Errorf("decode %s: empty payload", message.GetType()))
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return out, retry.Permanent(fmt.Errorf("decode %s: %w", message.GetType(), err))
		}
		return out, unmarshal(message.GetType(), data, &out)
	}
}

func unmarshal(messageType string, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return retry.Permanent(fmt.Errorf("decode %s: %w", messageType, err))
	}
	return nil
}

// CorrelationOf 返回消息元数据中的关联 ID，缺失或格式错误时为 uuid.Nil
func CorrelationOf(message messaging.IMessage) uuid.UUID {
	id, err := uuid.Parse(messaging.CorrelationID(message))
	if err != nil {
		return uuid.Nil
	}
	return id
}
