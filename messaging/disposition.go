package messaging

import (
	"gochen-trade/patterns/retry"
)

// Disposition 消息处理后的确认决定
type Disposition int

const (
	// Ack 处理成功，确认消息
	Ack Disposition = iota
	// Redeliver 暂时性失败，延迟后重投
	Redeliver
	// DeadLetter 不可重试或重投耗尽，终止并转入死信
	DeadLetter
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Redeliver:
		return "redeliver"
	case DeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Decide 根据处理结果与已投递次数（从 1 开始）决定确认方式，各跨进程传输共用
func Decide(err error, delivered, maxDeliveries int) Disposition {
	switch {
	case err == nil:
		return Ack
	case retry.IsPermanent(err):
		return DeadLetter
	case maxDeliveries > 0 && delivered >= maxDeliveries:
		return DeadLetter
	default:
		return Redeliver
	}
}
