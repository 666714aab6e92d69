package messaging

import (
	"context"
	"errors"
	"fmt"

	"gochen-trade/patterns/retry"
)

// IMessageHandler 消息处理器接口
//
// 处理器以指针形式注册，Unsubscribe 按同一指针移除。
type IMessageHandler interface {
	// Handle 处理消息；返回错误时由传输层决定重投或进入死信
	Handle(ctx context.Context, message IMessage) error

	// Type 处理器名称（用于日志与消费幂等键）
	Type() string
}

type funcHandler struct {
	name string
	fn   HandlerFunc
}

func (h *funcHandler) Handle(ctx context.Context, message IMessage) error { return h.fn(ctx, message) }
func (h *funcHandler) Type() string                                       { return h.name }

// NewHandler 将函数包装为具名处理器
func NewHandler(name string, fn HandlerFunc) IMessageHandler {
	return &funcHandler{name: name, fn: fn}
}

// HandleAll 依次调用处理器并汇总错误
//
// 只要有处理器返回普通错误，汇总结果只包含普通错误，整条消息重投，
// 依赖消费幂等避免已成功的处理器重复生效；全部失败都不可重试时结果才是不可重试的。
func HandleAll(ctx context.Context, handlers []IMessageHandler, message IMessage) error {
	var transient, permanent []error
	for _, h := range handlers {
		err := h.Handle(ctx, message)
		switch {
		case err == nil:
		case retry.IsPermanent(err):
			permanent = append(permanent, fmt.Errorf("%s: %w", h.Type(), err))
		default:
			transient = append(transient, fmt.Errorf("%s: %w", h.Type(), err))
		}
	}
	if len(transient) > 0 {
		return errors.Join(transient...)
	}
	if len(permanent) > 0 {
		return retry.Permanent(errors.Join(permanent...))
	}
	return nil
}
