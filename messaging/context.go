package messaging

import "context"

type ctxKey int

const (
	ctxKeyInbound ctxKey = iota
	ctxKeyHandler
)

// ContextWithInbound 记录当前正在处理的入站消息
//
// 处理器内发布的消息据此继承关联 ID 并以入站消息 ID 作为因果 ID。
func ContextWithInbound(ctx context.Context, message IMessage) context.Context {
	return context.WithValue(ctx, ctxKeyInbound, message)
}

// InboundFromContext 返回当前入站消息，不在处理器内时为 nil
func InboundFromContext(ctx context.Context) IMessage {
	m, _ := ctx.Value(ctxKeyInbound).(IMessage)
	return m
}

// ContextWithHandler 记录当前处理器名称
func ContextWithHandler(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxKeyHandler, name)
}

// HandlerFromContext 返回当前处理器名称
func HandlerFromContext(ctx context.Context) string {
	name, _ := ctx.Value(ctxKeyHandler).(string)
	return name
}
