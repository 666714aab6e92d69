// Package middleware 提供消息总线的发布与消费中间件
package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"gochen-trade/messaging"
)

const tracerName = "gochen-trade/messaging"

// TracingMiddleware 发布中间件，补齐 correlation_id / causation_id / trace_id 并注入 W3C traceparent
//
// 规则：
//   - 在处理器内发布（上下文带入站消息）：关联 ID 与 trace_id 沿用入站消息，因果 ID 为入站消息 ID
//   - 顶层发布：关联 ID 缺失时为自身 ID，因果 ID 为自身 ID
//   - 已显式设置的字段保持不变
type TracingMiddleware struct {
	propagator propagation.TextMapPropagator
}

// NewTracingMiddleware 使用全局传播器创建发布中间件
func NewTracingMiddleware() *TracingMiddleware {
	return &TracingMiddleware{propagator: otel.GetTextMapPropagator()}
}

// WithPropagator 替换传播器
func (m *TracingMiddleware) WithPropagator(p propagation.TextMapPropagator) *TracingMiddleware {
	m.propagator = p
	return m
}

func (m *TracingMiddleware) Name() string { return "Tracing" }

func (m *TracingMiddleware) Handle(ctx context.Context, message messaging.IMessage, next messaging.HandlerFunc) error {
	if message == nil {
		return next(ctx, message)
	}
	md := message.GetMetadata()
	msgID := message.GetID()
	inbound := messaging.InboundFromContext(ctx)

	if md[messaging.MetaCorrelationID] == "" {
		if corr := messaging.CorrelationID(inbound); corr != "" {
			md[messaging.MetaCorrelationID] = corr
		} else {
			md[messaging.MetaCorrelationID] = msgID
		}
	}
	if md[messaging.MetaCausationID] == "" {
		if inbound != nil {
			md[messaging.MetaCausationID] = inbound.GetID()
		} else {
			md[messaging.MetaCausationID] = msgID
		}
	}
	if md[messaging.MetaTraceID] == "" {
		md[messaging.MetaTraceID] = traceID(ctx, inbound, md[messaging.MetaCorrelationID])
	}
	if md[messaging.MetaTraceParent] == "" {
		carrier := propagation.MapCarrier{}
		m.propagator.Inject(ctx, carrier)
		for k, v := range carrier {
			md[k] = v
		}
	}
	return next(ctx, message)
}

// traceID 优先取当前 span，其次入站消息，最后回退为关联 ID
func traceID(ctx context.Context, inbound messaging.IMessage, fallback string) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	if inbound != nil {
		if id := inbound.GetMetadata()[messaging.MetaTraceID]; id != "" {
			return id
		}
	}
	return fallback
}

// ConsumeTracingMiddleware 消费中间件，从元数据恢复链路上下文并为每次处理开启消费 span
type ConsumeTracingMiddleware struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewConsumeTracingMiddleware 使用全局 TracerProvider 与传播器
func NewConsumeTracingMiddleware() *ConsumeTracingMiddleware {
	return &ConsumeTracingMiddleware{
		tracer:     otel.Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
	}
}

// WithTracerProvider 替换 TracerProvider，测试中用于记录 span
func (m *ConsumeTracingMiddleware) WithTracerProvider(tp trace.TracerProvider) *ConsumeTracingMiddleware {
	m.tracer = tp.Tracer(tracerName)
	return m
}

// WithPropagator 替换传播器
func (m *ConsumeTracingMiddleware) WithPropagator(p propagation.TextMapPropagator) *ConsumeTracingMiddleware {
	m.propagator = p
	return m
}

func (m *ConsumeTracingMiddleware) Name() string { return "ConsumeTracing" }

func (m *ConsumeTracingMiddleware) Handle(ctx context.Context, message messaging.IMessage, next messaging.HandlerFunc) error {
	if message == nil {
		return next(ctx, message)
	}
	ctx = m.propagator.Extract(ctx, propagation.MapCarrier(message.GetMetadata()))
	ctx, span := m.tracer.Start(ctx, "consume "+message.GetType(),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.message.id", message.GetID()),
			attribute.String("messaging.destination.name", message.GetType()),
			attribute.String("messaging.handler", messaging.HandlerFromContext(ctx)),
			attribute.String("playtrade.correlation_id", messaging.CorrelationID(message)),
		))
	defer span.End()

	err := next(ctx, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
