package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// withTrace 在 ctx 携带有效 span 时追加 trace_id 与 span_id，日志可与链路对上
func withTrace(ctx context.Context, fields []Field) []Field {
	if ctx == nil {
		return fields
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return fields
	}
	out := make([]Field, 0, len(fields)+2)
	out = append(out, fields...)
	return append(out,
		String("trace_id", sc.TraceID().String()),
		String("span_id", sc.SpanID().String()))
}
