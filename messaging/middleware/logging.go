package middleware

import (
	"context"
	"time"

	"gochen-trade/logging"
	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
)

// LoggingMiddleware 消费中间件，记录每次处理的耗时与结果
type LoggingMiddleware struct {
	logger logging.Logger
}

func NewLoggingMiddleware(logger logging.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = logging.ComponentLogger("messaging.consumer")
	}
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) Name() string { return "Logging" }

func (m *LoggingMiddleware) Handle(ctx context.Context, message messaging.IMessage, next messaging.HandlerFunc) error {
	start := time.Now()
	err := next(ctx, message)

	fields := []logging.Field{
		logging.String("handler", messaging.HandlerFromContext(ctx)),
		logging.String("message_type", message.GetType()),
		logging.String("message_id", message.GetID()),
		logging.String("correlation_id", messaging.CorrelationID(message)),
		logging.Duration("elapsed", time.Since(start)),
	}
	switch {
	case err == nil:
		m.logger.Debug(ctx, "消息处理完成", fields...)
	case retry.IsPermanent(err):
		m.logger.Error(ctx, "消息处理失败（不可重试）", append(fields, logging.Error(err))...)
	default:
		m.logger.Warn(ctx, "消息处理失败", append(fields, logging.Error(err))...)
	}
	return err
}
