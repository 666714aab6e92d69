package logging

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger 基于 zap 的 Logger 实现，生产环境使用
type ZapLogger struct {
	z *zap.Logger
}

// NewZapLogger 包装已有的 *zap.Logger
func NewZapLogger(z *zap.Logger) *ZapLogger {
	if z == nil {
		z = zap.NewNop()
	}
	return &ZapLogger{z: z}
}

// NewProductionZapLogger JSON 输出，每条日志带 service.name
func NewProductionZapLogger(service string, level Level) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(toZapLevel(level))
	z, err := cfg.Build(zap.AddCallerSkip(1), zap.Fields(zap.String("service.name", service)))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{z: z}, nil
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			out = append(out, zap.String(f.Key, v))
		case int:
			out = append(out, zap.Int(f.Key, v))
		case int64:
			out = append(out, zap.Int64(f.Key, v))
		case bool:
			out = append(out, zap.Bool(f.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(f.Key, v))
		case error:
			out = append(out, zap.NamedError(f.Key, v))
		default:
			out = append(out, zap.Any(f.Key, v))
		}
	}
	return out
}

func (l *ZapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.z.Debug(msg, toZapFields(withTrace(ctx, fields))...)
}

func (l *ZapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.z.Info(msg, toZapFields(withTrace(ctx, fields))...)
}

func (l *ZapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.z.Warn(msg, toZapFields(withTrace(ctx, fields))...)
}

func (l *ZapLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.z.Error(msg, toZapFields(withTrace(ctx, fields))...)
}

func (l *ZapLogger) WithFields(fields ...Field) Logger {
	return &ZapLogger{z: l.z.With(toZapFields(fields)...)}
}

// Sync 刷新缓冲
func (l *ZapLogger) Sync() error {
	return l.z.Sync()
}
