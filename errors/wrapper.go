package errors

import (
	"context"

	"gochen-trade/logging"
)

// WrapWithLog 包装错误并立即记录警告日志，用于调用方可能只看到错误码的边界
func WrapWithLog(ctx context.Context, err error, code ErrorCode, msg string, fields ...logging.Field) error {
	if err == nil {
		return nil
	}
	all := append([]logging.Field{
		logging.Error(err),
		logging.String("error_code", string(code)),
	}, fields...)
	logging.GetLogger().Warn(ctx, msg, all...)
	return WrapError(err, code, msg)
}

// WrapPublishError 总线发布失败统一归为 ErrCodeQueue
func WrapPublishError(ctx context.Context, err error, messageType string) error {
	return WrapWithLog(ctx, err, ErrCodeQueue, "消息发布失败", logging.String("message_type", messageType))
}
