// Package retry 提供指数退避重试与"不可重试"错误标记
package retry

import (
	"context"
	"errors"
	"time"
)

// Operation 可重试的操作
type Operation func(ctx context.Context) error

// OperationWithInfo 接收当前尝试次数（从 1 开始）的可重试操作
type OperationWithInfo func(ctx context.Context, attempt int) error

// Config 重试配置
type Config struct {
	MaxAttempts   int           // 最大尝试次数（包括首次）
	InitialDelay  time.Duration // 初始退避延迟
	BackoffFactor float64       // 退避倍数
	MaxDelay      time.Duration // 单次延迟上限
}

// DefaultConfig 返回默认配置：3 次尝试，10ms 起步，倍数 2，上限 1s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      time.Second,
	}
}

// Delay 返回第 attempt 次失败后的等待时长
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= c.BackoffFactor
		if c.MaxDelay > 0 && time.Duration(delay) >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && time.Duration(delay) > c.MaxDelay {
		return c.MaxDelay
	}
	return time.Duration(delay)
}

// permanentError 标记不应重试的错误
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 将错误标记为不可重试
//
// 消息消费者返回 Permanent 错误时，传输层直接丢弃（或进死信）而不再投递。
// errors.Is/As 仍能穿透到原始错误。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	if IsPermanent(err) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent 判断错误链上是否带有不可重试标记
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do 执行带重试的操作
//
// 遇到 Permanent 错误立即返回，不再重试；ctx 取消时返回 ctx.Err()。
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//	    return bus.Publish(ctx, msg)
//	}, retry.DefaultConfig())
func Do(ctx context.Context, op Operation, cfg Config) error {
	return DoWithInfo(ctx, func(ctx context.Context, _ int) error {
		return op(ctx)
	}, cfg)
}

// DoWithInfo 与 Do 相同，但每次尝试会传入当前尝试次数
func DoWithInfo(ctx context.Context, op OperationWithInfo, cfg Config) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsPermanent(err) {
			return err
		}

		if attempt < cfg.MaxAttempts {
			timer := time.NewTimer(cfg.Delay(attempt))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	return lastErr
}
