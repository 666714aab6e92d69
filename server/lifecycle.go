package server

import (
	"context"
	"time"
)

// State 引擎所处阶段，只会单向推进；失败时停在 StateError
type State int32

const (
	StatePending State = iota
	StateInitializing
	StatePrepared // 依赖已就绪，尚未开始消费
	StateRunning
	StateStopping
	StateStopped
	StateError
)

var stateNames = [...]string{"Pending", "Initializing", "Prepared", "Running", "Stopping", "Stopped", "Error"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Hook 在启动或关闭的固定节点执行
type Hook func(ctx context.Context) error

type Options struct {
	Name            string
	Version         string
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration

	// BeforeStart 失败会中止启动；其余回调失败只记录日志
	BeforeStart []Hook
	AfterStart  []Hook
	BeforeStop  []Hook
	AfterStop   []Hook
}

type Option func(*Options)

func DefaultOptions() *Options {
	return &Options{
		Name:            "playtrade",
		Version:         "0.0.0",
		StartupTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

func WithName(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.Name = name
		}
	}
}

func WithVersion(version string) Option {
	return func(o *Options) { o.Version = version }
}

// WithStartupTimeout 限制 SetupDependencies 的耗时
func WithStartupTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.StartupTimeout = d
		}
	}
}

// WithShutdownTimeout 限制关闭流程，总线排空在途消息也计入其中
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ShutdownTimeout = d
		}
	}
}

func WithBeforeStart(fn Hook) Option {
	return func(o *Options) { o.BeforeStart = append(o.BeforeStart, fn) }
}

func WithAfterStart(fn Hook) Option {
	return func(o *Options) { o.AfterStart = append(o.AfterStart, fn) }
}

func WithBeforeStop(fn Hook) Option {
	return func(o *Options) { o.BeforeStop = append(o.BeforeStop, fn) }
}

func WithAfterStop(fn Hook) Option {
	return func(o *Options) { o.AfterStop = append(o.AfterStop, fn) }
}
