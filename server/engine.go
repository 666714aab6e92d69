// Package server 服务生命周期：配置 → 依赖 → 后台任务 → 运行 → 关闭
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"gochen-trade/logging"
)

// IServer 应用需实现的生命周期步骤，由 Engine 按固定顺序调用
type IServer interface {
	Name() string

	// LoadConfig 读取并校验配置
	LoadConfig() error

	// SetupDependencies 建立存储与传输连接，装配服务并注册消费者
	SetupDependencies(ctx context.Context) error

	// StartBackgroundTasks 启动总线消费与后台循环，必须非阻塞
	StartBackgroundTasks(ctx context.Context) error

	// Run 阻塞直到 ctx 结束或出现致命错误
	Run(ctx context.Context) error

	// Shutdown 停止后台任务，等待在途消息处理完毕后释放连接
	Shutdown(ctx context.Context) error
}

// Engine 编排 IServer 的启动与关闭
type Engine struct {
	server  IServer
	options *Options
	state   atomic.Int32
	logger  logging.Logger
}

// NewEngine 创建启动引擎，Options 中的名称优先于 server.Name()
func NewEngine(server IServer, opts ...Option) *Engine {
	options := DefaultOptions()
	if name := server.Name(); name != "" {
		options.Name = name
	}
	for _, o := range opts {
		o(options)
	}

	e := &Engine{
		server:  server,
		options: options,
		logger: logging.ComponentLogger("server").WithFields(
			logging.String("service", options.Name),
			logging.String("version", options.Version)),
	}
	e.setState(StatePending)
	return e
}

// State 当前生命周期状态
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Start 运行直到收到 SIGINT/SIGTERM 或 Run 返回
func (e *Engine) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return e.StartContext(ctx)
}

// StartContext 运行直到 ctx 结束或 Run 返回，随后执行关闭流程
func (e *Engine) StartContext(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	e.logger.Info(ctx, "服务启动中")
	e.setState(StateInitializing)

	if err := e.server.LoadConfig(); err != nil {
		e.setState(StateError)
		return fmt.Errorf("load config: %w", err)
	}

	setupCtx, setupCancel := context.WithTimeout(ctx, e.options.StartupTimeout)
	err := e.server.SetupDependencies(setupCtx)
	setupCancel()
	if err != nil {
		e.setState(StateError)
		// 已建立的连接也要释放
		e.shutdown()
		return fmt.Errorf("setup dependencies: %w", err)
	}
	e.setState(StatePrepared)

	for _, hook := range e.options.BeforeStart {
		if err := hook(ctx); err != nil {
			e.setState(StateError)
			e.shutdown()
			return fmt.Errorf("before start hook: %w", err)
		}
	}
	if err := e.server.StartBackgroundTasks(ctx); err != nil {
		e.setState(StateError)
		cancel()
		e.shutdown()
		return fmt.Errorf("start background tasks: %w", err)
	}

	e.setState(StateRunning)
	errCh := make(chan error, 1)
	go func() { errCh <- e.server.Run(ctx) }()
	e.logger.Info(ctx, "服务运行中")

	e.runBestEffort(ctx, "after_start", e.options.AfterStart)

	var runErr error
	select {
	case runErr = <-errCh:
		if runErr != nil {
			e.logger.Error(ctx, "服务异常退出，开始关闭", logging.Error(runErr))
		}
	case <-ctx.Done():
		e.logger.Info(context.Background(), "收到停止信号，开始关闭")
	}
	cancel()

	e.setState(StateStopping)
	if err := e.shutdown(); err != nil {
		e.setState(StateError)
		return err
	}
	if runErr != nil {
		e.setState(StateError)
		return fmt.Errorf("run: %w", runErr)
	}
	e.setState(StateStopped)
	e.logger.Info(context.Background(), "服务已停止")
	return nil
}

func (e *Engine) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.options.ShutdownTimeout)
	defer cancel()

	e.runBestEffort(ctx, "before_stop", e.options.BeforeStop)
	if err := e.server.Shutdown(ctx); err != nil {
		e.logger.Error(ctx, "关闭失败", logging.Error(err))
		return err
	}
	e.runBestEffort(ctx, "after_stop", e.options.AfterStop)
	return nil
}

// runBestEffort 回调失败不影响启动或关闭流程
func (e *Engine) runBestEffort(ctx context.Context, stage string, hooks []Hook) {
	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			e.logger.Warn(ctx, "生命周期回调失败", logging.String("stage", stage), logging.Error(err))
		}
	}
}
