package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer 记录生命周期调用顺序
type fakeServer struct {
	mu    sync.Mutex
	steps []string

	loadConfigErr error
	setupErr      error
	backgroundErr error
	runErr        error
	shutdownErr   error

	// blockRun 为 true 时 Run 阻塞到 ctx 结束
	blockRun bool
	bgDone   chan struct{}
}

func (s *fakeServer) record(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

func (s *fakeServer) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.steps...)
}

func (s *fakeServer) Name() string { return "fake" }

func (s *fakeServer) LoadConfig() error {
	s.record("LoadConfig")
	return s.loadConfigErr
}

func (s *fakeServer) SetupDependencies(ctx context.Context) error {
	s.record("SetupDependencies")
	return s.setupErr
}

func (s *fakeServer) StartBackgroundTasks(ctx context.Context) error {
	s.record("StartBackgroundTasks")
	if s.bgDone != nil {
		go func() {
			<-ctx.Done()
			close(s.bgDone)
		}()
	}
	return s.backgroundErr
}

func (s *fakeServer) Run(ctx context.Context) error {
	s.record("Run")
	if s.blockRun {
		<-ctx.Done()
	}
	return s.runErr
}

func (s *fakeServer) Shutdown(ctx context.Context) error {
	s.record("Shutdown")
	return s.shutdownErr
}

var fullLifecycle = []string{"LoadConfig", "SetupDependencies", "StartBackgroundTasks", "Run", "Shutdown"}

func TestEngine_LifecycleOrder(t *testing.T) {
	srv := &fakeServer{}
	engine := NewEngine(srv, WithShutdownTimeout(50*time.Millisecond))

	require.NoError(t, engine.StartContext(context.Background()))
	assert.Equal(t, StateStopped, engine.State())
	assert.Equal(t, fullLifecycle, srv.snapshot())
}

func TestEngine_RunErrorPropagates(t *testing.T) {
	runErr := errors.New("run failed")
	srv := &fakeServer{runErr: runErr}
	engine := NewEngine(srv)

	err := engine.StartContext(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, runErr)
	assert.Contains(t, err.Error(), "run: ")
	assert.Equal(t, StateError, engine.State())
	assert.Equal(t, fullLifecycle, srv.snapshot())
}

func TestEngine_LoadConfigErrorStopsEarly(t *testing.T) {
	cfgErr := errors.New("TRANSPORT must be one of memory, nats")
	srv := &fakeServer{loadConfigErr: cfgErr}
	engine := NewEngine(srv)

	err := engine.StartContext(context.Background())
	assert.ErrorIs(t, err, cfgErr)
	assert.Contains(t, err.Error(), "load config: ")
	assert.Equal(t, StateError, engine.State())
	assert.Equal(t, []string{"LoadConfig"}, srv.snapshot())
}

func TestEngine_SetupErrorStillShutsDown(t *testing.T) {
	setupErr := errors.New("redis unreachable")
	srv := &fakeServer{setupErr: setupErr}
	engine := NewEngine(srv)

	err := engine.StartContext(context.Background())
	assert.ErrorIs(t, err, setupErr)
	assert.Equal(t, StateError, engine.State())
	assert.Equal(t, []string{"LoadConfig", "SetupDependencies", "Shutdown"}, srv.snapshot())
}

func TestEngine_CancelTriggersShutdown(t *testing.T) {
	srv := &fakeServer{blockRun: true, bgDone: make(chan struct{})}
	engine := NewEngine(srv, WithShutdownTimeout(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.StartContext(ctx) }()

	require.Eventually(t, func() bool { return engine.State() == StateRunning }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop after cancel")
	}
	assert.Equal(t, StateStopped, engine.State())
	assert.Equal(t, fullLifecycle, srv.snapshot())

	select {
	case <-srv.bgDone:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("background context was not cancelled")
	}
}

func TestEngine_Hooks(t *testing.T) {
	srv := &fakeServer{}
	var mu sync.Mutex
	var calls []string
	hook := func(name string) Hook {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name)
			return nil
		}
	}
	engine := NewEngine(srv,
		WithBeforeStart(hook("before-start")),
		WithBeforeStop(hook("before-stop")),
		WithAfterStop(hook("after-stop")),
	)

	require.NoError(t, engine.StartContext(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"before-start", "before-stop", "after-stop"}, calls)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Running", StateRunning.String())
	assert.Equal(t, "Unknown", State(99).String())
}
