// Package app 按配置装配存储、传输、中间件与各服务，实现 server.IServer
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"gochen-trade/catalog"
	"gochen-trade/config"
	"gochen-trade/identity"
	"gochen-trade/inventory"
	"gochen-trade/logging"
	"gochen-trade/messaging"
	"gochen-trade/messaging/middleware"
	"gochen-trade/projection"
	"gochen-trade/server"
	"gochen-trade/trading"
)

// Server 单进程运行 catalog、identity、inventory、trading 四个服务
//
// 各服务只通过消息总线交互，各自拥有独立仓储。
type Server struct {
	cfg     *config.Config
	version string
	logger  logging.Logger
	zap     *logging.ZapLogger

	tracer  *sdktrace.TracerProvider
	redis   redis.UniversalClient
	backend *backend
	stores  *stores

	bus         *messaging.MessageBus
	busStarted  bool
	busCancel   context.CancelFunc
	idempotency *middleware.MemoryIdempotencyStore

	catalog   *catalog.Service
	identity  *identity.Service
	inventory *inventory.Service
	purchases *trading.PurchaseService
	sweeper   *trading.Sweeper

	group    *errgroup.Group
	bgCancel context.CancelFunc
}

var _ server.IServer = (*Server)(nil)

// New 创建服务，配置在 LoadConfig 中从环境变量读取
func New(version string) *Server {
	return &Server{version: version, logger: logging.ComponentLogger("app")}
}

// NewWithConfig 使用给定配置创建服务，LoadConfig 不再读取环境变量
func NewWithConfig(cfg *config.Config, version string) *Server {
	s := New(version)
	s.cfg = cfg
	return s
}

func (s *Server) Name() string {
	if s.cfg != nil {
		return s.cfg.ServiceName
	}
	return config.ServiceName
}

func (s *Server) LoadConfig() error {
	if s.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		s.cfg = cfg
	} else if err := s.cfg.Validate(); err != nil {
		return err
	}
	return s.setupLogging()
}

// setupLogging 按 LOG_FORMAT 选择 zap（json）或标准库（text）输出
func (s *Server) setupLogging() error {
	level, err := logging.ParseLevel(s.cfg.LogLevel)
	if err != nil {
		return err
	}
	if s.cfg.LogFormat == "json" {
		z, err := logging.NewProductionZapLogger(s.cfg.ServiceName, level)
		if err != nil {
			return fmt.Errorf("build zap logger: %w", err)
		}
		s.zap = z
		logging.SetLogger(z)
	} else {
		logging.SetLogger(logging.NewStdLogger("[" + s.cfg.ServiceName + "] ").WithLevel(level))
	}
	s.logger = logging.ComponentLogger("app")
	return nil
}

// sharedRedis 传输、仓储与幂等记录共用一个 Redis 客户端
func (s *Server) sharedRedis() redis.UniversalClient {
	if s.redis == nil {
		s.redis = redis.NewClient(&redis.Options{Addr: s.cfg.RedisAddr, Password: s.cfg.RedisPassword})
	}
	return s.redis
}

// SetupDependencies 建立存储与传输，装配服务并注册全部消费者
func (s *Server) SetupDependencies(ctx context.Context) error {
	cfg := s.cfg
	tp, err := setupTracing(cfg.ServiceName, s.version)
	if err != nil {
		return err
	}
	s.tracer = tp

	if s.backend, err = openBackend(ctx, cfg, s.sharedRedis); err != nil {
		return err
	}
	if s.stores, err = openStores(ctx, s.backend); err != nil {
		return err
	}

	transport, err := newTransport(cfg, s.sharedRedis, logging.ComponentLogger("bus"))
	if err != nil {
		return err
	}
	s.bus = messaging.NewMessageBus(transport)
	s.bus.Use(middleware.NewTracingMiddleware())
	s.bus.UseConsumer(middleware.NewConsumeTracingMiddleware())
	s.bus.UseConsumer(middleware.NewLoggingMiddleware(logging.ComponentLogger("bus.consumer")))
	s.bus.UseConsumer(middleware.NewIdempotencyMiddleware(s.idempotencyStore()))

	st := s.stores
	s.catalog = catalog.NewService(st.catalog, s.bus)
	s.identity = identity.NewService(st.users, s.bus, cfg.StartingGil)
	s.inventory = inventory.NewService(st.inventoryCatalog, st.holdings, s.bus)
	dispatcher := trading.NewDispatcher(st.purchases, s.bus)
	saga := trading.NewSaga(st.purchases, st.tradingCatalog, dispatcher)
	s.purchases = trading.NewPurchaseService(st.purchases, s.bus)
	s.sweeper = trading.NewSweeper(st.purchases, dispatcher, trading.SweeperConfig{
		Interval:   cfg.SweepInterval,
		StaleAfter: cfg.SweepStaleAfter,
	})

	registrations := []interface {
		Register(ctx context.Context, bus messaging.IMessageBus) error
	}{
		projection.NewCatalogConsumers("inventory", st.inventoryCatalog),
		projection.NewCatalogConsumers("trading", st.tradingCatalog),
		s.identity,
		s.inventory,
		saga,
	}
	for _, r := range registrations {
		if err := r.Register(ctx, s.bus); err != nil {
			return fmt.Errorf("register consumers: %w", err)
		}
	}

	s.logger.Info(ctx, "依赖装配完成",
		logging.String("transport", cfg.Transport),
		logging.String("store", cfg.Store),
		logging.String("idempotency_store", cfg.IdempotencyStore))
	return nil
}

func (s *Server) idempotencyStore() middleware.IdempotencyStore {
	if s.cfg.IdempotencyStore == config.StoreRedis {
		return middleware.NewRedisIdempotencyStore(s.sharedRedis(), s.cfg.ServiceName+":processed:", s.cfg.IdempotencyTTL)
	}
	s.idempotency = middleware.NewMemoryIdempotencyStore(s.cfg.IdempotencyTTL, 100_000)
	return s.idempotency
}

// StartBackgroundTasks 启动总线消费、目录初始化、对账扫描与幂等记录清理
func (s *Server) StartBackgroundTasks(ctx context.Context) error {
	// 总线不跟随运行 ctx 结束，Shutdown 时先排空再取消
	busCtx, busCancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := s.bus.Start(busCtx); err != nil {
		busCancel()
		return fmt.Errorf("start bus: %w", err)
	}
	s.busCancel = busCancel
	s.busStarted = true

	if s.cfg.SeedCatalog {
		if err := s.catalog.Seed(ctx); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
	}

	bgCtx, cancel := context.WithCancel(ctx)
	s.bgCancel = cancel
	g, gctx := errgroup.WithContext(bgCtx)
	g.Go(func() error { return s.sweeper.Run(gctx) })
	if s.idempotency != nil {
		interval := s.cfg.IdempotencyTTL / 4
		if interval < time.Minute {
			interval = time.Minute
		}
		g.Go(func() error { return s.idempotency.RunCleanup(gctx, interval) })
	}
	s.group = g
	return nil
}

// Run 阻塞直到 ctx 结束或后台任务失败
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.group.Wait() }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("background task: %w", err)
		}
		<-ctx.Done()
		return nil
	}
}

// Shutdown 停止后台任务，排空总线后释放存储与 Redis 连接
func (s *Server) Shutdown(ctx context.Context) error {
	if s.bgCancel != nil {
		s.bgCancel()
		_ = s.group.Wait()
	}

	var errs []error
	if s.busStarted {
		done := make(chan error, 1)
		go func() { done <- s.bus.Close() }()
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("close bus: %w", err))
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("close bus: %w", ctx.Err()))
		}
		s.busCancel()
		s.busStarted = false
	}
	if err := s.backend.close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		s.redis = nil
	}
	if err := shutdownTracing(ctx, s.tracer); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
	}
	if s.zap != nil {
		// stdout/stderr 上的 Sync 在部分平台返回 EINVAL，忽略
		_ = s.zap.Sync()
	}
	return errors.Join(errs...)
}

func (s *Server) Catalog() *catalog.Service           { return s.catalog }
func (s *Server) Identity() *identity.Service         { return s.identity }
func (s *Server) Inventory() *inventory.Service       { return s.inventory }
func (s *Server) Purchases() *trading.PurchaseService { return s.purchases }
func (s *Server) BusStats() messaging.TransportStats  { return s.bus.Stats() }
