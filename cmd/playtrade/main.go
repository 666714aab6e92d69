// Command playtrade 在单进程内运行目录、身份、库存与交易服务
package main

import (
	"context"
	"os"

	"gochen-trade/app"
	"gochen-trade/config"
	"gochen-trade/logging"
	"gochen-trade/server"
)

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		logging.GetLogger().Error(ctx, "配置无效", logging.Error(err))
		os.Exit(2)
	}

	srv := app.NewWithConfig(cfg, config.ServiceVersion)
	engine := server.NewEngine(srv,
		server.WithName(cfg.ServiceName),
		server.WithVersion(config.ServiceVersion),
		server.WithShutdownTimeout(cfg.ShutdownTimeout),
		server.WithAfterStart(func(ctx context.Context) error {
			stats := srv.BusStats()
			logging.GetLogger().Info(ctx, "消息总线已就绪",
				logging.String("transport", cfg.Transport),
				logging.Int("message_types", len(stats.MessageTypes)),
				logging.Int("handlers", stats.HandlerCount))
			return nil
		}),
	)
	if err := engine.Start(); err != nil {
		logging.GetLogger().Error(ctx, "服务退出", logging.Error(err))
		os.Exit(1)
	}
}
