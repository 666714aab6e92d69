package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"gochen-trade/config"
	"gochen-trade/logging"
	"gochen-trade/messaging"
	"gochen-trade/messaging/transport/kafka"
	"gochen-trade/messaging/transport/memory"
	"gochen-trade/messaging/transport/natsjetstream"
	"gochen-trade/messaging/transport/rabbitmq"
	"gochen-trade/messaging/transport/redisstreams"
	"gochen-trade/patterns/retry"
)

// retryConfig 传输层重投策略
func retryConfig(cfg *config.Config) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.RetryAttempts
	if cfg.RetryInitialDelay > 0 {
		rc.InitialDelay = cfg.RetryInitialDelay
	}
	return rc
}

// deadLetterLogger 最终失败的消息只记录日志，不再重投
func deadLetterLogger(logger logging.Logger) messaging.DeadLetterFunc {
	return func(ctx context.Context, message messaging.IMessage, err error) {
		logger.Error(ctx, "消息进入死信",
			logging.String("message_id", message.GetID()),
			logging.String("message_type", message.GetType()),
			logging.String("correlation_id", messaging.CorrelationID(message)),
			logging.Error(err))
	}
}

// newTransport 按 TRANSPORT 创建传输
func newTransport(cfg *config.Config, sharedRedis func() redis.UniversalClient, logger logging.Logger) (messaging.Transport, error) {
	rc := retryConfig(cfg)
	dl := deadLetterLogger(logger)

	switch cfg.Transport {
	case config.TransportMemory:
		return memory.NewMemoryTransportWithOptions(memory.Options{
			QueueSize:   cfg.QueueSize,
			WorkerCount: cfg.Workers,
			Retry:       rc,
			DeadLetter:  dl,
		}), nil
	case config.TransportNATS:
		return natsjetstream.NewTransport(natsjetstream.Config{
			URL:        cfg.NATSURL,
			Stream:     "PLAYTRADE",
			MaxDeliver: cfg.RetryAttempts,
			Retry:      rc,
			DeadLetter: dl,
		}), nil
	case config.TransportRedis:
		return redisstreams.NewTransport(redisstreams.Config{
			Client:     sharedRedis(),
			GroupName:  cfg.ServiceName,
			Retry:      rc,
			DeadLetter: dl,
		})
	case config.TransportRabbitMQ:
		return rabbitmq.NewTransport(rabbitmq.Config{
			URL:        cfg.RabbitMQURL,
			Exchange:   cfg.ServiceName,
			Consumers:  cfg.Workers,
			MaxDeliver: cfg.RetryAttempts,
			Retry:      rc,
			DeadLetter: dl,
		}), nil
	case config.TransportKafka:
		return kafka.NewTransport(kafka.Config{
			Brokers:    cfg.KafkaBrokers,
			GroupID:    cfg.ServiceName,
			Retry:      rc,
			DeadLetter: dl,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}
