package trading

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"gochen-trade/domain/repository"
	"gochen-trade/logging"
	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
)

// Publisher 发布命令所需的总线能力
type Publisher interface {
	Publish(ctx context.Context, message messaging.IMessage) error
}

// Dispatcher 发布实例发件箱中的命令，发布成功后从实例中移除
//
// 发布失败的命令留在发件箱，由 Sweeper 之后重新发布。
type Dispatcher struct {
	store  Repository
	bus    Publisher
	logger logging.Logger

	// cleanupRetry 移除已发布命令时版本冲突的重试策略
	cleanupRetry retry.Config
}

func NewDispatcher(store Repository, bus Publisher) *Dispatcher {
	return &Dispatcher{
		store:  store,
		bus:    bus,
		logger: logging.ComponentLogger("trading.outbox"),
		cleanupRetry: retry.Config{
			MaxAttempts:   8,
			InitialDelay:  2 * time.Millisecond,
			BackoffFactor: 2,
			MaxDelay:      50 * time.Millisecond,
		},
	}
}

// Dispatch 依次发布 cmds，返回成功发布的数量
func (d *Dispatcher) Dispatch(ctx context.Context, correlationID uuid.UUID, cmds []PendingCommand) int {
	if len(cmds) == 0 {
		return 0
	}
	published := make(map[string]struct{}, len(cmds))
	for _, cmd := range cmds {
		if err := d.bus.Publish(ctx, cmd.message(correlationID)); err != nil {
			d.logger.Warn(ctx, "命令发布失败，保留在发件箱",
				logging.Stringer("correlation_id", correlationID),
				logging.String("message_id", cmd.ID),
				logging.String("message_type", cmd.Type),
				logging.Error(err))
			continue
		}
		published[cmd.ID] = struct{}{}
	}
	if len(published) == 0 {
		return 0
	}
	if err := d.markDispatched(ctx, correlationID, published); err != nil {
		// 命令已发出，残留条目只会导致一次重复发布
		d.logger.Warn(ctx, "清理发件箱失败",
			logging.Stringer("correlation_id", correlationID),
			logging.Error(err))
	}
	return len(published)
}

// markDispatched 重读实例后移除已发布的命令，版本冲突时重试
func (d *Dispatcher) markDispatched(ctx context.Context, correlationID uuid.UUID, ids map[string]struct{}) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		st, found, err := d.store.Get(ctx, correlationID)
		if err != nil {
			return err
		}
		if !found || !st.removePending(ids) {
			return nil
		}
		err = d.store.Update(ctx, st)
		if err != nil && !stderrors.Is(err, repository.ErrVersionConflict) {
			return retry.Permanent(err)
		}
		return err
	}, d.cleanupRetry)
}
