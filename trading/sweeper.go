package trading

import (
	"context"
	"time"

	"gochen-trade/logging"
)

// SweeperConfig 对账配置
type SweeperConfig struct {
	// Interval 扫描间隔
	Interval time.Duration
	// StaleAfter 实例超过该时长未更新才视为滞留
	StaleAfter time.Duration
}

// Sweeper 定期重新发布滞留实例发件箱中的命令
//
// 命令 ID 由关联 ID 派生，重复发布会被消费方去重。Sweeper 从不强制把实例置为 Faulted；
// 没有待发命令却长时间停在非终态的实例只记录告警。
type Sweeper struct {
	store      Repository
	dispatcher *Dispatcher
	config     SweeperConfig
	logger     logging.Logger
	now        func() time.Time
}

func NewSweeper(store Repository, dispatcher *Dispatcher, config SweeperConfig) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = time.Minute
	}
	return &Sweeper{
		store:      store,
		dispatcher: dispatcher,
		config:     config,
		logger:     logging.ComponentLogger("trading.sweeper"),
		now:        time.Now,
	}
}

// SweepResult 单次扫描结果
type SweepResult struct {
	Republished int
	Stuck       int
}

// Run 按间隔扫描直到 ctx 结束，返回 nil
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "对账已启动",
		logging.Duration("interval", s.config.Interval),
		logging.Duration("stale_after", s.config.StaleAfter))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "对账已停止")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn(ctx, "对账扫描失败", logging.Error(err))
			}
		}
	}
}

// SweepOnce 扫描一次
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	cutoff := s.now().UTC().Add(-s.config.StaleAfter)

	stale, err := s.store.GetAll(ctx, func(st *PurchaseState) bool {
		if !st.LastUpdated.Before(cutoff) {
			return false
		}
		return len(st.Outbox) > 0 || !st.CurrentState.IsTerminal()
	})
	if err != nil {
		return result, err
	}

	for _, st := range stale {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if len(st.Outbox) == 0 {
			result.Stuck++
			s.logger.Warn(ctx, "saga 长时间等待结果事件",
				logging.Stringer("correlation_id", st.CorrelationID),
				logging.String("state", string(st.CurrentState)),
				logging.Duration("idle", s.now().UTC().Sub(st.LastUpdated)))
			continue
		}
		n := s.dispatcher.Dispatch(ctx, st.CorrelationID, st.Outbox)
		result.Republished += n
		s.logger.Info(ctx, "重新发布滞留命令",
			logging.Stringer("correlation_id", st.CorrelationID),
			logging.Int("count", n))
	}
	return result, nil
}
