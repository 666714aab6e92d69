package trading

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gochen-trade/contracts"
	"gochen-trade/domain/repository"
	"gochen-trade/logging"
	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
	"gochen-trade/projection"
)

// Saga 购买 saga 的消息处理器
//
// 并发安全依赖仓储的版本条件写入：同一实例的两个事件并发处理时，
// 后写入者得到版本冲突，返回错误交由传输层重投，重投时按新状态重新判断。
type Saga struct {
	store      Repository
	catalog    projection.Repository
	dispatcher *Dispatcher
	logger     logging.Logger
	now        func() time.Time
}

// NewSaga 创建购买 saga
//
// 参数：
//   - store: saga 实例仓储
//   - catalog: 交易服务自己的目录投影，用于计算购买金额
//   - dispatcher: 命令发件箱派发器
func NewSaga(store Repository, catalog projection.Repository, dispatcher *Dispatcher) *Saga {
	return &Saga{
		store:      store,
		catalog:    catalog,
		dispatcher: dispatcher,
		logger:     logging.ComponentLogger("trading.saga"),
		now:        time.Now,
	}
}

// Register 订阅购买请求与四种结果事件
func (s *Saga) Register(ctx context.Context, bus messaging.IMessageBus) error {
	if err := bus.Subscribe(ctx, contracts.TypePurchaseRequested,
		messaging.NewHandler("trading.saga.purchase-requested", s.HandlePurchaseRequested)); err != nil {
		return fmt.Errorf("subscribe %s: %w", contracts.TypePurchaseRequested, err)
	}
	for _, eventType := range sagaEvents() {
		if err := bus.Subscribe(ctx, eventType, messaging.NewHandler("trading.saga."+eventType, s.HandleOutcome)); err != nil {
			return fmt.Errorf("subscribe %s: %w", eventType, err)
		}
	}
	return nil
}

// HandlePurchaseRequested 创建 saga 实例并发出扣款命令
//
// 交易侧目录投影中没有该物品时，实例直接以 Faulted 创建，不发出任何命令。
// 同一关联 ID 重复创建是上游缺陷的信号，返回不可重试错误。
func (s *Saga) HandlePurchaseRequested(ctx context.Context, msg messaging.IMessage) error {
	req, err := contracts.Decode[contracts.PurchaseRequested](msg)
	if err != nil {
		return err
	}
	if req.CorrelationID == uuid.Nil {
		req.CorrelationID = contracts.CorrelationOf(msg)
	}
	if req.CorrelationID == uuid.Nil {
		return retry.Permanent(fmt.Errorf("purchase request %s without correlation id", msg.GetID()))
	}
	logger := s.logger.WithFields(
		logging.Stringer("correlation_id", req.CorrelationID),
		logging.String("message_id", msg.GetID()))

	now := s.now().UTC()
	st := &PurchaseState{
		CorrelationID: req.CorrelationID,
		CurrentState:  StateAccepted,
		UserID:        req.UserID,
		ItemID:        req.ItemID,
		Quantity:      req.Quantity,
		Received:      now,
		LastUpdated:   now,
	}

	item, found, err := s.catalog.Get(ctx, req.ItemID)
	if err != nil {
		return err
	}
	switch {
	case !found:
		st.CurrentState = StateFaulted
		st.ErrorMessage = fmt.Sprintf("unknown item %s", req.ItemID)
	case req.Quantity < 1:
		st.CurrentState = StateFaulted
		st.ErrorMessage = fmt.Sprintf("invalid quantity %d", req.Quantity)
	default:
		amount := item.Price.Mul(decimal.NewFromInt(int64(req.Quantity)))
		st.DebitAmount = &amount
		if err := enqueueCommand(st, contracts.TypeDebitGil, contracts.DebitGil{
			UserID:        req.UserID,
			Gil:           amount,
			CorrelationID: req.CorrelationID,
		}); err != nil {
			return err
		}
	}

	if err := s.store.Create(ctx, st); err != nil {
		if stderrors.Is(err, repository.ErrEntityAlreadyExists) {
			logger.Error(ctx, "saga 实例已存在，丢弃重复的购买请求")
			return retry.Permanent(newSagaAlreadyExistsError(req.CorrelationID, err))
		}
		return newSagaStoreError(req.CorrelationID, err)
	}

	if st.CurrentState == StateFaulted {
		logger.Warn(ctx, "购买请求无法受理", logging.String("error", st.ErrorMessage))
		return nil
	}
	logger.Info(ctx, "购买已受理",
		logging.Stringer("user_id", req.UserID),
		logging.Stringer("item_id", req.ItemID),
		logging.Int("quantity", req.Quantity))

	s.dispatcher.Dispatch(ctx, st.CorrelationID, st.Outbox)
	return nil
}

// HandleOutcome 按转换表推进实例
//
// 未知关联 ID 的事件记录后丢弃；当前状态不接受的事件（重复投递、终态）直接忽略。
func (s *Saga) HandleOutcome(ctx context.Context, msg messaging.IMessage) error {
	correlationID := outcomeCorrelation(msg)
	logger := s.logger.WithFields(
		logging.Stringer("correlation_id", correlationID),
		logging.String("message_id", msg.GetID()),
		logging.String("message_type", msg.GetType()))

	st, found, err := s.store.Get(ctx, correlationID)
	if err != nil {
		return newSagaStoreError(correlationID, err)
	}
	if !found {
		logger.Warn(ctx, "未知关联 ID，丢弃事件")
		return nil
	}

	t, ok := lookupTransition(st.CurrentState, msg.GetType())
	if !ok {
		logger.Debug(ctx, "当前状态不接受该事件，忽略", logging.String("state", string(st.CurrentState)))
		return nil
	}

	pending := make(map[string]struct{}, len(st.Outbox))
	for _, cmd := range st.Outbox {
		pending[cmd.ID] = struct{}{}
	}
	if msg.GetType() == contracts.TypeGilDebited {
		if evt, err := contracts.Decode[contracts.GilDebited](msg); err == nil && debitDisagrees(st, evt.Gil) {
			logger.Warn(ctx, "扣款事件金额与受理金额不一致，以受理金额为准",
				logging.String("event_gil", evt.Gil.String()),
				logging.String("debit_amount", st.DebitAmount.String()))
		}
	}
	if t.apply != nil {
		if err := t.apply(st, msg); err != nil {
			return err
		}
	}
	from := st.CurrentState
	st.CurrentState = t.to
	st.LastUpdated = s.now().UTC()

	if err := s.store.Update(ctx, st); err != nil {
		if stderrors.Is(err, repository.ErrVersionConflict) {
			logger.Debug(ctx, "版本冲突，等待重投")
		}
		return newSagaStoreError(correlationID, err)
	}
	logger.Info(ctx, "saga 状态转换",
		logging.String("from", string(from)),
		logging.String("to", string(t.to)))

	issued := make([]PendingCommand, 0, 1)
	for _, cmd := range st.Outbox {
		if _, seen := pending[cmd.ID]; !seen {
			issued = append(issued, cmd)
		}
	}
	s.dispatcher.Dispatch(ctx, correlationID, issued)
	return nil
}

// outcomeCorrelation 优先取消息体中回传的关联 ID，缺失时取元数据
func outcomeCorrelation(msg messaging.IMessage) uuid.UUID {
	if body, err := contracts.Decode[struct {
		CorrelationID uuid.UUID `json:"correlationId"`
	}](msg); err == nil && body.CorrelationID != uuid.Nil {
		return body.CorrelationID
	}
	return contracts.CorrelationOf(msg)
}
