package trading

import (
	"context"
	stderrors "errors"

	"github.com/google/uuid"

	"gochen-trade/contracts"
	"gochen-trade/errors"
	"gochen-trade/logging"
	"gochen-trade/messaging"
	"gochen-trade/validation"
)

const (
	MinQuantity = 1
	MaxQuantity = 100
)

// PurchaseService 购买入口：受理请求并提供状态查询
//
// Submit 只返回“已受理”，最终结果通过 Status 轮询 saga 实例获得。
type PurchaseService struct {
	store  Repository
	bus    Publisher
	logger logging.Logger
}

func NewPurchaseService(store Repository, bus Publisher) *PurchaseService {
	return &PurchaseService{
		store:  store,
		bus:    bus,
		logger: logging.ComponentLogger("trading.purchase"),
	}
}

// Submit 发布 PurchaseRequested，返回新的关联 ID
func (s *PurchaseService) Submit(ctx context.Context, userID, itemID uuid.UUID, quantity int) (uuid.UUID, error) {
	if userID == uuid.Nil || itemID == uuid.Nil {
		return uuid.Nil, errors.NewError(errors.ErrCodeValidation, "userId与itemId不能为空")
	}
	if err := validation.ValidateIntRange(quantity, "数量", MinQuantity, MaxQuantity); err != nil {
		return uuid.Nil, err
	}

	correlationID := uuid.New()
	msg := messaging.NewEvent(
		contracts.MessageID(correlationID, contracts.TypePurchaseRequested),
		contracts.TypePurchaseRequested,
		correlationID.String(),
		contracts.PurchaseRequested{
			UserID:        userID,
			ItemID:        itemID,
			Quantity:      quantity,
			CorrelationID: correlationID,
		})
	if err := s.bus.Publish(ctx, msg); err != nil {
		return uuid.Nil, errors.WrapPublishError(ctx, err, contracts.TypePurchaseRequested)
	}
	s.logger.Info(ctx, "购买请求已发布",
		logging.Stringer("correlation_id", correlationID),
		logging.Stringer("user_id", userID),
		logging.Stringer("item_id", itemID),
		logging.Int("quantity", quantity))
	return correlationID, nil
}

// Status 返回 saga 实例，不存在返回 ErrCodeNotFound
func (s *PurchaseService) Status(ctx context.Context, correlationID uuid.UUID) (*PurchaseState, error) {
	st, found, err := s.store.Get(ctx, correlationID)
	if err != nil {
		return nil, errors.Normalize(newSagaStoreError(correlationID, err))
	}
	if !found {
		return nil, errors.Normalize(newSagaNotFoundError(correlationID))
	}
	return st, nil
}

// IsSagaNotFound 判断是否为 saga 不存在
func IsSagaNotFound(err error) bool {
	return stderrors.Is(err, ErrSagaNotFound) || errors.IsNotFound(err)
}
