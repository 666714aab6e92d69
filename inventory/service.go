package inventory

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"gochen-trade/contracts"
	"gochen-trade/domain/repository"
	"gochen-trade/errors"
	"gochen-trade/logging"
	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
	"gochen-trade/projection"
	"gochen-trade/validation"
)

// Publisher 发布结果事件所需的总线能力
type Publisher interface {
	Publish(ctx context.Context, message messaging.IMessage) error
}

// Service 库存服务
type Service struct {
	catalog  projection.Repository
	holdings HoldingRepository
	bus      Publisher
	logger   logging.Logger
	now      func() time.Time

	// conflictRetry 直接调用接口时版本冲突的重试策略
	conflictRetry retry.Config
}

func NewService(catalog projection.Repository, holdings HoldingRepository, bus Publisher) *Service {
	return &Service{
		catalog:  catalog,
		holdings: holdings,
		bus:      bus,
		logger:   logging.ComponentLogger("inventory.service"),
		now:      time.Now,
		conflictRetry: retry.Config{
			MaxAttempts:   5,
			InitialDelay:  5 * time.Millisecond,
			BackoffFactor: 2,
			MaxDelay:      100 * time.Millisecond,
		},
	}
}

// Register 订阅发放与扣减命令
func (s *Service) Register(ctx context.Context, bus messaging.IMessageBus) error {
	if err := bus.Subscribe(ctx, contracts.TypeGrantItems, messaging.NewHandler("inventory.grant-items", s.HandleGrantItems)); err != nil {
		return fmt.Errorf("subscribe %s: %w", contracts.TypeGrantItems, err)
	}
	if err := bus.Subscribe(ctx, contracts.TypeSubtractItems, messaging.NewHandler("inventory.subtract-items", s.HandleSubtractItems)); err != nil {
		return fmt.Errorf("subscribe %s: %w", contracts.TypeSubtractItems, err)
	}
	return nil
}

// Grant 直接发放物品（管理接口），规则与 GrantItems 消费者一致
func (s *Service) Grant(ctx context.Context, userID, catalogItemID uuid.UUID, quantity int) error {
	if err := validation.ValidateIntRange(quantity, "数量", 1, 1_000_000); err != nil {
		return err
	}
	if err := s.ensureCatalogItem(ctx, catalogItemID); err != nil {
		return err
	}
	return retry.Do(ctx, func(ctx context.Context) error {
		err := s.add(ctx, userID, catalogItemID, quantity, "")
		if err != nil && !isRace(err) {
			return retry.Permanent(err)
		}
		return err
	}, s.conflictRetry)
}

// ItemsOfUser 列出用户持有的物品，关联目录名称与描述
func (s *Service) ItemsOfUser(ctx context.Context, userID uuid.UUID) ([]ItemView, error) {
	if userID == uuid.Nil {
		return nil, errors.NewError(errors.ErrCodeValidation, "userId不能为空")
	}
	holdings, err := s.holdings.GetAll(ctx, func(i *InventoryItem) bool { return i.UserID == userID })
	if err != nil {
		return nil, errors.Normalize(err)
	}
	ids := make(map[uuid.UUID]struct{}, len(holdings))
	for _, h := range holdings {
		ids[h.CatalogItemID] = struct{}{}
	}
	items, err := s.catalog.GetAll(ctx, func(c *projection.CatalogItem) bool {
		_, ok := ids[c.ID]
		return ok
	})
	if err != nil {
		return nil, errors.Normalize(err)
	}
	byID := make(map[uuid.UUID]*projection.CatalogItem, len(items))
	for _, c := range items {
		byID[c.ID] = c
	}

	views := make([]ItemView, 0, len(holdings))
	for _, h := range holdings {
		view := ItemView{CatalogItemID: h.CatalogItemID, Quantity: h.Quantity, AcquiredDate: h.AcquiredDate}
		if c, ok := byID[h.CatalogItemID]; ok {
			view.Name = c.Name
			view.Description = c.Description
		}
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].AcquiredDate.Before(views[j].AcquiredDate) })
	return views, nil
}

// HandleGrantItems 发放物品并发布 InventoryItemsGranted
//
// 目录中没有该物品说明目录同步丢失了事件：发布 GrantItemsFailed 让 saga 进行补偿，
// 再以不可重试错误结束本次处理，交由死信与日志提醒运维。
func (s *Service) HandleGrantItems(ctx context.Context, msg messaging.IMessage) error {
	cmd, err := contracts.Decode[contracts.GrantItems](msg)
	if err != nil {
		return err
	}
	logger := s.logger.WithFields(
		logging.Stringer("correlation_id", cmd.CorrelationID),
		logging.String("message_id", msg.GetID()))

	if err := s.ensureCatalogItem(ctx, cmd.CatalogItemID); err != nil {
		if !errors.IsUnknownItem(err) {
			return err
		}
		failed := contracts.NewOutcome(contracts.TypeGrantItemsFailed, cmd.CorrelationID, contracts.GrantItemsFailed{
			CorrelationID: cmd.CorrelationID,
			Reason:        contracts.ReasonUnknownItem,
		})
		if pubErr := s.bus.Publish(ctx, failed); pubErr != nil {
			return fmt.Errorf("publish %s: %w", contracts.TypeGrantItemsFailed, pubErr)
		}
		logger.Error(ctx, "发放未知物品，目录投影可能缺失事件", logging.Stringer("catalog_item_id", cmd.CatalogItemID))
		return retry.Permanent(err)
	}

	if err := s.add(ctx, cmd.UserID, cmd.CatalogItemID, cmd.Quantity, "grant:"+cmd.CorrelationID.String()); err != nil {
		return err
	}
	logger.Info(ctx, "物品已发放", logging.Stringer("user_id", cmd.UserID), logging.Int("quantity", cmd.Quantity))

	return s.bus.Publish(ctx, contracts.NewOutcome(contracts.TypeInventoryItemsGranted, cmd.CorrelationID,
		contracts.InventoryItemsGranted{CorrelationID: cmd.CorrelationID}))
}

// HandleSubtractItems 扣减物品并发布 InventoryItemsSubtracted
//
// 没有持有记录时不做扣减但仍发布确认，补偿路径不因此失败。
func (s *Service) HandleSubtractItems(ctx context.Context, msg messaging.IMessage) error {
	cmd, err := contracts.Decode[contracts.SubtractItems](msg)
	if err != nil {
		return err
	}
	logger := s.logger.WithFields(
		logging.Stringer("correlation_id", cmd.CorrelationID),
		logging.String("message_id", msg.GetID()))

	if err := s.ensureCatalogItem(ctx, cmd.CatalogItemID); err != nil {
		if errors.IsUnknownItem(err) {
			logger.Error(ctx, "扣减未知物品", logging.Stringer("catalog_item_id", cmd.CatalogItemID))
			return retry.Permanent(err)
		}
		return err
	}

	if err := s.subtract(ctx, logger, cmd); err != nil {
		return err
	}
	return s.bus.Publish(ctx, contracts.NewOutcome(contracts.TypeItemsSubtracted, cmd.CorrelationID,
		contracts.InventoryItemsSubtracted{CorrelationID: cmd.CorrelationID}))
}

func (s *Service) ensureCatalogItem(ctx context.Context, catalogItemID uuid.UUID) error {
	_, found, err := s.catalog.Get(ctx, catalogItemID)
	if err != nil {
		return err
	}
	if !found {
		return errors.NewError(errors.ErrCodeUnknownItem, fmt.Sprintf("catalog item %s not found", catalogItemID))
	}
	return nil
}

// add 新建或累加持有记录；opKey 非空时已应用过的操作直接跳过
func (s *Service) add(ctx context.Context, userID, catalogItemID uuid.UUID, quantity int, opKey string) error {
	id := HoldingID(userID, catalogItemID)
	holding, found, err := s.holdings.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		holding = &InventoryItem{
			ID:            id,
			UserID:        userID,
			CatalogItemID: catalogItemID,
			Quantity:      quantity,
			AcquiredDate:  s.now().UTC(),
		}
		holding.markApplied(opKey)
		return s.holdings.Create(ctx, holding)
	}
	if holding.applied(opKey) {
		return nil
	}
	holding.Quantity += quantity
	holding.markApplied(opKey)
	return s.holdings.Update(ctx, holding)
}

func (s *Service) subtract(ctx context.Context, logger logging.Logger, cmd contracts.SubtractItems) error {
	holding, found, err := s.holdings.Get(ctx, HoldingID(cmd.UserID, cmd.CatalogItemID))
	if err != nil {
		return err
	}
	if !found {
		logger.Debug(ctx, "无持有记录，跳过扣减", logging.Stringer("user_id", cmd.UserID))
		return nil
	}
	opKey := "subtract:" + cmd.CorrelationID.String()
	if holding.applied(opKey) {
		return nil
	}
	remaining := holding.Quantity - cmd.Quantity
	if remaining < 0 {
		logger.Warn(ctx, "扣减数量超过持有数量，按 0 处理",
			logging.Stringer("user_id", cmd.UserID),
			logging.Stringer("catalog_item_id", cmd.CatalogItemID),
			logging.Int("held", holding.Quantity),
			logging.Int("requested", cmd.Quantity))
		remaining = 0
	}
	holding.Quantity = remaining
	holding.markApplied(opKey)
	return s.holdings.Update(ctx, holding)
}

// isRace 并发创建或版本冲突，重读后可以成功
func isRace(err error) bool {
	return stderrors.Is(err, repository.ErrVersionConflict) || stderrors.Is(err, repository.ErrEntityAlreadyExists)
}
