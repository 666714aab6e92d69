// Package projection 维护目录物品的本地只读副本
//
// 目录服务发布的 created/updated/deleted 事件由本包的三个消费者应用到本地仓储。
// 库存与交易各自持有独立的仓储实例，由同一套消费者以不同处理器名订阅。
package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gochen-trade/contracts"
	"gochen-trade/domain/entity"
	"gochen-trade/domain/repository"
	"gochen-trade/logging"
	"gochen-trade/messaging"
)

// CatalogItem 目录物品投影
type CatalogItem struct {
	entity.Versioned
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

func (c *CatalogItem) GetID() uuid.UUID { return c.ID }

// NewCatalogItemCodec 返回 CatalogItem 的 JSON 编解码器
func NewCatalogItemCodec() repository.ICodec[*CatalogItem] {
	return repository.NewJSONCodec(func() *CatalogItem { return &CatalogItem{} })
}

// Repository 目录投影仓储
type Repository = repository.IRepository[*CatalogItem, uuid.UUID]

// CatalogConsumers 目录事件消费者，处理重复投递时保持幂等
type CatalogConsumers struct {
	owner  string
	repo   Repository
	logger logging.Logger
}

// NewCatalogConsumers 创建目录事件消费者
//
// 参数：
//   - owner: 所属服务名，用作处理器名前缀（如 "inventory"、"trading"）
//   - repo: 该服务独占的目录投影仓储
func NewCatalogConsumers(owner string, repo Repository) *CatalogConsumers {
	return &CatalogConsumers{
		owner:  owner,
		repo:   repo,
		logger: logging.ComponentLogger(owner + ".catalog-projection"),
	}
}

// Register 订阅三种目录事件
func (c *CatalogConsumers) Register(ctx context.Context, bus messaging.IMessageBus) error {
	subs := []struct {
		messageType string
		name        string
		fn          messaging.HandlerFunc
	}{
		{contracts.TypeCatalogItemCreated, "catalog-item-created", c.HandleCreated},
		{contracts.TypeCatalogItemUpdated, "catalog-item-updated", c.HandleUpdated},
		{contracts.TypeCatalogItemDeleted, "catalog-item-deleted", c.HandleDeleted},
	}
	for _, s := range subs {
		if err := bus.Subscribe(ctx, s.messageType, messaging.NewHandler(c.owner+"."+s.name, s.fn)); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.messageType, err)
		}
	}
	return nil
}

// HandleCreated 已存在则忽略，否则插入
func (c *CatalogConsumers) HandleCreated(ctx context.Context, msg messaging.IMessage) error {
	evt, err := contracts.Decode[contracts.CatalogItemCreated](msg)
	if err != nil {
		return err
	}
	_, found, err := c.repo.Get(ctx, evt.ItemID)
	if err != nil {
		return err
	}
	if found {
		c.logger.Debug(ctx, "目录物品已存在，忽略", logging.Stringer("item_id", evt.ItemID), logging.String("message_id", msg.GetID()))
		return nil
	}
	err = c.repo.Create(ctx, &CatalogItem{ID: evt.ItemID, Name: evt.Name, Description: evt.Description, Price: evt.Price})
	if isAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return err
	}
	c.logger.Info(ctx, "目录物品已同步", logging.Stringer("item_id", evt.ItemID), logging.String("name", evt.Name))
	return nil
}

// HandleUpdated 不存在时插入（弥补丢失的 created 事件），否则覆盖
func (c *CatalogConsumers) HandleUpdated(ctx context.Context, msg messaging.IMessage) error {
	evt, err := contracts.Decode[contracts.CatalogItemUpdated](msg)
	if err != nil {
		return err
	}
	item, found, err := c.repo.Get(ctx, evt.ItemID)
	if err != nil {
		return err
	}
	if !found {
		c.logger.Info(ctx, "更新未知目录物品，按新建处理", logging.Stringer("item_id", evt.ItemID))
		return c.repo.Create(ctx, &CatalogItem{ID: evt.ItemID, Name: evt.Name, Description: evt.Description, Price: evt.Price})
	}
	item.Name = evt.Name
	item.Description = evt.Description
	item.Price = evt.Price
	return c.repo.Update(ctx, item)
}

// HandleDeleted 删除本地副本，不存在时为空操作
func (c *CatalogConsumers) HandleDeleted(ctx context.Context, msg messaging.IMessage) error {
	evt, err := contracts.Decode[contracts.CatalogItemDeleted](msg)
	if err != nil {
		return err
	}
	if err := c.repo.Remove(ctx, evt.ItemID); err != nil {
		return err
	}
	c.logger.Debug(ctx, "目录物品已删除", logging.Stringer("item_id", evt.ItemID))
	return nil
}

func isAlreadyExists(err error) bool {
	return err != nil && errors.Is(err, repository.ErrEntityAlreadyExists)
}
