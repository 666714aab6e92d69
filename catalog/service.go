// Package catalog 目录物品的维护，每次变更发布对应的目录事件
package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gochen-trade/contracts"
	"gochen-trade/domain/entity"
	"gochen-trade/domain/repository"
	"gochen-trade/errors"
	"gochen-trade/logging"
	"gochen-trade/messaging"
	"gochen-trade/validation"
)

var (
	MinPrice = decimal.RequireFromString("0.1")
	MaxPrice = decimal.NewFromInt(100)
)

// Item 目录物品
type Item struct {
	entity.Versioned
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	CreatedDate time.Time       `json:"createdDate"`
}

func (i *Item) GetID() uuid.UUID { return i.ID }

// NewItemCodec 返回 Item 的 JSON 编解码器
func NewItemCodec() repository.ICodec[*Item] {
	return repository.NewJSONCodec(func() *Item { return &Item{} })
}

// Publisher 发布目录事件所需的总线能力
type Publisher interface {
	Publish(ctx context.Context, message messaging.IMessage) error
}

// Service 目录服务
type Service struct {
	repo      repository.IRepository[*Item, uuid.UUID]
	publisher Publisher
	logger    logging.Logger
	now       func() time.Time
}

func NewService(repo repository.IRepository[*Item, uuid.UUID], publisher Publisher) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logging.ComponentLogger("catalog.service"),
		now:       time.Now,
	}
}

func validate(name string, price decimal.Decimal) error {
	if err := validation.ValidateRequired(name, "名称"); err != nil {
		return err
	}
	return validation.ValidateDecimalRange(price, "价格", MinPrice, MaxPrice)
}

// Create 创建物品并发布 CatalogItemCreated
func (s *Service) Create(ctx context.Context, name, description string, price decimal.Decimal) (*Item, error) {
	if err := validate(name, price); err != nil {
		return nil, err
	}
	item := &Item{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Price:       price,
		CreatedDate: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, errors.Normalize(err)
	}
	err := s.publish(ctx, contracts.TypeCatalogItemCreated, contracts.CatalogItemCreated{
		ItemID: item.ID, Name: item.Name, Description: item.Description, Price: item.Price,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "目录物品已创建", logging.Stringer("item_id", item.ID), logging.String("name", name))
	return item, nil
}

// Get 查询物品，不存在返回 ErrCodeNotFound
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	item, found, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Normalize(err)
	}
	if !found {
		return nil, errors.NewError(errors.ErrCodeNotFound, fmt.Sprintf("catalog item %s not found", id))
	}
	return item, nil
}

// List 按创建时间排序列出全部物品
func (s *Service) List(ctx context.Context) ([]*Item, error) {
	items, err := s.repo.GetAll(ctx, nil)
	if err != nil {
		return nil, errors.Normalize(err)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedDate.Before(items[j].CreatedDate) })
	return items, nil
}

// Update 修改物品并发布 CatalogItemUpdated
func (s *Service) Update(ctx context.Context, id uuid.UUID, name, description string, price decimal.Decimal) error {
	if err := validate(name, price); err != nil {
		return err
	}
	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	item.Name = name
	item.Description = description
	item.Price = price
	if err := s.repo.Update(ctx, item); err != nil {
		return errors.Normalize(err)
	}
	return s.publish(ctx, contracts.TypeCatalogItemUpdated, contracts.CatalogItemUpdated{
		ItemID: item.ID, Name: item.Name, Description: item.Description, Price: item.Price,
	})
}

// Delete 删除物品并发布 CatalogItemDeleted，不存在返回 ErrCodeNotFound 且不发布事件
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Remove(ctx, id); err != nil {
		return errors.Normalize(err)
	}
	return s.publish(ctx, contracts.TypeCatalogItemDeleted, contracts.CatalogItemDeleted{ItemID: id})
}

func (s *Service) publish(ctx context.Context, messageType string, payload any) error {
	if err := s.publisher.Publish(ctx, contracts.NewCatalogEvent(messageType, payload)); err != nil {
		return errors.WrapPublishError(ctx, err, messageType)
	}
	return nil
}

// Seed 目录为空时写入初始物品
func (s *Service) Seed(ctx context.Context) error {
	existing, err := s.repo.GetAll(ctx, nil)
	if err != nil {
		return errors.Normalize(err)
	}
	if len(existing) > 0 {
		return nil
	}
	seeds := []struct {
		name, description string
		price             int64
	}{
		{"Potion", "Restores a small amount of HP", 5},
		{"Antidote", "Cures poison", 7},
		{"Bronze sword", "Deals a small amount of damage", 20},
	}
	for _, seed := range seeds {
		if _, err := s.Create(ctx, seed.name, seed.description, decimal.NewFromInt(seed.price)); err != nil {
			return err
		}
	}
	return nil
}
