// Package inventory 用户物品持有记录与发放/扣减消费者
package inventory

import (
	"time"

	"github.com/google/uuid"

	"gochen-trade/domain/entity"
	"gochen-trade/domain/repository"
)

// maxApplied 每条持有记录保留的已应用操作数
const maxApplied = 64

// InventoryItem 用户对某个目录物品的持有记录，(UserID, CatalogItemID) 唯一
type InventoryItem struct {
	entity.Versioned
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"userId"`
	CatalogItemID uuid.UUID `json:"catalogItemId"`
	Quantity      int       `json:"quantity"`
	AcquiredDate  time.Time `json:"acquiredDate"`

	// Applied 最近应用过的操作键（grant:/subtract: + 关联 ID），重复投递据此跳过
	Applied []string `json:"applied,omitempty"`
}

func (i *InventoryItem) GetID() uuid.UUID { return i.ID }

// HoldingID 由用户与物品派生持有记录 ID，使二者组合在仓储主键上唯一
func HoldingID(userID, catalogItemID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(userID, catalogItemID[:])
}

// NewInventoryItemCodec 返回 InventoryItem 的 JSON 编解码器
func NewInventoryItemCodec() repository.ICodec[*InventoryItem] {
	return repository.NewJSONCodec(func() *InventoryItem { return &InventoryItem{} })
}

// HoldingRepository 持有记录仓储
type HoldingRepository = repository.IRepository[*InventoryItem, uuid.UUID]

func (i *InventoryItem) applied(key string) bool {
	if key == "" {
		return false
	}
	for _, k := range i.Applied {
		if k == key {
			return true
		}
	}
	return false
}

func (i *InventoryItem) markApplied(key string) {
	if key == "" {
		return
	}
	i.Applied = append(i.Applied, key)
	if len(i.Applied) > maxApplied {
		i.Applied = append([]string(nil), i.Applied[len(i.Applied)-maxApplied:]...)
	}
}

// ItemView 用户物品视图，附带目录名称与描述
type ItemView struct {
	CatalogItemID uuid.UUID `json:"catalogItemId"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Quantity      int       `json:"quantity"`
	AcquiredDate  time.Time `json:"acquiredDate"`
}
