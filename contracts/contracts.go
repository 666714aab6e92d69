// Package contracts 定义服务之间交换的消息契约
//
// 每个契约对应一种消息类型（路由键），字段以 camelCase 序列化。
// 金额统一使用 decimal.Decimal，以字符串形式写入 JSON 避免精度丢失。
package contracts

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// 消息类型
const (
	TypePurchaseRequested = "trading.purchase-requested"

	TypeDebitGil       = "identity.debit-gil"
	TypeGilDebited     = "identity.gil-debited"
	TypeGilDebitFailed = "identity.gil-debit-failed"
	TypeCreditGil      = "identity.credit-gil"
	TypeGilCredited    = "identity.gil-credited"

	TypeGrantItems            = "inventory.grant-items"
	TypeInventoryItemsGranted = "inventory.items-granted"
	TypeGrantItemsFailed      = "inventory.grant-items-failed"
	TypeSubtractItems         = "inventory.subtract-items"
	TypeItemsSubtracted       = "inventory.items-subtracted"

	TypeCatalogItemCreated = "catalog.item-created"
	TypeCatalogItemUpdated = "catalog.item-updated"
	TypeCatalogItemDeleted = "catalog.item-deleted"
)

// 失败原因
const (
	ReasonInsufficientFunds = "InsufficientFunds"
	ReasonUnknownUser       = "UnknownUser"
	ReasonUnknownItem       = "UnknownItem"
)

// PurchaseRequested 用户发起购买，创建 saga 实例
type PurchaseRequested struct {
	UserID        uuid.UUID `json:"userId"`
	ItemID        uuid.UUID `json:"itemId"`
	Quantity      int       `json:"quantity"`
	CorrelationID uuid.UUID `json:"correlationId"`
}

// 金额字段在线上以 "gil" 序列化；对外契约中的名称是 "amount"，
// DebitGil 和 CreditGil 解码时两者都接受，"gil" 优先。

// DebitGil 扣减用户 Gil
type DebitGil struct {
	UserID        uuid.UUID       `json:"userId"`
	Gil           decimal.Decimal `json:"gil"`
	CorrelationID uuid.UUID       `json:"correlationId"`
}

// GilDebited 扣款成功，Gil 为实际扣减金额
type GilDebited struct {
	CorrelationID uuid.UUID       `json:"correlationId"`
	Gil           decimal.Decimal `json:"gil"`
}

// GilDebitFailed 扣款因业务规则失败
type GilDebitFailed struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	Reason        string    `json:"reason"`
}

// CreditGil 退还用户 Gil（补偿）
type CreditGil struct {
	UserID        uuid.UUID       `json:"userId"`
	Gil           decimal.Decimal `json:"gil"`
	CorrelationID uuid.UUID       `json:"correlationId"`
}

func (c *DebitGil) UnmarshalJSON(data []byte) error {
	type plain DebitGil
	var v struct {
		plain
		Amount *decimal.Decimal `json:"amount"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = DebitGil(v.plain)
	c.Gil = amountOr(c.Gil, v.Amount)
	return nil
}

func (c *CreditGil) UnmarshalJSON(data []byte) error {
	type plain CreditGil
	var v struct {
		plain
		Amount *decimal.Decimal `json:"amount"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = CreditGil(v.plain)
	c.Gil = amountOr(c.Gil, v.Amount)
	return nil
}

func amountOr(gil decimal.Decimal, amount *decimal.Decimal) decimal.Decimal {
	if gil.IsZero() && amount != nil {
		return *amount
	}
	return gil
}

type GilCredited struct {
	CorrelationID uuid.UUID `json:"correlationId"`
}

// GrantItems 向用户发放物品
type GrantItems struct {
	UserID        uuid.UUID `json:"userId"`
	CatalogItemID uuid.UUID `json:"catalogItemId"`
	Quantity      int       `json:"quantity"`
	CorrelationID uuid.UUID `json:"correlationId"`
}

type InventoryItemsGranted struct {
	CorrelationID uuid.UUID `json:"correlationId"`
}

// GrantItemsFailed 发放因业务规则失败（目录中没有该物品）
type GrantItemsFailed struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	Reason        string    `json:"reason"`
}

// SubtractItems 扣减用户物品
type SubtractItems struct {
	UserID        uuid.UUID `json:"userId"`
	CatalogItemID uuid.UUID `json:"catalogItemId"`
	Quantity      int       `json:"quantity"`
	CorrelationID uuid.UUID `json:"correlationId"`
}

type InventoryItemsSubtracted struct {
	CorrelationID uuid.UUID `json:"correlationId"`
}

// CatalogItemCreated 目录新增物品
type CatalogItemCreated struct {
	ItemID      uuid.UUID       `json:"itemId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// CatalogItemUpdated 目录物品变更
type CatalogItemUpdated struct {
	ItemID      uuid.UUID       `json:"itemId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// CatalogItemDeleted 目录删除物品
type CatalogItemDeleted struct {
	ItemID uuid.UUID `json:"itemId"`
}
