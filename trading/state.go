// Package trading 购买 saga：实例状态、转换表、持久化、发件箱派发与对账
//
// 每次购买对应一个以关联 ID 为键的 saga 实例。实例只在收到与当前状态匹配的结果事件时前进，
// 状态变化与由此产生的命令在同一次带版本条件的写入中持久化，写入成功后再发布命令。
package trading

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gochen-trade/domain/entity"
	"gochen-trade/domain/repository"
)

// State saga 状态
type State string

const (
	StateAccepted     State = "Accepted"
	StateItemsGranted State = "ItemsGranted"
	StateCompleted    State = "Completed"
	StateFaulted      State = "Faulted"
)

// IsTerminal 终态不再响应任何事件
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFaulted
}

// PendingCommand 发件箱中待发布的命令
//
// ID 由关联 ID 与命令类型派生，重复发布时消费方可按 ID 去重。
type PendingCommand struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PurchaseState 购买 saga 实例
type PurchaseState struct {
	entity.Versioned
	CorrelationID uuid.UUID `json:"correlationId"`
	CurrentState  State     `json:"currentState"`
	UserID        uuid.UUID `json:"userId"`
	ItemID        uuid.UUID `json:"itemId"`
	Quantity      int       `json:"quantity"`
	Received      time.Time `json:"received"`
	LastUpdated   time.Time `json:"lastUpdated"`

	// DebitAmount 受理时按目录价格算出的扣款金额，退款以它为准
	DebitAmount *decimal.Decimal `json:"debitAmount,omitempty"`
	// PurchaseTotal 扣款成功后写入，之前为 nil
	PurchaseTotal *decimal.Decimal `json:"purchaseTotal,omitempty"`
	ErrorMessage  string           `json:"errorMessage,omitempty"`

	Outbox []PendingCommand `json:"outbox,omitempty"`
}

func (p *PurchaseState) GetID() uuid.UUID { return p.CorrelationID }

// NewPurchaseStateCodec 返回 PurchaseState 的 JSON 编解码器
func NewPurchaseStateCodec() repository.ICodec[*PurchaseState] {
	return repository.NewJSONCodec(func() *PurchaseState { return &PurchaseState{} })
}

// Repository saga 实例仓储
type Repository = repository.IRepository[*PurchaseState, uuid.UUID]

// enqueue 将命令加入发件箱，同类型命令在一个实例内只会出现一次
func (p *PurchaseState) enqueue(cmd PendingCommand) {
	for _, existing := range p.Outbox {
		if existing.ID == cmd.ID {
			return
		}
	}
	p.Outbox = append(p.Outbox, cmd)
}

// removePending 从发件箱移除已发布的命令，返回是否有变化
func (p *PurchaseState) removePending(ids map[string]struct{}) bool {
	kept := p.Outbox[:0:0]
	for _, cmd := range p.Outbox {
		if _, done := ids[cmd.ID]; !done {
			kept = append(kept, cmd)
		}
	}
	changed := len(kept) != len(p.Outbox)
	if len(kept) == 0 {
		kept = nil
	}
	p.Outbox = kept
	return changed
}
