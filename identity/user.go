// Package identity 用户与 Gil 余额，处理扣款与退款命令
package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gochen-trade/domain/entity"
	"gochen-trade/domain/repository"
)

const maxApplied = 64

var (
	MinGil = decimal.Zero
	MaxGil = decimal.NewFromInt(1_000_000)
)

// User 用户及其 Gil 余额
type User struct {
	entity.Versioned
	ID          uuid.UUID       `json:"id"`
	Username    string          `json:"username"`
	Email       string          `json:"email"`
	Gil         decimal.Decimal `json:"gil"`
	CreatedDate time.Time       `json:"createdDate"`

	// AppliedCorrelations 最近已处理的扣款/退款（debit:/debit-failed:/credit: + 关联 ID）
	AppliedCorrelations []string `json:"appliedCorrelations,omitempty"`
}

func (u *User) GetID() uuid.UUID { return u.ID }

func NewUserCodec() repository.ICodec[*User] {
	return repository.NewJSONCodec(func() *User { return &User{} })
}

// UserRepository 用户仓储
type UserRepository = repository.IRepository[*User, uuid.UUID]

func (u *User) applied(key string) bool {
	for _, k := range u.AppliedCorrelations {
		if k == key {
			return true
		}
	}
	return false
}

func (u *User) markApplied(key string) {
	u.AppliedCorrelations = append(u.AppliedCorrelations, key)
	if n := len(u.AppliedCorrelations); n > maxApplied {
		u.AppliedCorrelations = append([]string(nil), u.AppliedCorrelations[n-maxApplied:]...)
	}
}
