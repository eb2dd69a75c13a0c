package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type WalletStatus string

const (
	WalletStatusActive WalletStatus = "active"
	WalletStatusClosed WalletStatus = "closed"
)

// Wallet holds a user's funds. Balance is the total including reserved funds;
// spendable funds are Balance - ReservedBalance and never go negative.
type Wallet struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`

	Currency        string          `gorm:"type:varchar(3);not null" json:"currency"`
	Balance         decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"balance"`
	ReservedBalance decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"reserved_balance"`
	Status          WalletStatus    `gorm:"type:varchar(20);not null;default:'active'" json:"status"`

	// Version is the optimistic concurrency token, bumped on every mutation.
	Version int64 `gorm:"not null;default:0" json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (w *Wallet) BeforeCreate(tx *gorm.DB) (err error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return
}

// Spendable is the amount the owner may commit to new obligations.
func (w *Wallet) Spendable() decimal.Decimal {
	return w.Balance.Sub(w.ReservedBalance)
}
