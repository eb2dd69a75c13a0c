package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type WalletTrxType string

const (
	WalletTrxDeposit            WalletTrxType = "deposit"
	WalletTrxReserve            WalletTrxType = "reserve"
	WalletTrxReleaseReservation WalletTrxType = "release_reservation"
	WalletTrxCapture            WalletTrxType = "capture"
	WalletTrxWithdraw           WalletTrxType = "withdraw"
	WalletTrxRefund             WalletTrxType = "refund"
)

type WalletTrxStatus string

const (
	WalletTrxPending   WalletTrxStatus = "pending"
	WalletTrxCompleted WalletTrxStatus = "completed"
	WalletTrxFailed    WalletTrxStatus = "failed"
)

// WalletTrxDirection says how an entry moves the two wallet figures when the
// ledger is folded from zero.
type WalletTrxDirection string

const (
	DirectionCredit  WalletTrxDirection = "credit"  // balance += amount
	DirectionDebit   WalletTrxDirection = "debit"   // balance -= amount
	DirectionHold    WalletTrxDirection = "hold"    // reserved += amount
	DirectionRelease WalletTrxDirection = "release" // reserved -= amount
	// DirectionCaptureOut debits both balance and reserved (escrow payout side).
	DirectionCaptureOut WalletTrxDirection = "capture_out"
)

// WalletTransaction is an append-only ledger entry.
type WalletTransaction struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	WalletID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_wallet_idem,priority:1;uniqueIndex:idx_wallet_seq,priority:1" json:"wallet_id"`
	// Sequence is the wallet version produced by this entry; it totally orders a wallet's history.
	Sequence int64 `gorm:"not null;uniqueIndex:idx_wallet_seq,priority:2" json:"sequence"`

	Type      WalletTrxType      `gorm:"type:varchar(30);not null" json:"type"`
	Status    WalletTrxStatus    `gorm:"type:varchar(20);not null" json:"status"`
	Direction WalletTrxDirection `gorm:"type:varchar(20);not null" json:"direction"`

	Amount        decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"balance_after"`
	ReservedAfter decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"reserved_after"`
	Currency      string          `gorm:"type:varchar(3);not null" json:"currency"`

	IdempotencyKey *string    `gorm:"type:varchar(160);uniqueIndex:idx_wallet_idem,priority:2" json:"idempotency_key,omitempty"`
	CorrelationID  *uuid.UUID `gorm:"type:uuid;index" json:"correlation_id,omitempty"`
	ReferenceID    *uuid.UUID `gorm:"type:uuid;index" json:"reference_id,omitempty"` // order id or payment id
	Note           string     `gorm:"type:text" json:"note"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (t *WalletTransaction) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return
}

// BeforeUpdate keeps the ledger append-only.
func (t *WalletTransaction) BeforeUpdate(tx *gorm.DB) (err error) {
	return gorm.ErrInvalidData
}

// BeforeDelete keeps the ledger append-only.
func (t *WalletTransaction) BeforeDelete(tx *gorm.DB) (err error) {
	return gorm.ErrInvalidData
}
