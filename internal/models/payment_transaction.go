package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type PaymentKind string

const (
	PaymentKindPayment PaymentKind = "payment" // money in, credits the wallet
	PaymentKindPayout  PaymentKind = "payout"  // money out, settles a withdrawal
)

// PaymentTransaction records one payment-provider event. (Provider,
// ProviderPaymentID) is unique, so a retried webhook is processed once.
type PaymentTransaction struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID            uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	Provider          string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_provider_payment,priority:1" json:"provider"`
	ProviderPaymentID string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_provider_payment,priority:2" json:"provider_payment_id"`

	Kind     PaymentKind     `gorm:"type:varchar(20);not null;default:'payment'" json:"kind"`
	Amount   decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Currency string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status   PaymentStatus   `gorm:"type:varchar(20);not null" json:"status"`

	WalletTransactionID *uuid.UUID     `gorm:"type:uuid;index" json:"wallet_transaction_id,omitempty"`
	RawPayload          datatypes.JSON `json:"raw_payload,omitempty"`
	Note                string         `gorm:"type:text" json:"note"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *PaymentTransaction) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}
