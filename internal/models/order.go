package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OrderDomain string

const (
	DomainAuction  OrderDomain = "auction"
	DomainMachine  OrderDomain = "machine"
	DomainMaterial OrderDomain = "material"
	DomainRental   OrderDomain = "rental"
	DomainJob      OrderDomain = "job"
)

func (d OrderDomain) Valid() bool {
	switch d {
	case DomainAuction, DomainMachine, DomainMaterial, DomainRental, DomainJob:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusCreated              OrderStatus = "created"
	OrderStatusAwaitingConfirmation OrderStatus = "awaiting_confirmation"
	OrderStatusConfirmed            OrderStatus = "confirmed"
	OrderStatusInProgress           OrderStatus = "in_progress"
	OrderStatusCompleted            OrderStatus = "completed"
	OrderStatusCancelled            OrderStatus = "cancelled"
	OrderStatusDisputed             OrderStatus = "disputed" // pending manual resolution
)

// Terminal reports whether no further transitions are accepted.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusDisputed
}

type HoldStatus string

const (
	HoldStatusNone              HoldStatus = "none"
	HoldStatusHeld              HoldStatus = "held"
	HoldStatusPartiallyCaptured HoldStatus = "partially_captured"
	HoldStatusCaptured          HoldStatus = "captured"
	HoldStatusReleased          HoldStatus = "released"
)

// Open reports whether the hold still has reserved funds that can be resolved.
func (h HoldStatus) Open() bool {
	return h == HoldStatusHeld || h == HoldStatusPartiallyCaptured
}

// Order is the shared shape of auction, machine, material, rental and job
// orders. Status only changes through the order state machine.
type Order struct {
	ID        uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	OrderCode string      `gorm:"type:varchar(26);uniqueIndex;not null" json:"order_code"`
	Domain    OrderDomain `gorm:"type:varchar(20);not null;index" json:"domain"`
	ListingID uuid.UUID   `gorm:"type:uuid;index;not null" json:"listing_id"`
	BuyerID   uuid.UUID   `gorm:"type:uuid;index;not null" json:"buyer_id"` // winner for auctions
	SellerID  uuid.UUID   `gorm:"type:uuid;index;not null" json:"seller_id"`

	Status     OrderStatus `gorm:"type:varchar(30);not null;index" json:"status"`
	HoldStatus HoldStatus  `gorm:"type:varchar(30);not null;default:'none'" json:"hold_status"`

	Currency           string          `gorm:"type:varchar(3);not null" json:"currency"`
	TotalPrice         decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"total_price"`
	AmountPaid         decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"amount_paid"`
	HeldAmount         decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"held_amount"`
	DepositPercentUsed decimal.Decimal `gorm:"type:numeric(5,2);not null;default:0" json:"deposit_percent_used"`

	OrderDate        time.Time  `gorm:"not null" json:"order_date"`
	CancelWindowDays int        `gorm:"not null;default:0" json:"cancel_window_days"`
	CancelUntil      *time.Time `json:"cancel_until,omitempty"`

	// Rental periods.
	TotalMonths int `gorm:"not null;default:0" json:"total_months,omitempty"`
	MonthsPaid  int `gorm:"not null;default:0" json:"months_paid,omitempty"`

	PaymentProvider   *string `gorm:"type:varchar(50);uniqueIndex:idx_order_provider,priority:1" json:"payment_provider,omitempty"`
	PaymentProviderID *string `gorm:"type:varchar(100);uniqueIndex:idx_order_provider,priority:2" json:"payment_provider_id,omitempty"`

	Extras datatypes.JSON `json:"extras,omitempty"`

	Version int64 `gorm:"not null;default:0" json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) (err error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.OrderCode == "" {
		o.OrderCode = GenerateOrderCode()
	}
	if o.HoldStatus == "" {
		o.HoldStatus = HoldStatusNone
	}
	return
}

// GenerateOrderCode returns a sortable, unique human-facing code.
func GenerateOrderCode() string {
	return ulid.Make().String()
}

// Changes returns the columns a state transition or escrow action may modify.
func (o *Order) Changes() map[string]interface{} {
	return map[string]interface{}{
		"status":               o.Status,
		"hold_status":          o.HoldStatus,
		"held_amount":          o.HeldAmount,
		"amount_paid":          o.AmountPaid,
		"deposit_percent_used": o.DepositPercentUsed,
		"months_paid":          o.MonthsPaid,
		"cancel_until":         o.CancelUntil,
	}
}
