package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ListingStatus string

const (
	ListingStatusDraft     ListingStatus = "draft"
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusExpired   ListingStatus = "expired"
	ListingStatusCancelled ListingStatus = "cancelled"
)

// AuctionListing carries only what the bidding engine needs; the rest of a
// store listing lives with the listing service.
type AuctionListing struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SellerID uuid.UUID `gorm:"type:uuid;not null;index" json:"seller_id"`
	Title    string    `json:"title"`

	Currency       string          `gorm:"type:varchar(3);not null" json:"currency"`
	StartPrice     decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"start_price"`
	DepositPercent decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"deposit_percent"`

	Status ListingStatus `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	EndsAt time.Time     `gorm:"not null;index" json:"ends_at"`

	CurrentTopBid      decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"current_top_bid"`
	CurrentTopBidderID *uuid.UUID      `gorm:"type:uuid" json:"current_top_bidder_id,omitempty"`
	CurrentTopOrderID  *uuid.UUID      `gorm:"type:uuid" json:"current_top_order_id,omitempty"`
	BidCount           int             `gorm:"not null;default:0" json:"bid_count"`

	ConfirmedOrderID *uuid.UUID `gorm:"type:uuid" json:"confirmed_order_id,omitempty"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`

	Version int64 `gorm:"not null;default:0" json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (l *AuctionListing) BeforeCreate(tx *gorm.DB) (err error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return
}

// HasBids reports whether any bid has been accepted.
func (l *AuctionListing) HasBids() bool {
	return l.CurrentTopOrderID != nil
}

// Closed reports whether the auction no longer accepts bids.
func (l *AuctionListing) Closed() bool {
	return l.Status == ListingStatusSold || l.Status == ListingStatusExpired || l.Status == ListingStatusCancelled
}
