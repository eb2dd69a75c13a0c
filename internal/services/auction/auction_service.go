// Package auction keeps the top bid per listing and hands the winner to the
// order state machine. Every accepted bid holds the bidder's deposit and
// releases the previous top bidder in the same transaction.
package auction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/db"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/metrics"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/money"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/realtime"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/orders"
)

// listingScope serializes bids and closes on one listing.
const listingScope = "auction"

// Ledger is what the engine needs from the wallet service.
type Ledger interface {
	Keyed(ctx context.Context, op, scope, key string, fn func(tx *gorm.DB) error) error
	EnsureWalletTx(tx *gorm.DB, userID uuid.UUID) (*models.Wallet, error)
}

type AuctionService struct {
	DB       *gorm.DB
	Ledger   Ledger
	Orders   *orders.OrderService
	Notifier realtime.Publisher
	Now      func() time.Time
}

func NewAuctionService(gdb *gorm.DB, ledger Ledger, ord *orders.OrderService, notifier realtime.Publisher) *AuctionService {
	return &AuctionService{DB: gdb, Ledger: ledger, Orders: ord, Notifier: notifier, Now: time.Now}
}

type CreateListingInput struct {
	SellerID   uuid.UUID
	Title      string
	StartPrice decimal.Decimal
	// DepositPercent defaults to the auction order policy when nil.
	DepositPercent *decimal.Decimal
	EndsAt         time.Time
}

// CloseResult is what closing an auction reports. AlreadyClosed marks a
// repeated close that changed nothing.
type CloseResult struct {
	Listing          *models.AuctionListing `json:"listing"`
	ConfirmedOrderID *uuid.UUID             `json:"confirmed_order_id,omitempty"`
	AlreadyClosed    bool                   `json:"already_closed"`
}

func (s *AuctionService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// CreateListing opens an auction that accepts bids until EndsAt.
func (s *AuctionService) CreateListing(ctx context.Context, in CreateListingInput) (*models.AuctionListing, error) {
	if in.SellerID == uuid.Nil {
		return nil, fmt.Errorf("%w: seller is required", common.ErrInvalidState)
	}
	if err := money.Positive(in.StartPrice); err != nil {
		return nil, err
	}
	if !in.EndsAt.After(s.now()) {
		return nil, fmt.Errorf("%w: auction must end in the future", common.ErrInvalidState)
	}
	pct := s.Orders.Policies[models.DomainAuction].DepositPercent
	if in.DepositPercent != nil {
		pct = *in.DepositPercent
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("%w: deposit percent %s", common.ErrInvalidAmount, pct.String())
	}

	l := &models.AuctionListing{
		SellerID:       in.SellerID,
		Title:          in.Title,
		Currency:       s.Orders.Currency,
		StartPrice:     in.StartPrice,
		DepositPercent: pct,
		Status:         models.ListingStatusActive,
		EndsAt:         in.EndsAt,
		CurrentTopBid:  decimal.Zero,
	}
	if err := s.DB.WithContext(ctx).Create(l).Error; err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}
	log.WithFields(log.Fields{"listing_id": l.ID, "seller_id": l.SellerID, "ends_at": l.EndsAt}).Info("auction opened")
	return l, nil
}

func (s *AuctionService) GetListing(ctx context.Context, listingID uuid.UUID) (*models.AuctionListing, error) {
	var l models.AuctionListing
	if err := loadListing(s.DB.WithContext(ctx), listingID, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// PlaceBid accepts amount if it beats the current top bid (or meets the
// start price on the first bid). Ties lose. The returned order is the
// bidder's new auction order in Created with its deposit held.
func (s *AuctionService) PlaceBid(ctx context.Context, listingID, bidderID uuid.UUID, amount decimal.Decimal) (*models.Order, error) {
	var (
		order    *models.Order
		previous *models.Order
		listing  models.AuctionListing
	)
	err := s.Ledger.Keyed(ctx, "place_bid", listingScope, listingID.String(), func(tx *gorm.DB) error {
		order, previous, listing = nil, nil, models.AuctionListing{}
		if err := loadListing(tx, listingID, &listing); err != nil {
			return err
		}
		if err := s.checkBid(&listing, bidderID, amount); err != nil {
			return err
		}

		if listing.HasBids() {
			previous = &models.Order{}
			if err := tx.First(previous, "id = ?", *listing.CurrentTopOrderID).Error; err != nil {
				return fmt.Errorf("load top order: %w", err)
			}
		}

		releaseFirst, err := s.releaseFirst(tx, previous, bidderID)
		if err != nil {
			return err
		}
		outbid := func() error {
			if previous == nil {
				return nil
			}
			return s.Orders.FireTx(tx, previous, orders.ActorSystem, orders.EventOutbid)
		}
		create := func() error {
			pct := listing.DepositPercent
			o, err := s.Orders.CreateOrderTx(tx, orders.CreateOrderInput{
				Domain:         models.DomainAuction,
				ListingID:      listing.ID,
				BuyerID:        bidderID,
				SellerID:       listing.SellerID,
				TotalPrice:     amount,
				DepositPercent: &pct,
			})
			order = o
			return err
		}

		steps := []func() error{create, outbid}
		if releaseFirst {
			steps = []func() error{outbid, create}
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return err
			}
		}

		return db.CompareAndSwap(tx, &models.AuctionListing{}, listing.ID, listing.Version, map[string]interface{}{
			"current_top_bid":       amount,
			"current_top_bidder_id": bidderID,
			"current_top_order_id":  order.ID,
			"bid_count":             listing.BidCount + 1,
		})
	})
	if err != nil {
		metrics.BidsPlaced.WithLabelValues(common.Code(err)).Inc()
		return nil, err
	}
	metrics.BidsPlaced.WithLabelValues("accepted").Inc()

	fields := log.Fields{
		"listing_id": listingID,
		"bidder_id":  bidderID,
		"amount":     amount.StringFixed(money.Scale),
		"order_id":   order.ID,
	}
	if previous != nil {
		fields["outbid_order_id"] = previous.ID
	}
	log.WithFields(fields).Info("bid accepted")

	if s.Notifier != nil {
		bid := map[string]interface{}{
			"listing_id":      listingID,
			"current_top_bid": amount,
			"order_id":        order.ID,
		}
		if previous != nil {
			s.Notifier.Publish(ctx, previous.BuyerID, realtime.EventOutbid, map[string]interface{}{
				"listing_id":      listingID,
				"order_id":        previous.ID,
				"current_top_bid": amount,
			})
		}
		s.Notifier.Publish(ctx, listing.SellerID, realtime.EventOrderUpdate, bid)
	}
	return order, nil
}

func (s *AuctionService) checkBid(l *models.AuctionListing, bidderID uuid.UUID, amount decimal.Decimal) error {
	if l.Status != models.ListingStatusActive {
		return fmt.Errorf("%w: listing is %s", common.ErrInvalidStateTransition, l.Status)
	}
	if !s.now().Before(l.EndsAt) {
		return fmt.Errorf("%w: auction ended at %s", common.ErrInvalidStateTransition, l.EndsAt.Format(time.RFC3339))
	}
	if bidderID == l.SellerID {
		return fmt.Errorf("%w: sellers cannot bid on their own listing", common.ErrForbidden)
	}
	if err := money.Positive(amount); err != nil {
		return err
	}
	if !l.HasBids() {
		if amount.LessThan(l.StartPrice) {
			return fmt.Errorf("%w: start price is %s", common.ErrBidTooLow, l.StartPrice.StringFixed(money.Scale))
		}
		return nil
	}
	if !amount.GreaterThan(l.CurrentTopBid) {
		return fmt.Errorf("%w: current top bid is %s", common.ErrBidTooLow, l.CurrentTopBid.StringFixed(money.Scale))
	}
	return nil
}

// releaseFirst decides the wallet touch order for a bid replacement:
// ascending wallet id, and release before hold when both are the same wallet.
func (s *AuctionService) releaseFirst(tx *gorm.DB, previous *models.Order, bidderID uuid.UUID) (bool, error) {
	if previous == nil {
		return false, nil
	}
	if previous.BuyerID == bidderID {
		return true, nil
	}
	prevWallet, err := s.Ledger.EnsureWalletTx(tx, previous.BuyerID)
	if err != nil {
		return false, err
	}
	bidWallet, err := s.Ledger.EnsureWalletTx(tx, bidderID)
	if err != nil {
		return false, err
	}
	return bytes.Compare(prevWallet.ID[:], bidWallet.ID[:]) < 0, nil
}

// CloseAuction confirms the top bid's order and marks the listing Sold, or
// Expired when nobody bid. Closing a closed auction returns the existing
// result without side effects.
func (s *AuctionService) CloseAuction(ctx context.Context, listingID uuid.UUID) (*CloseResult, error) {
	var (
		res    CloseResult
		winner *models.Order
	)
	err := s.Ledger.Keyed(ctx, "close_auction", listingScope, listingID.String(), func(tx *gorm.DB) error {
		res, winner = CloseResult{}, nil
		var l models.AuctionListing
		if err := loadListing(tx, listingID, &l); err != nil {
			return err
		}
		res.Listing = &l

		if l.Closed() {
			res.AlreadyClosed = true
			res.ConfirmedOrderID = l.ConfirmedOrderID
			return nil
		}
		if l.Status != models.ListingStatusActive {
			return fmt.Errorf("%w: listing is %s", common.ErrInvalidStateTransition, l.Status)
		}

		now := s.now()
		if !l.HasBids() {
			if err := db.CompareAndSwap(tx, &models.AuctionListing{}, l.ID, l.Version, map[string]interface{}{
				"status": models.ListingStatusExpired,
			}); err != nil {
				return err
			}
			l.Status = models.ListingStatusExpired
			l.Version++
			return nil
		}

		winner = &models.Order{}
		if err := tx.First(winner, "id = ?", *l.CurrentTopOrderID).Error; err != nil {
			return fmt.Errorf("load winning order: %w", err)
		}
		if err := s.Orders.FireTx(tx, winner, orders.ActorSystem, orders.EventWin); err != nil {
			return err
		}
		if err := db.CompareAndSwap(tx, &models.AuctionListing{}, l.ID, l.Version, map[string]interface{}{
			"status":             models.ListingStatusSold,
			"confirmed_order_id": winner.ID,
			"confirmed_at":       now,
		}); err != nil {
			return err
		}
		l.Status = models.ListingStatusSold
		l.ConfirmedOrderID = &winner.ID
		l.ConfirmedAt = &now
		l.Version++
		res.ConfirmedOrderID = &winner.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.AlreadyClosed {
		metrics.AuctionsClosed.WithLabelValues(common.Code(common.ErrAlreadyClosed)).Inc()
		log.WithField("listing_id", listingID).WithError(common.ErrAlreadyClosed).Debug("close ignored")
		return &res, nil
	}

	result := "expired"
	if winner != nil {
		result = "sold"
	}
	metrics.AuctionsClosed.WithLabelValues(result).Inc()
	log.WithFields(log.Fields{"listing_id": listingID, "result": result}).Info("auction closed")

	if s.Notifier != nil {
		payload := map[string]interface{}{
			"listing_id":         listingID,
			"status":             res.Listing.Status,
			"confirmed_order_id": res.ConfirmedOrderID,
		}
		s.Notifier.Publish(ctx, res.Listing.SellerID, realtime.EventAuctionClosed, payload)
		if winner != nil {
			s.Notifier.Publish(ctx, winner.BuyerID, realtime.EventAuctionWon, payload)
		}
	}
	return &res, nil
}

// CloseExpired closes every active auction whose end time has passed and
// returns how many it closed. One failing listing does not stop the rest.
func (s *AuctionService) CloseExpired(ctx context.Context, now time.Time) (int, error) {
	var ids []uuid.UUID
	err := s.DB.WithContext(ctx).Model(&models.AuctionListing{}).
		Where("status = ? AND ends_at <= ?", models.ListingStatusActive, now).
		Order("ends_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("find expired auctions: %w", err)
	}

	closed := 0
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := s.CloseAuction(ctx, id); err != nil {
			log.WithError(err).WithField("listing_id", id).Error("close expired auction")
			errs = append(errs, err)
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

func loadListing(tx *gorm.DB, id uuid.UUID, l *models.AuctionListing) error {
	if err := tx.First(l, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: listing %s", common.ErrNotFound, id)
		}
		return err
	}
	return nil
}
