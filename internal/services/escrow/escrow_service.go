// Package escrow holds buyer funds against an order and later resolves the
// hold exactly once: captured to the seller or released back to the buyer.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/db"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/money"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/wallet"
)

// Ledger is the part of the wallet service the manager composes.
type Ledger interface {
	Keyed(ctx context.Context, op, scope, key string, fn func(tx *gorm.DB) error) error
	EnsureWalletTx(tx *gorm.DB, userID uuid.UUID) (*models.Wallet, error)
	ReserveTx(tx *gorm.DB, walletID uuid.UUID, e wallet.Entry) (*models.WalletTransaction, error)
	ReleaseReservationTx(tx *gorm.DB, walletID uuid.UUID, e wallet.Entry) (*models.WalletTransaction, error)
	CaptureTx(tx *gorm.DB, srcID, dstID uuid.UUID, e wallet.Entry) (*models.WalletTransaction, *models.WalletTransaction, error)
}

type EscrowService struct {
	Ledger Ledger
}

func NewEscrowService(ledger Ledger) *EscrowService {
	return &EscrowService{Ledger: ledger}
}

// OrderScope is the guard scope serializing work on one order.
const OrderScope = "order"

// Idempotency keys derived from the order, so a retried transition never
// moves money twice.
func HoldKey(orderID uuid.UUID) string    { return "order:" + orderID.String() + ":hold" }
func CaptureKey(orderID uuid.UUID) string { return "order:" + orderID.String() + ":capture" }
func ReleaseKey(orderID uuid.UUID) string { return "order:" + orderID.String() + ":release" }
func PeriodKey(orderID uuid.UUID, period int) string {
	return fmt.Sprintf("order:%s:period:%d", orderID, period)
}

// MaxHold is the most the manager will ever reserve for the order: the
// deposit share of the total when a deposit percent is set, else the total.
func MaxHold(o *models.Order) decimal.Decimal {
	if o.DepositPercentUsed.IsPositive() {
		return money.Percent(o.TotalPrice, o.DepositPercentUsed)
	}
	return o.TotalPrice
}

// PlaceHoldTx reserves amount from the buyer's wallet against the order and
// updates the order's hold fields in memory; the caller persists the order.
// This should be called within a DB transaction.
func (s *EscrowService) PlaceHoldTx(tx *gorm.DB, o *models.Order, amount decimal.Decimal) (*models.WalletTransaction, error) {
	if err := money.Positive(amount); err != nil {
		return nil, err
	}
	if o.HoldStatus != models.HoldStatusNone {
		return nil, fmt.Errorf("%w: order %s hold is %s", common.ErrInvalidState, o.ID, o.HoldStatus)
	}
	if limit := MaxHold(o); amount.GreaterThan(limit) {
		return nil, fmt.Errorf("%w: hold %s exceeds order maximum %s", common.ErrInvalidAmount,
			amount.StringFixed(money.Scale), limit.StringFixed(money.Scale))
	}

	w, err := s.Ledger.EnsureWalletTx(tx, o.BuyerID)
	if err != nil {
		return nil, err
	}
	ref := o.ID
	entry, err := s.Ledger.ReserveTx(tx, w.ID, wallet.Entry{
		Amount:      amount,
		Key:         HoldKey(o.ID),
		ReferenceID: &ref,
		Note:        fmt.Sprintf("%s order %s hold", o.Domain, o.OrderCode),
	})
	if err != nil {
		return nil, err
	}

	o.HeldAmount = amount
	o.HoldStatus = models.HoldStatusHeld
	return entry, nil
}

// CaptureHoldTx moves everything still held to the seller.
// This should be called within a DB transaction.
func (s *EscrowService) CaptureHoldTx(tx *gorm.DB, o *models.Order) (*models.WalletTransaction, *models.WalletTransaction, error) {
	if !o.HoldStatus.Open() {
		return nil, nil, fmt.Errorf("%w: order %s hold is %s", common.ErrInvalidState, o.ID, o.HoldStatus)
	}
	return s.capture(tx, o, o.HeldAmount, CaptureKey(o.ID))
}

// CapturePartialTx moves part of the hold to the seller, as one rental
// period. The hold stays open until nothing is left.
// This should be called within a DB transaction.
func (s *EscrowService) CapturePartialTx(tx *gorm.DB, o *models.Order, amount decimal.Decimal, period int) (*models.WalletTransaction, *models.WalletTransaction, error) {
	if !o.HoldStatus.Open() {
		return nil, nil, fmt.Errorf("%w: order %s hold is %s", common.ErrInvalidState, o.ID, o.HoldStatus)
	}
	if err := money.Positive(amount); err != nil {
		return nil, nil, err
	}
	if amount.GreaterThan(o.HeldAmount) {
		return nil, nil, fmt.Errorf("%w: capture %s exceeds held %s", common.ErrInvalidState,
			amount.StringFixed(money.Scale), o.HeldAmount.StringFixed(money.Scale))
	}
	return s.capture(tx, o, amount, PeriodKey(o.ID, period))
}

func (s *EscrowService) capture(tx *gorm.DB, o *models.Order, amount decimal.Decimal, key string) (*models.WalletTransaction, *models.WalletTransaction, error) {
	buyer, err := s.Ledger.EnsureWalletTx(tx, o.BuyerID)
	if err != nil {
		return nil, nil, err
	}
	seller, err := s.Ledger.EnsureWalletTx(tx, o.SellerID)
	if err != nil {
		return nil, nil, err
	}

	ref := o.ID
	debit, credit, err := s.Ledger.CaptureTx(tx, buyer.ID, seller.ID, wallet.Entry{
		Amount:      amount,
		Key:         key,
		ReferenceID: &ref,
		Note:        fmt.Sprintf("%s order %s payout", o.Domain, o.OrderCode),
	})
	if err != nil {
		return nil, nil, err
	}

	o.HeldAmount = o.HeldAmount.Sub(amount)
	o.AmountPaid = o.AmountPaid.Add(amount)
	if o.HeldAmount.IsZero() {
		o.HoldStatus = models.HoldStatusCaptured
	} else {
		o.HoldStatus = models.HoldStatusPartiallyCaptured
	}
	return debit, credit, nil
}

// CancelHoldTx releases whatever is still held back to the buyer.
// This should be called within a DB transaction.
func (s *EscrowService) CancelHoldTx(tx *gorm.DB, o *models.Order) (*models.WalletTransaction, error) {
	if !o.HoldStatus.Open() {
		return nil, fmt.Errorf("%w: order %s hold is %s", common.ErrInvalidState, o.ID, o.HoldStatus)
	}
	buyer, err := s.Ledger.EnsureWalletTx(tx, o.BuyerID)
	if err != nil {
		return nil, err
	}
	ref := o.ID
	entry, err := s.Ledger.ReleaseReservationTx(tx, buyer.ID, wallet.Entry{
		Amount:      o.HeldAmount,
		Key:         ReleaseKey(o.ID),
		ReferenceID: &ref,
		Note:        fmt.Sprintf("%s order %s released", o.Domain, o.OrderCode),
	})
	if err != nil {
		return nil, err
	}

	o.HeldAmount = decimal.Zero
	o.HoldStatus = models.HoldStatusReleased
	return entry, nil
}

// PlaceHold reserves amount against a stored order in its own transaction.
func (s *EscrowService) PlaceHold(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal) (*models.Order, error) {
	return s.resolve(ctx, "place_hold", orderID, func(tx *gorm.DB, o *models.Order) error {
		_, err := s.PlaceHoldTx(tx, o, amount)
		return err
	})
}

// CaptureHold pays the remaining hold of a stored order to its seller.
func (s *EscrowService) CaptureHold(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.resolve(ctx, "capture_hold", orderID, func(tx *gorm.DB, o *models.Order) error {
		_, _, err := s.CaptureHoldTx(tx, o)
		return err
	})
}

// CancelHold releases the remaining hold of a stored order to its buyer.
func (s *EscrowService) CancelHold(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.resolve(ctx, "cancel_hold", orderID, func(tx *gorm.DB, o *models.Order) error {
		_, err := s.CancelHoldTx(tx, o)
		return err
	})
}

func (s *EscrowService) resolve(ctx context.Context, op string, orderID uuid.UUID, fn func(tx *gorm.DB, o *models.Order) error) (*models.Order, error) {
	var out models.Order
	err := s.Ledger.Keyed(ctx, op, OrderScope, orderID.String(), func(tx *gorm.DB) error {
		out = models.Order{}
		if err := tx.First(&out, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: order %s", common.ErrNotFound, orderID)
			}
			return err
		}
		if err := fn(tx, &out); err != nil {
			return err
		}
		if err := db.CompareAndSwap(tx, &models.Order{}, out.ID, out.Version, out.Changes()); err != nil {
			return err
		}
		out.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"order_id": out.ID,
		"op":       op,
		"hold":     out.HoldStatus,
		"held":     out.HeldAmount.StringFixed(money.Scale),
	}).Info("escrow hold updated")
	return &out, nil
}
