// Package orders drives machine, material, rental, job and auction orders
// through one table-driven lifecycle and applies the escrow effect each
// transition carries in the same database transaction.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/db"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/metrics"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/money"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/realtime"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/escrow"
)

// Transactor runs fn atomically with bounded conflict retry while holding
// the in-flight lock for scope/key.
type Transactor interface {
	Keyed(ctx context.Context, op, scope, key string, fn func(tx *gorm.DB) error) error
}

type OrderService struct {
	DB       *gorm.DB
	Tx       Transactor
	Escrow   *escrow.EscrowService
	Policies Policies
	Notifier realtime.Publisher
	Currency string
	Now      func() time.Time
}

func NewOrderService(gdb *gorm.DB, tx Transactor, esc *escrow.EscrowService, policies Policies, notifier realtime.Publisher, currency string) *OrderService {
	if policies == nil {
		policies = DefaultPolicies()
	}
	if currency == "" {
		currency = money.DefaultCurrency
	}
	return &OrderService{
		DB:       gdb,
		Tx:       tx,
		Escrow:   esc,
		Policies: policies,
		Notifier: notifier,
		Currency: currency,
		Now:      time.Now,
	}
}

type CreateOrderInput struct {
	Domain     models.OrderDomain
	ListingID  uuid.UUID
	BuyerID    uuid.UUID
	SellerID   uuid.UUID
	TotalPrice decimal.Decimal
	// DepositPercent overrides the domain policy (auction listings carry their own).
	DepositPercent *decimal.Decimal
	TotalMonths    int
	OrderDate      time.Time

	PaymentProvider   string
	PaymentProviderID string
	Extras            map[string]interface{}
}

func (s *OrderService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// CreateOrder commits a buyer to a listing. Auction orders come from bids
// and cannot be created here.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if in.Domain == models.DomainAuction {
		return nil, fmt.Errorf("%w: auction orders are created by bids", common.ErrInvalidStateTransition)
	}
	var out *models.Order
	err := s.Tx.Keyed(ctx, "create_order", "order-payment:"+in.PaymentProvider, in.PaymentProviderID, func(tx *gorm.DB) error {
		var err error
		out, err = s.CreateOrderTx(tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(out, "create", in.BuyerID)
	s.notify(ctx, out)
	return out, nil
}

// CreateOrderTx validates the input, reserves the deposit when the domain
// holds at creation and inserts the order in Created.
// This should be called within a DB transaction.
func (s *OrderService) CreateOrderTx(tx *gorm.DB, in CreateOrderInput) (*models.Order, error) {
	if !in.Domain.Valid() {
		return nil, fmt.Errorf("%w: unknown order domain %q", common.ErrInvalidState, in.Domain)
	}
	pol, ok := s.Policies[in.Domain]
	if !ok {
		return nil, fmt.Errorf("%w: no policy for domain %q", common.ErrInvalidState, in.Domain)
	}
	if err := money.Positive(in.TotalPrice); err != nil {
		return nil, err
	}
	if in.BuyerID == uuid.Nil || in.SellerID == uuid.Nil {
		return nil, fmt.Errorf("%w: buyer and seller are required", common.ErrInvalidState)
	}
	if in.BuyerID == in.SellerID {
		return nil, fmt.Errorf("%w: cannot order your own listing", common.ErrForbidden)
	}
	if pol.PeriodicCapture && in.TotalMonths < 1 {
		return nil, fmt.Errorf("%w: rental needs at least one month", common.ErrInvalidState)
	}

	if in.PaymentProvider != "" && in.PaymentProviderID != "" {
		var existing models.Order
		err := tx.Where("payment_provider = ? AND payment_provider_id = ?", in.PaymentProvider, in.PaymentProviderID).
			First(&existing).Error
		if err == nil {
			if existing.BuyerID != in.BuyerID || existing.ListingID != in.ListingID {
				return nil, fmt.Errorf("%w: payment reference already belongs to order %s", common.ErrIdempotencyKeyReused, existing.OrderCode)
			}
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	deposit := pol.DepositPercent
	if in.DepositPercent != nil {
		deposit = *in.DepositPercent
	}
	orderDate := in.OrderDate
	if orderDate.IsZero() {
		orderDate = s.now()
	}

	o := &models.Order{
		ID:                 uuid.New(),
		OrderCode:          models.GenerateOrderCode(),
		Domain:             in.Domain,
		ListingID:          in.ListingID,
		BuyerID:            in.BuyerID,
		SellerID:           in.SellerID,
		Status:             models.OrderStatusCreated,
		HoldStatus:         models.HoldStatusNone,
		Currency:           s.Currency,
		TotalPrice:         in.TotalPrice,
		AmountPaid:         decimal.Zero,
		HeldAmount:         decimal.Zero,
		DepositPercentUsed: deposit,
		OrderDate:          orderDate,
		CancelWindowDays:   pol.CancelWindowDays,
		TotalMonths:        in.TotalMonths,
	}
	if pol.CancelWindowDays > 0 {
		until := orderDate.AddDate(0, 0, pol.CancelWindowDays)
		o.CancelUntil = &until
	}
	if in.PaymentProvider != "" && in.PaymentProviderID != "" {
		provider, pid := in.PaymentProvider, in.PaymentProviderID
		o.PaymentProvider, o.PaymentProviderID = &provider, &pid
	}
	if len(in.Extras) > 0 {
		raw, err := json.Marshal(in.Extras)
		if err != nil {
			return nil, fmt.Errorf("encode order extras: %w", err)
		}
		o.Extras = datatypes.JSON(raw)
	}

	if pol.Hold == HoldAtCreate && deposit.IsPositive() {
		// a deposit share that rounds to zero holds nothing
		if hold := escrow.MaxHold(o); hold.IsPositive() {
			if _, err := s.Escrow.PlaceHoldTx(tx, o, hold); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.Create(o).Error; err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	metrics.OrderTransitions.WithLabelValues(string(o.Domain), "create", string(o.Status)).Inc()
	return o, nil
}

// Fire applies event to the order on behalf of actingUserID, who must be
// the order's buyer or seller.
func (s *OrderService) Fire(ctx context.Context, orderID, actingUserID uuid.UUID, ev Event) (*models.Order, error) {
	var o models.Order
	err := s.Tx.Keyed(ctx, "order_"+string(ev), escrow.OrderScope, orderID.String(), func(tx *gorm.DB) error {
		o = models.Order{}
		if err := load(tx, orderID, &o); err != nil {
			return err
		}
		actor, err := ActorFor(&o, actingUserID)
		if err != nil {
			return err
		}
		return s.FireTx(tx, &o, actor, ev)
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(&o, string(ev), actingUserID)
	s.notify(ctx, &o)
	return &o, nil
}

// FireTx validates the transition against the table, then runs its escrow
// action and persists the order with a version check. Nothing is touched
// when validation fails. This should be called within a DB transaction.
func (s *OrderService) FireTx(tx *gorm.DB, o *models.Order, actor Actor, ev Event) error {
	tr, ok := Lookup(o.Domain, o.Status, ev)
	if !ok {
		return fmt.Errorf("%w: %s order %s cannot %s from %s", common.ErrInvalidStateTransition, o.Domain, o.OrderCode, ev, o.Status)
	}
	if !tr.Allows(actor) {
		return fmt.Errorf("%w: %s may not %s this order", common.ErrForbidden, actor, ev)
	}
	if ev == EventCancel && o.CancelUntil != nil && s.now().After(*o.CancelUntil) {
		return fmt.Errorf("%w: order %s could be cancelled until %s", common.ErrCancellationWindowClosed,
			o.OrderCode, o.CancelUntil.Format(time.RFC3339))
	}

	to := tr.To
	switch tr.Action {
	case ActionPlaceHold:
		if hold := escrow.MaxHold(o); hold.IsPositive() {
			if _, err := s.Escrow.PlaceHoldTx(tx, o, hold); err != nil {
				return err
			}
		}
	case ActionCapture:
		if o.HoldStatus.Open() {
			if _, _, err := s.Escrow.CaptureHoldTx(tx, o); err != nil {
				return err
			}
		}
		if o.TotalMonths > 0 {
			o.MonthsPaid = o.TotalMonths
		}
	case ActionCapturePeriod:
		period := o.MonthsPaid + 1
		remaining := o.TotalMonths - o.MonthsPaid
		if remaining < 1 {
			return fmt.Errorf("%w: all %d periods are paid", common.ErrInvalidStateTransition, o.TotalMonths)
		}
		if o.HoldStatus.Open() {
			share := money.Share(o.HeldAmount, remaining)
			if share.IsPositive() {
				if _, _, err := s.Escrow.CapturePartialTx(tx, o, share, period); err != nil {
					return err
				}
			}
		}
		o.MonthsPaid = period
		if o.MonthsPaid == o.TotalMonths {
			to = models.OrderStatusCompleted
		}
	case ActionRelease:
		if o.HoldStatus.Open() {
			if _, err := s.Escrow.CancelHoldTx(tx, o); err != nil {
				return err
			}
		}
	}

	from := o.Status
	o.Status = to
	if err := db.CompareAndSwap(tx, &models.Order{}, o.ID, o.Version, o.Changes()); err != nil {
		return err
	}
	o.Version++

	metrics.OrderTransitions.WithLabelValues(string(o.Domain), string(ev), string(to)).Inc()
	log.WithFields(log.Fields{
		"order_id": o.ID,
		"domain":   o.Domain,
		"event":    ev,
		"from":     from,
		"to":       to,
		"action":   tr.Action.String(),
	}).Debug("order transition applied")
	return nil
}

func (s *OrderService) Submit(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	return s.Fire(ctx, orderID, userID, EventSubmit)
}

func (s *OrderService) Confirm(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	return s.Fire(ctx, orderID, userID, EventConfirm)
}

func (s *OrderService) Start(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	return s.Fire(ctx, orderID, userID, EventStart)
}

func (s *OrderService) Complete(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	return s.Fire(ctx, orderID, userID, EventComplete)
}

// PayPeriod pays one rental period out of the hold.
func (s *OrderService) PayPeriod(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	return s.Fire(ctx, orderID, userID, EventPayPeriod)
}

func (s *OrderService) Cancel(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	return s.Fire(ctx, orderID, userID, EventCancel)
}

func (s *OrderService) Dispute(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	return s.Fire(ctx, orderID, userID, EventDispute)
}

// Get returns the order if userID is one of its parties.
func (s *OrderService) Get(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	var o models.Order
	if err := load(s.DB.WithContext(ctx), orderID, &o); err != nil {
		return nil, err
	}
	if _, err := ActorFor(&o, userID); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListForUser returns orders where userID is buyer or seller, newest first.
func (s *OrderService) ListForUser(ctx context.Context, userID uuid.UUID, status models.OrderStatus, limit, offset int) ([]models.Order, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	q := s.DB.WithContext(ctx).Model(&models.Order{}).Where("(buyer_id = ? OR seller_id = ?)", userID, userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []models.Order
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ActorFor resolves the acting user's role on the order.
func ActorFor(o *models.Order, userID uuid.UUID) (Actor, error) {
	switch userID {
	case o.BuyerID:
		return ActorBuyer, nil
	case o.SellerID:
		return ActorSeller, nil
	}
	return "", fmt.Errorf("%w: user is not a party to order %s", common.ErrForbidden, o.OrderCode)
}

func load(tx *gorm.DB, orderID uuid.UUID, o *models.Order) error {
	if err := tx.First(o, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: order %s", common.ErrNotFound, orderID)
		}
		return err
	}
	return nil
}

func (s *OrderService) logTransition(o *models.Order, ev string, by uuid.UUID) {
	log.WithFields(log.Fields{
		"order_id":   o.ID,
		"order_code": o.OrderCode,
		"domain":     o.Domain,
		"event":      ev,
		"status":     o.Status,
		"hold":       o.HoldStatus,
		"by":         by,
	}).Info("order updated")
}

func (s *OrderService) notify(ctx context.Context, o *models.Order) {
	if s.Notifier == nil {
		return
	}
	payload := map[string]interface{}{
		"order_id":    o.ID,
		"order_code":  o.OrderCode,
		"domain":      o.Domain,
		"status":      o.Status,
		"hold_status": o.HoldStatus,
		"held_amount": o.HeldAmount,
		"amount_paid": o.AmountPaid,
	}
	s.Notifier.Publish(ctx, o.BuyerID, realtime.EventOrderUpdate, payload)
	s.Notifier.Publish(ctx, o.SellerID, realtime.EventOrderUpdate, payload)
}
