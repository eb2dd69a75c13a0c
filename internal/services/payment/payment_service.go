// Package payment consumes payment-provider webhooks exactly once per
// (provider, provider payment id) and turns them into ledger entries.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/metrics"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/money"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/realtime"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/wallet"
)

type Ledger interface {
	Keyed(ctx context.Context, op, scope, key string, fn func(tx *gorm.DB) error) error
	EnsureWalletTx(tx *gorm.DB, userID uuid.UUID) (*models.Wallet, error)
	DepositTx(tx *gorm.DB, walletID uuid.UUID, e wallet.Entry) (*models.WalletTransaction, error)
	WithdrawTx(tx *gorm.DB, walletID uuid.UUID, e wallet.Entry) (*models.WalletTransaction, error)
	RefundTx(tx *gorm.DB, walletID uuid.UUID, e wallet.Entry) (*models.WalletTransaction, error)
}

// WebhookEvent is the provider-neutral shape adapters deliver.
type WebhookEvent struct {
	Provider          string               `json:"provider" validate:"required,max=50"`
	ProviderPaymentID string               `json:"provider_payment_id" validate:"required,max=100"`
	UserID            uuid.UUID            `json:"user_id" validate:"required"`
	Amount            decimal.Decimal      `json:"amount"`
	Currency          string               `json:"currency" validate:"omitempty,len=3"`
	Status            models.PaymentStatus `json:"status" validate:"required,oneof=pending succeeded failed"`
	Kind              models.PaymentKind   `json:"kind" validate:"omitempty,oneof=payment payout"`
	Raw               json.RawMessage      `json:"-"`
}

// Result reports what a webhook delivery did. Duplicate deliveries are
// accepted and change nothing.
type Result struct {
	Payment   *models.PaymentTransaction `json:"payment"`
	Duplicate bool                       `json:"duplicate"`
}

type PaymentService struct {
	DB       *gorm.DB
	Ledger   Ledger
	Notifier realtime.Publisher
	Currency string
}

func NewPaymentService(gdb *gorm.DB, ledger Ledger, notifier realtime.Publisher, currency string) *PaymentService {
	if currency == "" {
		currency = money.DefaultCurrency
	}
	return &PaymentService{DB: gdb, Ledger: ledger, Notifier: notifier, Currency: currency}
}

// RefundKey is the ledger idempotency key of a failed payout's refund.
func RefundKey(providerPaymentID string) string { return "refund:" + providerPaymentID }

// RecordWebhook stores the event and applies its ledger effect once:
// a succeeded payment deposits, a failed payout refunds. A delivery for an
// already settled payment is a no-op.
func (s *PaymentService) RecordWebhook(ctx context.Context, ev WebhookEvent) (*Result, error) {
	if err := s.validate(&ev); err != nil {
		metrics.WebhooksReceived.WithLabelValues(ev.Provider, "rejected").Inc()
		return nil, err
	}

	var res Result
	err := s.Ledger.Keyed(ctx, "payment_webhook", "payment:"+ev.Provider, ev.ProviderPaymentID, func(tx *gorm.DB) error {
		res = Result{}
		var existing models.PaymentTransaction
		err := tx.Where("provider = ? AND provider_payment_id = ?", ev.Provider, ev.ProviderPaymentID).
			First(&existing).Error
		switch {
		case err == nil:
			if existing.Status != models.PaymentStatusPending || ev.Status == models.PaymentStatusPending {
				res.Payment, res.Duplicate = &existing, true
				return nil
			}
			if existing.UserID != ev.UserID || !existing.Amount.Equal(ev.Amount) {
				return fmt.Errorf("%w: event does not match recorded payment %s", common.ErrIdempotencyKeyReused, existing.ID)
			}
			return s.settle(tx, &existing, ev, &res)
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		p := &models.PaymentTransaction{
			UserID:            ev.UserID,
			Provider:          ev.Provider,
			ProviderPaymentID: ev.ProviderPaymentID,
			Kind:              ev.Kind,
			Amount:            ev.Amount,
			Currency:          ev.Currency,
			Status:            models.PaymentStatusPending,
			RawPayload:        raw(ev.Raw),
		}
		if err := tx.Create(p).Error; err != nil {
			// a concurrent delivery won the unique index; the retry sees its row
			return fmt.Errorf("record payment: %w", err)
		}
		if ev.Status == models.PaymentStatusPending {
			res.Payment = p
			return nil
		}
		return s.settle(tx, p, ev, &res)
	})
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(ev.Provider, common.Code(err)).Inc()
		return nil, err
	}

	outcome := string(res.Payment.Status)
	if res.Duplicate {
		outcome = "duplicate"
	}
	metrics.WebhooksReceived.WithLabelValues(ev.Provider, outcome).Inc()
	log.WithFields(log.Fields{
		"provider":   ev.Provider,
		"payment_id": ev.ProviderPaymentID,
		"user_id":    ev.UserID,
		"status":     ev.Status,
		"kind":       res.Payment.Kind,
		"duplicate":  res.Duplicate,
	}).Info("payment webhook processed")

	if !res.Duplicate && s.Notifier != nil {
		s.Notifier.Publish(ctx, res.Payment.UserID, realtime.EventPaymentUpdate, res.Payment)
	}
	return &res, nil
}

// settle moves a pending payment to the event's final status and applies
// the ledger effect.
func (s *PaymentService) settle(tx *gorm.DB, p *models.PaymentTransaction, ev WebhookEvent, res *Result) error {
	var entry *models.WalletTransaction
	ref := p.ID

	switch {
	case p.Kind == models.PaymentKindPayment && ev.Status == models.PaymentStatusSucceeded:
		w, err := s.Ledger.EnsureWalletTx(tx, p.UserID)
		if err != nil {
			return err
		}
		entry, err = s.Ledger.DepositTx(tx, w.ID, wallet.Entry{
			Amount:      p.Amount,
			Key:         p.ProviderPaymentID,
			ReferenceID: &ref,
			Note:        fmt.Sprintf("top up via %s", p.Provider),
		})
		if err != nil {
			return err
		}
	case p.Kind == models.PaymentKindPayout && ev.Status == models.PaymentStatusFailed && p.WalletTransactionID != nil:
		// only payouts this service debited are refunded
		w, err := s.Ledger.EnsureWalletTx(tx, p.UserID)
		if err != nil {
			return err
		}
		entry, err = s.Ledger.RefundTx(tx, w.ID, wallet.Entry{
			Amount:      p.Amount,
			Key:         RefundKey(p.ProviderPaymentID),
			ReferenceID: &ref,
			Note:        fmt.Sprintf("payout via %s failed", p.Provider),
		})
		if err != nil {
			return err
		}
	}

	updates := map[string]interface{}{"status": ev.Status}
	if entry != nil {
		updates["wallet_transaction_id"] = entry.ID
		p.WalletTransactionID = &entry.ID
	}
	if len(ev.Raw) > 0 {
		updates["raw_payload"] = raw(ev.Raw)
	}
	if err := tx.Model(&models.PaymentTransaction{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}
	p.Status = ev.Status
	res.Payment = p
	return nil
}

type PayoutRequest struct {
	UserID    uuid.UUID
	Amount    decimal.Decimal
	Provider  string
	Reference string // idempotency key, becomes the provider payment id
	Note      string
}

// RequestPayout debits the wallet now and records a pending payout. The
// provider's later webhook settles it; a failure refunds the amount.
func (s *PaymentService) RequestPayout(ctx context.Context, req PayoutRequest) (*models.PaymentTransaction, error) {
	if err := money.Positive(req.Amount); err != nil {
		return nil, err
	}
	if req.Provider == "" || req.Reference == "" {
		return nil, fmt.Errorf("%w: payout provider and reference are required", common.ErrInvalidState)
	}

	var out *models.PaymentTransaction
	err := s.Ledger.Keyed(ctx, "request_payout", "payout:"+req.Provider, req.Reference, func(tx *gorm.DB) error {
		out = nil
		var existing models.PaymentTransaction
		err := tx.Where("provider = ? AND provider_payment_id = ?", req.Provider, req.Reference).First(&existing).Error
		if err == nil {
			if existing.Kind != models.PaymentKindPayout || existing.UserID != req.UserID || !existing.Amount.Equal(req.Amount) {
				return fmt.Errorf("%w: reference %q already used", common.ErrIdempotencyKeyReused, req.Reference)
			}
			out = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		w, err := s.Ledger.EnsureWalletTx(tx, req.UserID)
		if err != nil {
			return err
		}
		p := &models.PaymentTransaction{
			ID:                uuid.New(),
			UserID:            req.UserID,
			Provider:          req.Provider,
			ProviderPaymentID: req.Reference,
			Kind:              models.PaymentKindPayout,
			Amount:            req.Amount,
			Currency:          s.Currency,
			Status:            models.PaymentStatusPending,
			Note:              req.Note,
		}
		ref := p.ID
		entry, err := s.Ledger.WithdrawTx(tx, w.ID, wallet.Entry{
			Amount:      req.Amount,
			Key:         "payout:" + req.Reference,
			ReferenceID: &ref,
			Note:        fmt.Sprintf("payout via %s", req.Provider),
		})
		if err != nil {
			return err
		}
		p.WalletTransactionID = &entry.ID
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("record payout: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"user_id": req.UserID, "amount": req.Amount.StringFixed(money.Scale), "provider": req.Provider}).
		Info("payout requested")
	if s.Notifier != nil {
		s.Notifier.Publish(ctx, req.UserID, realtime.EventPaymentUpdate, out)
	}
	return out, nil
}

// ListForUser returns a user's payment records, newest first.
func (s *PaymentService) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.PaymentTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var items []models.PaymentTransaction
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&items).Error
	return items, err
}

func (s *PaymentService) validate(ev *WebhookEvent) error {
	ev.Provider = strings.ToLower(strings.TrimSpace(ev.Provider))
	ev.ProviderPaymentID = strings.TrimSpace(ev.ProviderPaymentID)
	if ev.Provider == "" || ev.ProviderPaymentID == "" {
		return fmt.Errorf("%w: provider and provider payment id are required", common.ErrInvalidState)
	}
	if ev.UserID == uuid.Nil {
		return fmt.Errorf("%w: user id is required", common.ErrInvalidState)
	}
	if err := money.Positive(ev.Amount); err != nil {
		return err
	}
	if ev.Currency == "" {
		ev.Currency = s.Currency
	}
	if !strings.EqualFold(ev.Currency, s.Currency) {
		return fmt.Errorf("%w: currency %s, ledger runs in %s", common.ErrInvalidAmount, ev.Currency, s.Currency)
	}
	ev.Currency = s.Currency
	if ev.Kind == "" {
		ev.Kind = models.PaymentKindPayment
	}
	switch ev.Status {
	case models.PaymentStatusPending, models.PaymentStatusSucceeded, models.PaymentStatusFailed:
	default:
		return fmt.Errorf("%w: unknown payment status %q", common.ErrInvalidState, ev.Status)
	}
	switch ev.Kind {
	case models.PaymentKindPayment, models.PaymentKindPayout:
	default:
		return fmt.Errorf("%w: unknown payment kind %q", common.ErrInvalidState, ev.Kind)
	}
	return nil
}

func raw(b json.RawMessage) datatypes.JSON {
	if len(b) == 0 {
		return nil
	}
	return datatypes.JSON(b)
}

// Find loads the record for a provider payment id.
func (s *PaymentService) Find(ctx context.Context, provider, providerPaymentID string) (*models.PaymentTransaction, error) {
	var p models.PaymentTransaction
	err := s.DB.WithContext(ctx).
		Where("provider = ? AND provider_payment_id = ?", strings.ToLower(provider), providerPaymentID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: payment %s/%s", common.ErrNotFound, provider, providerPaymentID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
