package wallet

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/db"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/money"
)

type movement struct {
	walletID    uuid.UUID
	typ         models.WalletTrxType
	dir         models.WalletTrxDirection
	entry       Entry
	correlation *uuid.UUID
}

// single applies a one-wallet movement, returning the prior entry when the
// idempotency key was already applied.
func (s *WalletService) single(tx *gorm.DB, walletID uuid.UUID, typ models.WalletTrxType, dir models.WalletTrxDirection, e Entry) (*models.WalletTransaction, error) {
	if err := money.Positive(e.Amount); err != nil {
		return nil, err
	}
	if e.Key != "" {
		prior, err := s.findByKey(tx, walletID, e.Key)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			if err := sameRequest(prior, typ, e.Amount); err != nil {
				return nil, err
			}
			return prior, nil
		}
	}
	return s.apply(tx, movement{walletID: walletID, typ: typ, dir: dir, entry: e})
}

// apply reads the wallet, checks the movement against its balances, writes
// the new balances with a version check and appends the ledger entry.
func (s *WalletService) apply(tx *gorm.DB, m movement) (*models.WalletTransaction, error) {
	var w models.Wallet
	if err := tx.First(&w, "id = ?", m.walletID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: wallet %s", common.ErrNotFound, m.walletID)
		}
		return nil, err
	}
	if w.Status == models.WalletStatusClosed {
		return nil, common.ErrWalletClosed
	}

	amount := m.entry.Amount
	balance, reserved := w.Balance, w.ReservedBalance
	switch m.dir {
	case models.DirectionCredit:
		balance = balance.Add(amount)
	case models.DirectionDebit:
		if w.Spendable().LessThan(amount) {
			return nil, fmt.Errorf("%w: spendable %s, requested %s", common.ErrInsufficientFunds,
				w.Spendable().StringFixed(money.Scale), amount.StringFixed(money.Scale))
		}
		balance = balance.Sub(amount)
	case models.DirectionHold:
		if w.Spendable().LessThan(amount) {
			return nil, fmt.Errorf("%w: spendable %s, requested %s", common.ErrInsufficientFunds,
				w.Spendable().StringFixed(money.Scale), amount.StringFixed(money.Scale))
		}
		reserved = reserved.Add(amount)
	case models.DirectionRelease:
		if reserved.LessThan(amount) {
			return nil, fmt.Errorf("%w: reserved %s, release %s", common.ErrInvalidState,
				reserved.StringFixed(money.Scale), amount.StringFixed(money.Scale))
		}
		reserved = reserved.Sub(amount)
	case models.DirectionCaptureOut:
		if reserved.LessThan(amount) {
			return nil, fmt.Errorf("%w: reserved %s, capture %s", common.ErrInvalidState,
				reserved.StringFixed(money.Scale), amount.StringFixed(money.Scale))
		}
		balance = balance.Sub(amount)
		reserved = reserved.Sub(amount)
	default:
		return nil, fmt.Errorf("unknown ledger direction %q", m.dir)
	}

	if err := compareAndSwap(tx, &w, balance, reserved); err != nil {
		return nil, err
	}

	entry := &models.WalletTransaction{
		WalletID:      w.ID,
		Sequence:      w.Version,
		Type:          m.typ,
		Status:        models.WalletTrxCompleted,
		Direction:     m.dir,
		Amount:        amount,
		BalanceAfter:  balance,
		ReservedAfter: reserved,
		Currency:      w.Currency,
		CorrelationID: m.correlation,
		ReferenceID:   m.entry.ReferenceID,
		Note:          m.entry.Note,
	}
	if m.entry.Key != "" {
		key := m.entry.Key
		entry.IdempotencyKey = &key
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	return entry, nil
}

// compareAndSwap writes new balances only if nobody bumped the version since
// the wallet was read.
func compareAndSwap(tx *gorm.DB, w *models.Wallet, balance, reserved decimal.Decimal) error {
	err := db.CompareAndSwap(tx, &models.Wallet{}, w.ID, w.Version, map[string]interface{}{
		"balance":          balance,
		"reserved_balance": reserved,
	})
	if err != nil {
		return err
	}
	w.Balance = balance
	w.ReservedBalance = reserved
	w.Version++
	return nil
}

func (s *WalletService) findByKey(tx *gorm.DB, walletID uuid.UUID, key string) (*models.WalletTransaction, error) {
	var prior models.WalletTransaction
	err := tx.Where("wallet_id = ? AND idempotency_key = ?", walletID, key).First(&prior).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prior, nil
}

// creditFor loads the destination side of a capture pair.
func (s *WalletService) creditFor(tx *gorm.DB, debit *models.WalletTransaction) (*models.WalletTransaction, error) {
	if debit.CorrelationID == nil {
		return nil, fmt.Errorf("%w: entry %s is not part of a capture", common.ErrInvalidState, debit.ID)
	}
	var credit models.WalletTransaction
	err := tx.Where("correlation_id = ? AND direction = ?", *debit.CorrelationID, models.DirectionCredit).
		First(&credit).Error
	if err != nil {
		return nil, fmt.Errorf("load capture credit: %w", err)
	}
	return &credit, nil
}

func sameRequest(prior *models.WalletTransaction, typ models.WalletTrxType, amount decimal.Decimal) error {
	if prior.Type != typ || !prior.Amount.Equal(amount) {
		return fmt.Errorf("%w: key %q was applied as %s %s", common.ErrIdempotencyKeyReused,
			deref(prior.IdempotencyKey), prior.Type, prior.Amount.StringFixed(money.Scale))
	}
	return nil
}

func lessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
