package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/money"
)

// History returns a wallet's entries, newest first.
func (s *WalletService) History(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]models.WalletTransaction, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	q := s.DB.WithContext(ctx).Model(&models.WalletTransaction{}).Where("wallet_id = ?", walletID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []models.WalletTransaction
	if err := q.Order("sequence DESC").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// WalletForUser loads the wallet owned by userID.
func (s *WalletService) WalletForUser(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := s.DB.WithContext(ctx).First(&w, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no wallet for user %s", common.ErrNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Replay folds entries, in sequence order, from zero balances.
func Replay(entries []models.WalletTransaction) (balance, reserved decimal.Decimal) {
	balance, reserved = decimal.Zero, decimal.Zero
	for _, e := range entries {
		switch e.Direction {
		case models.DirectionCredit:
			balance = balance.Add(e.Amount)
		case models.DirectionDebit:
			balance = balance.Sub(e.Amount)
		case models.DirectionHold:
			reserved = reserved.Add(e.Amount)
		case models.DirectionRelease:
			reserved = reserved.Sub(e.Amount)
		case models.DirectionCaptureOut:
			balance = balance.Sub(e.Amount)
			reserved = reserved.Sub(e.Amount)
		}
	}
	return balance, reserved
}

// Audit replays a wallet's full history and compares it with the stored
// balances. A mismatch means the ledger was written outside this service.
func (s *WalletService) Audit(ctx context.Context, walletID uuid.UUID) error {
	db := s.DB.WithContext(ctx)

	var w models.Wallet
	if err := db.First(&w, "id = ?", walletID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: wallet %s", common.ErrNotFound, walletID)
		}
		return err
	}

	var entries []models.WalletTransaction
	if err := db.Where("wallet_id = ?", walletID).Order("sequence ASC").Find(&entries).Error; err != nil {
		return err
	}

	balance, reserved := Replay(entries)
	if !balance.Equal(w.Balance) || !reserved.Equal(w.ReservedBalance) {
		return fmt.Errorf("%w: wallet %s stores %s/%s but ledger folds to %s/%s", common.ErrInvalidState, w.ID,
			w.Balance.StringFixed(money.Scale), w.ReservedBalance.StringFixed(money.Scale),
			balance.StringFixed(money.Scale), reserved.StringFixed(money.Scale))
	}
	return nil
}
