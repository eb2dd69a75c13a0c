package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/db"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/money"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/realtime"
)

// IdempotencyGuard short-circuits replays before they reach the database and
// serializes concurrent requests carrying the same key. The database unique
// index on (wallet_id, idempotency_key) stays authoritative.
type IdempotencyGuard interface {
	Recall(ctx context.Context, scope, key string) (uuid.UUID, bool)
	Lock(ctx context.Context, scope, key string) (unlock func(), err error)
	Remember(ctx context.Context, scope, key string, resultID uuid.UUID)
}

// Entry describes one requested ledger movement.
type Entry struct {
	Amount      decimal.Decimal
	Key         string     // optional idempotency key, unique per wallet
	ReferenceID *uuid.UUID // order or payment the movement belongs to
	Note        string
}

// Balance is the read model handed to display layers.
type Balance struct {
	WalletID  uuid.UUID       `json:"wallet_id"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
}

type WalletService struct {
	DB       *gorm.DB
	Guard    IdempotencyGuard
	Notifier realtime.Publisher
	Currency string

	MaxAttempts int
	Backoff     time.Duration
}

func NewWalletService(db *gorm.DB, guard IdempotencyGuard, notifier realtime.Publisher, currency string) *WalletService {
	if currency == "" {
		currency = money.DefaultCurrency
	}
	return &WalletService{
		DB:          db,
		Guard:       guard,
		Notifier:    notifier,
		Currency:    currency,
		MaxAttempts: 3,
		Backoff:     25 * time.Millisecond,
	}
}

// EnsureWalletTx returns the user's wallet, creating it on first use.
// This should be called within a DB transaction.
func (s *WalletService) EnsureWalletTx(tx *gorm.DB, userID uuid.UUID) (*models.Wallet, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: wallet owner is required", common.ErrNotFound)
	}
	w := models.Wallet{
		UserID:          userID,
		Currency:        s.Currency,
		Balance:         decimal.Zero,
		ReservedBalance: decimal.Zero,
		Status:          models.WalletStatusActive,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&w).Error; err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	var out models.Wallet
	if err := tx.First(&out, "user_id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("load wallet for user %s: %w", userID, err)
	}
	return &out, nil
}

// EnsureWallet is EnsureWalletTx in its own transaction.
func (s *WalletService) EnsureWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var w *models.Wallet
	err := s.Atomic(ctx, "ensure_wallet", func(tx *gorm.DB) error {
		var err error
		w, err = s.EnsureWalletTx(tx, userID)
		return err
	})
	return w, err
}

// GetBalance reads a user's balances. A user without a wallet has zero funds.
func (s *WalletService) GetBalance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	var w models.Wallet
	err := s.DB.WithContext(ctx).First(&w, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Balance{
			Available: decimal.Zero,
			Reserved:  decimal.Zero,
			Total:     decimal.Zero,
			Currency:  s.Currency,
			Status:    string(models.WalletStatusActive),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	return toBalance(&w), nil
}

// Deposit credits balance.
func (s *WalletService) Deposit(ctx context.Context, walletID uuid.UUID, e Entry) (*models.WalletTransaction, error) {
	return s.guarded(ctx, "deposit", models.WalletTrxDeposit, walletID, e, func(tx *gorm.DB) (*models.WalletTransaction, error) {
		return s.DepositTx(tx, walletID, e)
	})
}

// Reserve carves amount out of spendable funds.
func (s *WalletService) Reserve(ctx context.Context, walletID uuid.UUID, e Entry) (*models.WalletTransaction, error) {
	return s.guarded(ctx, "reserve", models.WalletTrxReserve, walletID, e, func(tx *gorm.DB) (*models.WalletTransaction, error) {
		return s.ReserveTx(tx, walletID, e)
	})
}

// ReleaseReservation returns reserved funds to spendable.
func (s *WalletService) ReleaseReservation(ctx context.Context, walletID uuid.UUID, e Entry) (*models.WalletTransaction, error) {
	return s.guarded(ctx, "release_reservation", models.WalletTrxReleaseReservation, walletID, e, func(tx *gorm.DB) (*models.WalletTransaction, error) {
		return s.ReleaseReservationTx(tx, walletID, e)
	})
}

// Withdraw debits spendable funds.
func (s *WalletService) Withdraw(ctx context.Context, walletID uuid.UUID, e Entry) (*models.WalletTransaction, error) {
	return s.guarded(ctx, "withdraw", models.WalletTrxWithdraw, walletID, e, func(tx *gorm.DB) (*models.WalletTransaction, error) {
		return s.WithdrawTx(tx, walletID, e)
	})
}

// Refund credits balance with a refund entry.
func (s *WalletService) Refund(ctx context.Context, walletID uuid.UUID, e Entry) (*models.WalletTransaction, error) {
	return s.guarded(ctx, "refund", models.WalletTrxRefund, walletID, e, func(tx *gorm.DB) (*models.WalletTransaction, error) {
		return s.RefundTx(tx, walletID, e)
	})
}

// Capture moves reserved funds from source to destination. It returns the
// debit entry on the source and the credit entry on the destination.
func (s *WalletService) Capture(ctx context.Context, srcID, dstID uuid.UUID, e Entry) (*models.WalletTransaction, *models.WalletTransaction, error) {
	var credit *models.WalletTransaction
	debit, err := s.guarded(ctx, "capture", models.WalletTrxCapture, srcID, e, func(tx *gorm.DB) (*models.WalletTransaction, error) {
		d, c, err := s.CaptureTx(tx, srcID, dstID, e)
		credit = c
		return d, err
	})
	if err != nil {
		return nil, nil, err
	}
	if credit == nil {
		// replay served from the guard; load the paired credit
		credit, err = s.creditFor(s.DB.WithContext(ctx), debit)
		if err != nil {
			return nil, nil, err
		}
	} else {
		s.notifyWallet(ctx, dstID)
	}
	return debit, credit, nil
}

// DepositTx credits balance. This should be called within a DB transaction.
func (s *WalletService) DepositTx(tx *gorm.DB, walletID uuid.UUID, e Entry) (*models.WalletTransaction, error) {
	return s.single(tx, walletID, models.WalletTrxDeposit, models.DirectionCredit, e)
}

// ReserveTx fails with ErrInsufficientFunds when balance - reserved < amount.
// This should be called within a DB transaction.
func (s *WalletService) ReserveTx(tx *gorm.DB, walletID uuid.UUID, e Entry) (*models.WalletTransaction, error) {
	return s.single(tx, walletID, models.WalletTrxReserve, models.DirectionHold, e)
}

// ReleaseReservationTx fails with ErrInvalidState when amount > reserved.
// This should be called within a DB transaction.
func (s *WalletService) ReleaseReservationTx(tx *gorm.DB, walletID uuid.UUID, e Entry) (*models.WalletTransaction, error) {
	return s.single(tx, walletID, models.WalletTrxReleaseReservation, models.DirectionRelease, e)
}

// WithdrawTx fails with ErrInsufficientFunds when spendable funds are short.
// This should be called within a DB transaction.
func (s *WalletService) WithdrawTx(tx *gorm.DB, walletID uuid.UUID, e Entry) (*models.WalletTransaction, error) {
	return s.single(tx, walletID, models.WalletTrxWithdraw, models.DirectionDebit, e)
}

// RefundTx credits balance. This should be called within a DB transaction.
func (s *WalletService) RefundTx(tx *gorm.DB, walletID uuid.UUID, e Entry) (*models.WalletTransaction, error) {
	return s.single(tx, walletID, models.WalletTrxRefund, models.DirectionCredit, e)
}

// CaptureTx debits balance and reserved on the source and credits the
// destination. Both rows are written in ascending wallet id order.
// This should be called within a DB transaction.
func (s *WalletService) CaptureTx(tx *gorm.DB, srcID, dstID uuid.UUID, e Entry) (*models.WalletTransaction, *models.WalletTransaction, error) {
	if err := money.Positive(e.Amount); err != nil {
		return nil, nil, err
	}
	if srcID == dstID {
		return nil, nil, fmt.Errorf("%w: capture source and destination are the same wallet", common.ErrInvalidState)
	}

	if e.Key != "" {
		prior, err := s.findByKey(tx, srcID, e.Key)
		if err != nil {
			return nil, nil, err
		}
		if prior != nil {
			if err := sameRequest(prior, models.WalletTrxCapture, e.Amount); err != nil {
				return nil, nil, err
			}
			credit, err := s.creditFor(tx, prior)
			if err != nil {
				return nil, nil, err
			}
			return prior, credit, nil
		}
	}

	corr := uuid.New()
	debitReq := movement{walletID: srcID, typ: models.WalletTrxCapture, dir: models.DirectionCaptureOut, entry: e, correlation: &corr}
	creditEntry := e
	creditEntry.Key = ""
	creditReq := movement{walletID: dstID, typ: models.WalletTrxCapture, dir: models.DirectionCredit, entry: creditEntry, correlation: &corr}

	var debit, credit *models.WalletTransaction
	var err error
	if lessID(srcID, dstID) {
		if debit, err = s.apply(tx, debitReq); err != nil {
			return nil, nil, err
		}
		if credit, err = s.apply(tx, creditReq); err != nil {
			return nil, nil, err
		}
	} else {
		if credit, err = s.apply(tx, creditReq); err != nil {
			return nil, nil, err
		}
		if debit, err = s.apply(tx, debitReq); err != nil {
			return nil, nil, err
		}
	}
	return debit, credit, nil
}

// CloseOut withdraws the whole balance and closes the wallet. Wallets with
// open reservations cannot be closed.
func (s *WalletService) CloseOut(ctx context.Context, userID uuid.UUID, key string) (*models.WalletTransaction, error) {
	var out *models.WalletTransaction
	err := s.Keyed(ctx, "close_out", "wallet-close:"+userID.String(), key, func(tx *gorm.DB) error {
		w, err := s.EnsureWalletTx(tx, userID)
		if err != nil {
			return err
		}
		if w.Status == models.WalletStatusClosed {
			out = nil
			if key != "" {
				out, err = s.findByKey(tx, w.ID, key)
			}
			return err
		}
		if w.ReservedBalance.IsPositive() {
			return fmt.Errorf("%w: wallet has %s reserved", common.ErrInvalidState, w.ReservedBalance.StringFixed(money.Scale))
		}
		if w.Balance.IsPositive() {
			out, err = s.WithdrawTx(tx, w.ID, Entry{Amount: w.Balance, Key: key, Note: "wallet close-out"})
			if err != nil {
				return err
			}
			w.Version++
		}
		return db.CompareAndSwap(tx, &models.Wallet{}, w.ID, w.Version, map[string]interface{}{
			"status": models.WalletStatusClosed,
		})
	})
	if err != nil {
		return nil, err
	}
	log.WithField("user_id", userID).Info("wallet closed")
	s.notify(ctx, userID)
	return out, nil
}

// guarded runs one single-wallet ledger operation under the idempotency
// guard and the bounded retry loop. A remembered key is only replayed for
// the same type and amount.
func (s *WalletService) guarded(ctx context.Context, op string, typ models.WalletTrxType, walletID uuid.UUID, e Entry, fn func(tx *gorm.DB) (*models.WalletTransaction, error)) (*models.WalletTransaction, error) {
	scope := "wallet:" + walletID.String()
	if e.Key != "" && s.Guard != nil {
		if id, ok := s.Guard.Recall(ctx, scope, e.Key); ok {
			var prior models.WalletTransaction
			if err := s.DB.WithContext(ctx).First(&prior, "id = ?", id).Error; err == nil {
				if err := sameRequest(&prior, typ, e.Amount); err != nil {
					observe(op, common.Code(err))
					return nil, err
				}
				observe(op, common.Code(common.ErrDuplicateIdempotencyKey))
				log.WithFields(log.Fields{"op": op, "wallet_id": walletID, "key": e.Key}).
					WithError(common.ErrDuplicateIdempotencyKey).Debug("ledger replay served from guard")
				return &prior, nil
			}
		}
	}

	var out *models.WalletTransaction
	err := s.Keyed(ctx, op, scope, e.Key, func(tx *gorm.DB) error {
		var err error
		out, err = fn(tx)
		return err
	})
	if err != nil {
		observe(op, common.Code(err))
		return nil, err
	}
	observe(op, "ok")

	if e.Key != "" && s.Guard != nil {
		s.Guard.Remember(ctx, scope, e.Key, out.ID)
	}
	s.notifyWallet(ctx, walletID)
	return out, nil
}

func (s *WalletService) notifyWallet(ctx context.Context, walletID uuid.UUID) {
	if s.Notifier == nil {
		return
	}
	var w models.Wallet
	if err := s.DB.WithContext(ctx).First(&w, "id = ?", walletID).Error; err != nil {
		return
	}
	s.Notifier.Publish(ctx, w.UserID, realtime.EventWalletUpdate, toBalance(&w))
}

func (s *WalletService) notify(ctx context.Context, userID uuid.UUID) {
	if s.Notifier == nil {
		return
	}
	b, err := s.GetBalance(ctx, userID)
	if err != nil {
		return
	}
	s.Notifier.Publish(ctx, userID, realtime.EventWalletUpdate, b)
}

func toBalance(w *models.Wallet) *Balance {
	return &Balance{
		WalletID:  w.ID,
		Available: w.Spendable(),
		Reserved:  w.ReservedBalance,
		Total:     w.Balance,
		Currency:  w.Currency,
		Status:    string(w.Status),
	}
}
