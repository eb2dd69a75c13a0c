package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/metrics"
)

// Atomic runs fn in one database transaction and retries the whole
// transaction on a version conflict or a lost unique-key race, up to
// MaxAttempts times. Callers composing ledger calls (escrow, orders,
// auctions, webhooks) pass their own fn and use the *Tx methods inside it.
func (s *WalletService) Atomic(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	attempts := s.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		err = s.DB.WithContext(ctx).Transaction(fn)
		if err == nil || !retryable(err) {
			return err
		}
		metrics.LedgerRetries.WithLabelValues(op).Inc()
		log.WithFields(log.Fields{"op": op, "attempt": i}).WithError(err).Debug("ledger transaction conflicted")

		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.Backoff * time.Duration(i)):
		}
	}
	if errors.Is(err, common.ErrConcurrencyConflict) {
		return err
	}
	return fmt.Errorf("%w: %v", common.ErrConcurrencyConflict, err)
}

// Keyed is Atomic run while holding the guard's in-flight lock for
// scope/key, so concurrent requests with one key apply one after another.
// Without a guard or a key it is plain Atomic.
func (s *WalletService) Keyed(ctx context.Context, op, scope, key string, fn func(tx *gorm.DB) error) error {
	if key != "" && s.Guard != nil {
		unlock, err := s.Guard.Lock(ctx, scope, key)
		if err != nil {
			return err
		}
		defer unlock()
	}
	return s.Atomic(ctx, op, fn)
}

func retryable(err error) bool {
	return errors.Is(err, common.ErrConcurrencyConflict) || errors.Is(err, gorm.ErrDuplicatedKey)
}

func observe(op, outcome string) {
	metrics.LedgerOps.WithLabelValues(op, outcome).Inc()
}
