package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/money"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/wallet"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/testutil"
)

type fixture struct {
	ledger *wallet.WalletService
	escrow *EscrowService
	buyer  *models.Wallet
	seller *models.Wallet
}

func setup(t *testing.T, buyerFunds string) *fixture {
	t.Helper()
	ctx := context.Background()
	ledger := wallet.NewWalletService(testutil.NewDB(t), nil, nil, "IDR")
	ledger.Backoff = time.Millisecond

	buyer, err := ledger.EnsureWallet(ctx, uuid.New())
	require.NoError(t, err)
	seller, err := ledger.EnsureWallet(ctx, uuid.New())
	require.NoError(t, err)
	_, err = ledger.Deposit(ctx, buyer.ID, wallet.Entry{Amount: money.MustParse(buyerFunds)})
	require.NoError(t, err)

	return &fixture{ledger: ledger, escrow: NewEscrowService(ledger), buyer: buyer, seller: seller}
}

func (f *fixture) order(t *testing.T, total, depositPct string) *models.Order {
	t.Helper()
	o := &models.Order{
		Domain:             models.DomainMachine,
		ListingID:          uuid.New(),
		BuyerID:            f.buyer.UserID,
		SellerID:           f.seller.UserID,
		Status:             models.OrderStatusCreated,
		Currency:           "IDR",
		TotalPrice:         money.MustParse(total),
		DepositPercentUsed: money.MustParse(depositPct),
		OrderDate:          time.Now(),
	}
	require.NoError(t, f.ledger.DB.Create(o).Error)
	return o
}

func (f *fixture) wallet(t *testing.T, id uuid.UUID) (string, string) {
	t.Helper()
	var w models.Wallet
	require.NoError(t, f.ledger.DB.First(&w, "id = ?", id).Error)
	return w.Balance.StringFixed(2), w.ReservedBalance.StringFixed(2)
}

func TestHoldCaptureThenCancelFails(t *testing.T) {
	f := setup(t, "100")
	ctx := context.Background()
	o := f.order(t, "30", "100")

	held, err := f.escrow.PlaceHold(ctx, o.ID, money.MustParse("30"))
	require.NoError(t, err)
	assert.Equal(t, models.HoldStatusHeld, held.HoldStatus)
	bal, res := f.wallet(t, f.buyer.ID)
	assert.Equal(t, "100.00", bal)
	assert.Equal(t, "30.00", res)

	captured, err := f.escrow.CaptureHold(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldStatusCaptured, captured.HoldStatus)
	assert.Equal(t, "0.00", captured.HeldAmount.StringFixed(2))
	assert.Equal(t, "30.00", captured.AmountPaid.StringFixed(2))

	bal, res = f.wallet(t, f.buyer.ID)
	assert.Equal(t, "70.00", bal)
	assert.Equal(t, "0.00", res)
	bal, _ = f.wallet(t, f.seller.ID)
	assert.Equal(t, "30.00", bal)

	_, err = f.escrow.CancelHold(ctx, o.ID)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	_, err = f.escrow.CaptureHold(ctx, o.ID)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	bal, _ = f.wallet(t, f.seller.ID)
	assert.Equal(t, "30.00", bal, "second resolution moved nothing")
}

func TestCancelThenCaptureFails(t *testing.T) {
	f := setup(t, "100")
	ctx := context.Background()
	o := f.order(t, "50", "20")

	_, err := f.escrow.PlaceHold(ctx, o.ID, money.MustParse("10"))
	require.NoError(t, err)

	released, err := f.escrow.CancelHold(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldStatusReleased, released.HoldStatus)
	assert.True(t, released.HeldAmount.IsZero())

	_, err = f.escrow.CaptureHold(ctx, o.ID)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	_, err = f.escrow.CancelHold(ctx, o.ID)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	bal, res := f.wallet(t, f.buyer.ID)
	assert.Equal(t, "100.00", bal)
	assert.Equal(t, "0.00", res)
}

func TestHoldNeverExceedsDeposit(t *testing.T) {
	f := setup(t, "1000")
	o := f.order(t, "200", "10")

	_, err := f.escrow.PlaceHold(context.Background(), o.ID, money.MustParse("20.01"))
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, err = f.escrow.PlaceHold(context.Background(), o.ID, money.MustParse("20"))
	require.NoError(t, err)

	_, err = f.escrow.PlaceHold(context.Background(), o.ID, money.MustParse("5"))
	assert.ErrorIs(t, err, common.ErrInvalidState, "one hold per order")
}

func TestHoldRequiresSpendableFunds(t *testing.T) {
	f := setup(t, "10")
	o := f.order(t, "100", "50")

	_, err := f.escrow.PlaceHold(context.Background(), o.ID, money.MustParse("50"))
	assert.ErrorIs(t, err, common.ErrInsufficientFunds)

	var stored models.Order
	require.NoError(t, f.ledger.DB.First(&stored, "id = ?", o.ID).Error)
	assert.Equal(t, models.HoldStatusNone, stored.HoldStatus)
}

func TestPartialCaptures(t *testing.T) {
	f := setup(t, "300")
	ctx := context.Background()
	o := f.order(t, "100", "100")

	_, err := f.escrow.PlaceHold(ctx, o.ID, money.MustParse("100"))
	require.NoError(t, err)

	var stored models.Order
	require.NoError(t, f.ledger.DB.First(&stored, "id = ?", o.ID).Error)

	err = f.ledger.Atomic(ctx, "period", func(tx *gorm.DB) error {
		_, _, err := f.escrow.CapturePartialTx(tx, &stored, money.MustParse("40"), 1)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, models.HoldStatusPartiallyCaptured, stored.HoldStatus)
	assert.Equal(t, "60.00", stored.HeldAmount.StringFixed(2))

	err = f.ledger.Atomic(ctx, "period", func(tx *gorm.DB) error {
		_, _, err := f.escrow.CapturePartialTx(tx, &stored, money.MustParse("60.01"), 2)
		return err
	})
	assert.ErrorIs(t, err, common.ErrInvalidState)

	err = f.ledger.Atomic(ctx, "period", func(tx *gorm.DB) error {
		_, _, err := f.escrow.CapturePartialTx(tx, &stored, money.MustParse("60"), 2)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, models.HoldStatusCaptured, stored.HoldStatus)
	assert.Equal(t, "100.00", stored.AmountPaid.StringFixed(2))

	bal, res := f.wallet(t, f.buyer.ID)
	assert.Equal(t, "200.00", bal)
	assert.Equal(t, "0.00", res)
	require.NoError(t, f.ledger.Audit(ctx, f.buyer.ID))
	require.NoError(t, f.ledger.Audit(ctx, f.seller.ID))
}

func TestMaxHold(t *testing.T) {
	o := &models.Order{TotalPrice: money.MustParse("60")}
	assert.Equal(t, "60.00", MaxHold(o).StringFixed(2))
	o.DepositPercentUsed = money.MustParse("10")
	assert.Equal(t, "6.00", MaxHold(o).StringFixed(2))
}
