package auction

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/money"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/realtime"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/escrow"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/orders"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/wallet"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/testutil"
)

type fixture struct {
	ledger *wallet.WalletService
	svc    *AuctionService
	rec    *realtime.Recorder
	clock  time.Time
	seller uuid.UUID
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gdb := testutil.NewDB(t)
	ledger := wallet.NewWalletService(gdb, nil, nil, "IDR")
	ledger.Backoff = time.Millisecond
	rec := realtime.NewRecorder()

	f := &fixture{
		ledger: ledger,
		rec:    rec,
		clock:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		seller: uuid.New(),
	}
	now := func() time.Time { return f.clock }
	ord := orders.NewOrderService(gdb, ledger, escrow.NewEscrowService(ledger), orders.DefaultPolicies(), rec, "IDR")
	ord.Now = now
	f.svc = NewAuctionService(gdb, ledger, ord, rec)
	f.svc.Now = now
	return f
}

func (f *fixture) bidder(t *testing.T, funds string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	user := uuid.New()
	w, err := f.ledger.EnsureWallet(ctx, user)
	require.NoError(t, err)
	_, err = f.ledger.Deposit(ctx, w.ID, wallet.Entry{Amount: money.MustParse(funds)})
	require.NoError(t, err)
	return user
}

func (f *fixture) listing(t *testing.T, start string) *models.AuctionListing {
	t.Helper()
	l, err := f.svc.CreateListing(context.Background(), CreateListingInput{
		SellerID:   f.seller,
		Title:      "Excavator PC200",
		StartPrice: money.MustParse(start),
		EndsAt:     f.clock.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return l
}

func (f *fixture) reserved(t *testing.T, user uuid.UUID) string {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), user)
	require.NoError(t, err)
	return b.Reserved.StringFixed(2)
}

func (f *fixture) order(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, f.svc.DB.First(&o, "id = ?", id).Error)
	return &o
}

func TestOutbidScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	l := f.listing(t, "50")
	a := f.bidder(t, "100")
	b := f.bidder(t, "100")

	orderA, err := f.svc.PlaceBid(ctx, l.ID, a, money.MustParse("60"))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCreated, orderA.Status)
	assert.Equal(t, "6.00", f.reserved(t, a))

	_, err = f.svc.PlaceBid(ctx, l.ID, b, money.MustParse("60"))
	assert.ErrorIs(t, err, common.ErrBidTooLow, "ties are rejected")
	assert.Equal(t, "0.00", f.reserved(t, b))

	orderB, err := f.svc.PlaceBid(ctx, l.ID, b, money.MustParse("75"))
	require.NoError(t, err)
	assert.Equal(t, "0.00", f.reserved(t, a))
	assert.Equal(t, "7.50", f.reserved(t, b))

	prev := f.order(t, orderA.ID)
	assert.Equal(t, models.OrderStatusCancelled, prev.Status)
	assert.Equal(t, models.HoldStatusReleased, prev.HoldStatus)

	got, err := f.svc.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "75.00", got.CurrentTopBid.StringFixed(2))
	require.NotNil(t, got.CurrentTopBidderID)
	assert.Equal(t, b, *got.CurrentTopBidderID)
	assert.Equal(t, orderB.ID, *got.CurrentTopOrderID)
	assert.Equal(t, 2, got.BidCount)

	assert.Equal(t, 1, f.rec.Count(a, realtime.EventOutbid))
}

func TestFirstBidMustMeetStartPrice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	l := f.listing(t, "50")
	a := f.bidder(t, "100")

	_, err := f.svc.PlaceBid(ctx, l.ID, a, money.MustParse("49.99"))
	assert.ErrorIs(t, err, common.ErrBidTooLow)

	_, err = f.svc.PlaceBid(ctx, l.ID, a, money.MustParse("50"))
	require.NoError(t, err, "start price itself is accepted")
}

func TestBidMonotonicity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	l := f.listing(t, "10")
	bidders := []uuid.UUID{f.bidder(t, "1000"), f.bidder(t, "1000"), f.bidder(t, "1000")}

	amounts := []string{"10", "12", "11", "12", "20", "19.99", "25"}
	last := money.Zero
	for i, raw := range amounts {
		amt := money.MustParse(raw)
		_, err := f.svc.PlaceBid(ctx, l.ID, bidders[i%len(bidders)], amt)

		got, gerr := f.svc.GetListing(ctx, l.ID)
		require.NoError(t, gerr)
		if err == nil {
			assert.True(t, amt.GreaterThan(last) || last.IsZero(), "accepted %s after %s", raw, last)
		} else {
			assert.ErrorIs(t, err, common.ErrBidTooLow)
		}
		assert.False(t, got.CurrentTopBid.LessThan(last), "top bid went down")
		last = got.CurrentTopBid
	}
	assert.Equal(t, "25.00", last.StringFixed(2))

	var held int64
	f.svc.DB.Model(&models.Order{}).Where("listing_id = ? AND hold_status = ?", l.ID, models.HoldStatusHeld).Count(&held)
	assert.EqualValues(t, 1, held, "only the top order holds funds")
}

func TestRaisingOwnBidReplacesHold(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	l := f.listing(t, "50")
	a := f.bidder(t, "10")

	_, err := f.svc.PlaceBid(ctx, l.ID, a, money.MustParse("60"))
	require.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, l.ID, a, money.MustParse("100"))
	require.NoError(t, err, "release happens before the new hold")
	assert.Equal(t, "10.00", f.reserved(t, a))
}

func TestFailedBidChangesNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	l := f.listing(t, "50")
	a := f.bidder(t, "100")
	poor := f.bidder(t, "1")

	orderA, err := f.svc.PlaceBid(ctx, l.ID, a, money.MustParse("60"))
	require.NoError(t, err)

	_, err = f.svc.PlaceBid(ctx, l.ID, poor, money.MustParse("70"))
	assert.ErrorIs(t, err, common.ErrInsufficientFunds)

	assert.Equal(t, "6.00", f.reserved(t, a), "previous top keeps its hold")
	assert.Equal(t, models.OrderStatusCreated, f.order(t, orderA.ID).Status)
	got, err := f.svc.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "60.00", got.CurrentTopBid.StringFixed(2))
}

func TestBidRules(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	l := f.listing(t, "50")
	a := f.bidder(t, "100")

	_, err := f.svc.PlaceBid(ctx, l.ID, f.seller, money.MustParse("60"))
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = f.svc.PlaceBid(ctx, uuid.New(), a, money.MustParse("60"))
	assert.ErrorIs(t, err, common.ErrNotFound)

	f.clock = l.EndsAt
	_, err = f.svc.PlaceBid(ctx, l.ID, a, money.MustParse("60"))
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition, "auction ended")
}

func TestCloseAuctionIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	l := f.listing(t, "50")
	a := f.bidder(t, "100")
	b := f.bidder(t, "100")

	_, err := f.svc.PlaceBid(ctx, l.ID, a, money.MustParse("60"))
	require.NoError(t, err)
	winning, err := f.svc.PlaceBid(ctx, l.ID, b, money.MustParse("80"))
	require.NoError(t, err)

	res, err := f.svc.CloseAuction(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, res.AlreadyClosed)
	require.NotNil(t, res.ConfirmedOrderID)
	assert.Equal(t, winning.ID, *res.ConfirmedOrderID)
	assert.Equal(t, models.ListingStatusSold, res.Listing.Status)
	require.NotNil(t, res.Listing.ConfirmedAt)

	o := f.order(t, winning.ID)
	assert.Equal(t, models.OrderStatusConfirmed, o.Status)
	assert.Equal(t, models.HoldStatusHeld, o.HoldStatus, "capture waits for delivery")

	again, err := f.svc.CloseAuction(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyClosed)
	assert.Equal(t, winning.ID, *again.ConfirmedOrderID)
	assert.Equal(t, 1, f.rec.Count(b, realtime.EventAuctionWon))

	_, err = f.svc.PlaceBid(ctx, l.ID, a, money.MustParse("100"))
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)
}

func TestWinnerCompletesAndSellerIsPaid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	l := f.listing(t, "50")
	a := f.bidder(t, "100")

	won, err := f.svc.PlaceBid(ctx, l.ID, a, money.MustParse("60"))
	require.NoError(t, err)
	_, err = f.svc.CloseAuction(ctx, l.ID)
	require.NoError(t, err)

	_, err = f.svc.Orders.Complete(ctx, won.ID, a)
	assert.ErrorIs(t, err, common.ErrForbidden, "the seller marks delivery")

	done, err := f.svc.Orders.Complete(ctx, won.ID, f.seller)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, done.Status)

	b, err := f.ledger.GetBalance(ctx, f.seller)
	require.NoError(t, err)
	assert.Equal(t, "6.00", b.Total.StringFixed(2))
}

func TestCloseWithoutBidsExpires(t *testing.T) {
	f := setup(t)
	l := f.listing(t, "50")

	res, err := f.svc.CloseAuction(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Nil(t, res.ConfirmedOrderID)
	assert.Equal(t, models.ListingStatusExpired, res.Listing.Status)
}

func TestCloseExpired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ended := f.listing(t, "50")
	a := f.bidder(t, "100")
	_, err := f.svc.PlaceBid(ctx, ended.ID, a, money.MustParse("55"))
	require.NoError(t, err)

	f.clock = f.clock.Add(time.Hour)
	later := f.listing(t, "50")

	n, err := f.svc.CloseExpired(ctx, ended.EndsAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetListing(ctx, ended.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusSold, got.Status)
	got, err = f.svc.GetListing(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusActive, got.Status)
}

func TestCreateListingValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateListing(ctx, CreateListingInput{SellerID: f.seller, StartPrice: money.MustParse("10"), EndsAt: f.clock.Add(-time.Minute)})
	assert.ErrorIs(t, err, common.ErrInvalidState)

	_, err = f.svc.CreateListing(ctx, CreateListingInput{SellerID: f.seller, StartPrice: money.Zero, EndsAt: f.clock.Add(time.Hour)})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	pct := money.MustParse("150")
	_, err = f.svc.CreateListing(ctx, CreateListingInput{SellerID: f.seller, StartPrice: money.MustParse("10"), DepositPercent: &pct, EndsAt: f.clock.Add(time.Hour)})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestBidWithDepositRoundingToZero(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	l := f.listing(t, "0.01")
	a := f.bidder(t, "1")
	b := f.bidder(t, "1")

	first, err := f.svc.PlaceBid(ctx, l.ID, a, money.MustParse("0.04"))
	require.NoError(t, err)
	assert.Equal(t, models.HoldStatusNone, first.HoldStatus)
	assert.Equal(t, "0.00", f.reserved(t, a))

	second, err := f.svc.PlaceBid(ctx, l.ID, b, money.MustParse("0.20"))
	require.NoError(t, err)
	assert.Equal(t, models.HoldStatusHeld, second.HoldStatus)
	assert.Equal(t, "0.02", f.reserved(t, b))
	assert.Equal(t, models.OrderStatusCancelled, f.order(t, first.ID).Status)
}
