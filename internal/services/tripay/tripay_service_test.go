package tripay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/payment"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/wallet"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/testutil"
)

func TestValidateSignature(t *testing.T) {
	s := NewTripayService("api", "secret", "T0001", false, "")
	body := []byte(`{"merchant_ref":"TOPUP-1","status":"PAID"}`)

	assert.True(t, s.ValidateSignature(s.Sign(string(body)), body))
	assert.False(t, s.ValidateSignature(s.Sign("other"), body))
	assert.False(t, s.ValidateSignature("", body))

	unkeyed := NewTripayService("api", "", "T0001", false, "")
	assert.False(t, unkeyed.ValidateSignature(unkeyed.Sign(string(body)), body))
}

func TestStatus(t *testing.T) {
	for in, want := range map[string]models.PaymentStatus{
		"UNPAID":  models.PaymentStatusPending,
		"PAID":    models.PaymentStatusSucceeded,
		"FAILED":  models.PaymentStatusFailed,
		"EXPIRED": models.PaymentStatusFailed,
	} {
		got, err := Status(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := Status("REFUND")
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestToWebhookEvent(t *testing.T) {
	user := uuid.New()
	ev, err := ToWebhookEvent(CallbackPayload{
		MerchantRef: "TOPUP-1",
		TotalAmount: 104250,
		FeeCustomer: 4250,
		Status:      "PAID",
	}, user, "IDR", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, Provider, ev.Provider)
	assert.Equal(t, "TOPUP-1", ev.ProviderPaymentID)
	assert.Equal(t, "100000.00", ev.Amount.StringFixed(2))
	assert.Equal(t, models.PaymentStatusSucceeded, ev.Status)

	_, err = ToWebhookEvent(CallbackPayload{TotalAmount: 1000, Status: "PAID"}, user, "IDR", nil)
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestCreateTransaction(t *testing.T) {
	var got TransactionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/create", r.URL.Path)
		assert.Equal(t, "Bearer api", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"","data":{"reference":"T123","merchant_ref":"TOPUP-1","checkout_url":"https://pay/T123","amount":104250}}`))
	}))
	defer srv.Close()

	s := NewTripayService("api", "secret", "T0001", false, "https://api.example/cb")
	s.BaseURL = srv.URL
	s.Now = func() time.Time { return time.Unix(1700000000, 0) }

	resp, err := s.CreateTransaction(context.Background(), Checkout{MerchantRef: "TOPUP-1", Amount: 100000, Method: "QRIS"})
	require.NoError(t, err)
	assert.Equal(t, "https://pay/T123", resp.Data.CheckoutURL)
	assert.Equal(t, s.Sign("T0001TOPUP-1100000"), got.Signature)
	assert.Equal(t, "https://api.example/cb", got.Callback)
	assert.Equal(t, int64(1700000000+24*3600), got.ExpiredTime)

	_, err = s.CreateTransaction(context.Background(), Checkout{MerchantRef: "TOPUP-2"})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestCreateTransactionProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"Invalid method"}`))
	}))
	defer srv.Close()

	s := NewTripayService("api", "secret", "T0001", false, "")
	s.BaseURL = srv.URL
	_, err := s.CreateTransaction(context.Background(), Checkout{MerchantRef: "TOPUP-1", Amount: 1000, Method: "NOPE"})
	assert.ErrorContains(t, err, "Invalid method")
}

func TestCallbackSettlesCheckout(t *testing.T) {
	gdb := testutil.NewDB(t)
	ledger := wallet.NewWalletService(gdb, nil, nil, "IDR")
	svc := payment.NewPaymentService(gdb, ledger, nil, "IDR")
	ctx := context.Background()
	user := uuid.New()

	pending, err := ToWebhookEvent(CallbackPayload{MerchantRef: "TOPUP-9", TotalAmount: 25000, Status: "UNPAID"}, user, "IDR", nil)
	require.NoError(t, err)
	_, err = svc.RecordWebhook(ctx, pending)
	require.NoError(t, err)

	paid, err := ToWebhookEvent(CallbackPayload{MerchantRef: "TOPUP-9", TotalAmount: 26500, FeeCustomer: 1500, Status: "PAID"}, user, "IDR", []byte(`{"status":"PAID"}`))
	require.NoError(t, err)
	res, err := svc.RecordWebhook(ctx, paid)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, res.Payment.Status)

	b, err := ledger.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "25000.00", b.Available.StringFixed(2))
}
