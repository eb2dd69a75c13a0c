package tripay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/payment"
)

// Provider is the provider name recorded on payment transactions.
const Provider = "tripay"

const (
	SandboxURL    = "https://tripay.co.id/api-sandbox"
	ProductionURL = "https://tripay.co.id/api"
)

type TripayService struct {
	Client       *http.Client
	APIKey       string
	PrivateKey   string
	MerchantCode string
	BaseURL      string
	CallbackURL  string
	Now          func() time.Time
}

func NewTripayService(apiKey, privateKey, merchantCode string, production bool, callbackURL string) *TripayService {
	baseURL := SandboxURL
	if production {
		baseURL = ProductionURL
	}
	return &TripayService{
		Client:       &http.Client{Timeout: 15 * time.Second},
		APIKey:       apiKey,
		PrivateKey:   privateKey,
		MerchantCode: merchantCode,
		BaseURL:      baseURL,
		CallbackURL:  callbackURL,
		Now:          time.Now,
	}
}

type OrderItem struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type TransactionRequest struct {
	Method        string      `json:"method"`
	MerchantRef   string      `json:"merchant_ref"`
	Amount        int64       `json:"amount"`
	CustomerName  string      `json:"customer_name"`
	CustomerEmail string      `json:"customer_email"`
	CustomerPhone string      `json:"customer_phone,omitempty"`
	OrderItems    []OrderItem `json:"order_items"`
	Callback      string      `json:"callback_url,omitempty"`
	ReturnUrl     string      `json:"return_url,omitempty"`
	ExpiredTime   int64       `json:"expired_time"`
	Signature     string      `json:"signature"`
}

type TransactionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Reference   string `json:"reference"`
		MerchantRef string `json:"merchant_ref"`
		CheckoutURL string `json:"checkout_url"`
		Amount      int64  `json:"amount"`
	} `json:"data"`
}

// Checkout describes a wallet top-up the user pays on Tripay's page.
type Checkout struct {
	MerchantRef   string
	Amount        int64
	Method        string
	CustomerName  string
	CustomerEmail string
	ReturnURL     string
}

// CreateTransaction opens a closed-payment transaction and returns the
// checkout url. The signature is HMAC-SHA256(merchant_code + merchant_ref + amount).
func (s *TripayService) CreateTransaction(ctx context.Context, co Checkout) (*TransactionResponse, error) {
	if co.Amount <= 0 {
		return nil, common.ErrInvalidAmount
	}

	reqBody := TransactionRequest{
		Method:        co.Method,
		MerchantRef:   co.MerchantRef,
		Amount:        co.Amount,
		CustomerName:  co.CustomerName,
		CustomerEmail: co.CustomerEmail,
		OrderItems: []OrderItem{
			{Name: "Wallet top up", Price: co.Amount, Quantity: 1},
		},
		Callback:    s.CallbackURL,
		ReturnUrl:   co.ReturnURL,
		ExpiredTime: s.Now().Add(24 * time.Hour).Unix(),
		Signature:   s.Sign(fmt.Sprintf("%s%s%d", s.MerchantCode, co.MerchantRef, co.Amount)),
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/transaction/create", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp TransactionResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !apiResp.Success {
		return nil, fmt.Errorf("tripay error: %s", apiResp.Message)
	}
	return &apiResp, nil
}

// Sign returns the hex HMAC-SHA256 of data keyed with the private key.
func (s *TripayService) Sign(data string) string {
	h := hmac.New(sha256.New, []byte(s.PrivateKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateSignature checks a callback's X-Callback-Signature, which is
// HMAC-SHA256 over the raw JSON body.
func (s *TripayService) ValidateSignature(incomingSig string, body []byte) bool {
	if s.PrivateKey == "" || incomingSig == "" {
		return false
	}
	return hmac.Equal([]byte(s.Sign(string(body))), []byte(incomingSig))
}

type CallbackPayload struct {
	Reference         string `json:"reference"`
	MerchantRef       string `json:"merchant_ref"`
	PaymentMethod     string `json:"payment_method"`
	PaymentMethodCode string `json:"payment_method_code"`
	TotalAmount       int64  `json:"total_amount"`
	FeeMerchant       int64  `json:"fee_merchant"`
	FeeCustomer       int64  `json:"fee_customer"`
	TotalFee          int64  `json:"total_fee"`
	AmountReceived    int64  `json:"amount_received"`
	IsClosedPayment   int    `json:"is_closed_payment"`
	Status            string `json:"status"` // UNPAID, PAID, EXPIRED, FAILED, REFUND
	PaidAt            int64  `json:"paid_at"`
	Note              string `json:"note"`
}

// Status maps a Tripay status onto the provider-neutral one.
func Status(s string) (models.PaymentStatus, error) {
	switch s {
	case "UNPAID":
		return models.PaymentStatusPending, nil
	case "PAID":
		return models.PaymentStatusSucceeded, nil
	case "FAILED", "EXPIRED":
		return models.PaymentStatusFailed, nil
	default:
		return "", fmt.Errorf("%w: unsupported tripay status %q", common.ErrInvalidState, s)
	}
}

// ToWebhookEvent converts a callback for a checkout that belongs to userID.
// The merchant ref is the provider payment id, matching the pending record
// written at checkout. The credited amount is the gross order amount: fees
// charged to the customer are not wallet money.
func ToWebhookEvent(p CallbackPayload, userID uuid.UUID, currency string, raw []byte) (payment.WebhookEvent, error) {
	status, err := Status(p.Status)
	if err != nil {
		return payment.WebhookEvent{}, err
	}
	if p.MerchantRef == "" {
		return payment.WebhookEvent{}, fmt.Errorf("%w: callback without merchant_ref", common.ErrInvalidState)
	}
	amount := p.TotalAmount - p.FeeCustomer
	if amount <= 0 {
		return payment.WebhookEvent{}, fmt.Errorf("%w: callback amount %d", common.ErrInvalidAmount, amount)
	}
	return payment.WebhookEvent{
		Provider:          Provider,
		ProviderPaymentID: p.MerchantRef,
		UserID:            userID,
		Amount:            decimal.NewFromInt(amount),
		Currency:          currency,
		Status:            status,
		Kind:              models.PaymentKindPayment,
		Raw:               raw,
	}, nil
}
