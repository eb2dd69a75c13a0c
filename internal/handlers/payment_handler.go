package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/payment"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/tripay"
)

const (
	WebhookSignatureHeader = "X-Webhook-Signature"
	TripaySignatureHeader  = "X-Callback-Signature"
)

type PaymentHandler struct {
	Payments      *payment.PaymentService
	TripayService *tripay.TripayService
	WebhookSecret string
	Currency      string
}

func NewPaymentHandler(p *payment.PaymentService, tripayService *tripay.TripayService, webhookSecret, currency string) *PaymentHandler {
	return &PaymentHandler{Payments: p, TripayService: tripayService, WebhookSecret: webhookSecret, Currency: currency}
}

type TopUpRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	PaymentMethod string `json:"payment_method" validate:"required,max=30"`
	CustomerName  string `json:"customer_name" validate:"required,max=100"`
	CustomerEmail string `json:"customer_email" validate:"required,email"`
	ReturnURL     string `json:"return_url" validate:"omitempty,url"`
}

// CreateTopUp opens a Tripay checkout and records it as a pending payment.
// The callback settles it and credits the wallet.
func (h *PaymentHandler) CreateTopUp(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req TopUpRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	merchantRef := "TOPUP-" + ulid.Make().String()
	resp, err := h.TripayService.CreateTransaction(c.UserContext(), tripay.Checkout{
		MerchantRef:   merchantRef,
		Amount:        req.Amount,
		Method:        req.PaymentMethod,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		ReturnURL:     req.ReturnURL,
	})
	if err != nil {
		log.WithError(err).WithField("merchant_ref", merchantRef).Error("tripay checkout failed")
		return fiber.NewError(fiber.StatusBadGateway, "Payment gateway error")
	}

	raw, _ := json.Marshal(resp.Data)
	res, err := h.Payments.RecordWebhook(c.UserContext(), payment.WebhookEvent{
		Provider:          tripay.Provider,
		ProviderPaymentID: merchantRef,
		UserID:            uid,
		Amount:            decimal.NewFromInt(req.Amount),
		Currency:          h.Currency,
		Status:            models.PaymentStatusPending,
		Kind:              models.PaymentKindPayment,
		Raw:               raw,
	})
	if err != nil {
		return err
	}

	return ok(c, fiber.StatusCreated, "Checkout created", fiber.Map{
		"checkout_url": resp.Data.CheckoutURL,
		"reference":    resp.Data.Reference,
		"merchant_ref": merchantRef,
		"payment":      res.Payment,
	})
}

func (h *PaymentHandler) ListPayments(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	items, err := h.Payments.ListForUser(c.UserContext(), uid, queryInt(c, "limit", 20))
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "OK", items)
}

// HandleWebhook accepts provider-neutral events from trusted gateways,
// signed with HMAC-SHA256 of the body under the shared secret.
func (h *PaymentHandler) HandleWebhook(c *fiber.Ctx) error {
	signature := c.Get(WebhookSignatureHeader)
	if signature == "" {
		return fail(c, fiber.StatusBadRequest, "Missing signature")
	}
	body := c.Body()
	if !validHMAC(h.WebhookSecret, signature, body) {
		return fail(c, fiber.StatusBadRequest, "Invalid signature")
	}

	var ev payment.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid payload")
	}
	if err := validate.Struct(ev); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid payload: "+err.Error())
	}
	ev.Raw = append(json.RawMessage(nil), body...)

	res, err := h.Payments.RecordWebhook(c.UserContext(), ev)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "Processed", res)
}

// HandleCallback receives Tripay's payment status callback.
func (h *PaymentHandler) HandleCallback(c *fiber.Ctx) error {
	// 1. Signature over the raw body
	signature := c.Get(TripaySignatureHeader)
	if signature == "" {
		return fail(c, fiber.StatusBadRequest, "Missing signature")
	}
	body := c.Body()
	if !h.TripayService.ValidateSignature(signature, body) {
		return fail(c, fiber.StatusBadRequest, "Invalid signature")
	}

	// 2. Payload
	var payload tripay.CallbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid payload")
	}

	// 3. The checkout record tells whose wallet this is
	pending, err := h.Payments.Find(c.UserContext(), tripay.Provider, payload.MerchantRef)
	if errors.Is(err, common.ErrNotFound) {
		log.WithField("merchant_ref", payload.MerchantRef).Warn("tripay callback for unknown checkout")
		return c.JSON(fiber.Map{"success": false, "message": "Transaction not found, ignored"})
	}
	if err != nil {
		return err
	}

	ev, err := tripay.ToWebhookEvent(payload, pending.UserID, h.Currency, body)
	if err != nil {
		log.WithError(err).WithField("merchant_ref", payload.MerchantRef).Warn("tripay callback ignored")
		return c.JSON(fiber.Map{"success": false, "message": err.Error()})
	}

	// 4. Settle exactly once
	if _, err := h.Payments.RecordWebhook(c.UserContext(), ev); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

func fail(c *fiber.Ctx, code int, message string) error {
	return c.Status(code).JSON(Response{Message: message, Error: codeFor(code)})
}

func validHMAC(secret, signature string, body []byte) bool {
	if secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
