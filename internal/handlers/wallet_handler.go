package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/payment"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/wallet"
)

type WalletHandler struct {
	Wallet   *wallet.WalletService
	Payments *payment.PaymentService
}

func NewWalletHandler(w *wallet.WalletService, p *payment.PaymentService) *WalletHandler {
	return &WalletHandler{Wallet: w, Payments: p}
}

func (h *WalletHandler) GetBalance(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	b, err := h.Wallet.GetBalance(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "OK", b)
}

func (h *WalletHandler) GetHistory(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	limit, offset := queryInt(c, "limit", 20), queryInt(c, "offset", 0)

	w, err := h.Wallet.WalletForUser(c.UserContext(), uid)
	if errors.Is(err, common.ErrNotFound) {
		return okWithMeta(c, "OK", []models.WalletTransaction{}, &Meta{Limit: limit, Offset: offset})
	}
	if err != nil {
		return err
	}
	items, total, err := h.Wallet.History(c.UserContext(), w.ID, limit, offset)
	if err != nil {
		return err
	}
	return okWithMeta(c, "OK", items, &Meta{Limit: limit, Offset: offset, Total: total})
}

type PayoutRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Provider  string          `json:"provider" validate:"required,max=50"`
	Reference string          `json:"reference" validate:"required,max=100"`
	Note      string          `json:"note" validate:"max=255"`
}

// RequestPayout withdraws to an external account. The provider confirms
// or fails it later through the webhook.
func (h *WalletHandler) RequestPayout(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req PayoutRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	p, err := h.Payments.RequestPayout(c.UserContext(), payment.PayoutRequest{
		UserID:    uid,
		Amount:    req.Amount,
		Provider:  req.Provider,
		Reference: req.Reference,
		Note:      req.Note,
	})
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "Payout requested", p)
}

type CloseWalletRequest struct {
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=100"`
}

func (h *WalletHandler) CloseOut(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req CloseWalletRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	entry, err := h.Wallet.CloseOut(c.UserContext(), uid, req.IdempotencyKey)
	if err != nil {
		return err
	}
	b, err := h.Wallet.GetBalance(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "Wallet closed", fiber.Map{"withdrawal": entry, "balance": b})
}

// Audit replays a wallet's ledger against its stored balances.
func (h *WalletHandler) Audit(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.Wallet.Audit(c.UserContext(), id); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "Ledger consistent", fiber.Map{"wallet_id": id})
}
