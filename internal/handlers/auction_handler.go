package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/auction"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/orders"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/utils"
)

type AuctionHandler struct {
	Auctions *auction.AuctionService
}

func NewAuctionHandler(a *auction.AuctionService) *AuctionHandler {
	return &AuctionHandler{Auctions: a}
}

type CreateListingRequest struct {
	Title          string           `json:"title" validate:"required,max=200"`
	StartPrice     decimal.Decimal  `json:"start_price"`
	DepositPercent *decimal.Decimal `json:"deposit_percent"`
	EndsAt         time.Time        `json:"ends_at" validate:"required"`
}

func (h *AuctionHandler) CreateListing(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req CreateListingRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	l, err := h.Auctions.CreateListing(c.UserContext(), auction.CreateListingInput{
		SellerID:       uid,
		Title:          req.Title,
		StartPrice:     req.StartPrice,
		DepositPercent: req.DepositPercent,
		EndsAt:         req.EndsAt,
	})
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "Auction opened", l)
}

func (h *AuctionHandler) GetListing(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	l, err := h.Auctions.GetListing(c.UserContext(), id)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "OK", l)
}

type PlaceBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *AuctionHandler) PlaceBid(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req PlaceBidRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	o, err := h.Auctions.PlaceBid(c.UserContext(), id, uid, req.Amount)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "Bid accepted", view(o, orders.ActorBuyer))
}

// CloseAuction ends the auction now. Sellers close their own listings;
// admins close any.
func (h *AuctionHandler) CloseAuction(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	l, err := h.Auctions.GetListing(c.UserContext(), id)
	if err != nil {
		return err
	}
	if l.SellerID != uid && c.Locals("role") != utils.RoleAdmin {
		return common.ErrForbidden
	}
	res, err := h.Auctions.CloseAuction(c.UserContext(), id)
	if err != nil {
		return err
	}
	msg := "Auction closed"
	if res.AlreadyClosed {
		msg = "Auction already closed"
	}
	return ok(c, fiber.StatusOK, msg, res)
}

// CloseExpired runs the scheduled close on demand.
func (h *AuctionHandler) CloseExpired(c *fiber.Ctx) error {
	n, err := h.Auctions.CloseExpired(c.UserContext(), time.Now())
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "OK", fiber.Map{"closed": n})
}
