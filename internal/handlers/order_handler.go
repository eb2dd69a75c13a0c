package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/orders"
)

type OrderHandler struct {
	Orders *orders.OrderService
}

func NewOrderHandler(o *orders.OrderService) *OrderHandler {
	return &OrderHandler{Orders: o}
}

type CreateOrderRequest struct {
	Domain            string                 `json:"domain" validate:"required,oneof=machine material rental job"`
	ListingID         uuid.UUID              `json:"listing_id" validate:"required"`
	SellerID          uuid.UUID              `json:"seller_id" validate:"required"`
	TotalPrice        decimal.Decimal        `json:"total_price"`
	TotalMonths       int                    `json:"total_months" validate:"gte=0,lte=120"`
	OrderDate         *time.Time             `json:"order_date"`
	PaymentProvider   string                 `json:"payment_provider" validate:"max=50"`
	PaymentProviderID string                 `json:"payment_provider_id" validate:"max=100,required_with=PaymentProvider"`
	Extras            map[string]interface{} `json:"extras"`
}

// OrderView is an order plus the events its viewer may fire next.
type OrderView struct {
	*models.Order
	Actions []orders.Event `json:"actions"`
}

func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req CreateOrderRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	in := orders.CreateOrderInput{
		Domain:            models.OrderDomain(req.Domain),
		ListingID:         req.ListingID,
		BuyerID:           uid,
		SellerID:          req.SellerID,
		TotalPrice:        req.TotalPrice,
		TotalMonths:       req.TotalMonths,
		PaymentProvider:   req.PaymentProvider,
		PaymentProviderID: req.PaymentProviderID,
		Extras:            req.Extras,
	}
	if req.OrderDate != nil {
		in.OrderDate = *req.OrderDate
	}
	o, err := h.Orders.CreateOrder(c.UserContext(), in)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "Order created", view(o, orders.ActorBuyer))
}

func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	o, err := h.Orders.Get(c.UserContext(), id, uid)
	if err != nil {
		return err
	}
	actor, _ := orders.ActorFor(o, uid)
	return ok(c, fiber.StatusOK, "OK", view(o, actor))
}

func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	limit, offset := queryInt(c, "limit", 20), queryInt(c, "offset", 0)
	items, total, err := h.Orders.ListForUser(c.UserContext(), uid, models.OrderStatus(c.Query("status")), limit, offset)
	if err != nil {
		return err
	}
	return okWithMeta(c, "OK", items, &Meta{Limit: limit, Offset: offset, Total: total})
}

var userEvents = map[string]orders.Event{
	"submit":     orders.EventSubmit,
	"confirm":    orders.EventConfirm,
	"start":      orders.EventStart,
	"complete":   orders.EventComplete,
	"pay-period": orders.EventPayPeriod,
	"cancel":     orders.EventCancel,
	"dispute":    orders.EventDispute,
}

// FireEvent applies one lifecycle event, e.g. POST /orders/:id/confirm.
// Win and outbid are driven by the auction engine only.
func (h *OrderHandler) FireEvent(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ev, found := userEvents[c.Params("event")]
	if !found {
		return fiber.NewError(fiber.StatusNotFound, "Unknown order event")
	}
	o, err := h.Orders.Fire(c.UserContext(), id, uid, ev)
	if err != nil {
		return err
	}
	actor, _ := orders.ActorFor(o, uid)
	return ok(c, fiber.StatusOK, "Order "+string(o.Status), view(o, actor))
}

func view(o *models.Order, actor orders.Actor) OrderView {
	actions := orders.Available(o, actor)
	if actions == nil {
		actions = []orders.Event{}
	}
	return OrderView{Order: o, Actions: actions}
}
