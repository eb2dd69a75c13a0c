package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/middleware"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/utils"
)

type Deps struct {
	JWTSecret   string
	CORSOrigins string
	// RateLimit is requests per minute per IP on /api; 0 disables it.
	RateLimit int

	Wallet        *WalletHandler
	Orders        *OrderHandler
	Auctions      *AuctionHandler
	Payments      *PaymentHandler
	Notifications *NotificationHandler
}

// NewApp builds the fiber app with every route mounted.
func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "marketplace-escrow",
		ErrorHandler: ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     d.CORSOrigins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: true,
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	if d.RateLimit > 0 {
		api.Use(limiter.New(limiter.Config{Max: d.RateLimit, Expiration: time.Minute}))
	}

	// server to server, authenticated by signature
	api.Post("/payments/webhook", d.Payments.HandleWebhook)
	api.Post("/payments/tripay/callback", d.Payments.HandleCallback)
	api.Get("/auctions/:id", d.Auctions.GetListing)

	// protected (JWT)
	protected := api.Group("/",
		middleware.JWT(d.JWTSecret),
		middleware.AttachJWTLocals(),
	)

	protected.Get("/wallet", d.Wallet.GetBalance)
	protected.Get("/wallet/transactions", d.Wallet.GetHistory)
	protected.Post("/wallet/payouts", d.Wallet.RequestPayout)
	protected.Post("/wallet/close", d.Wallet.CloseOut)

	protected.Post("/payments/topup", d.Payments.CreateTopUp)
	protected.Get("/payments", d.Payments.ListPayments)

	protected.Post("/orders", d.Orders.CreateOrder)
	protected.Get("/orders", d.Orders.ListOrders)
	protected.Get("/orders/:id", d.Orders.GetOrder)
	protected.Post("/orders/:id/:event", d.Orders.FireEvent)

	protected.Post("/auctions", d.Auctions.CreateListing)
	protected.Post("/auctions/:id/bids", d.Auctions.PlaceBid)
	protected.Post("/auctions/:id/close", d.Auctions.CloseAuction)

	// admin only
	admin := protected.Group("/admin", middleware.RequireRoles(utils.RoleAdmin, utils.RoleSystem))
	admin.Get("/wallets/:id/audit", d.Wallet.Audit)
	admin.Post("/auctions/close-expired", d.Auctions.CloseExpired)

	// WebSocket endpoint, token via cookie or ?token=
	app.Get("/ws/notifications",
		middleware.JWT(d.JWTSecret),
		middleware.AttachJWTLocals(),
		d.Notifications.Upgrade,
		websocket.New(d.Notifications.Stream),
	)

	return app
}
