package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/config"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/db"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/handlers"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/jobs"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/logger"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/realtime"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/auction"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/escrow"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/idempotency"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/orders"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/payment"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/tripay"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/services/wallet"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger.Setup(cfg.AppLogLevel, cfg.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDSN, cfg.DBDebug)
	if err != nil {
		log.WithError(err).Fatal("database connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.WithError(err).Fatal("database migrate")
	}

	// Redis backs the idempotency guard and the notification channel. The
	// ledger keeps working on the database alone when it is unreachable.
	var rdb redis.UniversalClient
	if client := realtime.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); client != nil {
		if err := client.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis not reachable, idempotency falls back to the database")
		}
		rdb = client
		defer client.Close()
	}

	hub := realtime.NewHub()
	go hub.Run(ctx)

	notifier := realtime.NewNotifier(hub, rdb, nil)
	if kw := realtime.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic); kw != nil {
		notifier.Kafka = kw
		defer kw.Close()
		log.WithField("topic", cfg.KafkaTopic).Info("kafka event stream enabled")
	}

	var guard wallet.IdempotencyGuard
	if rdb != nil {
		guard = idempotency.NewGuard(rdb, cfg.IdempotencyLockTTL, cfg.IdempotencyResultTTL)
	}

	policies, err := orders.PoliciesFromConfig(cfg)
	if err != nil {
		log.WithError(err).Fatal("order policies")
	}

	ledger := wallet.NewWalletService(gdb, guard, notifier, cfg.Currency)
	ledger.MaxAttempts = cfg.LedgerMaxAttempts
	ledger.Backoff = cfg.LedgerRetryBackoff

	orderSvc := orders.NewOrderService(gdb, ledger, escrow.NewEscrowService(ledger), policies, notifier, cfg.Currency)
	auctionSvc := auction.NewAuctionService(gdb, ledger, orderSvc, notifier)
	paymentSvc := payment.NewPaymentService(gdb, ledger, notifier, cfg.Currency)
	tripaySvc := tripay.NewTripayService(cfg.TripayAPIKey, cfg.TripayPrivateKey, cfg.TripayMerchantCode,
		cfg.TripayProduction, cfg.AppBaseURL+"/api/payments/tripay/callback")

	app := handlers.NewApp(handlers.Deps{
		JWTSecret:     cfg.JWTSecret,
		CORSOrigins:   cfg.CORSOrigins,
		RateLimit:     cfg.RateLimitPerMinute,
		Wallet:        handlers.NewWalletHandler(ledger, paymentSvc),
		Orders:        handlers.NewOrderHandler(orderSvc),
		Auctions:      handlers.NewAuctionHandler(auctionSvc),
		Payments:      handlers.NewPaymentHandler(paymentSvc, tripaySvc, cfg.WebhookSecret, cfg.Currency),
		Notifications: handlers.NewNotificationHandler(hub, time.Duration(cfg.WSPingSeconds)*time.Second),
	})

	scheduler := jobs.NewScheduler(auctionSvc, cfg.AuctionCloseCron)
	if err := scheduler.Start(ctx); err != nil {
		log.WithError(err).Fatal("scheduler")
	}

	go func() {
		if err := app.Listen(":" + cfg.AppPort); err != nil {
			log.WithError(err).Error("http server stopped")
			stop()
		}
	}()
	log.WithField("port", cfg.AppPort).Info("marketplace escrow api started")

	<-ctx.Done()
	log.Info("shutting down")
	scheduler.Stop()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
}
