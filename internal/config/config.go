package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppPort     string `envconfig:"APP_PORT" default:"8080"`
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	CORSOrigins string `envconfig:"CORS_ORIGINS" default:"http://127.0.0.1:3000, http://localhost:3000"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"300"`

	DBDSN   string `envconfig:"DB_DSN" required:"true"`
	DBDebug bool   `envconfig:"DB_DEBUG" default:"false"`

	JWTSecret     string `envconfig:"JWT_SECRET" required:"true"`
	WSPingSeconds int    `envconfig:"WS_PING_SECONDS" default:"30"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	KafkaBrokersRaw string   `envconfig:"KAFKA_BROKERS"`
	KafkaBrokers    []string `envconfig:"-"`
	KafkaTopic      string   `envconfig:"KAFKA_TOPIC" default:"marketplace.escrow.events"`

	Currency string `envconfig:"CURRENCY" default:"IDR"`

	// Ledger
	LedgerMaxAttempts  int           `envconfig:"LEDGER_MAX_ATTEMPTS" default:"3"`
	LedgerRetryBackoff time.Duration `envconfig:"LEDGER_RETRY_BACKOFF" default:"25ms"`

	// Idempotency
	IdempotencyLockTTL   time.Duration `envconfig:"IDEMPOTENCY_LOCK_TTL" default:"30s"`
	IdempotencyResultTTL time.Duration `envconfig:"IDEMPOTENCY_RESULT_TTL" default:"24h"`

	// Per-domain order policy
	AuctionDepositPercent  string `envconfig:"AUCTION_DEPOSIT_PERCENT" default:"10"`
	MachineDepositPercent  string `envconfig:"MACHINE_DEPOSIT_PERCENT" default:"20"`
	MaterialDepositPercent string `envconfig:"MATERIAL_DEPOSIT_PERCENT" default:"20"`
	RentalDepositPercent   string `envconfig:"RENTAL_DEPOSIT_PERCENT" default:"100"`

	MachineCancelWindowDays  int `envconfig:"MACHINE_CANCEL_WINDOW_DAYS" default:"3"`
	MaterialCancelWindowDays int `envconfig:"MATERIAL_CANCEL_WINDOW_DAYS" default:"3"`
	RentalCancelWindowDays   int `envconfig:"RENTAL_CANCEL_WINDOW_DAYS" default:"0"`

	AuctionCloseCron string `envconfig:"AUCTION_CLOSE_CRON" default:"@every 1m"`

	AppBaseURL string `envconfig:"APP_BASE_URL" default:"http://localhost:8080"`

	// Tripay checkout and callback signature
	TripayAPIKey       string `envconfig:"TRIPAY_API_KEY"`
	TripayPrivateKey   string `envconfig:"TRIPAY_PRIVATE_KEY"`
	TripayMerchantCode string `envconfig:"TRIPAY_MERCHANT_CODE"`
	TripayProduction   bool   `envconfig:"TRIPAY_PRODUCTION" default:"false"`
	// Shared secret for the generic provider webhook
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`
}

// IsProduction reports whether the app runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) Validate() error {
	if len(c.Currency) != 3 {
		return fmt.Errorf("CURRENCY must be a 3-letter code, got %q", c.Currency)
	}
	if c.LedgerMaxAttempts <= 0 {
		return fmt.Errorf("LEDGER_MAX_ATTEMPTS must be > 0")
	}
	for _, d := range []int{c.MachineCancelWindowDays, c.MaterialCancelWindowDays, c.RentalCancelWindowDays} {
		if d < 0 {
			return fmt.Errorf("cancel window days must be >= 0")
		}
	}
	return nil
}

// Load reads the environment (after godotenv has populated it) into Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	cfg.KafkaBrokers = splitCSV(cfg.KafkaBrokersRaw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
