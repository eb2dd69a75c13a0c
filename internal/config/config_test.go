package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/escrow")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CURRENCY", " idr ")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, "IDR", cfg.Currency)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.LedgerMaxAttempts)
	assert.Equal(t, 25*time.Millisecond, cfg.LedgerRetryBackoff)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyResultTTL)
	assert.Equal(t, "10", cfg.AuctionDepositPercent)
	assert.Equal(t, 3, cfg.MachineCancelWindowDays)
	assert.Equal(t, "@every 1m", cfg.AuctionCloseCron)
	assert.False(t, cfg.IsProduction())
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("DB_DSN", "")
	require.NoError(t, os.Unsetenv("DB_DSN"))
	t.Setenv("JWT_SECRET", "secret")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Config{Currency: "IDR", LedgerMaxAttempts: 3}
	assert.NoError(t, cfg.Validate())

	cfg.Currency = "RUPIAH"
	assert.Error(t, cfg.Validate())

	cfg = Config{Currency: "IDR", LedgerMaxAttempts: 0}
	assert.Error(t, cfg.Validate())

	cfg = Config{Currency: "IDR", LedgerMaxAttempts: 1, RentalCancelWindowDays: -1}
	assert.Error(t, cfg.Validate())
}
