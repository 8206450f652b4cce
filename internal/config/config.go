package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config carries all runtime settings. It is built once in main and passed
// explicitly to the services that need it, never read as ambient state.
type Config struct {
	Port            string
	DBPath          string
	JWTSecret       string
	DefaultCurrency string

	// ReturnWindow is how long an escrow hold stays refund-only before the
	// release sweep may move it to RELEASED.
	ReturnWindow time.Duration

	// InvoiceTaxRate is the flat tax rate applied to the commission total at
	// invoicing, e.g. 0.15 for 15%.
	InvoiceTaxRate decimal.Decimal

	// GatewayMaxAttempts bounds retries of transient provider errors.
	GatewayMaxAttempts int
	// ConflictMaxRetries bounds internal retries after a lost optimistic
	// update on a ledger row.
	ConflictMaxRetries int

	PayoutInterval  time.Duration
	ReleaseInterval time.Duration
}

// Load reads configuration from the environment. A .env file is honoured in
// development if present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:               getEnv("PORT", "8080"),
		DBPath:             getEnv("DB_PATH", "escrow.db"),
		JWTSecret:          getEnv("JWT_SECRET", "escrow-secret-key"),
		DefaultCurrency:    getEnv("DEFAULT_CURRENCY", "USD"),
		ReturnWindow:       getDuration("RETURN_WINDOW", 14*24*time.Hour),
		InvoiceTaxRate:     getDecimal("INVOICE_TAX_RATE", "0.15"),
		GatewayMaxAttempts: getInt("GATEWAY_MAX_ATTEMPTS", 3),
		ConflictMaxRetries: getInt("CONFLICT_MAX_RETRIES", 3),
		PayoutInterval:     getDuration("PAYOUT_INTERVAL", 5*time.Minute),
		ReleaseInterval:    getDuration("RELEASE_INTERVAL", 15*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}
