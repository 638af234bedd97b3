package config

import (
	"errors"
	"testing"
	"time"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/shopspring/decimal"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "memory")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.FallbackRate.Equal(decimal.NewFromInt(1300)) {
		t.Errorf("FallbackRate = %s, want 1300", cfg.FallbackRate)
	}
	if cfg.RoundingStep.IntPart() != 1 {
		t.Errorf("RoundingStep = %s, want 1", cfg.RoundingStep)
	}
	if cfg.MercadoPago.Currency != "ARS" {
		t.Errorf("Currency = %q, want ARS", cfg.MercadoPago.Currency)
	}
	if cfg.OutboundTimeout != 10*time.Second || cfg.SweepMinAge != 5*time.Minute {
		t.Errorf("unexpected durations: %v %v", cfg.OutboundTimeout, cfg.SweepMinAge)
	}
	if cfg.SweepSchedule != "@every 5m" || cfg.TrainingCreditCost != 0 {
		t.Errorf("unexpected sweep/job defaults")
	}
	if cfg.MercadoPagoEnabled() || cfg.PaddleEnabled() || cfg.StripeEnabled() {
		t.Errorf("gateways must be disabled without credentials")
	}
}

func TestLoadConfig_RequiresAuth(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("AUTH_JWT_PUBLIC_KEY", "")
	t.Setenv("STORE_DRIVER", "memory")

	_, err := LoadConfig()
	var cfgErr *domainErr.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestLoadConfig_PostgresNeedsDatabase(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")

	if _, err := LoadConfig(); !errors.Is(err, domainErr.ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	tests := map[string]string{
		"OUTBOUND_TIMEOUT":       "ten seconds",
		"MP_FALLBACK_RATE":       "lots",
		"TRAINING_CREDIT_COST":   "-1",
		"MP_PRICE_ROUNDING_STEP": "0",
		"DEV_MODE":               "maybe",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(key, value)
			if _, err := LoadConfig(); !errors.Is(err, domainErr.ErrMisconfigured) {
				t.Fatalf("%s=%q: expected ErrMisconfigured, got %v", key, value, err)
			}
		})
	}
}

func TestLoadConfig_GatewaysAndWebhookURLs(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PUBLIC_URL", "https://api.example.com/")
	t.Setenv("MP_ACCESS_TOKEN", "APP_USR-1")
	t.Setenv("PADDLE_API_KEY", "pdl")
	t.Setenv("PADDLE_WEBHOOK_SECRET", "pdl-secret")
	t.Setenv("PADDLE_PRICE_BASIC", "pri_basic")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.MercadoPagoEnabled() || !cfg.PaddleEnabled() {
		t.Fatalf("expected mercadopago and paddle enabled")
	}
	if cfg.MercadoPago.NotificationURL != "https://api.example.com/webhooks/mercadopago" {
		t.Errorf("NotificationURL = %q", cfg.MercadoPago.NotificationURL)
	}
	if cfg.Paddle.PriceIDs["basic"] != "pri_basic" {
		t.Errorf("PriceIDs = %v", cfg.Paddle.PriceIDs)
	}
}
