// internal/config/config.ledger.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/gateway/mercadopago"
	"github.com/Leiito98/glowshot-ledger/internal/gateway/paddle"
	"github.com/Leiito98/glowshot-ledger/internal/gateway/stripe"
	"github.com/Leiito98/glowshot-ledger/internal/plans"
	"github.com/Leiito98/glowshot-ledger/internal/trainer/replicate"
	"github.com/Leiito98/glowshot-ledger/shared/config"
	"github.com/shopspring/decimal"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// LedgerConfig is everything the ledger process reads from the environment.
type LedgerConfig struct {
	CommonConfig *config.CommonConfig // DB, brokers, redis

	AppEnv   string
	LogLevel string
	Port     string
	// AppURL is the browser-facing frontend; checkout redirects land there.
	AppURL string
	// PublicURL is this service's public base URL, used for webhook targets.
	PublicURL   string
	DevMode     bool
	StoreDriver string

	AuthJWTSecret    string
	AuthJWTPublicKey string
	AuthIssuer       string

	DefaultGateway string

	MercadoPago  mercadopago.Config
	FallbackRate decimal.Decimal
	RoundingStep decimal.Decimal
	RateAPIURL   string
	RateCacheTTL time.Duration

	Paddle paddle.Config
	Stripe stripe.Config

	OutboundTimeout time.Duration

	SweepSchedule  string
	SweepMinAge    time.Duration
	SweepBatchSize int
	SweepWorkers   int

	TrainingCreditCost     int
	Replicate              replicate.Config
	ReplicateWebhookSecret string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string
}

// LoadConfig loads the ledger service configuration. Only auth settings are
// required at boot; gateways without credentials are simply not registered.
func LoadConfig() (*LedgerConfig, error) {
	common := config.LoadCommonConfig()
	p := &parser{}

	cfg := &LedgerConfig{
		CommonConfig: common,

		AppEnv:      env("APP_ENV", "production"),
		LogLevel:    env("LOG_LEVEL", ""),
		Port:        env("PORT", "8080"),
		AppURL:      strings.TrimRight(env("APP_URL", "http://localhost:3000"), "/"),
		PublicURL:   strings.TrimRight(env("PUBLIC_URL", ""), "/"),
		DevMode:     p.bool("DEV_MODE", false),
		StoreDriver: strings.ToLower(env("STORE_DRIVER", StoreDriverPostgres)),

		AuthJWTSecret:    os.Getenv("AUTH_JWT_SECRET"),
		AuthJWTPublicKey: os.Getenv("AUTH_JWT_PUBLIC_KEY"),
		AuthIssuer:       os.Getenv("AUTH_JWT_ISSUER"),

		DefaultGateway: env("CHECKOUT_DEFAULT_GATEWAY", "mercadopago"),

		FallbackRate: p.decimal("MP_FALLBACK_RATE", decimal.NewFromInt(1300)),
		RoundingStep: p.decimal("MP_PRICE_ROUNDING_STEP", decimal.NewFromInt(1)),
		RateAPIURL:   env("RATE_API_URL", "https://open.er-api.com/v6/latest/{base}"),
		RateCacheTTL: p.duration("RATE_CACHE_TTL", time.Hour),

		OutboundTimeout: p.duration("OUTBOUND_TIMEOUT", 10*time.Second),

		SweepSchedule:  env("SWEEP_SCHEDULE", "@every 5m"),
		SweepMinAge:    p.duration("SWEEP_MIN_AGE", 5*time.Minute),
		SweepBatchSize: p.int("SWEEP_BATCH_SIZE", 50),
		SweepWorkers:   p.int("SWEEP_WORKERS", 5),

		TrainingCreditCost:     p.int("TRAINING_CREDIT_COST", 0),
		ReplicateWebhookSecret: os.Getenv("REPLICATE_WEBHOOK_SECRET"),

		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     env("SUPABASE_BUCKET", "loras"),
	}

	cfg.MercadoPago = mercadopago.Config{
		AccessToken:     os.Getenv("MP_ACCESS_TOKEN"),
		BaseURL:         os.Getenv("MP_API_URL"),
		Currency:        strings.ToUpper(env("MP_CURRENCY", "ARS")),
		SuccessURL:      cfg.AppURL + "/checkout/success",
		FailureURL:      cfg.AppURL + "/checkout/failure",
		PendingURL:      cfg.AppURL + "/checkout/pending",
		NotificationURL: cfg.webhookURL("mercadopago"),
		Sandbox:         p.bool("MP_SANDBOX", false),
		Timeout:         cfg.OutboundTimeout,
	}
	cfg.Paddle = paddle.Config{
		APIKey:        os.Getenv("PADDLE_API_KEY"),
		WebhookSecret: os.Getenv("PADDLE_WEBHOOK_SECRET"),
		BaseURL:       os.Getenv("PADDLE_API_URL"),
		PriceIDs:      paddlePriceIDs(),
		SuccessURL:    cfg.AppURL + "/checkout/success",
		Timeout:       cfg.OutboundTimeout,
		MaxSkew:       p.duration("PADDLE_MAX_SKEW", 0),
	}
	cfg.Stripe = stripe.Config{
		SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		SuccessURL:    cfg.AppURL + "/checkout/success",
		CancelURL:     cfg.AppURL + "/checkout/failure",
	}
	cfg.Replicate = replicate.Config{
		Token:       os.Getenv("REPLICATE_API_TOKEN"),
		BaseURL:     os.Getenv("REPLICATE_API_URL"),
		Owner:       env("REPLICATE_TRAINER_OWNER", "ostris"),
		Model:       env("REPLICATE_TRAINER_MODEL", "flux-dev-lora-trainer"),
		Version:     os.Getenv("REPLICATE_TRAINER_VERSION"),
		Destination: os.Getenv("REPLICATE_DESTINATION"),
		WebhookURL:  cfg.webhookURL("replicate"),
		Steps:       p.int("REPLICATE_STEPS", 1000),
		Timeout:     cfg.OutboundTimeout,
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *LedgerConfig) validate() error {
	if c.AuthJWTSecret == "" && c.AuthJWTPublicKey == "" {
		return &domainErr.ConfigurationError{Setting: "AUTH_JWT_SECRET or AUTH_JWT_PUBLIC_KEY"}
	}
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.CommonConfig.GetDBURL() == "" {
			return &domainErr.ConfigurationError{Setting: "DATABASE_URL"}
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER %q: %w", c.StoreDriver, domainErr.ErrMisconfigured)
	}
	if !c.RoundingStep.IsPositive() {
		return &domainErr.ConfigurationError{Setting: "MP_PRICE_ROUNDING_STEP"}
	}
	if !c.FallbackRate.IsPositive() {
		return &domainErr.ConfigurationError{Setting: "MP_FALLBACK_RATE"}
	}
	if c.TrainingCreditCost < 0 {
		return &domainErr.ConfigurationError{Setting: "TRAINING_CREDIT_COST"}
	}
	return nil
}

func (c *LedgerConfig) webhookURL(gateway string) string {
	if c.PublicURL == "" {
		return ""
	}
	return c.PublicURL + "/webhooks/" + gateway
}

func (c *LedgerConfig) MercadoPagoEnabled() bool { return c.MercadoPago.AccessToken != "" }

func (c *LedgerConfig) PaddleEnabled() bool {
	return c.Paddle.APIKey != "" && c.Paddle.WebhookSecret != ""
}

func (c *LedgerConfig) StripeEnabled() bool {
	return c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret != ""
}

func (c *LedgerConfig) ReplicateEnabled() bool {
	return c.Replicate.Token != "" && c.Replicate.Version != "" && c.Replicate.Destination != ""
}

func (c *LedgerConfig) SupabaseEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

// paddlePriceIDs reads PADDLE_PRICE_<PLAN> for every catalog plan.
func paddlePriceIDs() map[string]string {
	ids := make(map[string]string)
	for _, plan := range plans.All() {
		if v := os.Getenv("PADDLE_PRICE_" + strings.ToUpper(plan.ID)); v != "" {
			ids[plan.ID] = v
		}
	}
	return ids
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// parser collects the first malformed setting so LoadConfig reports it
// once instead of checking after every read.
type parser struct {
	err error
}

func (p *parser) fail(key, raw string, err error) {
	if p.err == nil {
		p.err = errors.Join(&domainErr.ConfigurationError{Setting: key}, fmt.Errorf("%s=%q: %w", key, raw, err))
	}
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := env(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return d
}

func (p *parser) int(key string, def int) int {
	raw := env(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	raw := env(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return b
}

func (p *parser) decimal(key string, def decimal.Decimal) decimal.Decimal {
	raw := env(key, "")
	if raw == "" {
		return def
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return d
}
