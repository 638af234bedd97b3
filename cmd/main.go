// cmd/main.go
package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Leiito98/glowshot-ledger/internal/checkout"
	ledgerConfig "github.com/Leiito98/glowshot-ledger/internal/config"
	"github.com/Leiito98/glowshot-ledger/internal/credits"
	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/events"
	"github.com/Leiito98/glowshot-ledger/internal/gateway/direct"
	"github.com/Leiito98/glowshot-ledger/internal/gateway/mercadopago"
	"github.com/Leiito98/glowshot-ledger/internal/gateway/paddle"
	"github.com/Leiito98/glowshot-ledger/internal/gateway/stripe"
	"github.com/Leiito98/glowshot-ledger/internal/httpapi"
	"github.com/Leiito98/glowshot-ledger/internal/jobs"
	"github.com/Leiito98/glowshot-ledger/internal/payment"
	"github.com/Leiito98/glowshot-ledger/internal/storage"
	"github.com/Leiito98/glowshot-ledger/internal/store/memory"
	"github.com/Leiito98/glowshot-ledger/internal/store/postgres"
	"github.com/Leiito98/glowshot-ledger/internal/trainer/replicate"
	"github.com/Leiito98/glowshot-ledger/internal/webhook"
	"github.com/Leiito98/glowshot-ledger/internal/worker"
	"github.com/Leiito98/glowshot-ledger/shared/kafka"
	"github.com/Leiito98/glowshot-ledger/shared/logger"
	"github.com/Leiito98/glowshot-ledger/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; the real environment always wins.
	_ = godotenv.Load()

	cfg, err := ledgerConfig.LoadConfig()
	if err != nil {
		// no logger yet
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("ledger stopped with error", zap.Error(err))
	}
}

// stores groups the persistence implementations chosen by STORE_DRIVER.
type stores struct {
	credits  credits.Store
	plans    credits.PlanStore
	payments payment.PaymentStore
	jobs     jobs.JobStore
	tx       payment.TxManager
	close    func() error
}

func openStores(ctx context.Context, cfg *ledgerConfig.LedgerConfig, log *zap.Logger) (*stores, error) {
	if cfg.StoreDriver == ledgerConfig.StoreDriverMemory {
		log.Warn("using in-memory store, data is lost on restart")
		m := memory.NewMemoryStore()
		return &stores{credits: m, plans: m, payments: m, jobs: m, tx: memory.NewTxManager(), close: func() error { return nil }}, nil
	}

	db, err := postgres.Open(ctx, cfg.CommonConfig.GetDBURL())
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	creditStore := postgres.NewCreditStore(db)
	return &stores{
		credits:  creditStore,
		plans:    creditStore,
		payments: postgres.NewPaymentStore(db),
		jobs:     postgres.NewJobStore(db),
		tx:       postgres.NewTxManager(db),
		close:    db.Close,
	}, nil
}

func openPublisher(cfg *ledgerConfig.LedgerConfig, log *zap.Logger) events.Publisher {
	common := cfg.CommonConfig
	switch {
	case common.KafkaEnabled():
		log.Info("publishing events to kafka", zap.String("topic", common.GetKafkaTopic()))
		return kafka.NewKafkaProducer(common.KAFKA_BROKER, common.GetKafkaTopic(), log)
	case common.RabbitMQEnabled():
		client, err := rabbitmq.NewClient(common.GetRabbitMQURL())
		if err != nil {
			log.Warn("rabbitmq unavailable, events disabled", zap.Error(err))
			return events.Noop{}
		}
		pub, err := events.NewRabbitPublisher(client, common.GetRabbitMQQueue())
		if err != nil {
			_ = client.Close()
			log.Warn("rabbitmq queue declare failed, events disabled", zap.Error(err))
			return events.Noop{}
		}
		log.Info("publishing events to rabbitmq", zap.String("queue", common.GetRabbitMQQueue()))
		return pub
	default:
		return events.Noop{}
	}
}

func rateProvider(cfg *ledgerConfig.LedgerConfig, log *zap.Logger) (checkout.RateProvider, func()) {
	var cache checkout.RateCache = checkout.NewMemoryRateCache()
	cleanup := func() {}
	if url := cfg.CommonConfig.REDIS_URL; url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			log.Warn("invalid REDIS_URL, using in-process rate cache", zap.Error(err))
		} else {
			rdb := redis.NewClient(opts)
			cache = checkout.NewRedisRateCache(rdb)
			cleanup = func() { _ = rdb.Close() }
		}
	}
	live := checkout.NewCachedRates(checkout.NewHTTPRates(cfg.RateAPIURL, cfg.OutboundTimeout), cache, cfg.RateCacheTTL, log)
	static := map[string]decimal.Decimal{"USD:" + cfg.MercadoPago.Currency: cfg.FallbackRate}
	return checkout.NewFallbackRates(live, static, log), cleanup
}

func run(cfg *ledgerConfig.LedgerConfig, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.close() }()

	pub := openPublisher(cfg, log)
	defer func() { _ = pub.Close() }()

	creditService := credits.NewService(st.credits, st.plans, log)
	reconciler := payment.NewReconciler(st.payments, creditService, st.tx, pub, log)

	// Gateways are registered only when their credentials are present.
	var (
		gateways   []payment.Gateway
		processors []webhook.Processor
		fetchers   []payment.StatusFetcher
	)
	if cfg.MercadoPagoEnabled() {
		proc := mercadopago.NewProcessor(cfg.MercadoPago)
		gateways = append(gateways, mercadopago.NewGateway(cfg.MercadoPago))
		processors = append(processors, proc)
		fetchers = append(fetchers, proc)
	}
	if cfg.PaddleEnabled() {
		proc := paddle.NewProcessor(cfg.Paddle)
		gateways = append(gateways, paddle.NewGateway(cfg.Paddle))
		processors = append(processors, proc)
		fetchers = append(fetchers, proc)
	}
	if cfg.StripeEnabled() {
		proc := stripe.NewProcessor(cfg.Stripe)
		gateways = append(gateways, stripe.NewGateway(cfg.Stripe))
		processors = append(processors, proc)
		fetchers = append(fetchers, proc)
	}
	if cfg.DevMode {
		log.Warn("dev mode: direct gateway and /api/dev/purchase enabled")
		gateways = append(gateways, direct.NewGateway(reconciler, cfg.AppURL+"/checkout/success", log))
	}
	for _, g := range gateways {
		log.Info("gateway registered", zap.String("gateway", string(g.Kind())))
	}

	rates, closeRates := rateProvider(cfg, log)
	defer closeRates()
	builder := checkout.NewBuilder(rates, cfg.RoundingStep, payment.Kind(cfg.DefaultGateway), log, gateways...)

	var trainer jobs.Trainer = unavailableTrainer{}
	if cfg.ReplicateEnabled() {
		trainer = replicate.NewClient(cfg.Replicate)
	} else {
		log.Warn("replicate not configured, job submission disabled")
	}
	var blobs jobs.BlobStore = unavailableBlobs{}
	if cfg.SupabaseEnabled() {
		b, err := storage.NewSupabaseBlobStore(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseBucket, log)
		if err != nil {
			return err
		}
		blobs = b
	} else {
		log.Warn("supabase storage not configured, completed jobs cannot be persisted")
	}
	bridge := jobs.NewBridge(st.jobs, trainer, blobs, creditService, pub, jobs.Config{CreditCost: cfg.TrainingCreditCost}, log)

	var callbackVerifier httpapi.CallbackVerifier
	if cfg.ReplicateWebhookSecret != "" {
		v, err := replicate.NewVerifier(cfg.ReplicateWebhookSecret, 5*time.Minute)
		if err != nil {
			return &domainErr.ConfigurationError{Setting: "REPLICATE_WEBHOOK_SECRET"}
		}
		callbackVerifier = v
	}

	auth, err := httpapi.NewAuthenticator(cfg.AuthJWTSecret, cfg.AuthJWTPublicKey, cfg.AuthIssuer)
	if err != nil {
		return err
	}

	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.Deps{
		Auth:             auth,
		Checkout:         builder,
		Credits:          creditService,
		Jobs:             bridge,
		Ledger:           reconciler,
		Webhooks:         webhook.NewRegistry(processors...),
		CallbackVerifier: callbackVerifier,
		DevMode:          cfg.DevMode,
		Logger:           log,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeper := worker.NewSweeper(st.payments, reconciler, worker.Config{
		Schedule:    cfg.SweepSchedule,
		MinAge:      cfg.SweepMinAge,
		BatchSize:   cfg.SweepBatchSize,
		WorkerCount: cfg.SweepWorkers,
	}, log, fetchers...)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sweeper.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-errCh:
		log.Error("component failed, shutting down", zap.Error(runErr))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	wg.Wait()
	log.Info("ledger stopped")
	return runErr
}

type unavailableTrainer struct{}

func (unavailableTrainer) Submit(context.Context, jobs.TrainingRequest) (string, error) {
	return "", &domainErr.ConfigurationError{Setting: "REPLICATE_API_TOKEN"}
}

type unavailableBlobs struct{}

func (unavailableBlobs) Put(context.Context, string, string, io.Reader) (string, error) {
	return "", &domainErr.ConfigurationError{Setting: "SUPABASE_URL"}
}
