package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/config"
	"github.com/boddenberg/plastic-rewards-go/internal/handler"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/cache"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/client"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/events"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/lock"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/memory"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/observability"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/postgres"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/redisstore"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/resilience"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/supabase"
	"github.com/boddenberg/plastic-rewards-go/internal/port"
	"github.com/boddenberg/plastic-rewards-go/internal/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// stores groups the persistence ports; memory and postgres implement all three.
type stores interface {
	port.CollectorStore
	port.LedgerStore
	port.DonationStore
}

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid policy: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, "plastic-rewards")
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store", cfg.Store),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Bool("supabase_registry", cfg.SupabaseURL != ""),
		zap.Bool("payment_gateway", cfg.PaymentGatewayURL != ""),
		zap.Bool("amqp", cfg.AMQPURL != ""),
		zap.String("price_per_kg", policy.PricePerKg.String()),
		zap.Int64("cash_share_percent", policy.CashSharePercent),
		zap.Duration("sweep_interval", cfg.SweepInterval),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "plastic-rewards")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var checks []handler.HealthCheck

	// --- Persistence ---
	var store stores
	switch cfg.Store {
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer pg.Close()
		store = pg
		checks = append(checks, handler.HealthCheck{Name: "postgres", Check: pg.Ping})
		logger.Info("using postgres store")
	default:
		store = memory.NewStore()
		logger.Warn("using in-memory store; data is lost on restart")
	}

	// --- Sessions & locks ---
	var sessions port.SessionStore = memory.NewSessions()
	var locker port.KeyLocker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to reach redis", zap.Error(err))
		}
		sessions = redisstore.NewSessions(rdb, "")
		locker = lock.NewRedis(rdb, 30*time.Second, logger)
		checks = append(checks, handler.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("using redis for hub sessions and locks", zap.String("addr", cfg.RedisAddr))
	}

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// --- Collector registry ---
	var registry port.CollectorRegistry = service.NewStoreRegistry(store)
	if cfg.SupabaseURL != "" {
		remote := supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			resilienceCfg,
			logger,
		)
		lookupCache := cache.New[string](cfg.CacheTTL)
		defer lookupCache.Close()
		registry = service.NewCachedRegistry(remote, lookupCache, metrics)
		logger.Info("using supabase collector registry", zap.String("supabase_url", cfg.SupabaseURL))
	}

	// --- Payment gateway ---
	var gateway port.PaymentGateway
	if cfg.PaymentGatewayURL != "" {
		gateway = client.NewPaymentClient(
			httpClient,
			cfg.PaymentGatewayURL,
			cfg.PaymentGatewayKey,
			resilience.NewCircuitBreaker("payment-gateway"),
			resilienceCfg,
			metrics,
		)
	} else {
		gateway = client.NewSandboxGateway()
		logger.Warn("payment gateway not configured, using sandbox")
	}

	// --- Events ---
	var publisher port.EventPublisher = events.Nop{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Fatal("failed to connect to amqp", zap.Error(err))
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
		logger.Info("publishing events", zap.String("exchange", cfg.AMQPExchange))
	}

	// --- Services ---
	ledger := service.NewCollectorLedger(store, store, locker, metrics, logger)
	guard := service.NewCashFloatGuard(sessions, metrics, logger)
	valuation := service.NewValuationPolicy(policy.PricePerKg, policy.CashSharePercent, policy.Materials)
	processor := service.NewTransactionProcessor(
		registry, ledger, guard, valuation, locker, publisher, metrics, logger,
		service.ProcessorConfig{DuplicateWindow: cfg.DuplicateWindow, StoreTimeout: cfg.StoreTimeout},
	)
	scheduler := service.NewRecurrenceScheduler(store, locker, metrics, logger)
	donations := service.NewDonationProcessor(
		store, gateway,
		service.NewAllocationEngine(policy.DefaultAllocation, policy.UnitCosts),
		scheduler, locker, publisher, metrics, logger,
		service.DonationConfig{
			Currency:          policy.Currency,
			PaymentTimeout:    cfg.PaymentTimeout,
			SweepConcurrency:  cfg.SweepConcurrency,
			SweepBatchSize:    cfg.SweepBatchSize,
			MaxFailedAttempts: cfg.MaxFailedAttempts,
		},
	)
	reporting := service.NewReportingService(store, store, store)

	// --- Recurring sweep ---
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		service.NewSweeper(donations, cfg.SweepInterval, logger).Run(ctx)
	}()

	// --- Router ---
	router := handler.NewRouter(handler.Services{
		Sessions:    guard,
		Collections: processor,
		Ledger:      ledger,
		Registry:    registry,
		Donations:   donations,
		Reporting:   reporting,
	}, handler.Options{
		JWTSecret:          cfg.JWTSecret,
		GatewayKey:         cfg.PaymentGatewayKey,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		HealthChecks:       checks,
	}, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	<-sweepDone

	logger.Info("server stopped")
}
