package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/dropforge/dropengine/internal/config"
	"github.com/dropforge/dropengine/internal/event"
	"github.com/dropforge/dropengine/internal/gateway"
	gwmock "github.com/dropforge/dropengine/internal/gateway/mock"
	handler "github.com/dropforge/dropengine/internal/handler/http"
	"github.com/dropforge/dropengine/internal/idempotency"
	"github.com/dropforge/dropengine/internal/lock"
	"github.com/dropforge/dropengine/internal/repository/postgres"
	"github.com/dropforge/dropengine/internal/service"
	"github.com/dropforge/dropengine/migrations"
	"github.com/dropforge/dropengine/pkg/database"
	"github.com/dropforge/dropengine/pkg/health"
	pkgkafka "github.com/dropforge/dropengine/pkg/kafka"
	"github.com/dropforge/dropengine/pkg/tracing"
)

// App wires together all dependencies and runs the drop engine.
type App struct {
	cfg               *config.Config
	logger            *slog.Logger
	pool              *pgxpool.Pool
	redisClient       *redis.Client
	producer          *pkgkafka.Producer
	httpServer        *http.Server
	inventoryService  *service.InventoryService
	settlementService *service.SettlementService
	tracerShutdown    func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "drop-engine",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "drop-engine")

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Redis backs the variant locks and the idempotent response cache.
	redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis",
		slog.String("host", cfg.RedisHost),
		slog.Int("port", cfg.RedisPort),
	)

	// Initialize Kafka producer with connection validation and retry.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	if err := pingKafkaWithRetry(ctx, producer, logger); err != nil {
		logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Payment gateway: fall back to the in-memory mock when no API keys are
	// configured, so local development works without a Razorpay account.
	var gw gateway.Gateway
	if cfg.GatewayKeyID == "" || cfg.GatewayKeySecret == "" {
		logger.Warn("gateway credentials not configured, using mock gateway")
		gw = gwmock.NewGateway()
	} else {
		gw = gateway.NewRazorpayGateway(cfg.GatewayBaseURL, cfg.GatewayKeyID, cfg.GatewayKeySecret, logger)
	}

	// Build the dependency graph.
	variantRepo := postgres.NewInventoryRepository(pool)
	reservationRepo := postgres.NewReservationRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	webhookRepo := postgres.NewWebhookEventRepository(pool)

	eventProducer := event.NewProducer(producer, logger)
	locker := lock.NewRedisLocker(redisClient)
	idempotencyStore := idempotency.NewRedisStore(redisClient)

	inventoryService := service.NewInventoryService(
		variantRepo, reservationRepo, pool, locker, eventProducer, logger,
		cfg.ReservationTTLDuration(), cfg.LockTTLDuration(),
	)
	settlementService := service.NewSettlementService(
		orderRepo, pool, eventProducer, logger, cfg.PlatformFeePercent,
	)
	webhookService := service.NewWebhookService(
		webhookRepo, pool, settlementService, inventoryService, logger, cfg.GatewayWebhookSecret,
	)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		Inventory:         inventoryService,
		Settlement:        settlementService,
		Webhooks:          webhookService,
		Gateway:           gw,
		IdempotencyStore:  idempotencyStore,
		Health:            healthHandler,
		Logger:            logger,
		GatewayKeyID:      cfg.GatewayKeyID,
		GatewayKeySecret:  cfg.GatewayKeySecret,
		PlatformFee:       cfg.PlatformFeePercent,
		IdempotencyTTL:    cfg.IdempotencyTTLDuration(),
		Environment:       cfg.Environment,
		CORSOrigins:       cfg.CORSAllowedOrigins,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:               cfg,
		logger:            logger,
		pool:              pool,
		redisClient:       redisClient,
		producer:          producer,
		httpServer:        httpServer,
		inventoryService:  inventoryService,
		settlementService: settlementService,
		tracerShutdown:    tracerShutdown,
	}, nil
}

// Run starts the HTTP server and background jobs, then blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	// Start HTTP server.
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Start the expired-reservation sweeper and ledger retention job.
	go a.runReservationSweeper(ctx)
	go a.runLedgerRetention(ctx)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// runReservationSweeper periodically releases reservations whose TTL lapsed.
func (a *App) runReservationSweeper(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := a.inventoryService.SweepExpired(ctx)
			if err != nil {
				a.logger.Error("reservation sweep error", slog.String("error", err.Error()))
			} else if released > 0 {
				a.logger.Info("expired reservations swept", slog.Int("released", released))
			}
		}
	}
}

// runLedgerRetention ages out completed idempotency records and processed
// webhook events once per hour.
func (a *App) runLedgerRetention(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := a.settlementService.PurgeLedgers(ctx, a.cfg.IdempotencyTTLDuration())
			if err != nil {
				a.logger.Error("ledger retention error", slog.String("error", err.Error()))
			} else if purged > 0 {
				a.logger.Info("settlement ledgers purged", slog.Int64("purged", purged))
			}
		}
	}
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close Kafka producer (2s budget).
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 4. Close Redis client.
	if err := a.redisClient.Close(); err != nil {
		a.logger.Error("redis client close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 5. Close PostgreSQL pool.
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s/4s with ±25% jitter).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := producer.Ping(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < 2 {
			base := time.Duration(1<<uint(attempt)) * time.Second
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
			wait := base + jitter
			logger.Warn("kafka producer ping failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", 3),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("kafka producer ping failed after 3 attempts: %w", lastErr)
}
