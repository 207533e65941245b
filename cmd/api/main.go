package main

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/webber-shop/api/internal/di"
	"github.com/webber-shop/api/internal/events"
	"github.com/webber-shop/api/internal/handlers"
	"github.com/webber-shop/api/internal/payments"
	"github.com/webber-shop/api/internal/platform/config"
	"github.com/webber-shop/api/internal/platform/httpx"
	"github.com/webber-shop/api/internal/platform/idempotency"
	platformmysql "github.com/webber-shop/api/internal/platform/mysql"
	"github.com/webber-shop/api/internal/platform/observability"
	"github.com/webber-shop/api/internal/repositories"
	mysqlrepo "github.com/webber-shop/api/internal/repositories/mysql"
	"github.com/webber-shop/api/internal/shipping"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Error(invalid))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	dbProvider := platformmysql.NewProvider(cfg.Database)
	db, err := dbProvider.DB(ctx)
	if err != nil {
		logger.Fatal("failed to open mysql connection", zap.Error(err))
	}
	defer func() {
		if err := dbProvider.Close(); err != nil {
			logger.Warn("mysql close error", zap.Error(err))
		}
	}()

	registry, err := mysqlrepo.NewRegistry(db)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}()

	publisher, err := events.NewKafkaPublisher(events.KafkaPublisherDeps{
		Brokers:        cfg.Kafka.Brokers,
		OrderTopic:     cfg.Kafka.OrderTopic,
		InventoryTopic: cfg.Kafka.InventoryTopic,
	})
	if err != nil {
		logger.Fatal("failed to initialise kafka publisher", zap.Error(err))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("kafka close error", zap.Error(err))
		}
	}()

	if strings.TrimSpace(cfg.PSP.StripeAPIKey) == "" {
		logger.Fatal("stripe api key is required for checkout")
	}
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        eventLogger(logger.Named("stripe")),
		Clock:         time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}
	paymentManager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	carrierGateway, err := shipping.NewGateway(shipping.GatewayConfig{
		BaseURL: cfg.Shipping.BaseURL,
		APIKey:  cfg.Shipping.APIKey,
		Timeout: cfg.Shipping.Timeout,
		Logger:  eventLogger(logger.Named("carrier")),
	})
	if err != nil {
		logger.Fatal("failed to initialise carrier gateway", zap.Error(err))
	}

	container, err := di.NewContainer(cfg, di.Deps{
		Registry:  registry,
		Processor: paymentManager,
		Carrier:   carrierGateway,
		Events:    publisher,
		RateCache: redisClient,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}
	svc := container.Services

	healthRepo, err := newHealthRepository(db, redisClient, cfg.Kafka.Brokers)
	if err != nil {
		logger.Warn("health: dependency probes disabled", zap.Error(err))
	}

	idempotencyStore := idempotency.NewRedisStore(redisClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		idempotencyMiddleware,
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(cfg, startedAt)),
		handlers.WithHealthReadiness(healthRepo),
	)

	cartHandlers := handlers.NewCartHandlers(svc.Carts,
		handlers.WithCouponRateLimit(10, time.Minute),
	)
	orderHandlers := handlers.NewOrderHandlers(svc.Orders, svc.Pricing)
	paymentHandlers := handlers.NewPaymentHandlers(svc.Payments)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Payments)
	shippingHandlers := handlers.NewShippingHandlers(svc.Shipping)
	couponHandlers := handlers.NewCouponHandlers(svc.Coupons)
	adminHandlers := handlers.NewAdminHandlers(svc.Inventory, svc.Orders, svc.Shipping)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithShippingRoutes(shippingHandlers.Routes),
	}
	if adminMW := adminTokenMiddleware(cfg.Security.AdminToken); adminMW != nil {
		opts = append(opts,
			handlers.WithCouponRoutes(couponHandlers.Routes),
			handlers.WithAdminRoutes(adminHandlers.Routes),
			handlers.WithAdminMiddlewares(adminMW),
		)
	} else {
		logger.Warn("auth: admin token not configured; operator routes disabled")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("webber-shop api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

// newHealthRepository probes the stores the order flow cannot run without.
// Kafka is included because a dead broker silently drops lifecycle events.
func newHealthRepository(db *sql.DB, redisClient *redis.Client, brokers []string) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if db != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "mysql",
			Timeout: 1500 * time.Millisecond,
			Check:   db.PingContext,
		})
	}
	if redisClient != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}
	if len(brokers) > 0 {
		broker := brokers[0]
		checks = append(checks, repositories.DependencyCheck{
			Name:    "kafka",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				conn, err := kafka.DialContext(ctx, "tcp", broker)
				if err != nil {
					return err
				}
				return conn.Close()
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

// adminTokenMiddleware gates operator routes behind a shared static token.
// Returns nil when no token is configured so the caller can disable the routes.
func adminTokenMiddleware(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := []byte(strings.TrimSpace(r.Header.Get("X-Admin-Token")))
			if subtle.ConstantTimeCompare(expected, presented) != 1 {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "admin access denied", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func eventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug(event, zFields...)
	}
}
