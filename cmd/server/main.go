package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seu-repo/sigec-ve-client/internal/adapter/auth"
	"github.com/seu-repo/sigec-ve-client/internal/adapter/cache"
	"github.com/seu-repo/sigec-ve-client/internal/adapter/external/payment"
	"github.com/seu-repo/sigec-ve-client/internal/adapter/grpc/server"
	"github.com/seu-repo/sigec-ve-client/internal/adapter/http/fiber/handlers"
	"github.com/seu-repo/sigec-ve-client/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/sigec-ve-client/internal/adapter/queue"
	"github.com/seu-repo/sigec-ve-client/internal/adapter/rest"
	"github.com/seu-repo/sigec-ve-client/internal/adapter/storage/bolt"
	"github.com/seu-repo/sigec-ve-client/internal/adapter/storage/memory"
	"github.com/seu-repo/sigec-ve-client/internal/adapter/storage/postgres"
	"github.com/seu-repo/sigec-ve-client/internal/adapter/vault"
	wsAdapter "github.com/seu-repo/sigec-ve-client/internal/adapter/websocket"
	"github.com/seu-repo/sigec-ve-client/internal/observability/telemetry"
	"github.com/seu-repo/sigec-ve-client/internal/ports"
	"github.com/seu-repo/sigec-ve-client/internal/service/billing"
	"github.com/seu-repo/sigec-ve-client/internal/service/cascade"
	"github.com/seu-repo/sigec-ve-client/internal/service/command"
	"github.com/seu-repo/sigec-ve-client/internal/service/health"
	"github.com/seu-repo/sigec-ve-client/internal/service/session"
	"github.com/seu-repo/sigec-ve-client/internal/service/wallet"
	"github.com/seu-repo/sigec-ve-client/pkg/config"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	// 2. Initialize Logger
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	defer logger.Sync()

	logger.Info("Starting SIGEC-VE client engine",
		zap.String("service", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. Initialize OpenTelemetry (Distributed Tracing)
	if cfg.OpenTelemetry.Enabled {
		tracerProvider, err := telemetry.InitTracer(
			cfg.OpenTelemetry.ServiceName,
			cfg.App.Version,
			cfg.OpenTelemetry.Jaeger.Endpoint,
			cfg.OpenTelemetry.Jaeger.SamplerParam,
		)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				logger.Error("Error shutting down tracer provider", zap.Error(err))
			}
		}()
	}

	// 4. Secrets and backend token
	tokens, stripeKey := resolveSecrets(ctx, cfg, logger)

	// 5. Backend REST client
	api := rest.NewClient(rest.Config{
		BaseURL:                 cfg.Backend.BaseURL,
		Timeout:                 cfg.Backend.Timeout,
		BreakerMaxRequests:      uint32(cfg.CircuitBreaker.MaxRequests),
		BreakerInterval:         cfg.CircuitBreaker.Interval,
		BreakerTimeout:          cfg.CircuitBreaker.Timeout,
		BreakerFailureThreshold: cfg.CircuitBreaker.FailureThreshold,
	}, tokens, logger)

	// 6. Resource cache (Redis, local fallback)
	resourceCache := cache.New(cfg.Redis.URL, logger)
	defer resourceCache.Close()

	// 7. Remembered sessions
	remembered, err := bolt.NewRememberedStore(cfg.Storage.BoltPath, logger)
	if err != nil {
		logger.Fatal("Failed to open remembered session store", zap.Error(err))
	}
	defer remembered.Close()

	// 8. Settlement archive
	archive, closeArchive := newArchive(cfg.Database, logger)
	defer closeArchive()

	// 9. Message Queue
	messageQueue := queue.New(queue.Options{
		Driver: cfg.Queue.Driver,
		NATS: queue.NATSOptions{
			URL:           cfg.NATS.URL,
			Name:          cfg.App.Name,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		},
		RabbitMQURL: cfg.RabbitMQ.URL,
	}, logger)
	defer messageQueue.Close()

	// 10. Engine services
	clock := clockwork.NewRealClock()
	schedule, err := cascade.NewSchedule(cfg.Cascade.Delays...)
	if err != nil {
		logger.Fatal("Invalid cascade schedule", zap.Error(err))
	}

	billingService := billing.NewService(api, api, archive, messageQueue, clock, cfg.Polling.Transaction, logger)
	dispatcher := command.NewDispatcher(api, schedule, clock, messageQueue, logger)
	manager := session.NewManager(session.Dependencies{
		API:        api,
		Store:      remembered,
		Resources:  session.NewResourceCache(resourceCache, cfg.Cache.ResourceTTL, clock, logger),
		Billing:    billingService,
		Dispatcher: dispatcher,
		Queue:      messageQueue,
		Clock:      clock,
	}, session.Intervals{
		ChargePointActive: cfg.Polling.ChargePointActive,
		ChargePointIdle:   cfg.Polling.ChargePointIdle,
		Transaction:       cfg.Polling.Transaction,
		MeterValues:       cfg.Polling.MeterValues,
		MeterWindow:       cfg.Polling.MeterWindow,
	}, logger)
	defer manager.Close()

	var checkout ports.CheckoutSurface = payment.NewPassthroughCheckout(logger)
	if stripeKey != "" {
		checkout = payment.NewStripeCheckout(stripeKey, logger)
	}
	walletService := wallet.NewService(api, checkout, messageQueue, clock, wallet.Config{
		MinTopUp:       decimal.NewFromFloat(cfg.Wallet.MinTopUp),
		MaxTopUp:       decimal.NewFromFloat(cfg.Wallet.MaxTopUp),
		Currency:       cfg.Wallet.Currency,
		StatusSchedule: schedule,
	}, logger)
	if err := walletService.Start(); err != nil {
		logger.Fatal("Failed to start wallet service", zap.Error(err))
	}
	defer walletService.Close()

	// 11. Health checks
	healthService := health.NewService(&health.Config{Version: cfg.App.Version}, logger)
	healthService.RegisterChecker("backend", health.PingChecker("backend", true, api.Ping, logger))
	healthService.RegisterChecker("cache", health.PingChecker("cache", false, func(context.Context) error {
		return resourceCache.Ping()
	}, logger))
	healthService.RegisterChecker("archive", health.PingChecker("archive", false, archive.Ping, logger))

	// 12. Initialize Fiber HTTP Server
	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		ServerHeader:          cfg.App.Name,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
		IdleTimeout:           cfg.HTTP.IdleTimeout,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	// Global Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger(logger))
	app.Use(middleware.NewCORS(cfg.CORS))

	health.NewHandler(healthService).Register(app)

	// Metrics endpoint for Prometheus
	if cfg.Prometheus.Enabled {
		metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
		app.Get(cfg.Prometheus.Path, func(c *fiber.Ctx) error {
			metricsHandler(c.Context())
			return nil
		})
	}

	// API v1 Routes
	v1 := app.Group("/api/v1")
	handlers.NewSessionHandler(manager, logger).Register(v1)
	handlers.NewBillingHandler(billingService, cfg.HTTP.BillingWait, logger).Register(v1)
	handlers.NewWalletHandler(walletService, logger).Register(v1)

	// WebSocket routes
	wsHub := wsAdapter.NewHub(manager, logger)
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/sessions/:chargePointId", websocket.New(func(c *websocket.Conn) {
		id := c.Params("chargePointId")
		if err := wsHub.Serve(ctx, c, id); err != nil {
			logger.Warn("Websocket subscription refused", zap.String("charge_point_id", id), zap.Error(err))
		}
	}))

	// 13. gRPC health server
	var grpcServer *server.GRPCServer
	if cfg.GRPC.Enabled {
		grpcServer = server.NewGRPCServer(healthService, logger)
		go grpcServer.WatchReadiness(ctx, 10*time.Second)
		go func() {
			logger.Info("Starting gRPC Server", zap.Int("port", cfg.GRPC.Port))
			lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
			if err != nil {
				logger.Fatal("Failed to listen for gRPC", zap.Error(err))
			}
			if err := grpcServer.Serve(lis); err != nil {
				logger.Fatal("gRPC Server failed", zap.Error(err))
			}
		}()
	}

	// 14. Start HTTP Server
	go func() {
		logger.Info("Starting HTTP Server", zap.Int("port", cfg.HTTP.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			logger.Fatal("HTTP Server failed", zap.Error(err))
		}
	}()

	// 15. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.Stop()
	}

	logger.Info("Server exited gracefully")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// resolveSecrets builds the backend token source and picks the Stripe key.
// Vault wins over plain configuration when it is configured.
func resolveSecrets(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.TokenSource, string) {
	stripeKey := cfg.Payment.Stripe.SecretKey

	if cfg.Vault.Address == "" {
		return auth.NewStaticTokenSource(cfg.Backend.Token, nil, logger), stripeKey
	}

	secrets, err := vault.NewSecretManager(cfg.Vault.Address, cfg.Vault.Token, logger)
	if err != nil {
		logger.Fatal("Failed to create Vault client", zap.Error(err))
	}
	if key, err := secrets.GetStripeKey(ctx); err == nil {
		stripeKey = key
	} else {
		logger.Warn("Stripe key not found in Vault", zap.Error(err))
	}

	fallback := cfg.Backend.Token
	return auth.NewTokenSource(func(ctx context.Context) (string, error) {
		token, err := secrets.GetBackendToken(ctx)
		if err != nil && fallback != "" {
			logger.Warn("Backend token not found in Vault, using configured token", zap.Error(err))
			return fallback, nil
		}
		return token, err
	}, nil, logger), stripeKey
}

func newArchive(cfg config.DatabaseConfig, logger *zap.Logger) (ports.SettlementArchive, func()) {
	if cfg.URL == "" {
		logger.Info("No database configured, settlements archived in memory")
		return memory.NewSettlementArchive(), func() {}
	}

	db, err := postgres.NewConnection(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if cfg.AutoMigrate {
		if err := postgres.RunMigrations(db); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}
	return postgres.NewSettlementArchive(db, logger), func() {
		if err := postgres.Close(db); err != nil {
			logger.Error("Error closing database", zap.Error(err))
		}
	}
}
