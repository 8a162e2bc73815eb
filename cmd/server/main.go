package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vazaro/shop/internal"
	"github.com/vazaro/shop/internal/handler"
	"github.com/vazaro/shop/internal/handler/webhook"
	"github.com/vazaro/shop/internal/middleware"
	"github.com/vazaro/shop/internal/notify"
	"github.com/vazaro/shop/internal/payment"
	"github.com/vazaro/shop/internal/postgres"
	"github.com/vazaro/shop/internal/router"
	"github.com/vazaro/shop/internal/routes"
	"github.com/vazaro/shop/internal/service"
	"github.com/vazaro/shop/internal/telemetry"
	"github.com/vazaro/shop/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize Sentry error tracking
	flushSentry, err := telemetry.InitSentry(cfg.Sentry, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer flushSentry()

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	store := postgres.NewOrderStore(pool)

	// Initialize the payment provider
	provider, err := newProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize payment provider: %w", err)
	}
	logger.Info("Payment provider initialized", "provider", cfg.Gateway.Provider)

	// Initialize notification sinks. Each sink is optional; an order
	// system with no sinks configured simply logs events.
	var sinks []notify.Sink
	if cfg.Email.Configured() {
		sinks = append(sinks, notify.NewEmailSink(cfg.Email))
		logger.Info("Email notifications enabled", "host", cfg.Email.Host)
	}
	if cfg.Telegram.Configured() {
		sinks = append(sinks, notify.NewTelegramSink(cfg.Telegram))
		logger.Info("Telegram notifications enabled")
	}
	var bus *notify.BusSink
	if cfg.NATS.URL != "" {
		bus, err = notify.NewBusSink(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer bus.Close()
		sinks = append(sinks, bus)
		logger.Info("Order event bus enabled", "url", cfg.NATS.URL)
	}
	dispatcher := notify.NewDispatcher(logger, sinks...)

	// Initialize Prometheus metrics
	metrics := middleware.NewMetrics("shop")
	telemetry.InitBusinessMetrics("shop")

	// Initialize the order service
	orderService := service.NewOrderService(store, provider, dispatcher, service.OrderServiceConfig{
		ProviderName: cfg.Gateway.Provider,
		ReturnURL:    cfg.Gateway.ReturnURL,
	}, logger)

	// Background sweep for payments the poll and webhook paths missed
	reconciler := worker.NewReconciler(store, orderService, worker.Config{}, logger)
	go func() {
		if err := reconciler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reconciler stopped", "error", err)
		}
	}()

	// ==========================================================================
	// Build route dependencies
	// ==========================================================================

	orderDeps := routes.OrderDeps{
		OrderHandler: handler.NewOrderHandler(orderService),
		StaffToken:   cfg.Staff.Token,
		RateLimiter:  middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig()),
	}
	webhookDeps := routes.WebhookDeps{
		GatewayHandler: webhook.NewGatewayHandler(orderService),
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		middleware.WithClientIP(),
		metrics.Middleware,
		middleware.Timeout(middleware.DefaultTimeout),
		router.Logger(logger),
		middleware.WithRequestLogger(logger),
	)

	// Metrics endpoint (protect via firewall in production)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		metrics.Handler().ServeHTTP(w, req)
	})

	// Health check endpoint
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := pool.Ping(req.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	routes.RegisterOrderRoutes(r, orderDeps)
	routes.RegisterWebhookRoutes(r, webhookDeps)

	// ==========================================================================
	// Start server
	// ==========================================================================

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	// Let in-flight notifications finish before the sinks close.
	dispatcher.Wait()
	logger.Info("Server stopped")

	return nil
}

// newProvider builds the configured payment gateway adapter.
func newProvider(cfg *internal.Config, logger *slog.Logger) (payment.Provider, error) {
	switch cfg.Gateway.Provider {
	case "sberbank":
		return payment.NewSberbankProvider(
			cfg.Gateway.Sberbank.URL,
			cfg.Gateway.Sberbank.Login,
			cfg.Gateway.Sberbank.Password,
			logger,
		)
	case "yookassa":
		return payment.NewYooKassaProvider(
			cfg.Gateway.YooKassa.URL,
			cfg.Gateway.YooKassa.ShopID,
			cfg.Gateway.YooKassa.SecretKey,
			logger,
		)
	case "mock":
		return payment.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Gateway.Provider)
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
