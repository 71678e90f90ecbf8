// Package main is the entry point for the DuePoint API server.
//
// It loads configuration (resolving secrets from SSM outside local mode),
// opens the pgx connection pool, wires the handlers onto the core chassis,
// and serves HTTP with graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"duepoint/internal/api/handlers"
	"duepoint/internal/auth"
	"duepoint/internal/billing"
	"duepoint/internal/config"
	"duepoint/internal/core"
	"duepoint/internal/db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("duepoint API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening database pool: %w", err)
	}
	defer pool.Close()

	// Repositories.
	accounts := db.NewAccountRepository(pool)
	targets := db.NewTargetRepository(pool)
	automations := db.NewAutomationRepository(pool)
	templates := db.NewTemplateRepository(pool)
	queue := db.NewQueueRepository(pool)
	queueTx := db.NewQueueTxWriter(pool)
	history := db.NewHistoryRepository(pool)
	endpoints := db.NewEndpointRepository(pool)
	payments := db.NewPaymentRepository(pool)

	// Services.
	tokens := auth.NewTokenService(auth.TokenServiceConfig{
		Accounts:    accounts,
		CronSecret:  cfg.Security.CronSecret,
		AdminAPIKey: cfg.Security.AdminAPIKey,
		BcryptCost:  cfg.Security.BcryptCost,
	})
	paymentSvc := billing.NewPaymentService(billing.PaymentServiceConfig{
		Charges:  payments,
		Accounts: accounts,
		Gateway:  billing.NewHTTPGateway(cfg.Pix, cfg.Delivery.UserAgent),
		Logger:   logger,
	})

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = tokens
	srv.HealthProbes = []core.HealthProbe{dbProbe{pool: pool}}

	targetHandler := handlers.NewTargetHandler(targets, srv.Validator, logger)
	templateHandler := handlers.NewTemplateHandler(templates, srv.Validator, logger)
	automationHandler := handlers.NewAutomationHandler(handlers.AutomationHandlerConfig{
		Store:       automations,
		Templates:   templates,
		Schedule:    queueTx,
		Queue:       queue,
		Validator:   srv.Validator,
		Logger:      logger,
		GraceWindow: cfg.Scheduler.ScheduleGraceWindow,
	})
	historyHandler := handlers.NewHistoryHandler(history, logger)
	endpointHandler := handlers.NewEndpointHandler(endpoints, srv.Validator, logger)
	paymentHandler := handlers.NewPaymentHandler(paymentSvc, srv.Validator, logger, cfg.Pix.WebhookSecret)
	accountHandler := handlers.NewAccountHandler(accounts, tokens, srv.Validator, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { targetHandler.RegisterRoutes(r) },
		func(r chi.Router) { templateHandler.RegisterRoutes(r) },
		func(r chi.Router) { automationHandler.RegisterRoutes(r) },
		func(r chi.Router) { historyHandler.RegisterRoutes(r) },
		func(r chi.Router) { endpointHandler.RegisterRoutes(r) },
		func(r chi.Router) { paymentHandler.RegisterRoutes(r) },
		func(r chi.Router) { accountHandler.RegisterRoutes(r) },
	)

	srv.MountRoutes()

	return serve(srv, cfg, logger)
}

// newPool opens the pgx pool with the configured tuning parameters and
// verifies connectivity before the server accepts traffic.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}
	return pool, nil
}

// dbProbe reports database connectivity for the health endpoint.
type dbProbe struct {
	pool *pgxpool.Pool
}

func (p dbProbe) Name() string                    { return "database" }
func (p dbProbe) Check(ctx context.Context) error { return p.pool.Ping(ctx) }

// serve runs the HTTP server until a shutdown signal or listener error.
func serve(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a JSON slog.Logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
