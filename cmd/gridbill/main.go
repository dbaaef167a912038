package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gridbill/gridbill/internal/app"
	"github.com/gridbill/gridbill/internal/auth"
	"github.com/gridbill/gridbill/internal/billing"
	"github.com/gridbill/gridbill/internal/customers"
	"github.com/gridbill/gridbill/internal/debt"
	"github.com/gridbill/gridbill/internal/metering"
	"github.com/gridbill/gridbill/internal/observability"
	"github.com/gridbill/gridbill/internal/payments"
	"github.com/gridbill/gridbill/internal/platform/cache"
	"github.com/gridbill/gridbill/internal/platform/db"
	"github.com/gridbill/gridbill/internal/rbac"
	"github.com/gridbill/gridbill/internal/reporting"
	"github.com/gridbill/gridbill/internal/sequence"
	"github.com/gridbill/gridbill/internal/tariff"
	"github.com/gridbill/gridbill/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions("gridbill-api"))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	services, err := app.NewServices(ctx, app.Infrastructure{
		Config:  cfg,
		Logger:  logger,
		Pool:    dbpool,
		Redis:   redisClient,
		Metrics: metrics,
	})
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		os.Exit(1)
	}
	if err := services.ReportCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("report cache invalidation listener", slog.Any("error", err))
	}
	if !services.PDF.Enabled() {
		logger.Warn("gotenberg not configured, invoice pdf download disabled")
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   30 * time.Second,
	})
	if err != nil {
		logger.Error("init token verifier", slog.Any("error", err))
		os.Exit(1)
	}

	policy := rbac.NewPolicy(rbac.DefaultPolicy())
	rbacMiddleware := rbac.Middleware{Policy: policy, Logger: logger}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            metrics,
		Verifier:           verifier,
		PermissionsHandler: rbac.NewPermissionsHandler(policy),
		JobHandler:         jobs.NewHandler(inspector, logger),
		CustomersHandler:   customers.NewHandler(logger, services.Customers, rbacMiddleware),
		MeteringHandler:    metering.NewHandler(logger, services.Metering, rbacMiddleware),
		TariffHandler:      tariff.NewHandler(logger, services.Tariffs, rbacMiddleware),
		SequenceHandler:    sequence.NewHandler(logger, services.Sequences, rbacMiddleware),
		BillingHandler:     billing.NewHandler(logger, services.Billing, rbacMiddleware),
		PaymentsHandler:    payments.NewHandler(logger, services.Payments, rbacMiddleware),
		DebtHandler:        debt.NewHandler(logger, services.Debt, rbacMiddleware),
		ReportingHandler:   reporting.NewHandler(logger, services.Reporting, rbacMiddleware),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
