package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/gridbill/gridbill/internal/billing"
	"github.com/gridbill/gridbill/internal/customers"
	"github.com/gridbill/gridbill/internal/debt"
	"github.com/gridbill/gridbill/internal/metering"
	"github.com/gridbill/gridbill/internal/observability"
	"github.com/gridbill/gridbill/internal/payments"
	"github.com/gridbill/gridbill/internal/reporting"
	"github.com/gridbill/gridbill/internal/sequence"
	"github.com/gridbill/gridbill/internal/shared"
	"github.com/gridbill/gridbill/internal/tariff"
	"github.com/gridbill/gridbill/report"
)

// Infrastructure carries the connections shared by the API and the worker.
type Infrastructure struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
}

// Services is the assembled domain layer.
type Services struct {
	Sequences   *sequence.Service
	Tariffs     *tariff.Service
	Customers   *customers.Service
	Metering    *metering.Service
	Billing     *billing.Service
	Payments    *payments.Service
	Debt        *debt.Service
	Reporting   *reporting.Service
	ReportCache *reporting.Cache
	PDF         *report.Client
}

// NewServices wires repositories, caches and renderers into services.
func NewServices(ctx context.Context, infra Infrastructure) (*Services, error) {
	cfg := infra.Config
	logger := infra.Logger
	if logger == nil {
		logger = slog.Default()
	}

	auditLogger := shared.NewAuditLogger(infra.Pool)
	idempotency := shared.NewIdempotencyStore(infra.Pool)
	reportCache := reporting.NewCache(infra.Redis, cfg.ReportCacheTTL)

	pdfClient := report.NewClient(cfg.GotenbergURL)
	renderer, err := report.NewRenderer(pdfClient, cfg.BillingCurrency)
	if err != nil {
		return nil, fmt.Errorf("init invoice renderer: %w", err)
	}

	var store reporting.ObjectStore
	if cfg.ExportStorageEnabled() {
		s3, err := reporting.NewS3Store(reporting.S3Config{
			Endpoint:  cfg.ExportS3Endpoint,
			AccessKey: cfg.ExportS3AccessKey,
			SecretKey: cfg.ExportS3SecretKey,
			Bucket:    cfg.ExportS3Bucket,
			UseSSL:    cfg.ExportS3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			logger.Warn("export bucket unavailable, exports will be streamed", slog.Any("error", err))
		} else {
			store = s3
		}
	}

	tariffs := tariff.NewService(tariff.NewRepository(infra.Pool), auditLogger)
	svc := &Services{
		Sequences:   sequence.NewService(sequence.NewRepository(infra.Pool), auditLogger),
		Tariffs:     tariffs,
		Customers:   customers.NewService(customers.NewRepository(infra.Pool), auditLogger),
		Metering:    metering.NewService(metering.NewRepository(infra.Pool), auditLogger, logger),
		ReportCache: reportCache,
		PDF:         pdfClient,
	}
	svc.Billing = billing.NewService(billing.NewRepository(infra.Pool), tariffs, auditLogger, billing.ServiceConfig{
		PaymentTerms: cfg.PaymentTerms(),
		Metrics:      infra.Metrics,
		Cache:        reportCache,
		Renderer:     renderer,
		Logger:       logger,
	})
	svc.Payments = payments.NewService(payments.NewRepository(infra.Pool), auditLogger, idempotency, payments.ServiceConfig{
		Metrics: infra.Metrics,
		Cache:   reportCache,
		Logger:  logger,
	})
	svc.Debt = debt.NewService(debt.NewRepository(infra.Pool), auditLogger, debt.ServiceConfig{
		Metrics: infra.Metrics,
		Cache:   reportCache,
		Logger:  logger,
	})
	svc.Reporting = reporting.NewService(reporting.NewRepository(infra.Pool), reportCache, reporting.ServiceConfig{
		Store:  store,
		URLTTL: cfg.ExportURLTTL,
		Logger: logger,
	})
	return svc, nil
}
