package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gridbill/gridbill/internal/debt"
	jobmetrics "github.com/gridbill/gridbill/internal/jobs"
)

// InvoiceSweeper flags issued invoices past their due date.
type InvoiceSweeper interface {
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
}

// InstallmentSweeper flags overdue installments and defaults stale plans.
type InstallmentSweeper interface {
	MarkOverdueInstallments(ctx context.Context, now time.Time, defaultAfter time.Duration) (debt.SweepResult, error)
}

// DebtSyncer refreshes debts from past-due invoices.
type DebtSyncer interface {
	SyncFromInvoices(ctx context.Context, now time.Time) (debt.SyncResult, error)
}

// ReportWarmer preloads cached reports.
type ReportWarmer interface {
	WarmUp(ctx context.Context, asOf time.Time) error
}

// OverdueSweepJob runs the nightly overdue sweep.
type OverdueSweepJob struct {
	Invoices     InvoiceSweeper
	Plans        InstallmentSweeper
	DefaultAfter time.Duration
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	clock        func() time.Time
}

// Handle processes TaskOverdueSweep.
func (j *OverdueSweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Invoices == nil || j.Plans == nil {
		return errors.New("overdue sweep: handler not configured")
	}
	payload, err := decodePayload(t)
	if err != nil {
		return fmt.Errorf("overdue sweep: %v: %w", err, asynq.SkipRetry)
	}
	asOf, err := payload.Date(now(j.clock))
	if err != nil {
		return fmt.Errorf("overdue sweep: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskOverdueSweep)
	defer func() { err = tracker.End(err) }()
	logger := jobLogger(j.Logger, TaskOverdueSweep).With(slog.String("as_of", asOf.Format(asOfLayout)))

	invoices, err := j.Invoices.MarkOverdue(ctx, asOf)
	if err != nil {
		logger.Error("mark invoices overdue", slog.Any("error", err))
		return err
	}
	sweep, err := j.Plans.MarkOverdueInstallments(ctx, asOf, j.DefaultAfter)
	if err != nil {
		logger.Error("mark installments overdue", slog.Any("error", err))
		return err
	}
	j.Metrics.AddAffected(TaskOverdueSweep, "invoice", int(invoices))
	j.Metrics.AddAffected(TaskOverdueSweep, "installment", int(sweep.InstallmentsOverdue))
	j.Metrics.AddAffected(TaskOverdueSweep, "payment_plan", int(sweep.PlansDefaulted))
	logger.Info("overdue sweep completed",
		slog.Int64("invoices_overdue", invoices),
		slog.Int64("installments_overdue", sweep.InstallmentsOverdue),
		slog.Int64("plans_defaulted", sweep.PlansDefaulted))
	return nil
}

// DebtSyncJob runs the nightly debt sync.
type DebtSyncJob struct {
	Debts   DebtSyncer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// Handle processes TaskDebtSync.
func (j *DebtSyncJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Debts == nil {
		return errors.New("debt sync: handler not configured")
	}
	payload, err := decodePayload(t)
	if err != nil {
		return fmt.Errorf("debt sync: %v: %w", err, asynq.SkipRetry)
	}
	asOf, err := payload.Date(now(j.clock))
	if err != nil {
		return fmt.Errorf("debt sync: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskDebtSync)
	defer func() { err = tracker.End(err) }()
	logger := jobLogger(j.Logger, TaskDebtSync)

	res, err := j.Debts.SyncFromInvoices(ctx, asOf)
	if err != nil {
		logger.Error("sync debts", slog.Any("error", err))
		return err
	}
	j.Metrics.AddAffected(TaskDebtSync, "debt", res.Created+res.Refreshed)
	logger.Info("debt sync completed", slog.Int("created", res.Created), slog.Int("refreshed", res.Refreshed))
	return nil
}

// ReportWarmupJob preloads the dashboard and aging caches.
type ReportWarmupJob struct {
	Reports ReportWarmer
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// Handle processes TaskReportWarmup.
func (j *ReportWarmupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Reports == nil {
		return errors.New("report warmup: handler not configured")
	}
	payload, err := decodePayload(t)
	if err != nil {
		return fmt.Errorf("report warmup: %v: %w", err, asynq.SkipRetry)
	}
	asOf, err := payload.Date(now(j.clock))
	if err != nil {
		return fmt.Errorf("report warmup: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskReportWarmup)
	defer func() { err = tracker.End(err) }()

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	warmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	started := time.Now()
	if err := j.Reports.WarmUp(warmCtx, asOf); err != nil {
		jobLogger(j.Logger, TaskReportWarmup).Error("warm reports", slog.Any("error", err))
		return err
	}
	jobLogger(j.Logger, TaskReportWarmup).Info("report warmup completed", slog.Duration("duration", time.Since(started)))
	return nil
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}

func now(clock func() time.Time) time.Time {
	if clock != nil {
		return clock()
	}
	return time.Now().UTC()
}
