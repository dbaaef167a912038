package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/gridbill/gridbill/internal/debt"
	jobmetrics "github.com/gridbill/gridbill/internal/jobs"
)

var fixedNow = time.Date(2025, 3, 2, 0, 30, 0, 0, time.UTC)

type fakeBilling struct {
	gotAsOf time.Time
	n       int64
	err     error
}

func (f *fakeBilling) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	f.gotAsOf = now
	return f.n, f.err
}

type fakeDebts struct {
	gotAsOf        time.Time
	gotAfter       time.Duration
	sweep          debt.SweepResult
	sync           debt.SyncResult
	warmed         int
	warmupDeadline bool
}

func (f *fakeDebts) MarkOverdueInstallments(ctx context.Context, now time.Time, defaultAfter time.Duration) (debt.SweepResult, error) {
	f.gotAsOf, f.gotAfter = now, defaultAfter
	return f.sweep, nil
}

func (f *fakeDebts) SyncFromInvoices(ctx context.Context, now time.Time) (debt.SyncResult, error) {
	f.gotAsOf = now
	return f.sync, nil
}

func (f *fakeDebts) WarmUp(ctx context.Context, asOf time.Time) error {
	_, f.warmupDeadline = ctx.Deadline()
	f.gotAsOf = asOf
	f.warmed++
	return nil
}

func task(t *testing.T, taskType, asOf string) *asynq.Task {
	t.Helper()
	tk, err := NewTask(taskType, RunPayload{AsOf: asOf})
	require.NoError(t, err)
	return tk
}

func TestOverdueSweepJob(t *testing.T) {
	billing := &fakeBilling{n: 3}
	plans := &fakeDebts{sweep: debt.SweepResult{InstallmentsOverdue: 2, PlansDefaulted: 1}}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := &OverdueSweepJob{Invoices: billing, Plans: plans, DefaultAfter: 60 * 24 * time.Hour, Metrics: metrics,
		clock: func() time.Time { return fixedNow }}

	require.NoError(t, job.Handle(context.Background(), task(t, TaskOverdueSweep, "")))
	require.Equal(t, fixedNow, billing.gotAsOf)
	require.Equal(t, fixedNow, plans.gotAsOf)
	require.Equal(t, 60*24*time.Hour, plans.gotAfter)

	require.NoError(t, job.Handle(context.Background(), task(t, TaskOverdueSweep, "2025-01-31")))
	require.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), billing.gotAsOf)
}

func TestOverdueSweepJobPropagatesFailure(t *testing.T) {
	boom := errors.New("db down")
	job := &OverdueSweepJob{Invoices: &fakeBilling{err: boom}, Plans: &fakeDebts{}}
	err := job.Handle(context.Background(), task(t, TaskOverdueSweep, ""))
	require.ErrorIs(t, err, boom)
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	job := &DebtSyncJob{Debts: &fakeDebts{}}
	err := job.Handle(context.Background(), asynq.NewTask(TaskDebtSync, []byte(`{"as_of":`)))
	require.ErrorIs(t, err, asynq.SkipRetry)

	raw, _ := json.Marshal(RunPayload{AsOf: "31/01/2025"})
	err = job.Handle(context.Background(), asynq.NewTask(TaskDebtSync, raw))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestDebtSyncAndWarmupJobs(t *testing.T) {
	debts := &fakeDebts{sync: debt.SyncResult{Created: 2, Refreshed: 1}}
	sync := &DebtSyncJob{Debts: debts, clock: func() time.Time { return fixedNow }}
	require.NoError(t, sync.Handle(context.Background(), asynq.NewTask(TaskDebtSync, nil)))
	require.Equal(t, fixedNow, debts.gotAsOf)

	warm := &ReportWarmupJob{Reports: debts, clock: func() time.Time { return fixedNow }}
	require.NoError(t, warm.Handle(context.Background(), task(t, TaskReportWarmup, "")))
	require.Equal(t, 1, debts.warmed)
	require.True(t, debts.warmupDeadline)

	var unset *ReportWarmupJob
	require.Error(t, unset.Handle(context.Background(), task(t, TaskReportWarmup, "")))
}

func TestTaskNamesAndSchedule(t *testing.T) {
	for name, want := range map[string]string{
		"overdue-sweep": TaskOverdueSweep,
		"debt-sync":     TaskDebtSync,
		"Report-Warmup": TaskReportWarmup,
	} {
		got, err := TaskTypeForName(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := TaskTypeForName("close-period")
	require.Error(t, err)
	_, err = NewTask("mail:send", RunPayload{})
	require.Error(t, err)
	_, err = NewTask(TaskDebtSync, RunPayload{AsOf: "tomorrow"})
	require.Error(t, err)

	schedule, err := Schedule()
	require.NoError(t, err)
	require.Len(t, schedule, 3)
	require.Equal(t, "30 0 * * *", schedule[0].Spec)
	require.Equal(t, TaskOverdueSweep, schedule[0].Task.Type())
	require.Equal(t, TaskReportWarmup, schedule[2].Task.Type())
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func TestHealthEndpoint(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		h.MountRoutes(r)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		return rec
	}

	rec := serve(NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Retry: 1}}, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"pending":4`)
	require.Contains(t, rec.Body.String(), `"retry":1`)

	rec = serve(NewHandler(fakeInspector{err: errors.New("redis unreachable")}, nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(NewHandler(nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"queue":"default"`)
}
