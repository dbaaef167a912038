package metering

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gridbill/gridbill/internal/rbac"
	"github.com/gridbill/gridbill/internal/shared"
)

var installed = time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)

type memoryRepo struct {
	meters   map[int64]MeterInfo
	readings []Reading
	nextID   int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{meters: map[int64]MeterInfo{
		7: {ID: 7, CustomerID: 1, InitialReading: decimal.NewFromInt(1000), InstalledAt: installed, Active: true},
		8: {ID: 8, CustomerID: 1, InitialReading: decimal.Zero, InstalledAt: installed, Active: false},
	}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetReading(ctx context.Context, id int64) (Reading, error) {
	for _, rd := range r.readings {
		if rd.ID == id {
			return rd, nil
		}
	}
	return Reading{}, ErrReadingNotFound
}

func (r *memoryRepo) GetMeter(ctx context.Context, id int64) (MeterInfo, error) {
	m, ok := r.meters[id]
	if !ok {
		return MeterInfo{}, ErrMeterNotFound
	}
	return m, nil
}

func (r *memoryRepo) Baseline(ctx context.Context, meter MeterInfo, before time.Time, excludeID int64) (Baseline, error) {
	candidates := make([]Reading, 0)
	for _, rd := range r.readings {
		if rd.MeterID == meter.ID && rd.Status == StatusValid && rd.ReadAt.Before(before) && rd.ID != excludeID {
			candidates = append(candidates, rd)
		}
	}
	if len(candidates) == 0 {
		return Baseline{Value: meter.InitialReading, ReadAt: meter.InstalledAt}, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ReadAt.After(candidates[j].ReadAt) })
	return Baseline{ReadingID: candidates[0].ID, Value: candidates[0].Value, ReadAt: candidates[0].ReadAt}, nil
}

func (r *memoryRepo) ListReadings(ctx context.Context, meterID int64, page shared.PageRequest) ([]Reading, int, error) {
	var out []Reading
	for _, rd := range r.readings {
		if rd.MeterID == meterID {
			out = append(out, rd)
		}
	}
	return out, len(out), nil
}

func (tx *memoryTx) LockMeter(ctx context.Context, id int64) (MeterInfo, error) {
	return tx.repo.GetMeter(ctx, id)
}

func (tx *memoryTx) Baseline(ctx context.Context, meter MeterInfo, before time.Time) (Baseline, error) {
	return tx.repo.Baseline(ctx, meter, before, 0)
}

func (tx *memoryTx) InsertReading(ctx context.Context, r Reading) (Reading, error) {
	tx.repo.nextID++
	r.ID = tx.repo.nextID
	r.CreatedAt = time.Now()
	tx.repo.readings = append(tx.repo.readings, r)
	return r, nil
}

func newService(repo *memoryRepo) *Service {
	svc := NewService(repo, nil, nil)
	svc.now = func() time.Time { return time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC) }
	return svc
}

func TestRecordReadingFlagsRegression(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo)
	ctx := context.Background()

	first, err := svc.RecordReading(ctx, 7, RecordReadingInput{Value: decimal.NewFromInt(1150), ReadAt: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Equal(t, StatusValid, first.Status)
	require.Equal(t, SourceManual, first.Source)

	low, err := svc.RecordReading(ctx, 7, RecordReadingInput{Value: decimal.NewFromInt(1100), ReadAt: time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Equal(t, StatusFlagged, low.Status)
	require.Contains(t, low.Note, "below previous reading")

	// flagged readings are skipped when resolving the next baseline
	base, err := svc.PreviousReading(ctx, 7, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, first.ID, base.ReadingID)
}

func TestPreviousReadingFallsBackToInitial(t *testing.T) {
	svc := newService(newMemoryRepo())
	base, err := svc.PreviousReading(context.Background(), 7, time.Now())
	require.NoError(t, err)
	require.Zero(t, base.ReadingID)
	require.True(t, base.Value.Equal(decimal.NewFromInt(1000)))
}

func TestRecordReadingValidation(t *testing.T) {
	svc := newService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.RecordReading(ctx, 7, RecordReadingInput{Value: decimal.NewFromInt(-1), ReadAt: installed.AddDate(0, 1, 0)})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordReading(ctx, 7, RecordReadingInput{Value: decimal.NewFromInt(1), ReadAt: installed.AddDate(0, -1, 0)})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordReading(ctx, 7, RecordReadingInput{Value: decimal.NewFromInt(1), ReadAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordReading(ctx, 8, RecordReadingInput{Value: decimal.NewFromInt(1), ReadAt: installed.AddDate(0, 1, 0)})
	require.ErrorIs(t, err, ErrMeterInactive)

	_, err = svc.RecordReading(ctx, 99, RecordReadingInput{Value: decimal.NewFromInt(1), ReadAt: installed.AddDate(0, 1, 0)})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestConsumption(t *testing.T) {
	got := Consumption(Reading{Value: decimal.RequireFromString("1250.5")}, Baseline{Value: decimal.NewFromInt(1000)})
	require.True(t, got.Equal(decimal.RequireFromString("250.5")))
}

func TestReadingEndpoints(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo)
	router := chi.NewRouter()
	NewHandler(nil, svc, rbac.Middleware{Policy: rbac.NewPolicy(rbac.DefaultPolicy())}).MountRoutes(router)

	call := func(role, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), &shared.Principal{Subject: "reader-1", Roles: []string{role}}))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := call(rbac.RoleBillingClerk, http.MethodPost, "/meters/7/readings", `{"value":"1200","read_at":"2025-01-31T00:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"recorded_by":"reader-1"`)

	rr = call(rbac.RoleViewer, http.MethodPost, "/meters/7/readings", `{"value":"1300","read_at":"2025-02-28T00:00:00Z"}`)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = call(rbac.RoleViewer, http.MethodGet, "/meters/7/readings", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"total":1`)

	rr = call(rbac.RoleViewer, http.MethodGet, "/readings/1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = call(rbac.RoleViewer, http.MethodGet, "/meters/7/baseline?before=2025-03-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"value":"1200"`)
}
