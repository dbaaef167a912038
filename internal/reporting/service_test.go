package reporting

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/gridbill/gridbill/internal/rbac"
	"github.com/gridbill/gridbill/internal/shared"
)

var now = time.Date(2025, 6, 30, 9, 0, 0, 0, time.UTC)

type memoryRepo struct {
	dashboardLoads atomic.Int32
	balances       []OpenBalance
	customers      map[int64]CustomerRef
	opening        decimal.Decimal
	entries        []StatementEntry
	gotFrom        time.Time
	gotTo          time.Time
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		customers: map[int64]CustomerRef{7: {ID: 7, CustomerNo: "CUS-000007", Name: "Ada Lovelace"}},
		balances: []OpenBalance{
			{InvoiceID: 1, CustomerID: 7, CustomerNo: "CUS-000007", Name: "Ada Lovelace", DueDate: day(2025, 6, 10), Balance: dec("38")},
		},
		opening: decimal.Zero,
		entries: []StatementEntry{
			{Date: day(2025, 6, 1), Kind: EntryInvoice, Reference: "INV-2025-000001", Detail: "2025-05", Amount: dec("38")},
		},
	}
}

func (r *memoryRepo) ActiveCustomers(ctx context.Context) (int64, error) {
	r.dashboardLoads.Add(1)
	return 12, nil
}

func (r *memoryRepo) Billed(ctx context.Context, from, to time.Time) (int64, decimal.Decimal, error) {
	if !from.Equal(day(2025, 6, 1)) || !to.Equal(day(2025, 7, 1)) {
		return 0, decimal.Zero, fmt.Errorf("unexpected range %s..%s", from, to)
	}
	return 4, dec("152.5"), nil
}

func (r *memoryRepo) Collected(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	return dec("101"), nil
}

func (r *memoryRepo) Receivables(ctx context.Context, asOf time.Time) (Receivables, error) {
	return Receivables{Balance: dec("51.5"), Overdue: 1}, nil
}

func (r *memoryRepo) Debts(ctx context.Context) (DebtSummary, error) {
	return DebtSummary{Outstanding: dec("1200"), ActivePlans: 2}, nil
}

func (r *memoryRepo) OpenBalances(ctx context.Context, asOf time.Time) ([]OpenBalance, error) {
	return r.balances, nil
}

func (r *memoryRepo) Customer(ctx context.Context, id int64) (CustomerRef, error) {
	c, ok := r.customers[id]
	if !ok {
		return CustomerRef{}, ErrCustomerNotFound
	}
	return c, nil
}

func (r *memoryRepo) OpeningBalance(ctx context.Context, customerID int64, from time.Time) (decimal.Decimal, error) {
	return r.opening, nil
}

func (r *memoryRepo) StatementEntries(ctx context.Context, customerID int64, from, to time.Time) ([]StatementEntry, error) {
	r.gotFrom, r.gotTo = from, to
	return r.entries, nil
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memoryStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[key] = data
	return nil
}

func (s *memoryStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://exports.example.test/" + key + "?ttl=" + ttl.String(), nil
}

func newTestService(repo *memoryRepo, cache *Cache, cfg ServiceConfig) *Service {
	svc := NewService(repo, cache, cfg)
	svc.now = func() time.Time { return now }
	return svc
}

func TestDashboardAggregatesAndCaches(t *testing.T) {
	cache, _ := newRedisCache(t)
	repo := newMemoryRepo()
	svc := newTestService(repo, cache, ServiceConfig{})
	ctx := context.Background()

	d, err := svc.Dashboard(ctx, now)
	require.NoError(t, err)
	require.Equal(t, "2025-06", d.Period)
	require.Equal(t, int64(12), d.ActiveCustomers)
	require.Equal(t, int64(4), d.InvoicesBilled)
	require.True(t, d.AmountBilled.Equal(dec("152.5")))
	require.True(t, d.AmountCollected.Equal(dec("101")))
	require.True(t, d.OutstandingBalance.Equal(dec("51.5")))
	require.Equal(t, int64(1), d.OverdueInvoices)
	require.True(t, d.OutstandingDebt.Equal(dec("1200")))
	require.Equal(t, int64(2), d.ActivePlans)

	_, err = svc.Dashboard(ctx, now.Add(3*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int32(1), repo.dashboardLoads.Load())

	require.NoError(t, cache.Bump(ctx))
	_, err = svc.Dashboard(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int32(2), repo.dashboardLoads.Load())
}

func TestDashboardConcurrentCallers(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil, ServiceConfig{})

	results := make(chan Dashboard, 16)
	errs := make(chan error, 16)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := svc.Dashboard(context.Background(), now)
			if err != nil {
				errs <- err
				return
			}
			results <- d
		}()
	}
	wg.Wait()
	close(results)
	close(errs)
	require.Empty(t, errs)
	for d := range results {
		require.Equal(t, int64(12), d.ActiveCustomers)
		require.True(t, d.OutstandingDebt.Equal(dec("1200")))
	}
	require.GreaterOrEqual(t, repo.dashboardLoads.Load(), int32(1))
}

func TestCustomerStatement(t *testing.T) {
	repo := newMemoryRepo()
	repo.opening = dec("5")
	svc := newTestService(repo, nil, ServiceConfig{})
	ctx := context.Background()

	st, err := svc.CustomerStatement(ctx, 7, day(2025, 6, 1), day(2025, 6, 30))
	require.NoError(t, err)
	require.Equal(t, day(2025, 7, 1), repo.gotTo)
	require.True(t, st.ClosingBalance.Equal(dec("43")))

	_, err = svc.CustomerStatement(ctx, 99, day(2025, 6, 1), day(2025, 6, 30))
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.CustomerStatement(ctx, 7, day(2025, 6, 30), day(2025, 6, 1))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestExportAgingStreamsWorkbook(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil, ServiceConfig{})

	export, err := svc.ExportAging(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, "aging_20250630.xlsx", export.FileName)
	require.Empty(t, export.URL)

	f, err := excelize.OpenReader(bytes.NewReader(export.Data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	header, err := f.GetCellValue(agingSheet, "D1")
	require.NoError(t, err)
	require.Equal(t, Bucket1To30, header)
	customer, err := f.GetCellValue(agingSheet, "A2")
	require.NoError(t, err)
	require.Equal(t, "CUS-000007", customer)
	total, err := f.GetCellValue(agingSheet, "H3", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Equal(t, "38", total)
}

func TestExportStatementUploadsWhenStoreConfigured(t *testing.T) {
	store := &memoryStore{}
	svc := newTestService(newMemoryRepo(), nil, ServiceConfig{Store: store, URLTTL: 5 * time.Minute})

	export, err := svc.ExportStatement(context.Background(), 7, day(2025, 6, 1), day(2025, 6, 30))
	require.NoError(t, err)
	require.Equal(t, "statement_CUS-000007_20250601_20250630.xlsx", export.FileName)
	require.Nil(t, export.Data)
	require.NotNil(t, export.ExpiresAt)
	require.Equal(t, now.Add(5*time.Minute), *export.ExpiresAt)
	require.Len(t, store.objects, 1)
	for key, data := range store.objects {
		require.True(t, strings.HasPrefix(key, "exports/2025/06/"))
		require.True(t, strings.HasSuffix(key, "/"+export.FileName))
		require.Contains(t, export.URL, key)

		f, err := excelize.OpenReader(bytes.NewReader(data))
		require.NoError(t, err)
		ref, err := f.GetCellValue(statementSheet, "C6")
		require.NoError(t, err)
		require.Equal(t, "INV-2025-000001", ref)
		_ = f.Close()
	}
}

func newTestRouter(svc *Service, roles ...string) http.Handler {
	h := NewHandler(nil, svc, rbac.Middleware{Policy: rbac.NewPolicy(rbac.DefaultPolicy())})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithPrincipal(req.Context(), &shared.Principal{Subject: "u-1", Roles: roles})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	h.MountRoutes(r)
	return r
}

func TestReportEndpoints(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil, ServiceConfig{})
	viewer := newTestRouter(svc, rbac.RoleViewer)
	clerk := newTestRouter(svc, rbac.RoleBillingClerk)

	rec := httptest.NewRecorder()
	viewer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/dashboard", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"amount_billed":"152.5"`)

	rec = httptest.NewRecorder()
	viewer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/aging?as_of=30-06-2025", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	viewer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/customers/7/statement?from=2025-06-01&to=2025-06-30", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"closing_balance":"38"`)

	rec = httptest.NewRecorder()
	viewer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/aging.xlsx", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	clerk.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/aging.xlsx", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, XLSXContentType, rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "aging_20250630.xlsx")
	require.NotZero(t, rec.Body.Len())
}
