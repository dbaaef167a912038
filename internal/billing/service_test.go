package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gridbill/gridbill/internal/metering"
	"github.com/gridbill/gridbill/internal/rbac"
	"github.com/gridbill/gridbill/internal/shared"
	"github.com/gridbill/gridbill/internal/tariff"
)

type memoryRepo struct {
	customers map[int64]CustomerInfo
	meters    map[int64]metering.MeterInfo
	readings  map[int64]metering.Reading
	invoices  map[int64]Invoice
	seq       int64
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	installed := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	return &memoryRepo{
		customers: map[int64]CustomerInfo{
			1: {ID: 1, CustomerNo: "CUS-000001", Name: "Ada", CategoryID: 3, Active: true},
			2: {ID: 2, CustomerNo: "CUS-000002", Name: "Bob", CategoryID: 3, Active: true},
		},
		meters: map[int64]metering.MeterInfo{
			10: {ID: 10, CustomerID: 1, InitialReading: decimal.NewFromInt(1000), InstalledAt: installed, Active: true},
		},
		readings: map[int64]metering.Reading{
			100: {ID: 100, MeterID: 10, Value: decimal.NewFromInt(1150), ReadAt: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), Status: metering.StatusValid},
			101: {ID: 101, MeterID: 10, Value: decimal.NewFromInt(1100), ReadAt: time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), Status: metering.StatusFlagged},
			102: {ID: 102, MeterID: 10, Value: decimal.NewFromInt(1400), ReadAt: time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), Status: metering.StatusValid},
		},
		invoices: map[int64]Invoice{},
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]Invoice, len(r.invoices))
	for k, v := range r.invoices {
		snapshot[k] = v
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.invoices = snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if filter.CustomerID > 0 && inv.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		out = append(out, inv)
	}
	return out, len(out), nil
}

func (r *memoryRepo) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	var n int64
	for id, inv := range r.invoices {
		if inv.Status == StatusIssued && inv.Balance.IsPositive() && inv.DueDate.Before(asOf) {
			inv.Status = StatusOverdue
			r.invoices[id] = inv
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) GetCustomer(ctx context.Context, id int64) (CustomerInfo, error) {
	c, ok := r.customers[id]
	if !ok {
		return CustomerInfo{}, ErrCustomerNotFound
	}
	return c, nil
}

func (r *memoryRepo) GetMeterNo(ctx context.Context, id int64) (string, error) {
	return "MTR-000010", nil
}

func (tx *memoryTx) GetCustomer(ctx context.Context, id int64) (CustomerInfo, error) {
	return tx.repo.GetCustomer(ctx, id)
}

func (tx *memoryTx) LoadReading(ctx context.Context, id int64) (metering.Reading, error) {
	rd, ok := tx.repo.readings[id]
	if !ok {
		return metering.Reading{}, metering.ErrReadingNotFound
	}
	return rd, nil
}

func (tx *memoryTx) LoadMeter(ctx context.Context, id int64) (metering.MeterInfo, error) {
	m, ok := tx.repo.meters[id]
	if !ok {
		return metering.MeterInfo{}, metering.ErrMeterNotFound
	}
	return m, nil
}

func (tx *memoryTx) Baseline(ctx context.Context, meter metering.MeterInfo, before time.Time, excludeID int64) (metering.Baseline, error) {
	best := metering.Baseline{Value: meter.InitialReading, ReadAt: meter.InstalledAt}
	for _, rd := range tx.repo.readings {
		if rd.MeterID != meter.ID || rd.ID == excludeID || rd.Status != metering.StatusValid || !rd.ReadAt.Before(before) {
			continue
		}
		if best.ReadingID == 0 || rd.ReadAt.After(best.ReadAt) {
			best = metering.Baseline{ReadingID: rd.ID, Value: rd.Value, ReadAt: rd.ReadAt}
		}
	}
	return best, nil
}

func (tx *memoryTx) InvoiceExists(ctx context.Context, customerID, meterID int64, period string) (bool, error) {
	for _, inv := range tx.repo.invoices {
		if inv.CustomerID == customerID && inv.MeterID == meterID && inv.BillingPeriod == period && inv.Status != StatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) ReadingInvoiced(ctx context.Context, readingID int64) (bool, error) {
	for _, inv := range tx.repo.invoices {
		if inv.ReadingID == readingID && inv.Status != StatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) NextNumber(ctx context.Context, series string, now time.Time) (string, error) {
	tx.repo.seq++
	return "INV-" + now.Format("2006") + "-00000" + string(rune('0'+tx.repo.seq)), nil
}

func (tx *memoryTx) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	tx.repo.nextID++
	inv.ID = tx.repo.nextID
	for i := range inv.Lines {
		inv.Lines[i].ID = int64(i + 1)
		inv.Lines[i].InvoiceID = inv.ID
	}
	tx.repo.invoices[inv.ID] = inv
	return inv, nil
}

func (tx *memoryTx) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return tx.repo.GetInvoice(ctx, id)
}

func (tx *memoryTx) CancelInvoice(ctx context.Context, id int64, at time.Time, reason string) error {
	inv := tx.repo.invoices[id]
	inv.Status = StatusCancelled
	inv.CancelledAt = &at
	inv.CancelReason = reason
	tx.repo.invoices[id] = inv
	return nil
}

type staticTariffs struct {
	bands []tariff.Band
}

func (s staticTariffs) ResolveBands(ctx context.Context, categoryID int64) ([]tariff.Band, error) {
	if categoryID != 3 {
		return nil, tariff.ErrNoBands
	}
	return s.bands, nil
}

func residentialBands() []tariff.Band {
	hundred, twoHundred := decimal.NewFromInt(100), decimal.NewFromInt(200)
	return []tariff.Band{
		{Order: 1, FromKwh: decimal.Zero, ToKwh: &hundred, RatePerKwh: dec("0.18"), FixedCharge: dec("10")},
		{Order: 2, FromKwh: hundred, ToKwh: &twoHundred, RatePerKwh: dec("0.20")},
		{Order: 3, FromKwh: twoHundred, RatePerKwh: dec("0.30")},
	}
}

type countingCache struct{ bumps int }

func (c *countingCache) Bump(ctx context.Context) error {
	c.bumps++
	return nil
}

func newTestService(repo *memoryRepo, cache *countingCache) *Service {
	var invalidator CacheInvalidator
	if cache != nil {
		invalidator = cache
	}
	svc := NewService(repo, staticTariffs{bands: residentialBands()}, nil, ServiceConfig{Cache: invalidator})
	svc.now = func() time.Time { return issueDay.Add(9 * time.Hour) }
	return svc
}

func TestGenerateInvoiceFromReading(t *testing.T) {
	repo := newMemoryRepo()
	cache := &countingCache{}
	svc := newTestService(repo, cache)

	inv, err := svc.GenerateInvoice(context.Background(), GenerateInvoiceInput{CustomerID: 1, BillingPeriod: "2025-01", ReadingID: 100})
	require.NoError(t, err)
	require.Equal(t, "INV-2025-000001", inv.InvoiceNo)
	require.True(t, inv.ConsumptionKwh.Equal(dec("150")))
	require.True(t, inv.PreviousReading.Equal(dec("1000")))
	require.Equal(t, "38.00", inv.TotalAmount.StringFixed(2))
	require.True(t, inv.Balance.Equal(inv.TotalAmount))
	require.True(t, inv.PaidAmount.IsZero())
	require.Equal(t, StatusIssued, inv.Status)
	require.Equal(t, issueDay, inv.IssueDate)
	require.Equal(t, dueDay, inv.DueDate)
	require.Len(t, inv.Lines, 2)
	require.Equal(t, 1, cache.bumps)
}

func TestGenerateInvoiceUsesLatestValidBaseline(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)

	// reading 101 is flagged, so March is billed against January's 1150
	inv, err := svc.GenerateInvoice(context.Background(), GenerateInvoiceInput{CustomerID: 1, BillingPeriod: "2025-03", ReadingID: 102})
	require.NoError(t, err)
	require.True(t, inv.ConsumptionKwh.Equal(dec("250")))
	// 100*0.18 + 100*0.20 + 50*0.30 + 10
	require.Equal(t, "63.00", inv.TotalAmount.StringFixed(2))
}

func TestGenerateInvoiceRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("flagged reading", func(t *testing.T) {
		svc := newTestService(newMemoryRepo(), nil)
		_, err := svc.GenerateInvoice(ctx, GenerateInvoiceInput{CustomerID: 1, BillingPeriod: "2025-02", ReadingID: 101})
		require.ErrorIs(t, err, ErrInvalidReading)
		require.ErrorIs(t, err, shared.ErrValidation)
	})
	t.Run("meter of another customer", func(t *testing.T) {
		svc := newTestService(newMemoryRepo(), nil)
		_, err := svc.GenerateInvoice(ctx, GenerateInvoiceInput{CustomerID: 2, BillingPeriod: "2025-01", ReadingID: 100})
		require.ErrorIs(t, err, ErrInvalidReading)
	})
	t.Run("negative consumption", func(t *testing.T) {
		repo := newMemoryRepo()
		repo.readings[103] = metering.Reading{ID: 103, MeterID: 10, Value: dec("900"), ReadAt: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), Status: metering.StatusValid}
		svc := newTestService(repo, nil)
		_, err := svc.GenerateInvoice(ctx, GenerateInvoiceInput{CustomerID: 1, BillingPeriod: "2025-01", ReadingID: 103})
		require.ErrorIs(t, err, ErrInvalidReading)
	})
	t.Run("bad period", func(t *testing.T) {
		svc := newTestService(newMemoryRepo(), nil)
		_, err := svc.GenerateInvoice(ctx, GenerateInvoiceInput{CustomerID: 1, BillingPeriod: "January", ReadingID: 100})
		require.ErrorIs(t, err, shared.ErrValidation)
	})
	t.Run("duplicate period", func(t *testing.T) {
		repo := newMemoryRepo()
		svc := newTestService(repo, nil)
		_, err := svc.GenerateInvoice(ctx, GenerateInvoiceInput{CustomerID: 1, BillingPeriod: "2025-01", ReadingID: 100})
		require.NoError(t, err)
		_, err = svc.GenerateInvoice(ctx, GenerateInvoiceInput{CustomerID: 1, BillingPeriod: "2025-01", ReadingID: 100})
		require.ErrorIs(t, err, ErrDuplicateInvoice)
		require.Len(t, repo.invoices, 1)
	})
	t.Run("reading billed under another period", func(t *testing.T) {
		repo := newMemoryRepo()
		svc := newTestService(repo, nil)
		first, err := svc.GenerateInvoice(ctx, GenerateInvoiceInput{CustomerID: 1, BillingPeriod: "2025-01", ReadingID: 100})
		require.NoError(t, err)
		_, err = svc.GenerateInvoice(ctx, GenerateInvoiceInput{CustomerID: 1, BillingPeriod: "2025-02", ReadingID: 100})
		require.ErrorIs(t, err, ErrReadingInvoiced)
		require.ErrorIs(t, err, ErrDuplicateInvoice)
		require.ErrorIs(t, err, shared.ErrStateConflict)
		require.Len(t, repo.invoices, 1)
		require.Equal(t, int64(100), repo.invoices[first.ID].ReadingID)
	})
	t.Run("unknown customer", func(t *testing.T) {
		svc := newTestService(newMemoryRepo(), nil)
		_, err := svc.GenerateInvoice(ctx, GenerateInvoiceInput{CustomerID: 9, BillingPeriod: "2025-01", ReadingID: 100})
		require.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestCancelInvoice(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	inv, err := svc.GenerateInvoice(ctx, GenerateInvoiceInput{CustomerID: 1, BillingPeriod: "2025-01", ReadingID: 100})
	require.NoError(t, err)

	_, err = svc.CancelInvoice(ctx, inv.ID, CancelInvoiceInput{Reason: " "})
	require.ErrorIs(t, err, shared.ErrValidation)

	paid := repo.invoices[inv.ID]
	paid.PaidAmount = dec("5")
	repo.invoices[inv.ID] = paid
	_, err = svc.CancelInvoice(ctx, inv.ID, CancelInvoiceInput{Reason: "meter misread"})
	require.ErrorIs(t, err, ErrInvoiceHasPayment)

	paid.PaidAmount = decimal.Zero
	repo.invoices[inv.ID] = paid
	cancelled, err := svc.CancelInvoice(ctx, inv.ID, CancelInvoiceInput{Reason: "meter misread"})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.CancelInvoice(ctx, inv.ID, CancelInvoiceInput{Reason: "again"})
	require.ErrorIs(t, err, ErrInvoiceCancelled)

	// the period can be billed again once the earlier invoice is void
	_, err = svc.GenerateInvoice(ctx, GenerateInvoiceInput{CustomerID: 1, BillingPeriod: "2025-01", ReadingID: 100})
	require.NoError(t, err)
}

func TestMarkOverdue(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	inv, err := svc.GenerateInvoice(ctx, GenerateInvoiceInput{CustomerID: 1, BillingPeriod: "2025-01", ReadingID: 100})
	require.NoError(t, err)

	n, err := svc.MarkOverdue(ctx, dueDay.Add(12*time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = svc.MarkOverdue(ctx, dueDay.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, StatusOverdue, repo.invoices[inv.ID].Status)
}

func TestRenderPDFDisabled(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil)
	_, _, err := svc.RenderPDF(context.Background(), 1)
	require.Error(t, err)
}

func TestInvoiceEndpoints(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	router := chi.NewRouter()
	NewHandler(nil, svc, rbac.Middleware{Policy: rbac.NewPolicy(rbac.DefaultPolicy())}).MountRoutes(router)

	call := func(role, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), &shared.Principal{Subject: "clerk-1", Roles: []string{role}}))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := call(rbac.RoleCashier, http.MethodPost, "/invoices", `{"customer_id":1,"billing_period":"2025-01","reading_id":100}`)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = call(rbac.RoleBillingClerk, http.MethodPost, "/invoices", `{"customer_id":1,"billing_period":"2025-01","reading_id":100}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"total_amount":"38"`)

	rr = call(rbac.RoleBillingClerk, http.MethodPost, "/invoices", `{"customer_id":1,"billing_period":"2025-01","reading_id":100}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = call(rbac.RoleBillingClerk, http.MethodPost, "/invoices", `{"customer_id":1,"billing_period":"2025-02","reading_id":101}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(rbac.RoleViewer, http.MethodGet, "/invoices?customer_id=1&status=issued", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"total":1`)

	rr = call(rbac.RoleViewer, http.MethodGet, "/invoices?status=draft", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(rbac.RoleViewer, http.MethodGet, "/invoices/1/pdf", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = call(rbac.RoleBillingClerk, http.MethodPost, "/invoices/1/cancel", `{"reason":"duplicate"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":"cancelled"`)
}
