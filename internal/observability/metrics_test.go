package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesBillingCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.InvoiceGenerated()
	metrics.PaymentRecorded("pos")
	metrics.PaymentRejected()
	metrics.TransactionFailed("record_payment")

	body := scrape(t, metrics)
	require.Contains(t, body, "gridbill_invoices_generated_total 1")
	require.Contains(t, body, `gridbill_payments_recorded_total{channel="pos"} 1`)
	require.Contains(t, body, "gridbill_payments_rejected_total 1")
	require.Contains(t, body, `gridbill_transaction_failures_total{operation="record_payment"} 1`)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `gridbill_http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `gridbill_http_request_duration_seconds_bucket{route="/test"`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.InvoiceGenerated()
	m.PaymentRecorded("cash")
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
