package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the API process.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	invoicesGenerated   prometheus.Counter
	invoicesCancelled   prometheus.Counter
	paymentsRecorded    *prometheus.CounterVec
	paymentsCancelled   prometheus.Counter
	paymentsRejected    prometheus.Counter
	installmentPayments prometheus.Counter
	txFailures          *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and billing collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbill_http_requests_total",
		Help: "HTTP requests partitioned by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gridbill_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	m := &Metrics{
		registry:        registry,
		requestsTotal:   requests,
		requestDuration: duration,
		invoicesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridbill_invoices_generated_total",
			Help: "Invoices generated from meter readings.",
		}),
		invoicesCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridbill_invoices_cancelled_total",
			Help: "Invoices cancelled before any payment.",
		}),
		paymentsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridbill_payments_recorded_total",
			Help: "Confirmed payments by channel.",
		}, []string{"channel"}),
		paymentsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridbill_payments_cancelled_total",
			Help: "Payments reversed by cancellation.",
		}),
		paymentsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridbill_payments_rejected_total",
			Help: "Payments rejected because they exceed the invoice balance.",
		}),
		installmentPayments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridbill_installment_payments_total",
			Help: "Payment plan installment postings.",
		}),
		txFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridbill_transaction_failures_total",
			Help: "Units of work aborted by concurrent writes.",
		}, []string{"operation"}),
	}
	registry.MustRegister(
		requests, duration,
		m.invoicesGenerated, m.invoicesCancelled,
		m.paymentsRecorded, m.paymentsCancelled, m.paymentsRejected,
		m.installmentPayments, m.txFailures,
		collectors.NewGoCollector(),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for extra collectors such as job metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// InvoiceGenerated counts a newly issued invoice.
func (m *Metrics) InvoiceGenerated() {
	if m != nil {
		m.invoicesGenerated.Inc()
	}
}

// InvoiceCancelled counts a cancelled invoice.
func (m *Metrics) InvoiceCancelled() {
	if m != nil {
		m.invoicesCancelled.Inc()
	}
}

// PaymentRecorded counts a confirmed payment.
func (m *Metrics) PaymentRecorded(channel string) {
	if m != nil {
		m.paymentsRecorded.WithLabelValues(channel).Inc()
	}
}

// PaymentCancelled counts a reversed payment.
func (m *Metrics) PaymentCancelled() {
	if m != nil {
		m.paymentsCancelled.Inc()
	}
}

// PaymentRejected counts a payment refused for exceeding the balance.
func (m *Metrics) PaymentRejected() {
	if m != nil {
		m.paymentsRejected.Inc()
	}
}

// InstallmentPaid counts an installment posting.
func (m *Metrics) InstallmentPaid() {
	if m != nil {
		m.installmentPayments.Inc()
	}
}

// TransactionFailed counts an aborted unit of work.
func (m *Metrics) TransactionFailed(operation string) {
	if m != nil {
		m.txFailures.WithLabelValues(operation).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
