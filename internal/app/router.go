package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gridbill/gridbill/internal/auth"
	"github.com/gridbill/gridbill/internal/billing"
	"github.com/gridbill/gridbill/internal/customers"
	"github.com/gridbill/gridbill/internal/debt"
	"github.com/gridbill/gridbill/internal/metering"
	"github.com/gridbill/gridbill/internal/observability"
	"github.com/gridbill/gridbill/internal/payments"
	"github.com/gridbill/gridbill/internal/rbac"
	"github.com/gridbill/gridbill/internal/reporting"
	"github.com/gridbill/gridbill/internal/sequence"
	"github.com/gridbill/gridbill/internal/tariff"
	"github.com/gridbill/gridbill/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger   *slog.Logger
	Config   *Config
	Metrics  *observability.Metrics
	Verifier *auth.Verifier

	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	CustomersHandler   *customers.Handler
	MeteringHandler    *metering.Handler
	TariffHandler      *tariff.Handler
	SequenceHandler    *sequence.Handler
	BillingHandler     *billing.Handler
	PaymentsHandler    *payments.Handler
	DebtHandler        *debt.Handler
	ReportingHandler   *reporting.Handler
}

// NewRouter constructs the chi.Router with GridBill defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(params.Verifier, params.Logger))
		r.Use(requireJSON)

		if params.PermissionsHandler != nil {
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
		if params.CustomersHandler != nil {
			params.CustomersHandler.MountRoutes(r)
		}
		if params.MeteringHandler != nil {
			params.MeteringHandler.MountRoutes(r)
		}
		if params.TariffHandler != nil {
			r.Route("/tariffs", params.TariffHandler.MountRoutes)
		}
		if params.SequenceHandler != nil {
			r.Route("/sequences", params.SequenceHandler.MountRoutes)
		}
		if params.BillingHandler != nil {
			params.BillingHandler.MountRoutes(r)
		}
		if params.PaymentsHandler != nil {
			params.PaymentsHandler.MountRoutes(r)
		}
		if params.DebtHandler != nil {
			params.DebtHandler.MountRoutes(r)
		}
		if params.ReportingHandler != nil {
			params.ReportingHandler.MountRoutes(r)
		}
	})

	return r
}
