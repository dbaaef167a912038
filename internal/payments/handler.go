package payments

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gridbill/gridbill/internal/platform/httpx"
	"github.com/gridbill/gridbill/internal/rbac"
	"github.com/gridbill/gridbill/internal/shared"
)

// IdempotencyHeader de-duplicates client retries of POST /payments.
const IdempotencyHeader = "Idempotency-Key"

// Handler serves payment endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers routes relative to /api/v1.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPaymentsView))
		r.Get("/payments", h.list)
		r.Get("/payments/{id}", h.get)
	})
	r.With(h.rbac.RequireAny(shared.PermPaymentsRecord)).Post("/payments", h.record)
	r.With(h.rbac.RequireAny(shared.PermPaymentsCancel)).Post("/payments/{id}/cancel", h.cancel)
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	var input RecordPaymentInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.IdempotencyKey = r.Header.Get(IdempotencyHeader)
	if len(input.IdempotencyKey) > 128 {
		httpx.RespondError(w, shared.NewValidationError(IdempotencyHeader, "must be at most 128 characters"))
		return
	}
	receipt, err := h.service.RecordPayment(r.Context(), input)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	if receipt.Replayed {
		httpx.OK(w, receipt)
		return
	}
	httpx.Created(w, receipt)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := httpx.QueryInt64(r, "invoice_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	customerID, err := httpx.QueryInt64(r, "customer_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	filter := ListFilter{
		InvoiceID:  invoiceID,
		CustomerID: customerID,
		Channel:    Channel(strings.ToLower(q.Get("channel"))),
		Status:     Status(strings.ToLower(q.Get("status"))),
		Page:       shared.PageFromRequest(r),
	}
	items, meta, err := h.service.ListPayments(r.Context(), filter)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.Page(w, items, meta)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, payment)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input CancelPaymentInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipt, err := h.service.CancelPayment(r.Context(), id, input)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, receipt)
}
