package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gridbill/gridbill/internal/platform/httpx"
	"github.com/gridbill/gridbill/internal/rbac"
	"github.com/gridbill/gridbill/internal/shared"
	"github.com/gridbill/gridbill/report"
)

// Handler serves invoice endpoints.
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
		r.Use(h.rbac.RequireAny(shared.PermInvoicesView))
		r.Get("/invoices", h.list)
		r.Get("/invoices/{id}", h.get)
		r.Get("/invoices/{id}/pdf", h.pdf)
	})
	r.With(h.rbac.RequireAny(shared.PermInvoicesCreate)).Post("/invoices", h.generate)
	r.With(h.rbac.RequireAny(shared.PermInvoicesCancel)).Post("/invoices/{id}/cancel", h.cancel)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var input GenerateInvoiceInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.GenerateInvoice(r.Context(), input)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.Created(w, inv)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	customerID, err := httpx.QueryInt64(r, "customer_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status, err := ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := ListFilter{
		CustomerID: customerID,
		Status:     status,
		Period:     r.URL.Query().Get("period"),
		Page:       shared.PageFromRequest(r),
	}
	items, meta, err := h.service.ListInvoices(r.Context(), filter)
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
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, inv)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input CancelInvoiceInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.CancelInvoice(r.Context(), id, input)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, inv)
}

func (h *Handler) pdf(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pdf, inv, err := h.service.RenderPDF(r.Context(), id)
	if errors.Is(err, report.ErrRendererDisabled) {
		httpx.JSON(w, http.StatusServiceUnavailable, httpx.ErrorEnvelope{Error: httpx.ErrorBody{
			Code:    "renderer_unavailable",
			Message: "pdf rendering is not configured",
		}})
		return
	}
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "inline; filename="+strconv.Quote(inv.InvoiceNo+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
