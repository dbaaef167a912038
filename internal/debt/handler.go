package debt

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gridbill/gridbill/internal/platform/httpx"
	"github.com/gridbill/gridbill/internal/rbac"
	"github.com/gridbill/gridbill/internal/shared"
)

// Handler serves debt and payment plan endpoints.
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
		r.Use(h.rbac.RequireAny(shared.PermDebtsView))
		r.Get("/debts", h.listDebts)
		r.Get("/debts/{id}", h.getDebt)
		r.Get("/payment-plans", h.listPlans)
		r.Get("/payment-plans/{id}", h.getPlan)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermDebtsManage))
		r.Post("/debts/sync", h.sync)
		r.Post("/debts/{id}/write-off", h.writeOff)
		r.Post("/debts/{id}/dispute", h.dispute)
		r.Post("/debts/{id}/resolve", h.resolve)
	})
	r.With(h.rbac.RequireAny(shared.PermPlansManage)).Post("/payment-plans", h.createPlan)
	r.With(h.rbac.RequireAny(shared.PermPaymentsRecord)).Post("/payment-plans/{id}/installments/{installmentId}/pay", h.payInstallment)
}

func (h *Handler) listDebts(w http.ResponseWriter, r *http.Request) {
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
	items, meta, err := h.service.ListDebts(r.Context(), ListFilter{
		CustomerID: customerID,
		Status:     status,
		Page:       shared.PageFromRequest(r),
	})
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.Page(w, items, meta)
}

func (h *Handler) getDebt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.GetDebt(r.Context(), id)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, d)
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.SyncFromInvoices(r.Context(), h.service.now())
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, result)
}

func (h *Handler) writeOff(w http.ResponseWriter, r *http.Request) {
	h.reasonAction(w, r, h.service.WriteOff)
}

func (h *Handler) dispute(w http.ResponseWriter, r *http.Request) {
	h.reasonAction(w, r, h.service.Dispute)
}

func (h *Handler) reasonAction(w http.ResponseWriter, r *http.Request, action func(context.Context, int64, ReasonInput) (Debt, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input ReasonInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := action(r.Context(), id, input)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, d)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.Resolve(r.Context(), id)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, d)
}

func (h *Handler) createPlan(w http.ResponseWriter, r *http.Request) {
	var input CreatePlanInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	plan, err := h.service.CreatePaymentPlan(r.Context(), input)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.Created(w, plan)
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	customerID, err := httpx.QueryInt64(r, "customer_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	plans, err := h.service.ListPlans(r.Context(), customerID)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, plans)
}

func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	plan, err := h.service.GetPlan(r.Context(), id)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, plan)
}

func (h *Handler) payInstallment(w http.ResponseWriter, r *http.Request) {
	planID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	installmentID, err := httpx.IDParam(r, "installmentId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input PayInstallmentInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.PayInstallment(r.Context(), planID, installmentID, input)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, result)
}
