package customers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gridbill/gridbill/internal/platform/httpx"
	"github.com/gridbill/gridbill/internal/rbac"
	"github.com/gridbill/gridbill/internal/shared"
)

// Handler serves customer, meter and contract endpoints.
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
		r.Use(h.rbac.RequireAny(shared.PermCustomersView))
		r.Get("/customers", h.listCustomers)
		r.Get("/customers/{id}", h.getCustomer)
		r.Get("/customers/{id}/meters", h.listMeters)
		r.Get("/contracts", h.listContracts)
		r.Get("/contracts/{id}", h.getContract)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermCustomersManage))
		r.Post("/customers", h.createCustomer)
		r.Patch("/customers/{id}", h.updateCustomer)
		r.Post("/customers/{id}/meters", h.registerMeter)
		r.Delete("/meters/{id}", h.removeMeter)
		r.Post("/contracts", h.createContract)
		r.Post("/contracts/{id}/terminate", h.terminateContract)
	})
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var input CreateCustomerInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	customer, err := h.service.CreateCustomer(r.Context(), input)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.Created(w, customer)
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	categoryID, err := httpx.QueryInt64(r, "category_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := CustomerFilter{
		Search:     r.URL.Query().Get("q"),
		CategoryID: categoryID,
		Status:     CustomerStatus(strings.ToLower(r.URL.Query().Get("status"))),
		Page:       shared.PageFromRequest(r),
	}
	items, meta, err := h.service.ListCustomers(r.Context(), filter)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.Page(w, items, meta)
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	customer, err := h.service.GetCustomer(r.Context(), id)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, customer)
}

func (h *Handler) updateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input UpdateCustomerInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	customer, err := h.service.UpdateCustomer(r.Context(), id, input)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, customer)
}

func (h *Handler) registerMeter(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input RegisterMeterInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	meter, err := h.service.RegisterMeter(r.Context(), id, input)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.Created(w, meter)
}

func (h *Handler) listMeters(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	meters, err := h.service.ListMeters(r.Context(), id)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, meters)
}

func (h *Handler) removeMeter(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RemoveMeter(r.Context(), id); err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, map[string]any{"id": id, "status": MeterRemoved})
}

func (h *Handler) createContract(w http.ResponseWriter, r *http.Request) {
	var input CreateContractInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	contract, err := h.service.CreateContract(r.Context(), input)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.Created(w, contract)
}

func (h *Handler) listContracts(w http.ResponseWriter, r *http.Request) {
	customerID, err := httpx.QueryInt64(r, "customer_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, meta, err := h.service.ListContracts(r.Context(), ContractFilter{
		CustomerID: customerID,
		Status:     ContractStatus(strings.ToLower(r.URL.Query().Get("status"))),
		Page:       shared.PageFromRequest(r),
	})
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.Page(w, items, meta)
}

func (h *Handler) getContract(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	contract, err := h.service.GetContract(r.Context(), id)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, contract)
}

func (h *Handler) terminateContract(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input TerminateContractInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	contract, err := h.service.TerminateContract(r.Context(), id, input)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, contract)
}
