package metering

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gridbill/gridbill/internal/platform/httpx"
	"github.com/gridbill/gridbill/internal/rbac"
	"github.com/gridbill/gridbill/internal/shared"
)

// Handler serves reading endpoints.
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
		r.Use(h.rbac.RequireAny(shared.PermReadingsView))
		r.Get("/meters/{id}/readings", h.list)
		r.Get("/meters/{id}/baseline", h.baseline)
		r.Get("/readings/{id}", h.get)
	})
	r.With(h.rbac.RequireAny(shared.PermReadingsRecord)).Post("/meters/{id}/readings", h.record)
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input RecordReadingInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	reading, err := h.service.RecordReading(r.Context(), id, input)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.Created(w, reading)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, meta, err := h.service.ListReadings(r.Context(), id, shared.PageFromRequest(r))
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
	reading, err := h.service.GetReading(r.Context(), id)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, reading)
}

func (h *Handler) baseline(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	before := time.Now()
	if raw := r.URL.Query().Get("before"); raw != "" {
		if before, err = time.Parse(time.RFC3339, raw); err != nil {
			httpx.RespondError(w, shared.NewValidationError("before", "must be an RFC3339 timestamp"))
			return
		}
	}
	baseline, err := h.service.PreviousReading(r.Context(), id, before)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, baseline)
}
