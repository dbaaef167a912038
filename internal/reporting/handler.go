package reporting

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gridbill/gridbill/internal/platform/httpx"
	"github.com/gridbill/gridbill/internal/rbac"
	"github.com/gridbill/gridbill/internal/shared"
)

// Handler serves report endpoints.
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
	r.Route("/reports", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermReportsView))
			r.Get("/dashboard", h.dashboard)
			r.Get("/aging", h.aging)
			r.Get("/customers/{id}/statement", h.statement)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermReportsExport))
			r.Get("/aging.xlsx", h.agingXLSX)
			r.Get("/customers/{id}/statement.xlsx", h.statementXLSX)
		})
	})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.dateParam(r, "as_of", h.service.now())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.Dashboard(r.Context(), asOf)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, d)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.dateParam(r, "as_of", h.service.now())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.Aging(r.Context(), asOf)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, report)
}

func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	id, from, to, err := h.statementParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.CustomerStatement(r.Context(), id, from, to)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, st)
}

func (h *Handler) agingXLSX(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.dateParam(r, "as_of", h.service.now())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	export, err := h.service.ExportAging(r.Context(), asOf)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	h.sendExport(w, export)
}

func (h *Handler) statementXLSX(w http.ResponseWriter, r *http.Request) {
	id, from, to, err := h.statementParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	export, err := h.service.ExportStatement(r.Context(), id, from, to)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	h.sendExport(w, export)
}

func (h *Handler) sendExport(w http.ResponseWriter, export Export) {
	if export.URL != "" {
		httpx.OK(w, export)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(export.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(export.Data); err != nil && h.logger != nil {
		h.logger.Warn("export write failed", slog.String("file", export.FileName), slog.Any("error", err))
	}
}

// statementParams defaults to the three months ending today.
func (h *Handler) statementParams(r *http.Request) (int64, time.Time, time.Time, error) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		return 0, time.Time{}, time.Time{}, err
	}
	to, err := h.dateParam(r, "to", h.service.now())
	if err != nil {
		return 0, time.Time{}, time.Time{}, err
	}
	from, err := h.dateParam(r, "from", to.AddDate(0, -3, 0))
	if err != nil {
		return 0, time.Time{}, time.Time{}, err
	}
	return id, from, to, nil
}

func (h *Handler) dateParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return dateOnly(fallback), nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, shared.NewValidationError(name, "must be a date in YYYY-MM-DD format")
	}
	return t, nil
}
