package sequence

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gridbill/gridbill/internal/platform/httpx"
	"github.com/gridbill/gridbill/internal/rbac"
	"github.com/gridbill/gridbill/internal/shared"
)

// Handler serves sequence administration endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers sequence routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSequencesManage))
		r.Get("/", h.list)
		r.Put("/{name}", h.configure)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	seqs, err := h.service.List(r.Context())
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, seqs)
}

func (h *Handler) configure(w http.ResponseWriter, r *http.Request) {
	var input ConfigureInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	seq, err := h.service.Configure(r.Context(), chi.URLParam(r, "name"), input)
	if err != nil {
		httpx.RespondErrorLogged(w, h.logger, err)
		return
	}
	httpx.OK(w, seq)
}
