package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gridbill/gridbill/internal/platform/httpx"
	"github.com/gridbill/gridbill/internal/shared"
)

// PermissionsHandler exposes the caller's effective permissions.
type PermissionsHandler struct {
	policy *Policy
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(policy *Policy) *PermissionsHandler {
	return &PermissionsHandler{policy: policy}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.me)
}

type permissionsResponse struct {
	Subject     string   `json:"subject"`
	Name        string   `json:"name,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func (h *PermissionsHandler) me(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	httpx.OK(w, permissionsResponse{
		Subject:     principal.Subject,
		Name:        principal.Name,
		Roles:       principal.Roles,
		Permissions: h.policy.EffectivePermissions(principal.Roles),
	})
}
