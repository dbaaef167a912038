package auth

import (
	"log/slog"
	"net/http"

	"github.com/gridbill/gridbill/internal/platform/httpx"
	"github.com/gridbill/gridbill/internal/shared"
)

// Middleware attaches the verified principal to the request context.
func Middleware(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			principal, err := v.Verify(raw)
			if err != nil {
				if logger != nil {
					logger.Debug("token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}
