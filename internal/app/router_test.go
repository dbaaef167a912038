package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"github.com/gridbill/gridbill/internal/auth"
	"github.com/gridbill/gridbill/internal/observability"
	"github.com/gridbill/gridbill/internal/rbac"
	"github.com/gridbill/gridbill/jobs"
)

const routerSecret = "router-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	verifier, err := auth.NewVerifier(auth.VerifierConfig{Secret: routerSecret})
	require.NoError(t, err)
	return NewRouter(RouterParams{
		Config:             &Config{AppEnv: "test", RateLimitPerMinute: 1000},
		Metrics:            observability.NewMetrics(),
		Verifier:           verifier,
		PermissionsHandler: rbac.NewPermissionsHandler(rbac.NewPolicy(rbac.DefaultPolicy())),
		JobHandler:         jobs.NewHandler(nil, nil),
	})
}

func bearer(t *testing.T, roles ...string) string {
	t.Helper()
	claims := auth.Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "clerk-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(routerSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRouterPublicEndpoints(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/healthz", "/metrics", "/jobs/health"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouterAPIRequiresToken(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/permissions", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterPermissionsForCashier(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/permissions", nil)
	req.Header.Set("Authorization", bearer(t, "cashier"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Subject     string   `json:"subject"`
			Permissions []string `json:"permissions"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "clerk-7", body.Data.Subject)
	require.Contains(t, body.Data.Permissions, "payments.record")
	require.NotContains(t, body.Data.Permissions, "invoices.create")
}

func TestRouterRejectsNonJSONWrites(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/permissions", strings.NewReader("amount=10"))
	req.Header.Set("Authorization", bearer(t, "admin"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "validation_error")
}
