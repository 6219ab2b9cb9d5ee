package handler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/handler"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := handler.PrincipalFromContext(r.Context())
		w.Header().Set("X-Subject", p.Subject)
		w.Header().Set("X-Role", p.Role)
	})
}

func TestPrincipalMiddleware(t *testing.T) {
	mw := handler.PrincipalMiddleware([]byte(testSecret), zap.NewNop())(principalEcho())

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, handler.SessionClaims{
		Role: domain.RoleDonor,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "donor-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, handler.SessionClaims{
		Role:             domain.RoleHubManager,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "op-1"},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, handler.SessionClaims{
		Role:             domain.RoleHubManager,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "op-1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token(t, "op-1", domain.RoleHubManager), http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + forged, http.StatusUnauthorized},
		{"alg none", "Bearer " + unsigned, http.StatusUnauthorized},
		{"unknown role", "Bearer " + token(t, "x", "admin"), http.StatusUnauthorized},
		{"no subject", "Bearer " + token(t, "", domain.RoleDonor), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestPrincipalMiddleware_InjectsPrincipal(t *testing.T) {
	mw := handler.PrincipalMiddleware([]byte(testSecret), zap.NewNop())(principalEcho())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "col-7", domain.RoleCollector))
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	assert.Equal(t, "col-7", rec.Header().Get("X-Subject"))
	assert.Equal(t, domain.RoleCollector, rec.Header().Get("X-Role"))
}

func TestRequireRole(t *testing.T) {
	api := newAPI(t)

	rec := api.do(t, call{method: http.MethodPost, path: "/v1/sessions", token: token(t, "col-1", domain.RoleCollector),
		body: map[string]any{"hub_id": "h", "cash_float_start": "10"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, call{method: http.MethodGet, path: "/v1/collectors/c1/summary", token: token(t, "d1", domain.RoleDonor)})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGatewayKeyMiddleware(t *testing.T) {
	mw := handler.GatewayKeyMiddleware("secret-key", zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for key, want := range map[string]int{
		"secret-key": http.StatusOK,
		"wrong":      http.StatusUnauthorized,
		"":           http.StatusUnauthorized,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-Gateway-Key", key)
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "key %q", key)
	}
}

func TestGatewayKeyMiddleware_UnconfiguredRejectsAll(t *testing.T) {
	mw := handler.GatewayKeyMiddleware("", zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
