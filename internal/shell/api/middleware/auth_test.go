package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/launchpadhq/launchpad/internal/core/auth"
)

func passthrough(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := auth.FromContext(r.Context())
		w.Header().Set("X-Test-User", ac.UserID)
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_ExtractsIdentity(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{})
	handler := m.Handler(passthrough(t))

	req := httptest.NewRequest("GET", "/api/v1/deployments", nil)
	req.Header.Set(auth.HeaderUserID, "user-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", rec.Header().Get("X-Test-User"))
}

func TestAuthMiddleware_SharedSecretRejected(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{SharedSecret: "s3cret"})
	handler := m.Handler(passthrough(t))

	req := httptest.NewRequest("GET", "/api/v1/deployments", nil)
	req.Header.Set(auth.HeaderUserID, "user-42")
	req.Header.Set(auth.HeaderGatewaySecret, "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthMiddleware_SharedSecretAccepted(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{SharedSecret: "s3cret"})
	handler := m.Handler(passthrough(t))

	req := httptest.NewRequest("GET", "/api/v1/deployments", nil)
	req.Header.Set(auth.HeaderUserID, "user-42")
	req.Header.Set(auth.HeaderGatewaySecret, "s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuth_RejectsAnonymous(t *testing.T) {
	m := NewAuthMiddleware(AuthConfig{})
	handler := m.Handler(RequireAuth(nil)(passthrough(t)))

	req := httptest.NewRequest("GET", "/api/v1/deployments", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
