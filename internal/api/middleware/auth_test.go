package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-test-secret-test-sec"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func memberClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"user_id": "a3a55555-0000-4000-8000-000000000001",
		"role":    "member",
		"iss":     "hazina-backend",
		"aud":     "hazina-api",
		"sub":     "a3a55555-0000-4000-8000-000000000001",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
}

func runAuth(token string) (*httptest.ResponseRecorder, string, string) {
	var gotUser, gotRole string
	handler := AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotRole = UserRoleFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/1", nil)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, gotUser, gotRole
}

func TestAuthMiddleware(t *testing.T) {
	SetJWTSecret(testSecret)
	SetJWTValidation("hazina-backend", "hazina-api")
	t.Cleanup(func() { SetJWTValidation("", "") })

	t.Run("valid token passes identity through", func(t *testing.T) {
		rec, user, role := runAuth("Bearer " + signToken(t, testSecret, memberClaims()))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "a3a55555-0000-4000-8000-000000000001", user)
		assert.Equal(t, "member", role)
	})

	t.Run("missing header", func(t *testing.T) {
		rec, _, _ := runAuth("")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})

	t.Run("missing bearer prefix", func(t *testing.T) {
		rec, _, _ := runAuth(signToken(t, testSecret, memberClaims()))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong signature", func(t *testing.T) {
		rec, _, _ := runAuth("Bearer " + signToken(t, "another-secret-another-secret-ab", memberClaims()))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		claims := memberClaims()
		claims["exp"] = time.Now().Add(-time.Minute).Unix()
		rec, _, _ := runAuth("Bearer " + signToken(t, testSecret, claims))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := memberClaims()
		claims["iss"] = "someone-else"
		rec, _, _ := runAuth("Bearer " + signToken(t, testSecret, claims))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("subject mismatch", func(t *testing.T) {
		claims := memberClaims()
		claims["sub"] = "b4b66666-0000-4000-8000-000000000002"
		rec, _, _ := runAuth("Bearer " + signToken(t, testSecret, claims))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing user_id claim", func(t *testing.T) {
		claims := memberClaims()
		delete(claims, "user_id")
		delete(claims, "sub")
		rec, _, _ := runAuth("Bearer " + signToken(t, testSecret, claims))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(role string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/accounts/1/earnings", nil)
		if role != "" {
			req = req.WithContext(context.WithValue(req.Context(), roleContextKey, role))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, serve("admin").Code)
	assert.Equal(t, http.StatusForbidden, serve("member").Code)
	assert.Equal(t, http.StatusForbidden, serve("").Code)
}
