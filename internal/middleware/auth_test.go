package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle-backend/internal/models"
)

func TestIssueAndParseToken(t *testing.T) {
	auth := NewAuth("test-secret", time.Hour)
	token, err := auth.IssueToken(&models.User{ID: "u-1", Email: "d@example.com", Role: models.RoleDriver}, time.Now())
	require.NoError(t, err)

	claims, err := auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, UserClaims{UserID: "u-1", Email: "d@example.com", Role: models.RoleDriver}, claims)
	assert.Equal(t, "u-1", claims.Actor().UserID)

	_, err = NewAuth("other-secret", time.Hour).ParseToken(token)
	assert.Error(t, err)
}

func TestParseTokenRejectsExpiredAndIncomplete(t *testing.T) {
	auth := NewAuth("test-secret", time.Minute)
	expired, err := auth.IssueToken(&models.User{ID: "u-1", Role: models.RoleDriver}, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = auth.ParseToken(expired)
	assert.Error(t, err)

	noRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u-1"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = auth.ParseToken(noRole)
	assert.Error(t, err)
}

func TestMiddlewareAndRequireRole(t *testing.T) {
	auth := NewAuth("test-secret", time.Hour)
	driverToken, _ := auth.IssueToken(&models.User{ID: "u-1", Role: models.RoleDriver}, time.Now())
	adminToken, _ := auth.IssueToken(&models.User{ID: "u-2", Role: models.RoleAdmin}, time.Now())

	var seen UserClaims
	h := auth.Middleware(RequireRole(models.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserFromContext(r)
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "Token abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + driverToken, http.StatusForbidden},
		{"admin", "Bearer " + adminToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/ops/reminders", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, "u-2", seen.UserID)
}
