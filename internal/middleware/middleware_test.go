package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "s3cret"

func echoActor() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(Actor(r.Context(), "anonymous")))
	})
}

func serve(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4242"
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(secret, RoleAdmin)(echoActor())

	adminToken, err := IssueToken(secret, "alice", RoleAdmin, "", time.Hour)
	require.NoError(t, err)
	deptToken, err := IssueToken(secret, "bob", RoleDepartment, "WATER_BOARD", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(secret, "alice", RoleAdmin, "", -time.Minute)
	require.NoError(t, err)
	forged, err := IssueToken("other-secret", "mallory", RoleAdmin, "", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong key", "Bearer " + forged, http.StatusUnauthorized},
		{"wrong role", "Bearer " + deptToken, http.StatusForbidden},
		{"admin", "Bearer " + adminToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, serve(h, tt.header).Code)
		})
	}

	rr := serve(h, "Bearer "+adminToken)
	assert.Equal(t, "alice", rr.Body.String())
}

func TestRequireRoleRejectsUnsignedTokens(t *testing.T) {
	h := RequireRole(secret, RoleAdmin)(echoActor())
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: RoleAdmin}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "Bearer "+tok).Code)
}

func TestActorFallback(t *testing.T) {
	rr := serve(echoActor(), "")
	assert.Equal(t, "anonymous", rr.Body.String())
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(3)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, serve(h, "").Code)
	}
	rr := serve(h, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	// a different client has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:4242"
	other := httptest.NewRecorder()
	h.ServeHTTP(other, req)
	assert.Equal(t, http.StatusNoContent, other.Code)
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders()(echoActor())
	rr := serve(h, "")
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}
