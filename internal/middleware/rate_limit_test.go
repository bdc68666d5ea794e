package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/hms-sentinel/internal/auth"
	"github.com/BradenHooton/hms-sentinel/internal/models"
	pkghttp "github.com/BradenHooton/hms-sentinel/pkg/http"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitByIP_Returns429AfterLimit(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 2})(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/v1/security/login-check", nil)
		req.RemoteAddr = "203.0.113.1:1000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
	}

	req := httptest.NewRequest("POST", "/v1/security/login-check", nil)
	req.RemoteAddr = "203.0.113.1:1000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")

	// A different address has its own bucket
	req = httptest.NewRequest("POST", "/v1/security/login-check", nil)
	req.RemoteAddr = "203.0.113.2:1000"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitByIP_IgnoresSpoofedForwardedFor(t *testing.T) {
	cfg := RateLimitConfig{
		RequestsPerMinute: 1,
		IPConfig:          &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}},
	}
	handler := RateLimitByIP(cfg)(okHandler())

	for i, spoofed := range []string{"1.1.1.1", "2.2.2.2"} {
		req := httptest.NewRequest("POST", "/", nil)
		req.RemoteAddr = "203.0.113.9:1000"
		req.Header.Set("X-Forwarded-For", spoofed)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		want := http.StatusOK
		if i > 0 {
			want = http.StatusTooManyRequests
		}
		assert.Equal(t, want, w.Code)
	}
}

func TestRateLimitByCaller_IsolatesKeys(t *testing.T) {
	handler := RateLimitByCaller(RateLimitConfig{RequestsPerMinute: 1})(okHandler())

	send := func(keyID string) int {
		req := httptest.NewRequest("GET", "/v1/api-keys/whoami", nil)
		req.RemoteAddr = "203.0.113.5:1000"
		req = req.WithContext(context.WithValue(req.Context(), auth.APIKeyContextKey, &models.APIKey{ID: keyID}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("key-a"))
	assert.Equal(t, http.StatusTooManyRequests, send("key-a"))
	assert.Equal(t, http.StatusOK, send("key-b"), "same address, different key")
}

func TestRateLimitByCaller_SessionUsesOrganization(t *testing.T) {
	handler := RateLimitByCaller(RateLimitConfig{RequestsPerMinute: 1})(okHandler())

	send := func(orgID, addr string) int {
		req := httptest.NewRequest("GET", "/v1/api-keys", nil)
		req.RemoteAddr = addr
		req = req.WithContext(context.WithValue(req.Context(), auth.SessionContextKey, &models.SessionClaims{OrgID: orgID}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("org_1", "203.0.113.5:1"))
	assert.Equal(t, http.StatusTooManyRequests, send("org_1", "198.51.100.5:1"))
	assert.Equal(t, http.StatusOK, send("org_2", "203.0.113.5:1"))
}
