package middleware

import (
	"net/http"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/auth"
	pkghttp "github.com/BradenHooton/hms-sentinel/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	// IPConfig resolves the client address behind trusted proxies. Nil uses RemoteAddr.
	IPConfig *pkghttp.IPConfig
}

// DefaultSecurityRateLimit returns the default limit for the login gate endpoints (120 requests per minute)
func DefaultSecurityRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 120,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "ip:" + pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByCaller rate limits per authenticated API key, or per organization for
// session requests. Unauthenticated requests fall back to the client IP.
// Must run after the authentication middleware.
func RateLimitByCaller(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if key := auth.GetAPIKeyFromContext(r); key != nil {
				return "key:" + key.ID, nil
			}
			if claims := auth.GetSessionFromContext(r); claims != nil {
				return "org:" + claims.OrgID, nil
			}
			return "ip:" + pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func limitExceeded(w http.ResponseWriter, _ *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
}
