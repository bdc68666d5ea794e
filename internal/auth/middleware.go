package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/hms-sentinel/internal/models"
	pkghttp "github.com/BradenHooton/hms-sentinel/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing verified session claims in context
	SessionContextKey contextKey = "session"
	// APIKeyContextKey is the key for storing the authenticated API key in context
	APIKeyContextKey contextKey = "api_key"

	// SessionCookieName is the cookie the identity provider sets on first-party requests
	SessionCookieName = "__session"
)

// ServiceKeyID identifies requests authenticated with the configured service key
const ServiceKeyID = "service"

// APIKeyValidator resolves a presented plaintext key to its stored record
type APIKeyValidator interface {
	Validate(ctx context.Context, plainKey string) (*models.APIKey, error)
}

// bearerToken extracts the token from "Authorization: Bearer <token>"
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}

	return parts[1], true
}

// SessionMiddleware verifies the identity provider session from the bearer header or
// the session cookie and injects its claims into context. Sessions without an active
// organization are rejected because every downstream route is tenant scoped.
func SessionMiddleware(verifier *SessionVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
					token, ok = cookie.Value, true
				}
			}
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing session token")
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired session")
				return
			}

			if claims.OrgID == "" {
				pkghttp.WriteForbidden(w, "no active organization")
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin allows only sessions holding an admin role in their organization.
// Must run after SessionMiddleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetSessionFromContext(r)
		if claims == nil {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}

		if !claims.IsAdmin() {
			pkghttp.WriteForbidden(w, "forbidden: insufficient permissions")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// APIKeyMiddleware authenticates bearer API keys. When serviceKey is non-empty it is
// also accepted, for the web app's auth routes calling the login endpoints.
func APIKeyMiddleware(validator APIKeyValidator, serviceKey string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			plainKey, ok := bearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing API key")
				return
			}

			if serviceKey != "" && ConstantTimeHashCompare(plainKey, serviceKey) {
				key := &models.APIKey{ID: ServiceKeyID, Name: ServiceKeyID}
				ctx := context.WithValue(r.Context(), APIKeyContextKey, key)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			apiKey, err := validator.Validate(r.Context(), plainKey)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "invalid API key")
					return
				}
				logger.Error("api key validation failed", slog.String("error", err.Error()))
				pkghttp.WriteInternalError(w, "unable to verify API key")
				return
			}

			ctx := context.WithValue(r.Context(), APIKeyContextKey, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionFromContext extracts session claims from request context
func GetSessionFromContext(r *http.Request) *models.SessionClaims {
	claims, ok := r.Context().Value(SessionContextKey).(*models.SessionClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetAPIKeyFromContext extracts the authenticated API key from request context
func GetAPIKeyFromContext(r *http.Request) *models.APIKey {
	key, ok := r.Context().Value(APIKeyContextKey).(*models.APIKey)
	if !ok {
		return nil
	}
	return key
}
