package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/auth"
	"github.com/BradenHooton/hms-sentinel/internal/models"
	pkghttp "github.com/BradenHooton/hms-sentinel/pkg/http"
	"github.com/go-chi/chi/v5"
)

// APIKeyServiceInterface defines the interface for API key operations
type APIKeyServiceInterface interface {
	Create(ctx context.Context, name, organizationID string, expiresAt *time.Time, by models.Initiator) (*models.APIKey, string, error)
	List(ctx context.Context, organizationID string) ([]*models.APIKey, error)
	Delete(ctx context.Context, organizationID, id string, by models.Initiator) (bool, error)
}

// APIKeyHandler handles API key HTTP requests
type APIKeyHandler struct {
	service  APIKeyServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAPIKeyHandler creates a new APIKeyHandler
func NewAPIKeyHandler(service APIKeyServiceInterface, ipConfig *pkghttp.IPConfig) *APIKeyHandler {
	return &APIKeyHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// CreateAPIKeyRequest represents the request to create an API key
type CreateAPIKeyRequest struct {
	Name      string  `json:"name" validate:"required,min=1,max=255"`
	ExpiresAt *string `json:"expires_at,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"` // RFC3339 format
}

// ListAPIKeysResponse represents the response for listing API keys
type ListAPIKeysResponse struct {
	Keys  []*APIKeyDTO `json:"keys"`
	Total int          `json:"total"`
}

// APIKeyDTO is the response DTO for API keys (never includes plaintext or digest)
type APIKeyDTO struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	OrganizationID string     `json:"organization_id"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Handlers

// CreateAPIKey POST /v1/api-keys
func (h *APIKeyHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	// Parse expiration time if provided
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			pkghttp.WriteBadRequest(w, "invalid expires_at format (use RFC3339)")
			return
		}
		expiresAt = &t
	}

	by := claims.Initiator(pkghttp.ExtractClientIP(r, h.ipConfig))
	key, plainKey, err := h.service.Create(r.Context(), req.Name, claims.OrgID, expiresAt, by)
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "invalid api key request: name must be 1-255 characters and expiry in the future")
			return
		}
		pkghttp.WriteInternalError(w, "failed to create api key")
		return
	}

	// Return plaintext key ONLY once
	pkghttp.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"key":     plainKey,
		"message": "Save this API key - it will not be shown again",
		"api_key": toAPIKeyDTO(key),
	})
}

// ListAPIKeys GET /v1/api-keys
func (h *APIKeyHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	keys, err := h.service.List(r.Context(), claims.OrgID)
	if err != nil {
		pkghttp.WriteInternalError(w, "failed to list api keys")
		return
	}

	keyDTOs := make([]*APIKeyDTO, len(keys))
	for i, key := range keys {
		keyDTOs[i] = toAPIKeyDTO(key)
	}

	pkghttp.WriteJSON(w, http.StatusOK, ListAPIKeysResponse{
		Keys:  keyDTOs,
		Total: len(keyDTOs),
	})
}

// DeleteAPIKey DELETE /v1/api-keys/{id}
func (h *APIKeyHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	keyID := chi.URLParam(r, "id")
	if keyID == "" {
		pkghttp.WriteBadRequest(w, "invalid key id")
		return
	}

	by := claims.Initiator(pkghttp.ExtractClientIP(r, h.ipConfig))
	if _, err := h.service.Delete(r.Context(), claims.OrgID, keyID, by); err != nil {
		pkghttp.WriteInternalError(w, "failed to delete api key")
		return
	}

	// Keys of other organizations and already-deleted keys both read as gone
	w.WriteHeader(http.StatusNoContent)
}

// WhoAmI GET /v1/api-keys/whoami, authenticated by the key itself
func (h *APIKeyHandler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	key := auth.GetAPIKeyFromContext(r)
	if key == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toAPIKeyDTO(key))
}

// Helpers

// toAPIKeyDTO converts an APIKey model to a response DTO
func toAPIKeyDTO(key *models.APIKey) *APIKeyDTO {
	if key == nil {
		return nil
	}
	return &APIKeyDTO{
		ID:             key.ID,
		Name:           key.Name,
		OrganizationID: key.OrganizationID,
		LastUsedAt:     key.LastUsedAt,
		ExpiresAt:      key.ExpiresAt,
		CreatedAt:      key.CreatedAt,
		UpdatedAt:      key.UpdatedAt,
	}
}
