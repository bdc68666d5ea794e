package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/models"
)

// APIKeyRepository defines the interface for API key data access operations.
// Every method except GetByHash is scoped to one organization.
type APIKeyRepository interface {
	// Create stores a new API key
	Create(ctx context.Context, apiKey *models.APIKey) error

	// GetByHash retrieves an API key by its digest, regardless of organization.
	// Expiry is the caller's concern.
	GetByHash(ctx context.Context, keyHash string) (*models.APIKey, error)

	// ListByOrganization retrieves all API keys of an organization, newest first
	ListByOrganization(ctx context.Context, organizationID string) ([]*models.APIKey, error)

	// UpdateLastUsed stamps last_used_at
	UpdateLastUsed(ctx context.Context, id string, usedAt time.Time) error

	// Delete hard-deletes a key owned by the organization.
	// Returns false when no such key exists for that organization.
	Delete(ctx context.Context, organizationID, id string) (bool, error)

	// PurgeExpired hard-deletes keys that expired before the given time
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}
