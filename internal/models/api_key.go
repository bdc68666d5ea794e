package models

import "time"

// APIKey is an opaque bearer credential scoped to one organization.
// Only the digest of the secret is persisted.
type APIKey struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	OrganizationID string     `json:"organization_id"`
	KeyHash        string     `json:"-"` // Never exposed
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
}

// GeneratedAPIKey is returned exactly once, when a key is created
type GeneratedAPIKey struct {
	PlainKey string  `json:"key"`
	APIKey   *APIKey `json:"api_key"`
}

// IsExpiredAt reports whether the key has an expiry at or before now
func (k *APIKey) IsExpiredAt(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}
