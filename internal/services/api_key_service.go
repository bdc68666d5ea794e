package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/auth"
	"github.com/BradenHooton/hms-sentinel/internal/metrics"
	"github.com/BradenHooton/hms-sentinel/internal/models"
	"github.com/BradenHooton/hms-sentinel/internal/repositories"
	"github.com/google/uuid"
)

const (
	maxAPIKeyNameLength = 255
	lastUsedQueueSize   = 256
)

// anonymousActor stands in for callers that presented an unusable key
var anonymousActor = models.AuditActor{ID: "anonymous", Name: "anonymous"}

// APIKeyService handles API key business logic
type APIKeyService struct {
	repo            repositories.APIKeyRepository
	keyManager      *auth.APIKeyManager
	audit           AuditEmitter
	now             Clock
	lastUsedTimeout time.Duration
	logger          *slog.Logger

	lastUsed chan lastUsedUpdate
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

type lastUsedUpdate struct {
	id     string
	usedAt time.Time
}

// NewAPIKeyService creates a new APIKeyService and starts its last_used_at writer.
// Call Close on shutdown to flush pending updates.
func NewAPIKeyService(repo repositories.APIKeyRepository, keyManager *auth.APIKeyManager, audit AuditEmitter, now Clock, lastUsedTimeout time.Duration, logger *slog.Logger) *APIKeyService {
	s := &APIKeyService{
		repo:            repo,
		keyManager:      keyManager,
		audit:           audit,
		now:             now,
		lastUsedTimeout: lastUsedTimeout,
		logger:          logger,
		lastUsed:        make(chan lastUsedUpdate, lastUsedQueueSize),
	}

	s.wg.Add(1)
	go s.lastUsedWriter()

	return s
}

// Create issues a new key for the organization. The plaintext is returned once and never stored.
func (s *APIKeyService) Create(ctx context.Context, name, organizationID string, expiresAt *time.Time, by models.Initiator) (*models.APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxAPIKeyNameLength || organizationID == "" {
		return nil, "", models.ErrBadRequest
	}

	now := s.now()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, "", fmt.Errorf("expiry must be in the future: %w", models.ErrBadRequest)
	}

	keyHash, plainKey, err := s.keyManager.Generate()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate api key: %w", err)
	}

	apiKey := &models.APIKey{
		ID:             uuid.NewString(),
		Name:           name,
		OrganizationID: organizationID,
		KeyHash:        keyHash,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(ctx, apiKey); err != nil {
		return nil, "", fmt.Errorf("failed to store api key: %w", err)
	}

	s.audit.Emit(ctx, &models.SecurityAuditEvent{
		Action:       models.AuditActionAPIKeyCreate,
		Actor:        by.Actor,
		Organization: models.AuditOrganization{ID: organizationID, Name: by.Organization.Name},
		CRUD:         models.CRUDCreate,
		Target:       &models.AuditTarget{ID: apiKey.ID, Name: apiKey.Name, Type: models.AuditTargetAPIKey},
		SourceIP:     by.SourceIP,
		Metadata:     models.AuditMetadata{"expires_at": expiresAt},
	})

	return apiKey, plainKey, nil
}

// List returns the organization's keys, newest first
func (s *APIKeyService) List(ctx context.Context, organizationID string) ([]*models.APIKey, error) {
	keys, err := s.repo.ListByOrganization(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// Validate resolves a presented key. Malformed, unknown and expired keys all return
// models.ErrNotFound; malformed input never reaches the database.
func (s *APIKeyService) Validate(ctx context.Context, plainKey string) (*models.APIKey, error) {
	keyHash, err := s.keyManager.Hash(plainKey)
	if err != nil {
		s.validationFailed(ctx, nil, "malformed")
		return nil, models.ErrNotFound
	}

	apiKey, err := s.repo.GetByHash(ctx, keyHash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.validationFailed(ctx, nil, "unknown")
			return nil, models.ErrNotFound
		}
		metrics.APIKeyValidationsTotal.WithLabelValues(metrics.ResultError).Inc()
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}

	if !auth.ConstantTimeHashCompare(apiKey.KeyHash, keyHash) {
		s.validationFailed(ctx, nil, "unknown")
		return nil, models.ErrNotFound
	}

	now := s.now()
	if apiKey.IsExpiredAt(now) {
		s.validationFailed(ctx, apiKey, "expired")
		return nil, models.ErrNotFound
	}

	metrics.APIKeyValidationsTotal.WithLabelValues(metrics.ResultOK).Inc()
	s.touchLastUsed(apiKey.ID, now)

	return apiKey, nil
}

// touchLastUsed queues a last_used_at stamp. When the queue is full or closed
// the stamp is dropped; the next validation writes a fresh one.
func (s *APIKeyService) touchLastUsed(id string, usedAt time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}

	select {
	case s.lastUsed <- lastUsedUpdate{id: id, usedAt: usedAt}:
	default:
		s.logger.Warn("api key last_used_at queue full, dropping update", slog.String("key_id", id))
	}
}

func (s *APIKeyService) lastUsedWriter() {
	defer s.wg.Done()
	for u := range s.lastUsed {
		s.writeLastUsed(u)
	}
}

func (s *APIKeyService) writeLastUsed(u lastUsedUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), s.lastUsedTimeout)
	defer cancel()

	if err := s.repo.UpdateLastUsed(ctx, u.id, u.usedAt); err != nil {
		s.logger.Warn("failed to update api key last_used_at",
			slog.String("key_id", u.id),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops accepting last_used_at updates and waits for queued ones to be
// written or ctx to expire
func (s *APIKeyService) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.lastUsed)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *APIKeyService) validationFailed(ctx context.Context, apiKey *models.APIKey, reason string) {
	metrics.APIKeyValidationsTotal.WithLabelValues(metrics.ResultNotFound).Inc()

	event := &models.SecurityAuditEvent{
		Action:   models.AuditActionAPIKeyValidateFailure,
		Actor:    anonymousActor,
		CRUD:     models.CRUDRead,
		Metadata: models.AuditMetadata{"reason": reason},
	}
	if apiKey != nil {
		event.Organization = models.AuditOrganization{ID: apiKey.OrganizationID}
		event.Target = &models.AuditTarget{ID: apiKey.ID, Name: apiKey.Name, Type: models.AuditTargetAPIKey}
	}
	s.audit.Emit(ctx, event)
}

// Delete removes a key owned by the organization. Keys of other organizations,
// unknown IDs and malformed IDs all report false.
func (s *APIKeyService) Delete(ctx context.Context, organizationID, id string, by models.Initiator) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	deleted, err := s.repo.Delete(ctx, organizationID, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete api key: %w", err)
	}
	if !deleted {
		return false, nil
	}

	s.audit.Emit(ctx, &models.SecurityAuditEvent{
		Action:       models.AuditActionAPIKeyDelete,
		Actor:        by.Actor,
		Organization: models.AuditOrganization{ID: organizationID, Name: by.Organization.Name},
		CRUD:         models.CRUDDelete,
		Target:       &models.AuditTarget{ID: id, Type: models.AuditTargetAPIKey},
		SourceIP:     by.SourceIP,
	})

	return true, nil
}

// PurgeExpired hard-deletes keys that expired before the cutoff
func (s *APIKeyService) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired api keys: %w", err)
	}
	return n, nil
}
