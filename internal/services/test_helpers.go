package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/models"
)

// MockAPIKeyRepository is an in-memory APIKeyRepository for testing
type MockAPIKeyRepository struct {
	mu   sync.Mutex
	keys map[string]*models.APIKey

	// Err, when set, is returned by every method
	Err error
}

// NewMockAPIKeyRepository creates an empty repository
func NewMockAPIKeyRepository() *MockAPIKeyRepository {
	return &MockAPIKeyRepository{keys: make(map[string]*models.APIKey)}
}

func (m *MockAPIKeyRepository) Create(ctx context.Context, apiKey *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, k := range m.keys {
		if k.KeyHash == apiKey.KeyHash {
			return models.ErrConflict
		}
	}
	cp := *apiKey
	m.keys[apiKey.ID] = &cp
	return nil
}

func (m *MockAPIKeyRepository) GetByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, k := range m.keys {
		if k.KeyHash == keyHash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockAPIKeyRepository) ListByOrganization(ctx context.Context, organizationID string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := []*models.APIKey{}
	for _, k := range m.keys {
		if k.OrganizationID == organizationID {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MockAPIKeyRepository) UpdateLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	k, ok := m.keys[id]
	if !ok {
		return models.ErrNotFound
	}
	t := usedAt
	k.LastUsedAt = &t
	return nil
}

func (m *MockAPIKeyRepository) Delete(ctx context.Context, organizationID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	k, ok := m.keys[id]
	if !ok || k.OrganizationID != organizationID {
		return false, nil
	}
	delete(m.keys, id)
	return true, nil
}

func (m *MockAPIKeyRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var n int64
	for id, k := range m.keys {
		if k.ExpiresAt != nil && k.ExpiresAt.Before(before) {
			delete(m.keys, id)
			n++
		}
	}
	return n, nil
}

// LastUsed returns the stored last_used_at of a key
func (m *MockAPIKeyRepository) LastUsed(id string) *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[id]; ok {
		return k.LastUsedAt
	}
	return nil
}

// Len returns the number of stored keys
func (m *MockAPIKeyRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// RecordingAuditEmitter keeps every emitted event in memory
type RecordingAuditEmitter struct {
	mu     sync.Mutex
	events []*models.SecurityAuditEvent
}

func (r *RecordingAuditEmitter) Emit(ctx context.Context, event *models.SecurityAuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *event
	r.events = append(r.events, &cp)
}

// Events returns a snapshot of the recorded events
func (r *RecordingAuditEmitter) Events() []*models.SecurityAuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.SecurityAuditEvent(nil), r.events...)
}

// Actions returns the recorded actions in emission order
func (r *RecordingAuditEmitter) Actions() []models.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditAction, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

// Last returns the most recent event with the given action, or nil
func (r *RecordingAuditEmitter) Last(action models.AuditAction) *models.SecurityAuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Action == action {
			return r.events[i]
		}
	}
	return nil
}

// MockAuditPublisher implements AuditPublisher for testing
type MockAuditPublisher struct {
	mu          sync.Mutex
	PublishFunc func(ctx context.Context, event *models.SecurityAuditEvent) error
	published   []*models.SecurityAuditEvent
}

func (m *MockAuditPublisher) Publish(ctx context.Context, event *models.SecurityAuditEvent) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, event); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, event)
	return nil
}

// Published returns the events delivered successfully
func (m *MockAuditPublisher) Published() []*models.SecurityAuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.SecurityAuditEvent(nil), m.published...)
}

// MockLockoutNotifier records lockout notifications on a channel
type MockLockoutNotifier struct {
	Calls chan string
	Err   error
}

// NewMockLockoutNotifier creates a notifier with a buffered call channel
func NewMockLockoutNotifier() *MockLockoutNotifier {
	return &MockLockoutNotifier{Calls: make(chan string, 16)}
}

func (m *MockLockoutNotifier) NotifyAccountLocked(ctx context.Context, identity, tenantID string) error {
	m.Calls <- fmt.Sprintf("%s|%s", tenantID, identity)
	return m.Err
}

// TestClock is a manually advanced Clock
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewTestClock starts the clock at t
func NewTestClock(t time.Time) *TestClock {
	return &TestClock{now: t}
}

// Now returns the current fake time
func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
