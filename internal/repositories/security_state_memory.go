package repositories

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/models"
)

// MemoryStateStore keeps security state in process memory. Each map has its own mutex
// and every read-modify-write happens under it. State is lost on restart and is not
// shared between instances.
type MemoryStateStore struct {
	failuresMu sync.Mutex
	failures   map[string]models.FailedAttemptRecord

	locksMu sync.Mutex
	locks   map[string]models.AccountLockRecord

	ipsMu sync.Mutex
	ips   map[string]models.IPBlockRecord
}

// NewMemoryStateStore creates an empty in-memory store
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		failures: make(map[string]models.FailedAttemptRecord),
		locks:    make(map[string]models.AccountLockRecord),
		ips:      make(map[string]models.IPBlockRecord),
	}
}

func (s *MemoryStateStore) IncrementFailure(_ context.Context, account string, now time.Time) (models.FailedAttemptRecord, error) {
	s.failuresMu.Lock()
	defer s.failuresMu.Unlock()

	rec := s.failures[account]
	rec.Count++
	rec.LastAttemptAt = now
	s.failures[account] = rec
	return rec, nil
}

func (s *MemoryStateStore) GetFailure(_ context.Context, account string) (*models.FailedAttemptRecord, error) {
	s.failuresMu.Lock()
	defer s.failuresMu.Unlock()

	rec, ok := s.failures[account]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStateStore) DeleteFailure(_ context.Context, account string) error {
	s.failuresMu.Lock()
	defer s.failuresMu.Unlock()

	delete(s.failures, account)
	return nil
}

func (s *MemoryStateStore) PutLock(_ context.Context, account string, lock models.AccountLockRecord) error {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	s.locks[account] = lock
	return nil
}

func (s *MemoryStateStore) GetLock(_ context.Context, account string) (*models.AccountLockRecord, error) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	rec, ok := s.locks[account]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStateStore) DeleteLock(_ context.Context, account string) error {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	delete(s.locks, account)
	return nil
}

func (s *MemoryStateStore) IncrementIPAttempt(_ context.Context, ip string, now time.Time) (models.IPBlockRecord, error) {
	s.ipsMu.Lock()
	defer s.ipsMu.Unlock()

	rec := s.ips[ip]
	rec.Attempts++
	rec.LastAttemptAt = now
	s.ips[ip] = rec
	return rec, nil
}

func (s *MemoryStateStore) BlockIP(_ context.Context, ip string, until time.Time) error {
	s.ipsMu.Lock()
	defer s.ipsMu.Unlock()

	rec := s.ips[ip]
	rec.BlockedUntil = until
	s.ips[ip] = rec
	return nil
}

func (s *MemoryStateStore) GetIPRecord(_ context.Context, ip string) (*models.IPBlockRecord, error) {
	s.ipsMu.Lock()
	defer s.ipsMu.Unlock()

	rec, ok := s.ips[ip]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStateStore) DeleteIPRecord(_ context.Context, ip string) error {
	s.ipsMu.Lock()
	defer s.ipsMu.Unlock()

	delete(s.ips, ip)
	return nil
}

// Sweep locks one map at a time, never all three together
func (s *MemoryStateStore) Sweep(_ context.Context, now time.Time, staleAfter time.Duration) (models.SweepResult, error) {
	var result models.SweepResult
	cutoff := now.Add(-staleAfter)

	s.failuresMu.Lock()
	for key, rec := range s.failures {
		if rec.LastAttemptAt.Before(cutoff) {
			delete(s.failures, key)
			result.StaleFailures++
		}
	}
	s.failuresMu.Unlock()

	s.locksMu.Lock()
	for key, rec := range s.locks {
		if !rec.IsLockedAt(now) {
			delete(s.locks, key)
			result.ExpiredLocks++
		}
	}
	s.locksMu.Unlock()

	s.ipsMu.Lock()
	for ip, rec := range s.ips {
		switch {
		case !rec.BlockedUntil.IsZero() && !rec.IsBlockedAt(now):
			delete(s.ips, ip)
			result.ExpiredBlocks++
		case rec.BlockedUntil.IsZero() && rec.LastAttemptAt.Before(cutoff):
			delete(s.ips, ip)
			result.StaleFailures++
		}
	}
	s.ipsMu.Unlock()

	return result, nil
}

func (s *MemoryStateStore) Stats(_ context.Context, now time.Time, tenantID string) (models.SecurityStats, error) {
	stats := models.SecurityStats{OrganizationID: tenantID}
	inTenant := func(key string) bool {
		return tenantID == "" || strings.HasPrefix(key, tenantKeyPrefix(tenantID))
	}

	s.failuresMu.Lock()
	for key := range s.failures {
		if inTenant(key) {
			stats.TrackedIdentities++
		}
	}
	s.failuresMu.Unlock()

	s.locksMu.Lock()
	for key, rec := range s.locks {
		if inTenant(key) && rec.IsLockedAt(now) {
			stats.LockedAccounts++
		}
	}
	s.locksMu.Unlock()

	s.ipsMu.Lock()
	stats.TrackedIPs = len(s.ips)
	for _, rec := range s.ips {
		if rec.IsBlockedAt(now) {
			stats.BlockedIPs++
		}
	}
	s.ipsMu.Unlock()

	return stats, nil
}
