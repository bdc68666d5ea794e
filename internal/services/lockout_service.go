package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/models"
	"github.com/BradenHooton/hms-sentinel/internal/repositories"
	"github.com/BradenHooton/hms-sentinel/pkg/logger"
)

// LockoutResult reports the locks and blocks written for one failure. AccountLocked and
// IPBlocked are set only when no lock or block was active before; an active one is
// overwritten with a later expiry and reported through LockedUntil or BlockedUntil.
type LockoutResult struct {
	AccountLocked bool
	LockedUntil   time.Time
	IPBlocked     bool
	BlockedUntil  time.Time
}

// LockoutService turns failure counts into time-boxed account locks and IP blocks
type LockoutService struct {
	store  repositories.SecurityStateStore
	policy SecurityPolicy
	audit  AuditEmitter
	now    Clock
	logger *slog.Logger
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(store repositories.SecurityStateStore, policy SecurityPolicy, audit AuditEmitter, now Clock, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		store:  store,
		policy: policy,
		audit:  audit,
		now:    now,
		logger: logger,
	}
}

// ApplyOutcome locks the account and blocks the address when the tracker reports a
// reached limit. The lock or block is written on every failure at or past the limit,
// so failures during an active lock push its expiry out.
func (s *LockoutService) ApplyOutcome(ctx context.Context, identity, tenantID, sourceIP string, outcome models.FailureOutcome) LockoutResult {
	now := s.now()
	var result LockoutResult

	if outcome.IdentityLimitReached {
		wasLocked := s.IsAccountLocked(ctx, identity, tenantID)
		lock := models.AccountLockRecord{
			LockedUntil: now.Add(s.policy.LockoutDuration),
			Attempts:    outcome.IdentityCount,
		}
		if err := s.store.PutLock(ctx, repositories.AccountKey(identity, tenantID), lock); err != nil {
			s.logger.ErrorContext(ctx, "failed to lock account",
				slog.String("identity", logger.MaskIdentity(identity)),
				slog.String("organization_id", tenantID),
				slog.String("error", err.Error()),
			)
		} else {
			result.AccountLocked = !wasLocked
			result.LockedUntil = lock.LockedUntil
		}
	}

	if s.policy.EnableIPBlocking && sourceIP != "" && outcome.IPLimitReached {
		wasBlocked := s.IsIPBlocked(ctx, sourceIP)
		until := now.Add(s.policy.IPBlockDuration)
		if err := s.store.BlockIP(ctx, sourceIP, until); err != nil {
			s.logger.ErrorContext(ctx, "failed to block ip",
				slog.String("ip_address", sourceIP),
				slog.String("error", err.Error()),
			)
		} else {
			result.IPBlocked = !wasBlocked
			result.BlockedUntil = until
		}
	}

	return result
}

// IsAccountLocked reports whether an unexpired lock exists. Expired locks are deleted.
func (s *LockoutService) IsAccountLocked(ctx context.Context, identity, tenantID string) bool {
	key := repositories.AccountKey(identity, tenantID)

	lock, err := s.store.GetLock(ctx, key)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to read account lock",
				slog.String("identity", logger.MaskIdentity(identity)),
				slog.String("error", err.Error()),
			)
		}
		return false
	}

	if lock.IsLockedAt(s.now()) {
		return true
	}

	if err := s.store.DeleteLock(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to delete expired account lock", slog.String("error", err.Error()))
	}
	return false
}

// IsIPBlocked reports whether the address is under an unexpired block.
// A record whose block has ended is deleted, which also resets its counter.
func (s *LockoutService) IsIPBlocked(ctx context.Context, ip string) bool {
	if ip == "" {
		return false
	}

	rec, err := s.store.GetIPRecord(ctx, ip)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to read ip record",
				slog.String("ip_address", ip),
				slog.String("error", err.Error()),
			)
		}
		return false
	}

	if rec.IsBlockedAt(s.now()) {
		return true
	}

	if !rec.BlockedUntil.IsZero() {
		if err := s.store.DeleteIPRecord(ctx, ip); err != nil {
			s.logger.WarnContext(ctx, "failed to delete expired ip block", slog.String("error", err.Error()))
		}
	}
	return false
}

// UnlockAccount clears the lock and the failure counter for an account and records
// the admin action. It is audited whether or not a lock existed.
func (s *LockoutService) UnlockAccount(ctx context.Context, identity, tenantID string, by models.Initiator) (bool, error) {
	key := repositories.AccountKey(identity, tenantID)
	wasLocked := s.IsAccountLocked(ctx, identity, tenantID)

	if err := s.store.DeleteLock(ctx, key); err != nil {
		return false, fmt.Errorf("failed to clear account lock: %w", err)
	}
	if err := s.store.DeleteFailure(ctx, key); err != nil {
		return false, fmt.Errorf("failed to clear failure counter: %w", err)
	}

	s.audit.Emit(ctx, &models.SecurityAuditEvent{
		Action:       models.AuditActionAccountUnlock,
		Actor:        by.Actor,
		Organization: models.AuditOrganization{ID: tenantID, Name: by.Organization.Name},
		CRUD:         models.CRUDUpdate,
		Target:       &models.AuditTarget{ID: identity, Name: identity, Type: models.AuditTargetAccount},
		SourceIP:     by.SourceIP,
		Metadata:     models.AuditMetadata{"was_locked": wasLocked},
	})

	s.logger.InfoContext(ctx, "account unlocked by admin",
		slog.String("identity", logger.MaskIdentity(identity)),
		slog.String("organization_id", tenantID),
		slog.String("admin_id", by.Actor.ID),
		slog.Bool("was_locked", wasLocked),
	)

	return wasLocked, nil
}

// LockStatus returns the lock expiry and failure count for an account.
// Admin only; unauthenticated callers get a bare decision instead.
func (s *LockoutService) LockStatus(ctx context.Context, identity, tenantID string) (*models.AccountLockStatus, error) {
	key := repositories.AccountKey(identity, tenantID)
	status := &models.AccountLockStatus{Identity: identity, OrganizationID: tenantID}

	if s.IsAccountLocked(ctx, identity, tenantID) {
		lock, err := s.store.GetLock(ctx, key)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("failed to read account lock: %w", err)
		}
		if lock != nil {
			until := lock.LockedUntil
			status.Locked = true
			status.LockedUntil = &until
		}
	}

	rec, err := s.store.GetFailure(ctx, key)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to read failure counter: %w", err)
	}
	if rec != nil {
		status.FailedAttempts = rec.Count
	}

	return status, nil
}
