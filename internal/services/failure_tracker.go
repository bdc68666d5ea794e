package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/models"
	"github.com/BradenHooton/hms-sentinel/internal/repositories"
	"github.com/BradenHooton/hms-sentinel/pkg/logger"
)

// FailureTracker counts failed logins per account and per source address.
// It never returns errors: a store failure is logged and treated as no state.
type FailureTracker struct {
	store  repositories.SecurityStateStore
	policy SecurityPolicy
	now    Clock
	logger *slog.Logger
}

// NewFailureTracker creates a new FailureTracker
func NewFailureTracker(store repositories.SecurityStateStore, policy SecurityPolicy, now Clock, logger *slog.Logger) *FailureTracker {
	return &FailureTracker{
		store:  store,
		policy: policy,
		now:    now,
		logger: logger,
	}
}

// RecordFailure increments the account counter and, when IP blocking is enabled and
// an address is known, the address counter. Thresholds are inclusive: the Nth failure
// reaches the limit.
func (t *FailureTracker) RecordFailure(ctx context.Context, identity, tenantID, sourceIP string) models.FailureOutcome {
	now := t.now()
	var outcome models.FailureOutcome

	rec, err := t.store.IncrementFailure(ctx, repositories.AccountKey(identity, tenantID), now)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to record login failure",
			slog.String("identity", logger.MaskIdentity(identity)),
			slog.String("organization_id", tenantID),
			slog.String("error", err.Error()),
		)
	} else {
		outcome.IdentityCount = rec.Count
		outcome.IdentityLimitReached = rec.Count >= t.policy.MaxFailedAttempts
	}

	if sourceIP == "" || !t.policy.EnableIPBlocking {
		return outcome
	}

	t.expireEndedBlock(ctx, sourceIP, now)

	ipRec, err := t.store.IncrementIPAttempt(ctx, sourceIP, now)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to record ip failure",
			slog.String("ip_address", sourceIP),
			slog.String("error", err.Error()),
		)
		return outcome
	}

	outcome.IPCount = ipRec.Attempts
	outcome.IPLimitReached = ipRec.Attempts >= t.policy.MaxLoginAttemptsPerIP

	return outcome
}

// expireEndedBlock deletes an address record whose block has ended. The next failure
// then counts from one.
func (t *FailureTracker) expireEndedBlock(ctx context.Context, ip string, now time.Time) {
	rec, err := t.store.GetIPRecord(ctx, ip)
	if err != nil || rec.BlockedUntil.IsZero() || rec.IsBlockedAt(now) {
		return
	}
	if err := t.store.DeleteIPRecord(ctx, ip); err != nil {
		t.logger.WarnContext(ctx, "failed to delete expired ip block",
			slog.String("ip_address", ip),
			slog.String("error", err.Error()),
		)
	}
}

// RecordSuccess clears the account's failure counter. Address counters are untouched.
func (t *FailureTracker) RecordSuccess(ctx context.Context, identity, tenantID string) {
	if err := t.store.DeleteFailure(ctx, repositories.AccountKey(identity, tenantID)); err != nil {
		t.logger.ErrorContext(ctx, "failed to reset login failures",
			slog.String("identity", logger.MaskIdentity(identity)),
			slog.String("organization_id", tenantID),
			slog.String("error", err.Error()),
		)
	}
}

// FailureCount returns the current consecutive failure count, zero when none are tracked
func (t *FailureTracker) FailureCount(ctx context.Context, identity, tenantID string) int {
	rec, err := t.store.GetFailure(ctx, repositories.AccountKey(identity, tenantID))
	if err != nil {
		return 0
	}
	return rec.Count
}
