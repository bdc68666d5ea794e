package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/metrics"
	"github.com/BradenHooton/hms-sentinel/internal/models"
	"github.com/BradenHooton/hms-sentinel/internal/repositories"
	"github.com/BradenHooton/hms-sentinel/pkg/logger"
)

// SecurityService runs the login flow: gate, record outcome, impose locks, audit, alert
type SecurityService struct {
	tracker       *FailureTracker
	lockout       *LockoutService
	audit         AuditEmitter
	notifier      LockoutNotifier
	store         repositories.SecurityStateStore
	now           Clock
	notifyTimeout time.Duration
	logger        *slog.Logger
}

// NewSecurityService creates a new SecurityService
func NewSecurityService(
	tracker *FailureTracker,
	lockout *LockoutService,
	audit AuditEmitter,
	notifier LockoutNotifier,
	store repositories.SecurityStateStore,
	now Clock,
	logger *slog.Logger,
) *SecurityService {
	if notifier == nil {
		notifier = NoopLockoutNotifier{}
	}
	return &SecurityService{
		tracker:       tracker,
		lockout:       lockout,
		audit:         audit,
		notifier:      notifier,
		store:         store,
		now:           now,
		notifyTimeout: 10 * time.Second,
		logger:        logger,
	}
}

// CheckLoginAllowed is called before credentials are checked. It never reveals when a lock ends.
func (s *SecurityService) CheckLoginAllowed(ctx context.Context, identity, tenantID, sourceIP string) models.LoginDecision {
	decision := models.LoginDecision{Allowed: true}

	switch {
	case s.lockout.IsAccountLocked(ctx, identity, tenantID):
		decision = models.LoginDecision{Reason: models.DenyReasonAccountLocked}
	case s.lockout.IsIPBlocked(ctx, sourceIP):
		decision = models.LoginDecision{Reason: models.DenyReasonIPBlocked}
	}

	label := "allowed"
	if !decision.Allowed {
		label = decision.Reason
	}
	metrics.LoginChecksTotal.WithLabelValues(label).Inc()

	return decision
}

// RecordLoginFailure records a failed attempt and returns whether further attempts are allowed
func (s *SecurityService) RecordLoginFailure(ctx context.Context, attempt models.LoginAttempt) models.LoginDecision {
	outcome := s.tracker.RecordFailure(ctx, attempt.Identity, attempt.OrganizationID, attempt.SourceIP)
	result := s.lockout.ApplyOutcome(ctx, attempt.Identity, attempt.OrganizationID, attempt.SourceIP, outcome)

	actor := attemptActor(attempt)
	org := models.AuditOrganization{ID: attempt.OrganizationID}
	accountTarget := &models.AuditTarget{ID: attempt.Identity, Name: attempt.Identity, Type: models.AuditTargetAccount}

	s.audit.Emit(ctx, &models.SecurityAuditEvent{
		Action:       models.AuditActionLoginFailure,
		Actor:        actor,
		Organization: org,
		CRUD:         models.CRUDRead,
		Target:       accountTarget,
		SourceIP:     attempt.SourceIP,
		Metadata: models.AuditMetadata{
			"failed_attempts": outcome.IdentityCount,
			"user_agent":      attempt.UserAgent,
		},
	})
	label := "counted"
	switch {
	case result.AccountLocked:
		label = "account_locked"
	case result.IPBlocked:
		label = "ip_blocked"
	}
	metrics.LoginFailuresTotal.WithLabelValues(label).Inc()

	if result.AccountLocked {
		metrics.LockoutsTotal.WithLabelValues(metrics.KindAccount).Inc()
		s.audit.Emit(ctx, &models.SecurityAuditEvent{
			Action:       models.AuditActionAccountLocked,
			Actor:        actor,
			Organization: org,
			CRUD:         models.CRUDUpdate,
			Target:       accountTarget,
			SourceIP:     attempt.SourceIP,
			Metadata: models.AuditMetadata{
				"attempts":     outcome.IdentityCount,
				"locked_until": result.LockedUntil,
			},
		})
		s.logger.WarnContext(ctx, "account locked after repeated failures",
			slog.String("identity", logger.MaskIdentity(attempt.Identity)),
			slog.String("organization_id", attempt.OrganizationID),
			slog.Int("attempts", outcome.IdentityCount),
		)
		s.notifyLocked(ctx, attempt.Identity, attempt.OrganizationID)
	}

	if result.IPBlocked {
		metrics.LockoutsTotal.WithLabelValues(metrics.KindIP).Inc()
		s.audit.Emit(ctx, &models.SecurityAuditEvent{
			Action:       models.AuditActionIPBlocked,
			Actor:        actor,
			Organization: org,
			CRUD:         models.CRUDCreate,
			Target:       &models.AuditTarget{ID: attempt.SourceIP, Name: attempt.SourceIP, Type: models.AuditTargetIP},
			SourceIP:     attempt.SourceIP,
			Metadata: models.AuditMetadata{
				"attempts":      outcome.IPCount,
				"blocked_until": result.BlockedUntil,
			},
		})
		s.logger.WarnContext(ctx, "ip blocked after repeated failures",
			slog.String("ip_address", attempt.SourceIP),
			slog.Int("attempts", outcome.IPCount),
		)
	}

	return s.CheckLoginAllowed(ctx, attempt.Identity, attempt.OrganizationID, attempt.SourceIP)
}

// RecordLoginSuccess resets the account's failure counter and audits the login
func (s *SecurityService) RecordLoginSuccess(ctx context.Context, attempt models.LoginAttempt) {
	s.tracker.RecordSuccess(ctx, attempt.Identity, attempt.OrganizationID)

	s.audit.Emit(ctx, &models.SecurityAuditEvent{
		Action:       models.AuditActionLoginSuccess,
		Actor:        attemptActor(attempt),
		Organization: models.AuditOrganization{ID: attempt.OrganizationID},
		CRUD:         models.CRUDCreate,
		Target:       &models.AuditTarget{ID: attempt.Identity, Name: attempt.Identity, Type: models.AuditTargetAccount},
		SourceIP:     attempt.SourceIP,
		Metadata:     models.AuditMetadata{"user_agent": attempt.UserAgent},
	})
}

// Stats reports tracked failures and active locks for one organization, plus the
// service-wide address counts. An empty organizationID counts every tenant.
func (s *SecurityService) Stats(ctx context.Context, organizationID string) (models.SecurityStats, error) {
	stats, err := s.store.Stats(ctx, s.now(), organizationID)
	if err != nil {
		return models.SecurityStats{}, fmt.Errorf("failed to read security stats: %w", err)
	}
	return stats, nil
}

// notifyLocked sends the lockout alert off the request path
func (s *SecurityService) notifyLocked(ctx context.Context, identity, tenantID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()

		if err := s.notifier.NotifyAccountLocked(ctx, identity, tenantID); err != nil {
			s.logger.Warn("failed to send lockout alert",
				slog.String("organization_id", tenantID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func attemptActor(attempt models.LoginAttempt) models.AuditActor {
	name := attempt.ActorName
	if name == "" {
		name = attempt.Identity
	}
	return models.AuditActor{ID: attempt.Identity, Name: name}
}
