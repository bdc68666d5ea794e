package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/models"
	"github.com/BradenHooton/hms-sentinel/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loginAttempt(identity, ip string) models.LoginAttempt {
	return models.LoginAttempt{
		Identity:       identity,
		OrganizationID: "org_1",
		SourceIP:       ip,
		UserAgent:      "test-agent/1.0",
	}
}

func TestSecurityService_FifthFailureLocksAccount(t *testing.T) {
	f := newSecurityFixture(services.DefaultSecurityPolicy())
	ctx := context.Background()
	attempt := loginAttempt("alice@example.com", "1.2.3.4")

	for i := 0; i < 4; i++ {
		decision := f.security.RecordLoginFailure(ctx, attempt)
		assert.True(t, decision.Allowed, "attempt %d should still be allowed", i+1)
	}

	decision := f.security.RecordLoginFailure(ctx, attempt)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.DenyReasonAccountLocked, decision.Reason)

	gate := f.security.CheckLoginAllowed(ctx, "alice@example.com", "org_1", "1.2.3.4")
	assert.False(t, gate.Allowed)

	// Other accounts from the same address are unaffected.
	assert.True(t, f.security.CheckLoginAllowed(ctx, "bob@example.com", "org_1", "1.2.3.4").Allowed)

	select {
	case call := <-f.notifier.Calls:
		assert.Equal(t, "org_1|alice@example.com", call)
	case <-time.After(time.Second):
		t.Fatal("expected lockout notification")
	}

	actions := f.audit.Actions()
	assert.Equal(t, models.AuditActionAccountLocked, actions[len(actions)-1])
	locked := f.audit.Last(models.AuditActionAccountLocked)
	assert.Equal(t, models.CRUDUpdate, locked.CRUD)
	assert.Equal(t, 5, locked.Metadata["attempts"])

	f.clock.Advance(30 * time.Minute)
	assert.True(t, f.security.CheckLoginAllowed(ctx, "alice@example.com", "org_1", "1.2.3.4").Allowed)
}

func TestSecurityService_IPBlockDeniesEveryAccount(t *testing.T) {
	policy := services.DefaultSecurityPolicy()
	policy.MaxLoginAttemptsPerIP = 3
	f := newSecurityFixture(policy)
	ctx := context.Background()

	var decision models.LoginDecision
	for _, who := range []string{"a", "b", "c"} {
		decision = f.security.RecordLoginFailure(ctx, loginAttempt(who, "6.6.6.6"))
	}
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.DenyReasonIPBlocked, decision.Reason)

	gate := f.security.CheckLoginAllowed(ctx, "zed", "org_2", "6.6.6.6")
	assert.False(t, gate.Allowed)
	assert.Equal(t, models.DenyReasonIPBlocked, gate.Reason)

	blocked := f.audit.Last(models.AuditActionIPBlocked)
	require.NotNil(t, blocked)
	assert.Equal(t, models.AuditTargetIP, blocked.Target.Type)
	assert.Equal(t, "6.6.6.6", blocked.Target.ID)

	assert.True(t, f.security.CheckLoginAllowed(ctx, "zed", "org_2", "7.7.7.7").Allowed)
}

func TestSecurityService_AccountLockTakesPrecedence(t *testing.T) {
	policy := services.DefaultSecurityPolicy()
	policy.MaxFailedAttempts = 2
	policy.MaxLoginAttemptsPerIP = 2
	f := newSecurityFixture(policy)
	ctx := context.Background()

	f.security.RecordLoginFailure(ctx, loginAttempt("alice", "1.1.1.1"))
	decision := f.security.RecordLoginFailure(ctx, loginAttempt("alice", "1.1.1.1"))

	assert.Equal(t, models.DenyReasonAccountLocked, decision.Reason)
	assert.NotNil(t, f.audit.Last(models.AuditActionAccountLocked))
	assert.NotNil(t, f.audit.Last(models.AuditActionIPBlocked))
}

func TestSecurityService_SuccessResetsCounter(t *testing.T) {
	f := newSecurityFixture(services.DefaultSecurityPolicy())
	ctx := context.Background()
	attempt := loginAttempt("alice@example.com", "1.2.3.4")

	for i := 0; i < 4; i++ {
		f.security.RecordLoginFailure(ctx, attempt)
	}
	f.security.RecordLoginSuccess(ctx, attempt)

	decision := f.security.RecordLoginFailure(ctx, attempt)
	assert.True(t, decision.Allowed)

	success := f.audit.Last(models.AuditActionLoginSuccess)
	require.NotNil(t, success)
	assert.Equal(t, "alice@example.com", success.Actor.ID)
	assert.Equal(t, "test-agent/1.0", success.Metadata["user_agent"])

	failure := f.audit.Last(models.AuditActionLoginFailure)
	assert.Equal(t, 1, failure.Metadata["failed_attempts"])
}

func TestSecurityService_FailureFromAnotherAddressKeepsLock(t *testing.T) {
	f := newSecurityFixture(services.DefaultSecurityPolicy())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.security.RecordLoginFailure(ctx, loginAttempt("alice@example.com", "1.2.3.4"))
	}
	require.False(t, f.security.CheckLoginAllowed(ctx, "alice@example.com", "org_1", "1.2.3.4").Allowed)

	decision := f.security.RecordLoginFailure(ctx, loginAttempt("alice@example.com", "5.6.7.8"))
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.DenyReasonAccountLocked, decision.Reason)

	gate := f.security.CheckLoginAllowed(ctx, "alice@example.com", "org_1", "9.9.9.9")
	assert.False(t, gate.Allowed)
	assert.Equal(t, models.DenyReasonAccountLocked, gate.Reason)
	assert.Equal(t, 6, f.tracker.FailureCount(ctx, "alice@example.com", "org_1"))
}

func TestSecurityService_SuccessAfterLockExpiryClearsCount(t *testing.T) {
	f := newSecurityFixture(services.DefaultSecurityPolicy())
	ctx := context.Background()
	attempt := loginAttempt("alice@example.com", "1.2.3.4")

	for i := 0; i < 5; i++ {
		f.security.RecordLoginFailure(ctx, attempt)
	}
	f.clock.Advance(30*time.Minute + time.Second)
	require.True(t, f.security.CheckLoginAllowed(ctx, "alice@example.com", "org_1", "1.2.3.4").Allowed)
	require.Equal(t, 5, f.tracker.FailureCount(ctx, "alice@example.com", "org_1"))

	f.security.RecordLoginSuccess(ctx, attempt)
	assert.Equal(t, 0, f.tracker.FailureCount(ctx, "alice@example.com", "org_1"))
}

func TestSecurityService_RecordFailureAfterBlockEnds(t *testing.T) {
	policy := services.DefaultSecurityPolicy()
	policy.MaxLoginAttemptsPerIP = 3
	f := newSecurityFixture(policy)
	ctx := context.Background()

	for _, who := range []string{"a", "b", "c"} {
		f.security.RecordLoginFailure(ctx, loginAttempt(who, "9.9.9.9"))
	}
	blocks := len(f.audit.Events())

	f.clock.Advance(time.Hour + time.Second)
	decision := f.security.RecordLoginFailure(ctx, loginAttempt("d", "9.9.9.9"))
	assert.True(t, decision.Allowed)

	for _, ev := range f.audit.Events()[blocks:] {
		assert.NotEqual(t, models.AuditActionIPBlocked, ev.Action)
	}
}

func TestSecurityService_Stats(t *testing.T) {
	policy := services.DefaultSecurityPolicy()
	policy.MaxFailedAttempts = 1
	f := newSecurityFixture(policy)
	ctx := context.Background()

	f.security.RecordLoginFailure(ctx, loginAttempt("alice", "1.1.1.1"))
	f.security.RecordLoginFailure(ctx, loginAttempt("bob", "2.2.2.2"))
	f.security.RecordLoginFailure(ctx, models.LoginAttempt{Identity: "carol", OrganizationID: "org_2", SourceIP: "3.3.3.3"})

	stats, err := f.security.Stats(ctx, "org_1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TrackedIdentities)
	assert.Equal(t, 2, stats.LockedAccounts)
	assert.Equal(t, 3, stats.TrackedIPs)
	assert.Equal(t, 0, stats.BlockedIPs)

	all, err := f.security.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, all.TrackedIdentities)
	assert.Equal(t, 3, all.LockedAccounts)
}
