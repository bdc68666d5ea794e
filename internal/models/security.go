package models

import "time"

// FailedAttemptRecord counts consecutive failed logins for one identity in one tenant
type FailedAttemptRecord struct {
	Count         int       `json:"count"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// IPBlockRecord counts failed logins from one source address.
// BlockedUntil stays zero until the per-IP threshold is crossed.
type IPBlockRecord struct {
	Attempts      int       `json:"attempts"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	BlockedUntil  time.Time `json:"blocked_until"`
}

// IsBlockedAt reports whether the block is still in force at now
func (r *IPBlockRecord) IsBlockedAt(now time.Time) bool {
	return !r.BlockedUntil.IsZero() && now.Before(r.BlockedUntil)
}

// AccountLockRecord is a time-boxed denial of authentication for one identity.
// Attempts is a snapshot kept for audit only.
type AccountLockRecord struct {
	LockedUntil time.Time `json:"locked_until"`
	Attempts    int       `json:"attempts"`
}

// IsLockedAt reports whether the lock is still in force at now
func (r *AccountLockRecord) IsLockedAt(now time.Time) bool {
	return now.Before(r.LockedUntil)
}

// FailureOutcome is what the failure tracker reports after a failed login
type FailureOutcome struct {
	IdentityCount        int
	IPCount              int
	IdentityLimitReached bool
	IPLimitReached       bool
}

// LoginAttempt is the outcome of one authentication attempt as reported by the caller
type LoginAttempt struct {
	Identity       string
	OrganizationID string
	ActorName      string
	Success        bool
	SourceIP       string
	UserAgent      string
}

// Reasons a login gate denies an attempt
const (
	DenyReasonAccountLocked = "account_locked"
	DenyReasonIPBlocked     = "ip_blocked"
)

// LoginDecision tells the caller whether to proceed with authentication.
// It deliberately carries no unlock time.
type LoginDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// SecurityStats is a point-in-time view of the security state store. Account counts
// cover OrganizationID only (every tenant when empty). Addresses are not owned by a
// tenant, so the IP counts are service-wide.
type SecurityStats struct {
	OrganizationID    string `json:"organization_id,omitempty"`
	TrackedIdentities int    `json:"tracked_identities"`
	LockedAccounts    int    `json:"locked_accounts"`
	TrackedIPs        int    `json:"global_tracked_ips"`
	BlockedIPs        int    `json:"global_blocked_ips"`
}

// SweepResult reports what a housekeeping pass removed
type SweepResult struct {
	StaleFailures int
	ExpiredLocks  int
	ExpiredBlocks int
}

// AccountLockStatus is the admin view of one account's lockout state
type AccountLockStatus struct {
	Identity       string     `json:"identity"`
	OrganizationID string     `json:"organization_id"`
	Locked         bool       `json:"locked"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	FailedAttempts int        `json:"failed_attempts"`
}

// Initiator identifies who triggered an audited operation
type Initiator struct {
	Actor        AuditActor
	Organization AuditOrganization
	SourceIP     string
}
