package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/models"
)

// SecurityStateStore holds failed-login counters, account locks and IP blocks.
// Account keys come from AccountKey. Getters return models.ErrNotFound when absent.
type SecurityStateStore interface {
	// IncrementFailure adds one failure for the account and returns the updated record
	IncrementFailure(ctx context.Context, account string, now time.Time) (models.FailedAttemptRecord, error)
	GetFailure(ctx context.Context, account string) (*models.FailedAttemptRecord, error)
	DeleteFailure(ctx context.Context, account string) error

	PutLock(ctx context.Context, account string, lock models.AccountLockRecord) error
	GetLock(ctx context.Context, account string) (*models.AccountLockRecord, error)
	DeleteLock(ctx context.Context, account string) error

	// IncrementIPAttempt adds one failure for the address and returns the updated record
	IncrementIPAttempt(ctx context.Context, ip string, now time.Time) (models.IPBlockRecord, error)
	BlockIP(ctx context.Context, ip string, until time.Time) error
	GetIPRecord(ctx context.Context, ip string) (*models.IPBlockRecord, error)
	DeleteIPRecord(ctx context.Context, ip string) error

	// Sweep removes expired locks and blocks, and counters idle longer than staleAfter
	Sweep(ctx context.Context, now time.Time, staleAfter time.Duration) (models.SweepResult, error)
	// Stats counts state for one tenant's accounts, or every tenant when tenantID is empty.
	// Address counts are always service-wide.
	Stats(ctx context.Context, now time.Time, tenantID string) (models.SecurityStats, error)
}

// AccountKey builds the store key for an identity within a tenant.
// Identities are compared case-insensitively so "Alice@x" and "alice@x" share a counter.
func AccountKey(identity, tenantID string) string {
	return tenantKeyPrefix(tenantID) + strings.ToLower(strings.TrimSpace(identity))
}

func tenantKeyPrefix(tenantID string) string {
	return tenantID + "|"
}
