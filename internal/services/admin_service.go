package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/models"
)

// AdminStatsSource is the subset of SecurityService used by AdminService.
type AdminStatsSource interface {
	Stats(ctx context.Context, organizationID string) (models.SecurityStats, error)
}

// AdminLockoutManager is the subset of LockoutService used by AdminService.
type AdminLockoutManager interface {
	UnlockAccount(ctx context.Context, identity, tenantID string, by models.Initiator) (bool, error)
	LockStatus(ctx context.Context, identity, tenantID string) (*models.AccountLockStatus, error)
}

// AdminAPIKeyLister is the subset of APIKeyService used by AdminService.
type AdminAPIKeyLister interface {
	List(ctx context.Context, organizationID string) ([]*models.APIKey, error)
}

// PolicyView is the lockout policy as shown on the admin dashboard.
type PolicyView struct {
	MaxFailedAttempts     int    `json:"max_failed_attempts"`
	LockoutDuration       string `json:"lockout_duration"`
	MaxLoginAttemptsPerIP int    `json:"max_login_attempts_per_ip"`
	IPBlockDuration       string `json:"ip_block_duration"`
	EnableIPBlocking      bool   `json:"enable_ip_blocking"`
}

// APIKeyCounts summarizes an organization's keys.
type APIKeyCounts struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

// DashboardStatsResponse contains aggregate admin security metrics.
type DashboardStatsResponse struct {
	Security    models.SecurityStats `json:"security"`
	Policy      PolicyView           `json:"policy"`
	APIKeys     APIKeyCounts         `json:"api_keys"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// AdminService backs the admin security endpoints.
type AdminService struct {
	stats   AdminStatsSource
	lockout AdminLockoutManager
	apiKeys AdminAPIKeyLister
	policy  SecurityPolicy
	now     Clock
	logger  *slog.Logger
}

// NewAdminService creates a new AdminService.
func NewAdminService(
	stats AdminStatsSource,
	lockout AdminLockoutManager,
	apiKeys AdminAPIKeyLister,
	policy SecurityPolicy,
	now Clock,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		stats:   stats,
		lockout: lockout,
		apiKeys: apiKeys,
		policy:  policy,
		now:     now,
		logger:  logger,
	}
}

// GetDashboardStats returns security state counts, the active policy and the
// organization's API key summary.
func (s *AdminService) GetDashboardStats(ctx context.Context, organizationID string) (*DashboardStatsResponse, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization is required", models.ErrBadRequest)
	}

	security, err := s.stats.Stats(ctx, organizationID)
	if err != nil {
		s.logger.ErrorContext(ctx, "dashboard: failed to read security stats", slog.Any("error", err))
		return nil, err
	}

	keys, err := s.apiKeys.List(ctx, organizationID)
	if err != nil {
		s.logger.ErrorContext(ctx, "dashboard: failed to list api keys", slog.Any("error", err))
		return nil, err
	}

	now := s.now()
	counts := APIKeyCounts{Total: len(keys)}
	for _, k := range keys {
		if k.IsExpiredAt(now) {
			counts.Expired++
		} else {
			counts.Active++
		}
	}

	return &DashboardStatsResponse{
		Security: security,
		Policy: PolicyView{
			MaxFailedAttempts:     s.policy.MaxFailedAttempts,
			LockoutDuration:       s.policy.LockoutDuration.String(),
			MaxLoginAttemptsPerIP: s.policy.MaxLoginAttemptsPerIP,
			IPBlockDuration:       s.policy.IPBlockDuration.String(),
			EnableIPBlocking:      s.policy.EnableIPBlocking,
		},
		APIKeys:     counts,
		GeneratedAt: now.UTC(),
	}, nil
}

// UnlockAccount clears a lock within the admin's own organization.
func (s *AdminService) UnlockAccount(ctx context.Context, identity string, by models.Initiator) (bool, error) {
	if identity == "" || by.Organization.ID == "" {
		return false, models.ErrBadRequest
	}

	wasLocked, err := s.lockout.UnlockAccount(ctx, identity, by.Organization.ID, by)
	if err != nil {
		return false, fmt.Errorf("unlock failed: %w", err)
	}
	return wasLocked, nil
}

// LockStatus returns the lock state of an account in the admin's organization.
func (s *AdminService) LockStatus(ctx context.Context, identity, organizationID string) (*models.AccountLockStatus, error) {
	if identity == "" || organizationID == "" {
		return nil, models.ErrBadRequest
	}
	return s.lockout.LockStatus(ctx, identity, organizationID)
}
