package services

import (
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/config"
)

// Clock returns the current time. Tests inject a fixed or stepping clock.
type Clock func() time.Time

// SecurityPolicy holds the lockout thresholds and durations
type SecurityPolicy struct {
	MaxFailedAttempts     int
	LockoutDuration       time.Duration
	MaxLoginAttemptsPerIP int
	IPBlockDuration       time.Duration
	EnableIPBlocking      bool
}

// DefaultSecurityPolicy returns the production defaults
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		MaxFailedAttempts:     5,
		LockoutDuration:       30 * time.Minute,
		MaxLoginAttemptsPerIP: 10,
		IPBlockDuration:       60 * time.Minute,
		EnableIPBlocking:      true,
	}
}

// PolicyFromConfig builds the policy from loaded configuration
func PolicyFromConfig(cfg config.SecurityConfig) SecurityPolicy {
	return SecurityPolicy{
		MaxFailedAttempts:     cfg.MaxFailedAttempts,
		LockoutDuration:       cfg.LockoutDuration,
		MaxLoginAttemptsPerIP: cfg.MaxLoginAttemptsPerIP,
		IPBlockDuration:       cfg.IPBlockDuration,
		EnableIPBlocking:      cfg.EnableIPBlocking,
	}
}
