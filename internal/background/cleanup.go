package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/metrics"
	"github.com/BradenHooton/hms-sentinel/internal/models"
)

// StateSweeper removes stale failure counters and expired locks and blocks
type StateSweeper interface {
	Sweep(ctx context.Context, now time.Time, staleAfter time.Duration) (models.SweepResult, error)
}

// KeyPurger hard-deletes API keys that expired before a cutoff
type KeyPurger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// CleanupConfig controls the sweep cadence and retention
type CleanupConfig struct {
	Interval time.Duration
	// StaleAfter is how long an untouched failure counter survives
	StaleAfter time.Duration
	// KeyRetention is how long an expired API key is kept before purge. Zero disables purging.
	KeyRetention time.Duration
	Timeout      time.Duration
}

// CleanupManager periodically sweeps the security state store and purges expired API keys
type CleanupManager struct {
	store    StateSweeper
	keys     KeyPurger
	cfg      CleanupConfig
	now      func() time.Time
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager. keys may be nil.
func NewCleanupManager(
	store StateSweeper,
	keys KeyPurger,
	cfg CleanupConfig,
	now func() time.Time,
	logger *slog.Logger,
) *CleanupManager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CleanupManager{
		store:  store,
		keys:   keys,
		cfg:    cfg,
		now:    now,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.cfg.Interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep and purge
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, cm.cfg.Timeout)
	defer cancel()

	now := cm.now()

	result, err := cm.store.Sweep(cleanupCtx, now, cm.cfg.StaleAfter)
	if err != nil {
		cm.logger.Error("failed to sweep security state", slog.Any("error", err))
	} else {
		metrics.SweepRemovedTotal.WithLabelValues(metrics.SweepStaleFailure).Add(float64(result.StaleFailures))
		metrics.SweepRemovedTotal.WithLabelValues(metrics.SweepExpiredLock).Add(float64(result.ExpiredLocks))
		metrics.SweepRemovedTotal.WithLabelValues(metrics.SweepExpiredBlock).Add(float64(result.ExpiredBlocks))

		if result.StaleFailures+result.ExpiredLocks+result.ExpiredBlocks > 0 {
			cm.logger.Info("security state sweep completed",
				slog.Int("stale_failures", result.StaleFailures),
				slog.Int("expired_locks", result.ExpiredLocks),
				slog.Int("expired_blocks", result.ExpiredBlocks),
			)
		}
	}

	if cm.keys == nil || cm.cfg.KeyRetention <= 0 {
		return
	}

	rowsDeleted, err := cm.keys.PurgeExpired(cleanupCtx, now.Add(-cm.cfg.KeyRetention))
	if err != nil {
		cm.logger.Error("failed to purge expired api keys", slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		metrics.SweepRemovedTotal.WithLabelValues(metrics.SweepExpiredKey).Add(float64(rowsDeleted))
		cm.logger.Info("expired api key purge completed", slog.Int64("rows_deleted", rowsDeleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
