package core

// scheduler.go provides background job scheduling for maintenance tasks.
//
// Currently implements run ledger retention: old runs and their file
// entries are purged periodically. The scheduler is long-running and
// context-aware for graceful shutdown. It logs failures but never stops
// the application over a failed purge.

import (
	"context"
	"log/slog"
	"time"
)

// RunPurger deletes ledger entries older than the given number of days.
type RunPurger interface {
	PurgeRuns(ctx context.Context, olderThanDays int) (int64, error)
}

// RetentionConfig holds configuration for the retention scheduler.
type RetentionConfig struct {
	RetentionDays int           // Days to keep runs (default: 90)
	CheckInterval time.Duration // How often to run (default: 24h)
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.RetentionDays <= 0 {
		c.RetentionDays = 90
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 24 * time.Hour
	}
	return c
}

// StartRetentionScheduler purges old runs immediately, then every
// CheckInterval, until ctx is cancelled. It blocks; run it in a goroutine.
func StartRetentionScheduler(ctx context.Context, purger RunPurger, cfg RetentionConfig) {
	cfg = cfg.withDefaults()
	slog.Info("retention scheduler started",
		"retention_days", cfg.RetentionDays,
		"interval", cfg.CheckInterval.String(),
	)

	runRetentionJob(ctx, purger, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention scheduler stopped")
			return
		case <-ticker.C:
			runRetentionJob(ctx, purger, cfg)
		}
	}
}

// runRetentionJob performs one purge cycle.
func runRetentionJob(ctx context.Context, purger RunPurger, cfg RetentionConfig) {
	start := time.Now()

	purged, err := purger.PurgeRuns(ctx, cfg.RetentionDays)
	if err != nil {
		slog.Error("run purge failed", "error", err)
		return
	}

	slog.Info("purged old runs",
		"runs_purged", purged,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
