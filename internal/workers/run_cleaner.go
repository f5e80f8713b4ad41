package workers

import (
	"context"
	"log/slog"
	"time"
)

// RunRemover is the service surface the cleaner needs.
type RunRemover interface {
	RemoveOldRuns(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RunCleaner periodically removes finished task runs past the retention
// window so the audit table does not grow without bound.
type RunCleaner struct {
	logger      *slog.Logger
	taskService RunRemover

	// Duration after which finished runs are removed
	retention time.Duration

	// How often to run the cleanup process
	cleanupInterval time.Duration
}

func NewRunCleaner(
	logger *slog.Logger,
	taskService RunRemover,
	retention time.Duration,
	cleanupInterval time.Duration,
) *RunCleaner {
	return &RunCleaner{
		logger:          logger,
		taskService:     taskService,
		retention:       retention,
		cleanupInterval: cleanupInterval,
	}
}

// Start begins the periodic cleanup of old task runs.
func (rc *RunCleaner) Start(ctx context.Context) {
	rc.logger.Info("Starting run cleaner worker",
		"retention", rc.retention.String(),
		"cleanup_interval", rc.cleanupInterval.String())

	// Run an initial cleanup immediately
	if err := rc.cleanupOldRuns(ctx); err != nil {
		rc.logger.Error("Initial run cleanup failed", "error", err)
	}

	ticker := time.NewTicker(rc.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rc.logger.Info("Run cleaner worker stopped")
			return
		case <-ticker.C:
			if err := rc.cleanupOldRuns(ctx); err != nil {
				rc.logger.Error("Run cleanup failed", "error", err)
			}
		}
	}
}

func (rc *RunCleaner) cleanupOldRuns(ctx context.Context) error {
	rc.logger.Debug("Starting cleanup of old task runs", "older_than", rc.retention.String())

	count, err := rc.taskService.RemoveOldRuns(ctx, rc.retention)
	if err != nil {
		return err
	}

	if count > 0 {
		rc.logger.Info("Removed old task runs", "count", count, "older_than", rc.retention.String())
	} else {
		rc.logger.Debug("No old task runs to remove")
	}

	return nil
}
