package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/medication-api/internal/repository"
	"github.com/jwalitptl/medication-api/pkg/logger"
)

// OutboxCleanupWorker deletes published outbox events once they are older
// than the retention window.
type OutboxCleanupWorker struct {
	repo      repository.OutboxRepository
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
}

func NewOutboxCleanupWorker(repo repository.OutboxRepository, retention, interval time.Duration, logger *logger.Logger) *OutboxCleanupWorker {
	return &OutboxCleanupWorker{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

func (w *OutboxCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Cleanup(ctx, time.Now()); err != nil {
				w.logger.Error(err, "Failed to clean up outbox events")
			}
		}
	}
}

// Cleanup deletes events processed before now minus the retention window.
func (w *OutboxCleanupWorker) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-w.retention)

	rows, err := w.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup outbox events: %w", err)
	}

	if rows > 0 {
		w.logger.Info("Cleaned up outbox events", "deleted", rows, "cutoff", cutoff)
	}
	return rows, nil
}
