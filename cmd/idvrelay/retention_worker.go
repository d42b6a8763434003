package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/idvrelay/idvrelay/internal/events"
	"github.com/idvrelay/idvrelay/internal/platform/config"
	"github.com/idvrelay/idvrelay/internal/platform/database"
)

const (
	defaultRetentionCleanupInterval  = time.Hour
	defaultRetentionCleanupBatchSize = 500
)

type eventRetentionWorker struct {
	db        database.Querier
	store     *events.Store
	retention time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func buildRetentionWorker(pool *database.Pool, cfg config.EventsConfig) *eventRetentionWorker {
	if pool == nil || cfg.RetentionHours <= 0 {
		return nil
	}
	return newRetentionWorker(pool, cfg)
}

func newRetentionWorker(db database.Querier, cfg config.EventsConfig) *eventRetentionWorker {
	interval := time.Duration(cfg.CleanupIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultRetentionCleanupInterval
	}

	return &eventRetentionWorker{
		db:        db,
		store:     events.NewStore(),
		retention: time.Duration(cfg.RetentionHours) * time.Hour,
		interval:  interval,
		batchSize: defaultRetentionCleanupBatchSize,
		now:       time.Now,
	}
}

func (w *eventRetentionWorker) Run(ctx context.Context) error {
	if w == nil || w.db == nil || w.store == nil {
		return nil
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep deletes expired events in batches until a short batch signals the
// backlog is gone.
func (w *eventRetentionWorker) sweep(ctx context.Context) int {
	cutoff := w.now().UTC().Add(-w.retention)

	totalDeleted := 0
	for ctx.Err() == nil {
		deleted, err := w.store.DeleteOlderThan(ctx, w.db, cutoff, w.batchSize)
		if err != nil {
			slog.Error("event retention cleanup failed", "error", err, "deleted_rows", totalDeleted)
			return totalDeleted
		}
		totalDeleted += deleted
		if deleted < w.batchSize {
			break
		}
	}

	if totalDeleted > 0 {
		slog.Info("event retention cleanup completed",
			"cutoff", cutoff,
			"deleted_rows", totalDeleted,
		)
	}
	return totalDeleted
}
