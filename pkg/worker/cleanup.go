package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jwalitptl/alleraid-api/pkg/logger"
	"github.com/jwalitptl/alleraid-api/pkg/metrics"
	"github.com/jwalitptl/alleraid-api/pkg/repository"
)

// OutboxCleanup purges processed outbox rows on a cron schedule.
type OutboxCleanup struct {
	repo      repository.OutboxStore
	retention time.Duration
	schedule  string
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewOutboxCleanup(repo repository.OutboxStore, retention time.Duration, schedule string, log *logger.Logger, m *metrics.Metrics) *OutboxCleanup {
	return &OutboxCleanup{
		repo:      repo,
		retention: retention,
		schedule:  schedule,
		logger:    log,
		metrics:   m,
		now:       time.Now,
	}
}

// Start runs the schedule until ctx is cancelled and waits for a running
// purge to finish.
func (w *OutboxCleanup) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(w.schedule, func() {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error(err, "Outbox cleanup failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", w.schedule, err)
	}

	w.logger.Info("Starting outbox cleanup", "schedule", w.schedule, "retention", w.retention.String())
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	w.logger.Info("Outbox cleanup stopped")
	return nil
}

func (w *OutboxCleanup) RunOnce(ctx context.Context) (int64, error) {
	cutoff := w.now().Add(-w.retention)
	rows, err := w.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		w.metrics.DatabaseOperations.WithLabelValues("purge_outbox", "error").Inc()
		return 0, fmt.Errorf("failed to purge outbox: %w", err)
	}
	w.metrics.DatabaseOperations.WithLabelValues("purge_outbox", "success").Inc()
	w.metrics.OutboxEventsPurged.Add(float64(rows))
	w.logger.Info("Purged processed outbox events", "rows", rows, "cutoff", cutoff)
	return rows, nil
}
