package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/comptoir-erp/comptoir-erp/internal/jobs"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

// IdempotencyCleanupJob prunes idempotency keys past their retention.
// Movement references stay unique forever through the table constraint;
// the keys only guard the retry window.
type IdempotencyCleanupJob struct {
	Store   *shared.IdempotencyStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob wires dependencies for the cleanup handler.
func NewIdempotencyCleanupJob(store *shared.IdempotencyStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Retention <= 0 {
		payload.Retention = 7 * 24 * time.Hour
	}

	logger := j.logger()
	tracker := j.metrics().Track(TaskIdempotencyCleanup)
	if err := j.Store.Cleanup(ctx, payload.Retention); err != nil {
		logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("idempotency cleanup completed", slog.Duration("retention", payload.Retention))
	return tracker.End(nil)
}

func (j *IdempotencyCleanupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *IdempotencyCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskIdempotencyCleanup))
	}
	return slog.Default().With(slog.String("job", TaskIdempotencyCleanup))
}
