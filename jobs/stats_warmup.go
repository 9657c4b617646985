package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/comptoir-erp/comptoir-erp/internal/jobs"
	"github.com/comptoir-erp/comptoir-erp/internal/stats"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StatsWarmupJob keeps the stock stats cache hot so dashboard reads
// never pay for the aggregate query.
type StatsWarmupJob struct {
	Stats   *stats.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStatsWarmupJob wires dependencies for the warmup handler.
func NewStatsWarmupJob(statsSvc *stats.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatsWarmupJob {
	return &StatsWarmupJob{Stats: statsSvc, Logger: logger, Metrics: metrics}
}

// Handle processes TaskStatsWarmup tasks.
func (j *StatsWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Stats == nil {
		return errors.New("stats warmup: handler not configured")
	}
	logger := j.logger()

	tracker := j.metrics().Track(TaskStatsWarmup)
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	snapshot, err := j.Stats.Refresh(jobCtx)
	if err != nil {
		logger.Error("stats warmup failed", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("stats warmup completed",
		slog.Int64("total_items", snapshot.TotalItems),
		slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}

func (j *StatsWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StatsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStatsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskStatsWarmup))
}
