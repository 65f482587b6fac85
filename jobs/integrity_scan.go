package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/coopledger/coopledger/internal/jobs"
	"github.com/coopledger/coopledger/internal/ledger"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// IncompleteLister finds member/period pairs left with partial data.
type IncompleteLister interface {
	ListIncomplete(ctx context.Context, limit int) ([]ledger.MemberPeriod, error)
}

// IntegrityScanJob reports members whose next period run would abort on
// stray side-table rows, so operators can clean up ahead of the close.
type IntegrityScanJob struct {
	Lister  IncompleteLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewIntegrityScanJob initialises the integrity scan handler.
func NewIntegrityScanJob(lister IncompleteLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{
		Lister:  lister,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Lister == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = 500
	}

	start := j.now()
	tracker := j.metrics().Track(TaskIntegrityScan)
	logger := j.logger().With(slog.Int("limit", payload.Limit))

	found, err := j.Lister.ListIncomplete(ctx, payload.Limit)
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return tracker.End(err)
	}
	for _, mp := range found {
		logger.Warn("incomplete period data",
			slog.Int64("member_id", mp.MemberID),
			slog.Int64("period_id", mp.PeriodID),
		)
		j.metrics().ObserveMember("incomplete")
	}
	logger.Info("completed integrity scan",
		slog.Int("incomplete", len(found)),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskIntegrityScan))
	}
	return slog.Default().With(slog.String("job", TaskIntegrityScan))
}

func (j *IntegrityScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *IntegrityScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
