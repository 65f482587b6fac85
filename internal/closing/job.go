package closing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/coopledger/coopledger/jobs"
)

// ProcessJob executes queued period close runs.
type ProcessJob struct {
	service *Service
	logger  *slog.Logger
}

// NewProcessJob constructs a job handler.
func NewProcessJob(service *Service, logger *slog.Logger) *ProcessJob {
	return &ProcessJob{service: service, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract. Failures that need operator
// action are not retried.
func (j *ProcessJob) Handle(ctx context.Context, task *asynq.Task) error {
	payload, err := jobs.DecodePeriodProcessPayload(task)
	if err != nil {
		return asynq.SkipRetry
	}
	result, err := j.service.ProcessPeriod(ctx, ProcessRequest{PeriodID: payload.PeriodID, MemberID: payload.MemberID})
	if err != nil {
		if j.logger != nil {
			j.logger.Error("period process", slog.Int64("period_id", payload.PeriodID), slog.Any("error", err))
		}
		if !Retryable(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if j.logger != nil {
		j.logger.Info("period processed",
			slog.Int64("period_id", payload.PeriodID),
			slog.String("run_id", result.RunID),
			slog.Int("members", len(result.Results)),
		)
	}
	return nil
}
