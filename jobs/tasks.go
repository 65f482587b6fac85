package jobs

import (
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries period close runs.
	QueueCritical = "critical"
	// TaskPeriodProcess runs the period close allocation.
	TaskPeriodProcess = "coop:period:process"
	// TaskIntegrityScan sweeps for members left with partial period data.
	TaskIntegrityScan = "coop:integrity:scan"
)

// PeriodProcessPayload selects the period and optionally one member.
type PeriodProcessPayload struct {
	PeriodID int64  `json:"period_id"`
	MemberID *int64 `json:"member_id,omitempty"`
}

// IntegrityScanPayload bounds the integrity sweep.
type IntegrityScanPayload struct {
	Limit int `json:"limit"`
}

// NewPeriodProcessTask constructs a period close task.
func NewPeriodProcessTask(payload PeriodProcessPayload) (*asynq.Task, error) {
	if payload.PeriodID <= 0 {
		return nil, errors.New("jobs: period id required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPeriodProcess, data, asynq.MaxRetry(3)), nil
}

// DecodePeriodProcessPayload parses a task payload.
func DecodePeriodProcessPayload(t *asynq.Task) (PeriodProcessPayload, error) {
	var payload PeriodProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return PeriodProcessPayload{}, err
	}
	if payload.PeriodID <= 0 {
		return PeriodProcessPayload{}, errors.New("jobs: period id required")
	}
	return payload, nil
}

// NewIntegrityScanTask constructs an integrity sweep task.
func NewIntegrityScanTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(IntegrityScanPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegrityScan, data), nil
}
