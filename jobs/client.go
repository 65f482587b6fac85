package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// uniqueWindow blocks duplicate requests for the same period and member
// while the first one is still queued or running.
const uniqueWindow = time.Hour

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueuePeriodProcess queues a period close run. An identical pending
// request is rejected with asynq.ErrDuplicateTask.
func (c *Client) EnqueuePeriodProcess(ctx context.Context, payload PeriodProcessPayload) (*asynq.TaskInfo, error) {
	task, err := NewPeriodProcessTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueCritical), asynq.Unique(uniqueWindow))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
