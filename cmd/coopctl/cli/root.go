// Package cli implements the coopctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/coopledger/coopledger/internal/closing"
	"github.com/coopledger/coopledger/jobs"
)

// Processor runs a period close synchronously.
type Processor interface {
	ProcessPeriod(ctx context.Context, req closing.ProcessRequest) (closing.RunResult, error)
}

// Queue enqueues and inspects background runs.
type Queue interface {
	EnqueuePeriodProcess(ctx context.Context, payload jobs.PeriodProcessPayload) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context, queue string) (QueueStats, error)
	Close() error
}

// Deps opens the backends lazily so that each command only connects to what
// it needs.
type Deps struct {
	Processor func(ctx context.Context) (Processor, func(), error)
	Queue     func() (Queue, error)
}

var errPeriodRequired = errors.New("--period is required")

// NewRootCommand builds the coopctl command tree.
func NewRootCommand(deps Deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "coopctl",
		Short:         "Operate cooperative period close runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newProcessCmd(deps), newEnqueueCmd(deps), newQueueCmd(deps))
	return root
}

type target struct {
	period int64
	member int64
}

func (t *target) bind(cmd *cobra.Command) {
	cmd.Flags().Int64VarP(&t.period, "period", "p", 0, "Period id to close")
	cmd.Flags().Int64VarP(&t.member, "member", "m", 0, "Restrict the run to one member")
}

func (t target) memberID() *int64 {
	if t.member == 0 {
		return nil
	}
	id := t.member
	return &id
}

func newProcessCmd(deps Deps) *cobra.Command {
	var t target
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run a period close synchronously",
		Long: `Allocate every active member's contribution for a period in one
transaction and print the per-member results. Nothing is written if any member fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if t.period <= 0 {
				return errPeriodRequired
			}
			proc, closeFn, err := deps.Processor(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			result, err := proc.ProcessPeriod(cmd.Context(), closing.ProcessRequest{PeriodID: t.period, MemberID: t.memberID()})
			if err != nil {
				return fmt.Errorf("process period %d: %w", t.period, err)
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	t.bind(cmd)
	return cmd
}

func newEnqueueCmd(deps Deps) *cobra.Command {
	var t target
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a period close for the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if t.period <= 0 {
				return errPeriodRequired
			}
			q, err := deps.Queue()
			if err != nil {
				return err
			}
			defer q.Close()
			info, err := q.EnqueuePeriodProcess(cmd.Context(), jobs.PeriodProcessPayload{PeriodID: t.period, MemberID: t.memberID()})
			if err != nil {
				return fmt.Errorf("enqueue period %d: %w", t.period, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s on %s\n", info.ID, info.Queue)
			return err
		},
	}
	t.bind(cmd)
	return cmd
}

func newQueueCmd(deps Deps) *cobra.Command {
	queue := &cobra.Command{
		Use:   "queue",
		Short: "Inspect background queues",
	}
	var name string
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print task counts for a queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := deps.Queue()
			if err != nil {
				return err
			}
			defer q.Close()
			s, err := q.InspectQueue(cmd.Context(), name)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), s)
		},
	}
	stats.Flags().StringVarP(&name, "queue", "q", jobs.QueueCritical, "Queue name")
	queue.AddCommand(stats)
	return queue
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
