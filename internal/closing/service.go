package closing

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coopledger/coopledger/internal/allocation"
	jobmetrics "github.com/coopledger/coopledger/internal/jobs"
	"github.com/coopledger/coopledger/internal/ledger"
	"github.com/coopledger/coopledger/internal/settings"
	"github.com/coopledger/coopledger/internal/shared"
)

// SettingsResolver provides the configuration for one run.
type SettingsResolver interface {
	Resolve(ctx context.Context) (settings.Settings, error)
}

// Locker serialises runs for the same period.
type Locker interface {
	Acquire(ctx context.Context, periodID int64) (func(context.Context) error, error)
}

// EventSink receives domain events once a run has committed.
type EventSink interface {
	Publish(ctx context.Context, events []allocation.Event)
}

// Auditor records committed runs.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates period close runs.
type Service struct {
	store    ledger.Store
	settings SettingsResolver
	locker   Locker
	sink     EventSink
	auditor  Auditor
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
	steps    []step
	now      func() time.Time
}

// NewService constructs a Service instance.
func NewService(store ledger.Store, resolver SettingsResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		settings: resolver,
		logger:   logger,
		steps:    defaultSteps(),
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithLocker installs a cross-process period lock.
func (s *Service) WithLocker(locker Locker) {
	s.locker = locker
}

// WithSink installs the post-commit event consumer.
func (s *Service) WithSink(sink EventSink) {
	s.sink = sink
}

// WithAuditor installs the run audit trail.
func (s *Service) WithAuditor(auditor Auditor) {
	s.auditor = auditor
}

// WithMetrics installs run instrumentation.
func (s *Service) WithMetrics(metrics *jobmetrics.Metrics) {
	s.metrics = metrics
}

// ProcessPeriod allocates the period contribution of every active member, or
// of the requested member only. Either every member is committed and the
// period marked processed, or nothing is.
func (s *Service) ProcessPeriod(ctx context.Context, req ProcessRequest) (RunResult, error) {
	if s.store == nil {
		return RunResult{}, ledger.ErrStoreNotInitialised
	}
	if err := req.Validate(); err != nil {
		return RunResult{}, err
	}
	runID := uuid.NewString()
	logger := s.logger.With(slog.Int64("period_id", req.PeriodID), slog.String("run_id", runID))

	cfg, err := s.settings.Resolve(ctx)
	if err != nil {
		logger.Error("resolve settings", slog.Any("error", err))
		return RunResult{}, err
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, req.PeriodID)
		if err != nil {
			return RunResult{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release period lock", slog.Any("error", err))
			}
		}()
	}

	tracker := s.metrics.Track("period_close")
	result := RunResult{RunID: runID, PeriodID: req.PeriodID}
	var allocated map[ledger.TransactionType]decimal.Decimal
	logger.Info("period run started")

	err = s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		result.Results, result.Skipped, result.Events, allocated = nil, nil, nil, map[ledger.TransactionType]decimal.Decimal{}
		period, err := tx.LoadPeriodForUpdate(ctx, req.PeriodID)
		if err != nil {
			return err
		}
		if period.Status == ledger.PeriodStatusProcessed {
			logger.Warn("period already processed, running again")
		}
		members, err := s.members(ctx, tx, req.MemberID)
		if err != nil {
			return err
		}
		today := s.now().UTC()
		for _, member := range members {
			run, skipped, err := s.processMember(ctx, tx, cfg, period, member, today)
			if err != nil {
				return err
			}
			if skipped {
				logger.Info("member already processed", slog.Int64("member_id", member.ID))
				result.Skipped = append(result.Skipped, member.ID)
				continue
			}
			result.Results = append(result.Results, MemberResult{
				MemberID:               member.ID,
				RemainingContribution:  run.Contribution,
				OutstandingLoanBalance: run.Balance.LoanBalance,
			})
			result.Events = append(result.Events, run.Events...)
			for txType, amount := range run.Allocated {
				allocated[txType] = allocated[txType].Add(amount)
			}
		}
		return tx.MarkPeriodProcessed(ctx, period.ID)
	})
	if shared.IsUniqueViolation(err) {
		err = ErrConcurrentRun
	}
	if err = tracker.End(err); err != nil {
		logger.Error("period run rolled back", slog.Any("error", err))
		return RunResult{}, err
	}

	s.observe(result, allocated)
	logger.Info("period run committed",
		slog.Int("processed", len(result.Results)),
		slog.Int("skipped", len(result.Skipped)),
	)
	s.audit(ctx, logger, req, result)
	if s.sink != nil && len(result.Events) > 0 {
		s.sink.Publish(ctx, result.Events)
	}
	return result, nil
}

func (s *Service) audit(ctx context.Context, logger *slog.Logger, req ProcessRequest, result RunResult) {
	if s.auditor == nil {
		return
	}
	meta := map[string]any{
		"run_id":    result.RunID,
		"processed": len(result.Results),
		"skipped":   result.Skipped,
	}
	if req.MemberID != nil {
		meta["member_id"] = *req.MemberID
	}
	err := s.auditor.Record(ctx, shared.AuditLog{
		Action:   "period.process",
		Entity:   "period",
		EntityID: strconv.FormatInt(req.PeriodID, 10),
		Meta:     meta,
		At:       s.now().UTC(),
	})
	if err != nil {
		logger.Warn("record run audit", slog.Any("error", err))
	}
}

func (s *Service) members(ctx context.Context, tx ledger.Tx, memberID *int64) ([]ledger.Member, error) {
	if memberID == nil {
		return tx.ListActiveMembers(ctx)
	}
	member, err := tx.GetMember(ctx, *memberID)
	if err != nil {
		return nil, err
	}
	return []ledger.Member{member}, nil
}

func (s *Service) processMember(ctx context.Context, tx ledger.Tx, cfg settings.Settings, period ledger.Period, member ledger.Member, today time.Time) (*allocation.MemberRun, bool, error) {
	skip, err := checkMember(ctx, tx, member.ID, period.ID)
	if err != nil || skip {
		return nil, skip, err
	}
	if err := saveState(ctx, tx, member.ID, period.ID, StateNotStarted); err != nil {
		return nil, false, err
	}
	balance, err := ledger.CalculateBalance(ctx, tx, member.ID, period.ID)
	if err != nil {
		return nil, false, err
	}
	run := allocation.NewMemberRun(member, period, cfg, today, balance)
	for _, st := range s.steps {
		if err := st.allocator.Allocate(ctx, tx, run); err != nil {
			return nil, false, err
		}
		if err := saveState(ctx, tx, member.ID, period.ID, st.state); err != nil {
			return nil, false, err
		}
	}

	if _, err := tx.ActivatePendingLoans(ctx, member.ID, today); err != nil {
		return nil, false, err
	}
	final, err := ledger.CalculateBalance(ctx, tx, member.ID, period.ID)
	if err != nil {
		return nil, false, err
	}
	run.Balance = final
	run.Events = append(run.Events, allocation.Event{
		Kind:        allocation.EventMemberProcessed,
		MemberID:    member.ID,
		UserID:      member.UserID,
		PeriodID:    period.ID,
		Amount:      run.Contribution,
		Outstanding: final.LoanBalance,
	})
	if _, err := tx.InsertTransaction(ctx, ledger.Transaction{
		MemberID:  member.ID,
		PeriodID:  period.ID,
		Type:      ledger.TxPeriodProcessed,
		Amount:    decimal.Zero,
		Completed: true,
		CreatedAt: today,
	}); err != nil {
		return nil, false, err
	}
	if err := saveState(ctx, tx, member.ID, period.ID, StateCompleted); err != nil {
		return nil, false, err
	}
	return run, false, nil
}

func (s *Service) observe(result RunResult, allocated map[ledger.TransactionType]decimal.Decimal) {
	if s.metrics == nil {
		return
	}
	for range result.Results {
		s.metrics.ObserveMember("processed")
	}
	for range result.Skipped {
		s.metrics.ObserveMember("skipped")
	}
	for txType, amount := range allocated {
		s.metrics.AddAllocated(string(txType), amount.InexactFloat64())
	}
}

// Retryable reports whether a failed run may succeed if attempted again
// without operator intervention.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrIncompleteTransaction),
		errors.Is(err, settings.ErrMissingContributionSettings),
		errors.Is(err, settings.ErrInvalidRatio),
		errors.Is(err, ledger.ErrNegativeBalance),
		errors.Is(err, ledger.ErrNegativeInterest),
		errors.Is(err, ledger.ErrPeriodNotFound),
		errors.Is(err, ledger.ErrMemberNotFound):
		return false
	}
	return true
}
