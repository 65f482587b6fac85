// Package closing runs the period-close allocation for every member of a
// cooperative inside one all-or-nothing transaction.
package closing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/coopledger/coopledger/internal/allocation"
)

var (
	// ErrIncompleteTransaction indicates stray rows for a member with no completion marker.
	ErrIncompleteTransaction = errors.New("closing: incomplete transaction data")
	// ErrInvalidRequest indicates the process request failed validation.
	ErrInvalidRequest = errors.New("closing: invalid request")
	// ErrConcurrentRun indicates another run committed the same completion marker first.
	ErrConcurrentRun = errors.New("closing: period processed concurrently")
)

// MemberState tracks how far a member has progressed within a run.
type MemberState string

const (
	StateNotStarted         MemberState = "not_started"
	StateEntryFeeChecked    MemberState = "entry_fee_checked"
	StateLevyProcessed      MemberState = "levy_processed"
	StateStationeryChecked  MemberState = "stationery_checked"
	StateCommodityProcessed MemberState = "commodity_processed"
	StateLoanProcessed      MemberState = "loan_processed"
	StateSavingsProcessed   MemberState = "savings_processed"
	StateCompleted          MemberState = "completed"
)

// ProcessRequest selects the period and optionally a single member.
type ProcessRequest struct {
	PeriodID int64  `json:"period_id" validate:"required,gt=0"`
	MemberID *int64 `json:"member_id,omitempty" validate:"omitempty,gt=0"`
}

var validate = validator.New()

// Validate ensures identifiers are positive.
func (r ProcessRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// MemberResult is the per-member outcome of a run.
type MemberResult struct {
	MemberID               int64           `json:"member_id"`
	RemainingContribution  decimal.Decimal `json:"remaining_contribution"`
	OutstandingLoanBalance decimal.Decimal `json:"outstanding_loan_balance"`
}

// RunResult summarises a committed run.
type RunResult struct {
	RunID    string         `json:"run_id"`
	PeriodID int64          `json:"period_id"`
	Results  []MemberResult `json:"results"`
	Skipped  []int64        `json:"skipped,omitempty"`
	// Events are handed to the notification sink after commit.
	Events []allocation.Event `json:"-"`
}

// IncompleteError names the member and the tables holding stray rows.
type IncompleteError struct {
	MemberID int64
	PeriodID int64
	Tables   []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s: member %d period %d has rows in %s", ErrIncompleteTransaction, e.MemberID, e.PeriodID, strings.Join(e.Tables, ", "))
}

func (e *IncompleteError) Unwrap() error {
	return ErrIncompleteTransaction
}
