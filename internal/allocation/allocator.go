// Package allocation distributes a member's period contribution across fees,
// levies, commodity installments, loan interest and principal, and finally
// savings and shares.
package allocation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coopledger/coopledger/internal/ledger"
	"github.com/coopledger/coopledger/internal/settings"
)

// Allocator is one step of the per-member allocation pipeline.
type Allocator interface {
	Name() string
	Allocate(ctx context.Context, tx ledger.Tx, run *MemberRun) error
}

// MemberRun carries one member's working state through the allocators.
type MemberRun struct {
	Member   ledger.Member
	Period   ledger.Period
	Settings settings.Settings
	Today    time.Time

	// Contribution is what is left of the period contribution.
	Contribution decimal.Decimal
	Balance      ledger.Balance

	// Allocated sums every mastertransact amount written for the member.
	Allocated map[ledger.TransactionType]decimal.Decimal
	Events    []Event
}

// NewMemberRun seeds a run from the member's opening balance.
func NewMemberRun(member ledger.Member, period ledger.Period, cfg settings.Settings, today time.Time, balance ledger.Balance) *MemberRun {
	return &MemberRun{
		Member:       member,
		Period:       period,
		Settings:     cfg,
		Today:        today,
		Contribution: balance.Contribution,
		Balance:      balance,
		Allocated:    make(map[ledger.TransactionType]decimal.Decimal),
	}
}

func (r *MemberRun) deduct(amount decimal.Decimal) {
	r.Contribution = r.Contribution.Sub(amount)
	if r.Contribution.IsNegative() {
		r.Contribution = decimal.Zero
	}
}

func (r *MemberRun) emit(kind EventKind, amount decimal.Decimal, fn func(*Event)) {
	ev := Event{
		Kind:     kind,
		MemberID: r.Member.ID,
		UserID:   r.Member.UserID,
		PeriodID: r.Period.ID,
		Amount:   amount,
	}
	if fn != nil {
		fn(&ev)
	}
	r.Events = append(r.Events, ev)
}

// record writes a completed mastertransact row for the member.
func (r *MemberRun) record(ctx context.Context, tx ledger.Tx, txType ledger.TransactionType, amount decimal.Decimal) (int64, error) {
	id, err := tx.InsertTransaction(ctx, ledger.Transaction{
		MemberID:  r.Member.ID,
		PeriodID:  r.Period.ID,
		Type:      txType,
		Amount:    amount,
		Completed: true,
		CreatedAt: r.Today,
	})
	if err != nil {
		return 0, err
	}
	r.Allocated[txType] = r.Allocated[txType].Add(amount)
	return id, nil
}

// Pipeline returns the allocators in the order they must run.
func Pipeline() []Allocator {
	return []Allocator{
		EntryFee{},
		Levy{},
		Stationery{},
		Commodity{},
		Loan{},
		Savings{},
	}
}

var ten = decimal.NewFromInt(10)

// round2 rounds to currency precision.
func round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// floor10 rounds down to a multiple of ten currency units.
func floor10(v decimal.Decimal) decimal.Decimal {
	if !v.IsPositive() {
		return decimal.Zero
	}
	return v.Div(ten).Floor().Mul(ten)
}
