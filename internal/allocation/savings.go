package allocation

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/coopledger/coopledger/internal/ledger"
)

// Savings splits whatever is left into savings and shares once the member
// owes nothing.
type Savings struct{}

// Name implements Allocator.
func (Savings) Name() string { return "savings" }

// Split divides amount by the savings ratio. Shares take the remainder so the
// two always sum to amount.
func Split(amount, savingsRatio decimal.Decimal) (savings, shares decimal.Decimal) {
	savings = round2(amount.Mul(savingsRatio))
	return savings, amount.Sub(savings)
}

// Allocate writes the member_balances row and the two ledger entries.
func (Savings) Allocate(ctx context.Context, tx ledger.Tx, run *MemberRun) error {
	if !run.Contribution.IsPositive() {
		return nil
	}
	balance, err := ledger.CalculateBalance(ctx, tx, run.Member.ID, run.Period.ID)
	if err != nil {
		return err
	}
	if !balance.LoanBalance.IsZero() || !balance.CommodityBalance.IsZero() {
		return nil
	}
	exists, err := tx.MemberBalanceExists(ctx, run.Member.ID, run.Period.ID)
	if err != nil || exists {
		return err
	}
	savings, shares := Split(run.Contribution, run.Settings.SavingsRatio)
	if err := tx.InsertMemberBalance(ctx, ledger.MemberBalance{
		MemberID: run.Member.ID,
		PeriodID: run.Period.ID,
		Savings:  savings,
		Shares:   shares,
	}); err != nil {
		return err
	}
	if _, err := run.record(ctx, tx, ledger.TxSavings, savings); err != nil {
		return err
	}
	if _, err := run.record(ctx, tx, ledger.TxShares, shares); err != nil {
		return err
	}
	total := run.Contribution
	run.deduct(total)
	run.emit(EventSavingsAllocated, total, func(e *Event) {
		e.Savings = savings
		e.Shares = shares
	})
	return nil
}
