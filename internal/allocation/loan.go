package allocation

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/coopledger/coopledger/internal/ledger"
)

// Loan charges interest and applies the contribution to interest first,
// then principal.
type Loan struct{}

// Name implements Allocator.
func (Loan) Name() string { return "loan" }

// Allocate runs activation, interest and repayment for the member's loans.
func (Loan) Allocate(ctx context.Context, tx ledger.Tx, run *MemberRun) error {
	if err := activateByGrantDay(ctx, tx, run); err != nil {
		return err
	}
	balance, err := ledger.CalculateBalance(ctx, tx, run.Member.ID, run.Period.ID)
	if err != nil {
		return err
	}
	run.Balance.Loan = balance.Loan
	run.Balance.LoanRepaid = balance.LoanRepaid
	run.Balance.LoanBalance = balance.LoanBalance
	if !run.Balance.LoanBalance.IsPositive() {
		return nil
	}
	if err := chargeInterest(ctx, tx, run); err != nil {
		return err
	}
	if run.Contribution.IsPositive() {
		return repay(ctx, tx, run)
	}
	return recordMissed(ctx, tx, run)
}

// activateByGrantDay activates pending and approved loans granted on or
// before the activation day of the month.
func activateByGrantDay(ctx context.Context, tx ledger.Tx, run *MemberRun) error {
	candidates, err := tx.ListLoanPositions(ctx, run.Member.ID, ledger.LoanStatusPending, ledger.LoanStatusApproved)
	if err != nil {
		return err
	}
	for _, l := range candidates {
		if l.GrantDate.Day() > run.Settings.LoanActivationDay {
			continue
		}
		start := run.Today
		if err := tx.UpdateLoanStatus(ctx, l.ID, ledger.LoanStatusActive, &start); err != nil {
			return err
		}
	}
	return nil
}

func chargeInterest(ctx context.Context, tx ledger.Tx, run *MemberRun) error {
	charge := decimal.Zero
	if !run.Member.StopLoanInterest {
		charge = round2(run.Balance.LoanBalance.Mul(run.Settings.InterestRate))
	}
	if err := tx.InsertInterestCharged(ctx, ledger.InterestEntry{
		MemberID: run.Member.ID,
		PeriodID: run.Period.ID,
		Amount:   charge,
	}); err != nil {
		return err
	}
	if _, err := run.record(ctx, tx, ledger.TxInterestCharged, charge); err != nil {
		return err
	}
	if charge.IsPositive() {
		run.emit(EventInterestCharged, charge, func(e *Event) { e.Outstanding = run.Balance.LoanBalance })
	}
	return nil
}

func repay(ctx context.Context, tx ledger.Tx, run *MemberRun) error {
	outstanding, err := ledger.OutstandingInterest(ctx, tx, run.Member.ID, run.Period.ID)
	if err != nil {
		return err
	}
	interest := decimal.Min(outstanding, run.Contribution)
	if interest.IsPositive() {
		if err := tx.InsertInterestPaid(ctx, ledger.InterestEntry{
			MemberID: run.Member.ID,
			PeriodID: run.Period.ID,
			Amount:   interest,
		}); err != nil {
			return err
		}
		if _, err := run.record(ctx, tx, ledger.TxInterestPaid, interest); err != nil {
			return err
		}
		run.deduct(interest)
		run.emit(EventInterestPaid, interest, func(e *Event) { e.Interest = outstanding.Sub(interest) })
	}

	reserve := decimal.Zero
	if run.Member.AllowSavingsWithLoan && run.Member.SavingsWithLoanAmount.IsPositive() &&
		run.Contribution.GreaterThan(run.Member.SavingsWithLoanAmount) {
		reserve = run.Member.SavingsWithLoanAmount
		run.deduct(reserve)
	}

	principal := decimal.Min(floor10(run.Contribution), run.Balance.LoanBalance)
	if principal.IsPositive() {
		if err := repayPrincipal(ctx, tx, run, principal); err != nil {
			return err
		}
	}

	if reserve.IsPositive() {
		run.Contribution = run.Contribution.Add(reserve)
		return saveReserve(ctx, tx, run)
	}
	return nil
}

// Share is one loan's part of a principal payment.
type Share struct {
	Position ledger.LoanPosition
	Amount   decimal.Decimal
}

// SplitPrincipal distributes principal across loans in proportion to each
// loan's remaining principal. No loan receives more than it owes and the
// shares never sum to more than principal; the last loan absorbs rounding.
func SplitPrincipal(positions []ledger.LoanPosition, principal decimal.Decimal) []Share {
	open := make([]ledger.LoanPosition, 0, len(positions))
	total := decimal.Zero
	for _, p := range positions {
		if p.Remaining().IsPositive() {
			open = append(open, p)
			total = total.Add(p.Remaining())
		}
	}
	if !total.IsPositive() || !principal.IsPositive() {
		return nil
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })

	shares := make([]Share, 0, len(open))
	allocated := decimal.Zero
	for i, p := range open {
		unallocated := principal.Sub(allocated)
		amount := unallocated
		if i < len(open)-1 {
			amount = principal.Mul(p.Remaining()).Div(total).RoundDown(2)
		}
		amount = decimal.Min(amount, p.Remaining(), unallocated)
		if !amount.IsPositive() {
			continue
		}
		shares = append(shares, Share{Position: p, Amount: amount})
		allocated = allocated.Add(amount)
	}
	return shares
}

func repayPrincipal(ctx context.Context, tx ledger.Tx, run *MemberRun, principal decimal.Decimal) error {
	active, err := tx.ListLoanPositions(ctx, run.Member.ID, ledger.LoanStatusActive)
	if err != nil {
		return err
	}
	paid := decimal.Zero
	for _, share := range SplitPrincipal(active, principal) {
		if err := tx.InsertLoanRepayment(ctx, ledger.LoanRepayment{
			LoanID:          share.Position.ID,
			MemberID:        run.Member.ID,
			PeriodID:        run.Period.ID,
			Amount:          share.Amount,
			PrincipalAmount: share.Amount,
			InterestAmount:  decimal.Zero,
			Status:          ledger.RepaymentStatusPaid,
		}); err != nil {
			return err
		}
		paid = paid.Add(share.Amount)
		if share.Position.Remaining().Sub(share.Amount).IsPositive() {
			continue
		}
		if err := tx.UpdateLoanStatus(ctx, share.Position.ID, ledger.LoanStatusCompleted, nil); err != nil {
			return err
		}
		loanID := share.Position.ID
		run.emit(EventLoanCompleted, share.Position.Amount, func(e *Event) { e.LoanID = loanID })
	}
	if !paid.IsPositive() {
		return nil
	}

	existing, ok, err := tx.FindTransaction(ctx, run.Member.ID, run.Period.ID, ledger.TxLoanRepayment)
	if err != nil {
		return err
	}
	if ok {
		if err := tx.AddToTransaction(ctx, existing.ID, paid); err != nil {
			return err
		}
		run.Allocated[ledger.TxLoanRepayment] = run.Allocated[ledger.TxLoanRepayment].Add(paid)
	} else if _, err := run.record(ctx, tx, ledger.TxLoanRepayment, paid); err != nil {
		return err
	}

	run.deduct(paid)
	run.Balance.LoanRepaid = run.Balance.LoanRepaid.Add(paid)
	run.Balance.LoanBalance = run.Balance.LoanBalance.Sub(paid)
	run.emit(EventLoanRepaid, paid, func(e *Event) { e.Outstanding = run.Balance.LoanBalance })
	return nil
}

// saveReserve moves the savings-with-loan reserve, plus anything the loan
// left, into savings unless the member's balance row already exists.
func saveReserve(ctx context.Context, tx ledger.Tx, run *MemberRun) error {
	exists, err := tx.MemberBalanceExists(ctx, run.Member.ID, run.Period.ID)
	if err != nil || exists {
		return err
	}
	savings := run.Contribution
	if err := tx.InsertMemberBalance(ctx, ledger.MemberBalance{
		MemberID: run.Member.ID,
		PeriodID: run.Period.ID,
		Savings:  savings,
		Shares:   decimal.Zero,
	}); err != nil {
		return err
	}
	if _, err := run.record(ctx, tx, ledger.TxSavings, savings); err != nil {
		return err
	}
	run.deduct(savings)
	run.emit(EventSavingsAllocated, savings, func(e *Event) { e.Savings = savings })
	return nil
}

// recordMissed writes a zero-amount overdue repayment for each overdue loan
// when there was nothing to pay with.
func recordMissed(ctx context.Context, tx ledger.Tx, run *MemberRun) error {
	outstanding, err := ledger.OutstandingInterest(ctx, tx, run.Member.ID, run.Period.ID)
	if err != nil {
		return err
	}
	active, err := tx.ListLoanPositions(ctx, run.Member.ID, ledger.LoanStatusActive)
	if err != nil {
		return err
	}
	missed := 0
	for _, l := range active {
		if !l.Overdue(run.Today) {
			continue
		}
		if err := tx.InsertLoanRepayment(ctx, ledger.LoanRepayment{
			LoanID:          l.ID,
			MemberID:        run.Member.ID,
			PeriodID:        run.Period.ID,
			Amount:          decimal.Zero,
			PrincipalAmount: decimal.Zero,
			InterestAmount:  decimal.Zero,
			Status:          ledger.RepaymentStatusOverdue,
		}); err != nil {
			return err
		}
		missed++
	}
	if missed == 0 {
		return nil
	}
	if _, err := run.record(ctx, tx, ledger.TxNotificationLoan, decimal.Zero); err != nil {
		return err
	}
	run.emit(EventRepaymentMissed, decimal.Zero, func(e *Event) {
		e.Outstanding = run.Balance.LoanBalance
		e.Interest = outstanding
	})
	return nil
}
