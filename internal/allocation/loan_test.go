package allocation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coopledger/coopledger/internal/ledger"
	"github.com/coopledger/coopledger/internal/ledger/ledgertest"
	"github.com/coopledger/coopledger/internal/settings"
)

func rate(v string) *decimal.Decimal {
	r := d(v)
	return &r
}

func TestLoanScenarioB(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1}, "5000")
	loanID := store.AddLoan(ledger.Loan{MemberID: 1, PeriodID: 1, Amount: d("50000"), Status: ledger.LoanStatusActive, GrantDate: today.AddDate(0, -2, 0)})
	cfg := testSettings(t, settings.Raw{InterestRate: rate("0.02")})
	run := runStep(t, store, 1, cfg, Loan{})

	state := store.Snapshot()
	require.Len(t, state.InterestCharged, 1)
	requireDec(t, "1000", state.InterestCharged[0].Amount)
	require.Len(t, state.InterestPaid, 1)
	requireDec(t, "1000", state.InterestPaid[0].Amount)
	require.Len(t, state.LoanRepayments, 1)
	require.Equal(t, loanID, state.LoanRepayments[0].LoanID)
	requireDec(t, "4000", state.LoanRepayments[0].Amount)
	requireDec(t, "46000", run.Balance.LoanBalance)
	require.True(t, run.Contribution.IsZero())
	requireDec(t, "4000", txAmounts(state, ledger.TxLoanRepayment)[0])
}

func TestLoanPrincipalRoundsDownToTen(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1, StopLoanInterest: true}, "1234.56")
	store.AddLoan(ledger.Loan{MemberID: 1, PeriodID: 1, Amount: d("50000"), Status: ledger.LoanStatusActive, GrantDate: today})
	run := runStep(t, store, 1, testSettings(t, settings.Raw{}), Loan{})

	state := store.Snapshot()
	requireDec(t, "1230", state.LoanRepayments[0].Amount)
	requireDec(t, "4.56", run.Contribution)
	// suppressed interest still leaves a zero row
	require.Len(t, state.InterestCharged, 1)
	require.True(t, state.InterestCharged[0].Amount.IsZero())
	require.Empty(t, state.InterestPaid)
}

func TestLoanPrincipalCappedAtBalanceAndCompletes(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1, StopLoanInterest: true}, "10000")
	loanID := store.AddLoan(ledger.Loan{MemberID: 1, PeriodID: 1, Amount: d("5000"), Status: ledger.LoanStatusActive, GrantDate: today})
	store.AddLoanRepayment(ledger.LoanRepayment{LoanID: loanID, MemberID: 1, PeriodID: 2, Amount: d("3000"), PrincipalAmount: d("3000"), Status: ledger.RepaymentStatusPaid})
	run := runStep(t, store, 1, testSettings(t, settings.Raw{}), Loan{}, Savings{})

	state := store.Snapshot()
	require.Len(t, state.LoanRepayments, 2)
	requireDec(t, "2000", state.LoanRepayments[1].Amount)
	require.Equal(t, ledger.LoanStatusCompleted, state.Loans[0].Status)
	require.True(t, run.Balance.LoanBalance.IsZero())

	// the remainder flows to savings once nothing is owed
	require.Len(t, state.MemberBalances, 1)
	requireDec(t, "8000", state.MemberBalances[0].Savings.Add(state.MemberBalances[0].Shares))

	kinds := map[EventKind]bool{}
	for _, ev := range run.Events {
		kinds[ev.Kind] = true
	}
	require.True(t, kinds[EventLoanCompleted])
	require.True(t, kinds[EventLoanRepaid])
	require.True(t, kinds[EventSavingsAllocated])
}

func TestLoanResidualBelowTenIsPaidOff(t *testing.T) {
	for _, balance := range []string{"1005", "5"} {
		t.Run(balance, func(t *testing.T) {
			store := ledgertest.New()
			seed(store, ledger.Member{ID: 1, StopLoanInterest: true}, "5000")
			store.AddLoan(ledger.Loan{MemberID: 1, PeriodID: 1, Amount: d(balance), Status: ledger.LoanStatusActive, GrantDate: today})
			run := runStep(t, store, 1, testSettings(t, settings.Raw{}), Loan{}, Savings{})

			state := store.Snapshot()
			require.Len(t, state.LoanRepayments, 1)
			requireDec(t, balance, state.LoanRepayments[0].Amount)
			require.Equal(t, ledger.LoanStatusCompleted, state.Loans[0].Status)
			require.True(t, run.Balance.LoanBalance.IsZero())
			require.Len(t, state.MemberBalances, 1)
			requireDec(t, d("5000").Sub(d(balance)).String(), state.MemberBalances[0].Savings.Add(state.MemberBalances[0].Shares))
		})
	}
}

func TestLoanInterestPaidBeforePrincipal(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1}, "500")
	store.AddLoan(ledger.Loan{MemberID: 1, PeriodID: 1, Amount: d("40000"), Status: ledger.LoanStatusActive, GrantDate: today})
	store.AddInterestCharged(ledger.InterestEntry{MemberID: 1, PeriodID: 2, Amount: d("200")})
	run := runStep(t, store, 1, testSettings(t, settings.Raw{InterestRate: rate("0.01")}), Loan{})

	state := store.Snapshot()
	// 200 carried over plus 400 charged now, capped at the contribution
	requireDec(t, "500", state.InterestPaid[0].Amount)
	require.Empty(t, state.LoanRepayments)
	require.True(t, run.Contribution.IsZero())
}

func TestLoanNegativeInterestAborts(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1, StopLoanInterest: true}, "500")
	store.AddLoan(ledger.Loan{MemberID: 1, PeriodID: 1, Amount: d("40000"), Status: ledger.LoanStatusActive, GrantDate: today})
	store.AddInterestPaid(ledger.InterestEntry{MemberID: 1, PeriodID: 2, Amount: d("10")})

	err := store.WithTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		member, _ := tx.GetMember(ctx, 1)
		period, _ := tx.LoadPeriodForUpdate(ctx, 3)
		balance, err := ledger.CalculateBalance(ctx, tx, 1, 3)
		if err != nil {
			return err
		}
		return Loan{}.Allocate(ctx, tx, NewMemberRun(member, period, testSettings(t, settings.Raw{}), today, balance))
	})
	require.ErrorIs(t, err, ledger.ErrNegativeInterest)
	var integrity *ledger.IntegrityError
	require.ErrorAs(t, err, &integrity)
	require.Equal(t, int64(1), integrity.MemberID)
	require.Empty(t, store.Snapshot().InterestCharged)
}

func TestLoanActivationByGrantDay(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1, StopLoanInterest: true}, "0")
	early := store.AddLoan(ledger.Loan{MemberID: 1, PeriodID: 3, Amount: d("1000"), Status: ledger.LoanStatusApproved, GrantDate: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)})
	late := store.AddLoan(ledger.Loan{MemberID: 1, PeriodID: 3, Amount: d("1000"), Status: ledger.LoanStatusPending, GrantDate: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)})
	run := runStep(t, store, 1, testSettings(t, settings.Raw{}), Loan{})

	statuses := map[int64]ledger.LoanStatus{}
	for _, l := range store.Snapshot().Loans {
		statuses[l.ID] = l.Status
	}
	require.Equal(t, ledger.LoanStatusActive, statuses[early])
	require.Equal(t, ledger.LoanStatusPending, statuses[late])
	// the newly active loan is charged in the same period
	requireDec(t, "1000", run.Balance.LoanBalance)
	require.Len(t, store.Snapshot().InterestCharged, 1)
}

func TestLoanZeroContributionRecordsOverdue(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1}, "0")
	due := today.AddDate(0, 0, -1)
	store.AddLoan(ledger.Loan{MemberID: 1, PeriodID: 1, Amount: d("10000"), Status: ledger.LoanStatusActive, GrantDate: today.AddDate(-1, 0, 0), DueDate: &due})
	run := runStep(t, store, 1, testSettings(t, settings.Raw{}), Loan{})

	state := store.Snapshot()
	require.Len(t, state.LoanRepayments, 1)
	require.Equal(t, ledger.RepaymentStatusOverdue, state.LoanRepayments[0].Status)
	require.True(t, state.LoanRepayments[0].Amount.IsZero())
	require.Len(t, txAmounts(state, ledger.TxNotificationLoan), 1)

	last := run.Events[len(run.Events)-1]
	require.Equal(t, EventRepaymentMissed, last.Kind)
	requireDec(t, "150", last.Interest)
	requireDec(t, "10000", last.Outstanding)
}

func TestLoanZeroContributionNotOverdue(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1}, "0")
	due := today.AddDate(0, 1, 0)
	store.AddLoan(ledger.Loan{MemberID: 1, PeriodID: 1, Amount: d("10000"), Status: ledger.LoanStatusActive, GrantDate: today, DueDate: &due})
	runStep(t, store, 1, testSettings(t, settings.Raw{}), Loan{})
	require.Empty(t, store.Snapshot().LoanRepayments)
}

func TestLoanSavingsWithLoanReserve(t *testing.T) {
	store := ledgertest.New()
	member := ledger.Member{ID: 1, StopLoanInterest: true, AllowSavingsWithLoan: true, SavingsWithLoanAmount: d("500")}
	seed(store, member, "3005")
	store.AddLoan(ledger.Loan{MemberID: 1, PeriodID: 1, Amount: d("50000"), Status: ledger.LoanStatusActive, GrantDate: today})
	run := runStep(t, store, 1, testSettings(t, settings.Raw{}), Loan{})

	state := store.Snapshot()
	requireDec(t, "2500", state.LoanRepayments[0].Amount)
	require.Len(t, state.MemberBalances, 1)
	requireDec(t, "505", state.MemberBalances[0].Savings)
	require.True(t, state.MemberBalances[0].Shares.IsZero())
	require.True(t, run.Contribution.IsZero())
}

func TestLoanRepaymentAggregatesExistingTransaction(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1, StopLoanInterest: true}, "1000")
	store.AddLoan(ledger.Loan{MemberID: 1, PeriodID: 1, Amount: d("50000"), Status: ledger.LoanStatusActive, GrantDate: today})
	store.AddTransaction(ledger.Transaction{MemberID: 1, PeriodID: 3, Type: ledger.TxLoanRepayment, Amount: d("300"), Completed: true})
	runStep(t, store, 1, testSettings(t, settings.Raw{}), Loan{})

	amounts := txAmounts(store.Snapshot(), ledger.TxLoanRepayment)
	require.Len(t, amounts, 1)
	requireDec(t, "1300", amounts[0])
}

func TestSplitPrincipalProportionalAndCapped(t *testing.T) {
	positions := []ledger.LoanPosition{
		{Loan: ledger.Loan{ID: 2, Amount: d("10000")}, Repaid: d("7000")},
		{Loan: ledger.Loan{ID: 1, Amount: d("9000")}},
		{Loan: ledger.Loan{ID: 3, Amount: d("500")}, Repaid: d("500")},
	}
	shares := SplitPrincipal(positions, d("6000"))
	require.Len(t, shares, 2)
	require.Equal(t, int64(1), shares[0].Position.ID)
	requireDec(t, "4500", shares[0].Amount)
	requireDec(t, "1500", shares[1].Amount)
}

func TestSplitPrincipalLaws(t *testing.T) {
	positions := []ledger.LoanPosition{
		{Loan: ledger.Loan{ID: 1, Amount: d("333.33")}},
		{Loan: ledger.Loan{ID: 2, Amount: d("1000")}, Repaid: d("1")},
		{Loan: ledger.Loan{ID: 3, Amount: d("77.77")}},
	}
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.Remaining())
	}
	for _, contribution := range []string{"10", "99.99", "1234", "1410.1", "5000"} {
		principal := decimal.Min(floor10(d(contribution)), total)
		require.True(t, principal.LessThanOrEqual(d(contribution)))
		require.True(t, principal.LessThanOrEqual(total))

		paid := decimal.Zero
		for _, share := range SplitPrincipal(positions, principal) {
			require.True(t, share.Amount.LessThanOrEqual(share.Position.Remaining()))
			paid = paid.Add(share.Amount)
		}
		require.True(t, paid.LessThanOrEqual(principal), "contribution %s", contribution)
	}
}
