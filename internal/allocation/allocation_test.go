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

var today = time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func testSettings(t *testing.T, raw settings.Raw) settings.Settings {
	t.Helper()
	if raw.Ratios == nil {
		raw.Ratios = &settings.Ratios{Shares: d("0.4"), Savings: d("0.6")}
	}
	cfg, err := settings.Resolve(raw, settings.StandardDefaults())
	require.NoError(t, err)
	return cfg
}

func seed(store *ledgertest.Store, member ledger.Member, contribution string) {
	store.AddMember(member)
	store.AddPeriod(ledger.Period{ID: 3, Name: "2024-03"})
	store.SetContribution(member.ID, 3, d(contribution))
}

// runStep executes allocators against the store in one committed transaction.
func runStep(t *testing.T, store *ledgertest.Store, memberID int64, cfg settings.Settings, steps ...Allocator) *MemberRun {
	t.Helper()
	var run *MemberRun
	err := store.WithTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		member, err := tx.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		period, err := tx.LoadPeriodForUpdate(ctx, 3)
		if err != nil {
			return err
		}
		balance, err := ledger.CalculateBalance(ctx, tx, memberID, period.ID)
		if err != nil {
			return err
		}
		run = NewMemberRun(member, period, cfg, today, balance)
		for _, step := range steps {
			if err := step.Allocate(ctx, tx, run); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return run
}

func txAmounts(state ledgertest.State, txType ledger.TransactionType) []decimal.Decimal {
	var out []decimal.Decimal
	for _, tr := range state.Transactions {
		if tr.Type == txType {
			out = append(out, tr.Amount)
		}
	}
	return out
}

func TestEntryFeeGateUsesFallbackThreshold(t *testing.T) {
	tests := []struct {
		name         string
		contribution string
		charged      bool
	}{
		{name: "below fallback gate", contribution: "5000", charged: false},
		{name: "at fallback gate", contribution: "10000", charged: true},
		{name: "above fallback gate", contribution: "15000", charged: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := ledgertest.New()
			seed(store, ledger.Member{ID: 1}, tc.contribution)
			run := runStep(t, store, 1, testSettings(t, settings.Raw{}), EntryFee{})

			state := store.Snapshot()
			require.Equal(t, tc.charged, state.Members[1].EntryFeePaid)
			if tc.charged {
				require.Len(t, state.Fees, 1)
				requireDec(t, "1000", state.Fees[0].Amount)
				requireDec(t, d(tc.contribution).Sub(d("1000")).String(), run.Contribution)
				require.Len(t, run.Events, 1)
			} else {
				require.Empty(t, state.Fees)
				requireDec(t, tc.contribution, run.Contribution)
			}
		})
	}
}

func TestEntryFeeConfiguredFeeIsAlsoGate(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1}, "3000")
	cfg := testSettings(t, settings.Raw{Fees: map[string]decimal.Decimal{"entry": d("2000")}})
	run := runStep(t, store, 1, cfg, EntryFee{})

	requireDec(t, "1000", run.Contribution)
	require.True(t, store.Snapshot().Members[1].EntryFeePaid)
}

func TestEntryFeeSkippedWhenPaid(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1, EntryFeePaid: true}, "20000")
	run := runStep(t, store, 1, testSettings(t, settings.Raw{}), EntryFee{})
	requireDec(t, "20000", run.Contribution)
	require.Empty(t, store.Snapshot().Fees)
}

func TestLevyBranches(t *testing.T) {
	tests := []struct {
		name         string
		priorArrears int
		contribution string
		paid         string
		left         string
		arrearsAfter int
		settled      int
	}{
		{name: "pays current and arrears", priorArrears: 2, contribution: "5000", paid: "3000", left: "2000", arrearsAfter: 0, settled: 2},
		{name: "pays current only", priorArrears: 2, contribution: "1500", paid: "1000", left: "500", arrearsAfter: 2},
		{name: "insufficient", priorArrears: 1, contribution: "400", paid: "0", left: "400", arrearsAfter: 1},
		{name: "zero contribution adds arrears", priorArrears: 1, contribution: "0", paid: "0", left: "0", arrearsAfter: 2},
		{name: "no arrears", priorArrears: 0, contribution: "1000", paid: "1000", left: "0", arrearsAfter: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := ledgertest.New()
			seed(store, ledger.Member{ID: 1}, tc.contribution)
			for i := 0; i < tc.priorArrears; i++ {
				store.AddLevyDebt(ledger.LevyDebt{MemberID: 1, PeriodID: int64(i + 1), Arrears: true, BaseLevy: d("1000")})
			}
			run := runStep(t, store, 1, testSettings(t, settings.Raw{}), Levy{})

			state := store.Snapshot()
			require.Len(t, state.Fees, 1)
			require.Equal(t, ledger.FeeTypeDevelopmentLevy, state.Fees[0].Type)
			requireDec(t, tc.paid, state.Fees[0].Amount)
			requireDec(t, tc.left, run.Contribution)
			require.Len(t, txAmounts(state, ledger.TxDevelopmentLevy), 1)

			arrears := 0
			for _, debt := range state.LevyDebts {
				if debt.Arrears {
					arrears++
				}
			}
			require.Equal(t, tc.arrearsAfter, arrears)
			require.Len(t, state.LevyDebts, tc.priorArrears+1)
			require.Equal(t, EventLevyCharged, run.Events[0].Kind)
			require.Equal(t, tc.arrearsAfter, run.Events[0].ArrearsCount)
			require.Equal(t, tc.settled, run.Events[0].Settled)
		})
	}
}

func TestLevyDebtEncodesArrearsAsZeroOutstanding(t *testing.T) {
	require.True(t, ledger.LevyDebt{Arrears: true, BaseLevy: d("1000")}.OutstandingAmount().IsZero())
	requireDec(t, "1000", ledger.LevyDebt{BaseLevy: d("1000")}.OutstandingAmount())
}

func TestStationeryChargesRateOfPendingLoans(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1}, "5000")
	store.AddLoan(ledger.Loan{MemberID: 1, PeriodID: 3, Amount: d("20000"), Status: ledger.LoanStatusPending, GrantDate: today})
	cfg := testSettings(t, settings.Raw{Fees: map[string]decimal.Decimal{"stationery": d("0.01")}})
	run := runStep(t, store, 1, cfg, Stationery{})

	requireDec(t, "4800", run.Contribution)
	requireDec(t, "200", txAmounts(store.Snapshot(), ledger.TxStationeryFee)[0])
}

func TestStationerySkippedWithoutPendingLoansOrFunds(t *testing.T) {
	cfg := testSettings(t, settings.Raw{Fees: map[string]decimal.Decimal{"stationery": d("0.01")}})

	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1}, "5000")
	run := runStep(t, store, 1, cfg, Stationery{})
	requireDec(t, "5000", run.Contribution)

	store = ledgertest.New()
	seed(store, ledger.Member{ID: 1}, "100")
	store.AddLoan(ledger.Loan{MemberID: 1, PeriodID: 3, Amount: d("20000"), Status: ledger.LoanStatusPending, GrantDate: today})
	run = runStep(t, store, 1, cfg, Stationery{})
	requireDec(t, "100", run.Contribution)
	require.Empty(t, store.Snapshot().Fees)
}

func TestCommodityScenarioC(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1}, "1000")
	store.AddCommodity(ledger.Commodity{MemberID: 1, Name: "fridge", Amount: d("3000"), DeductionCount: 3})
	run := runStep(t, store, 1, testSettings(t, settings.Raw{}), Commodity{}, Savings{})

	state := store.Snapshot()
	require.Len(t, state.CommodityRepayments, 1)
	requireDec(t, "1000", state.CommodityRepayments[0].Amount)
	require.True(t, run.Contribution.IsZero())
	require.Empty(t, state.MemberBalances)
	requireDec(t, "2000", run.Balance.CommodityBalance)
}

func TestCommodityProRataConsumesContribution(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1}, "900")
	store.AddCommodity(ledger.Commodity{MemberID: 1, Name: "tv", Amount: d("3000"), DeductionCount: 3})
	store.AddCommodity(ledger.Commodity{MemberID: 1, Name: "bike", Amount: d("1000"), DeductionCount: 2})
	run := runStep(t, store, 1, testSettings(t, settings.Raw{}), Commodity{})

	state := store.Snapshot()
	require.Len(t, state.CommodityRepayments, 2)
	requireDec(t, "600", state.CommodityRepayments[0].Amount)
	requireDec(t, "300", state.CommodityRepayments[1].Amount)
	require.True(t, run.Contribution.IsZero())
	requireDec(t, "900", txAmounts(state, ledger.TxCommodityRepayment)[0])
}

func TestCommodityInstallmentAccountsForDeductionsMade(t *testing.T) {
	positions := []ledger.CommodityPosition{
		{Commodity: ledger.Commodity{ID: 1, Amount: d("3000"), DeductionCount: 3}, Repaid: d("1500")},
		{Commodity: ledger.Commodity{ID: 2, Amount: d("1000"), DeductionCount: 2}, Repaid: d("1000")},
		{Commodity: ledger.Commodity{ID: 3, Amount: d("500"), DeductionCount: 0}},
	}
	due := DueInstallments(positions)
	require.Len(t, due, 1)
	// one deduction made, 1500 left over two deductions
	requireDec(t, "750", due[0].Amount)
}

func TestCommodityZeroContributionRecordsNotification(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1}, "0")
	store.AddCommodity(ledger.Commodity{MemberID: 1, Amount: d("3000"), DeductionCount: 3})
	run := runStep(t, store, 1, testSettings(t, settings.Raw{}), Commodity{})

	state := store.Snapshot()
	require.Empty(t, state.CommodityRepayments)
	amounts := txAmounts(state, ledger.TxNotificationCommodity)
	require.Len(t, amounts, 1)
	require.True(t, amounts[0].IsZero())
	require.Equal(t, EventCommodityUnpaid, run.Events[0].Kind)
}

func TestSavingsScenarioSplit(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1}, "13000")
	cfg := testSettings(t, settings.Raw{Ratios: &settings.Ratios{Shares: d("40"), Savings: d("60")}})
	run := runStep(t, store, 1, cfg, Savings{})

	state := store.Snapshot()
	require.Len(t, state.MemberBalances, 1)
	requireDec(t, "7800", state.MemberBalances[0].Savings)
	requireDec(t, "5200", state.MemberBalances[0].Shares)
	require.True(t, run.Contribution.IsZero())
	require.Len(t, txAmounts(state, ledger.TxSavings), 1)
	require.Len(t, txAmounts(state, ledger.TxShares), 1)
}

func TestSavingsSkippedWhileOwing(t *testing.T) {
	store := ledgertest.New()
	seed(store, ledger.Member{ID: 1}, "5000")
	store.AddCommodity(ledger.Commodity{MemberID: 1, Amount: d("100"), DeductionCount: 1})
	runStep(t, store, 1, testSettings(t, settings.Raw{}), Savings{})
	require.Empty(t, store.Snapshot().MemberBalances)
}

func TestSplitAlwaysSumsToAmount(t *testing.T) {
	for _, amount := range []string{"1", "333.33", "13000", "9999.99"} {
		savings, shares := Split(d(amount), d("0.3333333333"))
		requireDec(t, amount, savings.Add(shares))
	}
}
