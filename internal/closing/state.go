package closing

import (
	"context"

	"github.com/coopledger/coopledger/internal/allocation"
	"github.com/coopledger/coopledger/internal/ledger"
)

const memberStatesTable = "member_period_states"

// step pairs an allocator with the state reached once it has run.
type step struct {
	allocator allocation.Allocator
	state     MemberState
}

var stateAfter = map[string]MemberState{
	allocation.EntryFee{}.Name():   StateEntryFeeChecked,
	allocation.Levy{}.Name():       StateLevyProcessed,
	allocation.Stationery{}.Name(): StateStationeryChecked,
	allocation.Commodity{}.Name():  StateCommodityProcessed,
	allocation.Loan{}.Name():       StateLoanProcessed,
	allocation.Savings{}.Name():    StateSavingsProcessed,
}

func defaultSteps() []step {
	pipeline := allocation.Pipeline()
	steps := make([]step, 0, len(pipeline))
	for _, a := range pipeline {
		steps = append(steps, step{allocator: a, state: stateAfter[a.Name()]})
	}
	return steps
}

// checkMember decides whether a member is skipped, processed, or whether the
// run must abort. A completion marker means skip. Any side-table row or
// persisted state without the marker means a prior run left partial data.
func checkMember(ctx context.Context, tx ledger.Tx, memberID, periodID int64) (bool, error) {
	done, err := tx.HasCompletedMarker(ctx, memberID, periodID)
	if err != nil {
		return false, err
	}
	if done {
		return true, nil
	}
	tables, err := tx.TablesWithRows(ctx, memberID, periodID)
	if err != nil {
		return false, err
	}
	if _, ok, err := tx.LoadMemberState(ctx, memberID, periodID); err != nil {
		return false, err
	} else if ok {
		tables = append(tables, memberStatesTable)
	}
	if len(tables) > 0 {
		return false, &IncompleteError{MemberID: memberID, PeriodID: periodID, Tables: tables}
	}
	return false, nil
}

func saveState(ctx context.Context, tx ledger.Tx, memberID, periodID int64, state MemberState) error {
	return tx.SaveMemberState(ctx, memberID, periodID, string(state))
}
