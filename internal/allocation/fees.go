package allocation

import (
	"context"

	"github.com/coopledger/coopledger/internal/ledger"
)

// EntryFee deducts the one-off membership entry fee.
type EntryFee struct{}

// Name implements Allocator.
func (EntryFee) Name() string { return "entry_fee" }

// Allocate charges the entry fee once the contribution reaches the gate.
func (EntryFee) Allocate(ctx context.Context, tx ledger.Tx, run *MemberRun) error {
	if run.Member.EntryFeePaid {
		return nil
	}
	if run.Contribution.LessThan(run.Settings.EntryFeeGate) {
		return nil
	}
	fee := run.Settings.EntryFee
	if err := tx.InsertFee(ctx, ledger.FeeEntry{
		MemberID: run.Member.ID,
		PeriodID: run.Period.ID,
		Type:     ledger.FeeTypeEntry,
		Amount:   fee,
	}); err != nil {
		return err
	}
	if _, err := run.record(ctx, tx, ledger.TxEntryFee, fee); err != nil {
		return err
	}
	if err := tx.MarkEntryFeePaid(ctx, run.Member.ID); err != nil {
		return err
	}
	run.Member.EntryFeePaid = true
	run.deduct(fee)
	run.emit(EventEntryFeeCharged, fee, nil)
	return nil
}

// Stationery charges a percentage of the loans the member took this period.
type Stationery struct{}

// Name implements Allocator.
func (Stationery) Name() string { return "stationery" }

// Allocate deducts the stationery fee when the contribution covers it.
func (Stationery) Allocate(ctx context.Context, tx ledger.Tx, run *MemberRun) error {
	rate := run.Settings.StationeryRate
	if !rate.IsPositive() || !run.Contribution.IsPositive() {
		return nil
	}
	pending, err := tx.PendingLoanTotal(ctx, run.Member.ID, run.Period.ID)
	if err != nil {
		return err
	}
	if !pending.IsPositive() {
		return nil
	}
	fee := round2(pending.Mul(rate))
	if run.Contribution.LessThan(fee) {
		return nil
	}
	if err := tx.InsertFee(ctx, ledger.FeeEntry{
		MemberID: run.Member.ID,
		PeriodID: run.Period.ID,
		Type:     ledger.FeeTypeStationery,
		Amount:   fee,
	}); err != nil {
		return err
	}
	if _, err := run.record(ctx, tx, ledger.TxStationeryFee, fee); err != nil {
		return err
	}
	run.deduct(fee)
	run.emit(EventStationeryCharged, fee, func(e *Event) { e.Outstanding = pending })
	return nil
}
