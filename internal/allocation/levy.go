package allocation

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/coopledger/coopledger/internal/ledger"
)

// Levy collects the development levy and tracks arrears. Arrears are counted
// in periods: every prior debt row flagged as arrears adds one base levy.
type Levy struct{}

// Name implements Allocator.
func (Levy) Name() string { return "development_levy" }

// Allocate pays the current levy plus arrears when possible, otherwise just
// the current levy, otherwise nothing.
func (Levy) Allocate(ctx context.Context, tx ledger.Tx, run *MemberRun) error {
	base := run.Settings.DevelopmentLevy
	count, err := tx.CountLevyArrears(ctx, run.Member.ID, run.Period.ID)
	if err != nil {
		return err
	}
	arrears := base.Mul(decimal.NewFromInt(int64(count)))
	debt := ledger.LevyDebt{MemberID: run.Member.ID, PeriodID: run.Period.ID, BaseLevy: base}

	var paid decimal.Decimal
	settle := false
	switch {
	case run.Contribution.GreaterThanOrEqual(base.Add(arrears)):
		paid = base.Add(arrears)
		settle = count > 0
	case run.Contribution.GreaterThanOrEqual(base):
		paid = base
	default:
		paid = decimal.Zero
		debt.Arrears = run.Contribution.IsZero()
	}

	if err := tx.InsertLevyDebt(ctx, debt); err != nil {
		return err
	}
	settled := 0
	if settle {
		if err := tx.ClearLevyArrears(ctx, run.Member.ID, base); err != nil {
			return err
		}
		settled, count = count, 0
	} else if debt.Arrears {
		count++
	}
	if err := tx.InsertFee(ctx, ledger.FeeEntry{
		MemberID: run.Member.ID,
		PeriodID: run.Period.ID,
		Type:     ledger.FeeTypeDevelopmentLevy,
		Amount:   paid,
	}); err != nil {
		return err
	}
	if _, err := run.record(ctx, tx, ledger.TxDevelopmentLevy, paid); err != nil {
		return err
	}
	run.deduct(paid)
	run.emit(EventLevyCharged, paid, func(e *Event) {
		e.ArrearsCount = count
		e.Settled = settled
		e.Outstanding = base.Mul(decimal.NewFromInt(int64(count)))
	})
	return nil
}
