package allocation

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/coopledger/coopledger/internal/ledger"
)

// Commodity collects installments on goods bought on credit.
type Commodity struct{}

// Name implements Allocator.
func (Commodity) Name() string { return "commodity" }

// Installment is the amount due on one commodity this period.
type Installment struct {
	Position ledger.CommodityPosition
	Amount   decimal.Decimal
}

// DueInstallments derives this period's installment for every open
// commodity. Deductions already made are inferred from what has been repaid.
func DueInstallments(positions []ledger.CommodityPosition) []Installment {
	out := make([]Installment, 0, len(positions))
	for _, pos := range positions {
		remainder := pos.Outstanding()
		if !remainder.IsPositive() || pos.DeductionCount <= 0 || !pos.Amount.IsPositive() {
			continue
		}
		count := decimal.NewFromInt(int64(pos.DeductionCount))
		perDeduction := pos.Amount.Div(count)
		made := pos.Repaid.Div(perDeduction).Floor()
		left := count.Sub(made)
		if !left.IsPositive() {
			continue
		}
		out = append(out, Installment{Position: pos, Amount: round2(remainder.Div(left))})
	}
	return out
}

// Allocate pays every installment in full when the contribution covers the
// total due, otherwise pays each pro rata and consumes the contribution.
func (Commodity) Allocate(ctx context.Context, tx ledger.Tx, run *MemberRun) error {
	if !run.Balance.CommodityBalance.IsPositive() {
		return nil
	}
	if run.Contribution.IsZero() {
		if _, err := run.record(ctx, tx, ledger.TxNotificationCommodity, decimal.Zero); err != nil {
			return err
		}
		run.emit(EventCommodityUnpaid, decimal.Zero, func(e *Event) { e.Outstanding = run.Balance.CommodityBalance })
		return nil
	}
	positions, err := tx.ListCommodityPositions(ctx, run.Member.ID)
	if err != nil {
		return err
	}
	due := DueInstallments(positions)
	total := decimal.Zero
	for _, inst := range due {
		total = total.Add(inst.Amount)
	}
	if !total.IsPositive() {
		return nil
	}

	full := run.Contribution.GreaterThanOrEqual(total)
	available := run.Contribution
	paid := decimal.Zero
	for i, inst := range due {
		amount := inst.Amount
		if !full {
			if i == len(due)-1 {
				amount = available.Sub(paid)
			} else {
				amount = inst.Amount.Mul(available).Div(total).RoundDown(2)
			}
		}
		if amount.GreaterThan(inst.Position.Outstanding()) {
			amount = inst.Position.Outstanding()
		}
		if !amount.IsPositive() {
			continue
		}
		if err := tx.InsertCommodityRepayment(ctx, ledger.CommodityRepayment{
			CommodityID: inst.Position.ID,
			MemberID:    run.Member.ID,
			PeriodID:    run.Period.ID,
			Amount:      amount,
		}); err != nil {
			return err
		}
		paid = paid.Add(amount)
	}
	if !paid.IsPositive() {
		return nil
	}
	if _, err := run.record(ctx, tx, ledger.TxCommodityRepayment, paid); err != nil {
		return err
	}
	run.deduct(paid)
	run.Balance.CommodityRepaid = run.Balance.CommodityRepaid.Add(paid)
	run.Balance.CommodityBalance = run.Balance.CommodityBalance.Sub(paid)
	run.emit(EventCommodityRepaid, paid, func(e *Event) { e.Outstanding = run.Balance.CommodityBalance })
	return nil
}
