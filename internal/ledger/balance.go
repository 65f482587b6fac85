package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Balance is a member's financial position for a period.
type Balance struct {
	Loan            decimal.Decimal
	LoanRepaid      decimal.Decimal
	Commodity       decimal.Decimal
	CommodityRepaid decimal.Decimal
	Contribution    decimal.Decimal
	// LoanBalance is Loan minus LoanRepaid.
	LoanBalance decimal.Decimal
	// CommodityBalance is Commodity minus CommodityRepaid.
	CommodityBalance decimal.Decimal
}

// NewBalance derives outstanding figures from raw totals and rejects
// negative positions.
func NewBalance(memberID, periodID int64, t Totals) (Balance, error) {
	b := Balance{
		Loan:             t.Loan,
		LoanRepaid:       t.LoanRepaid,
		Commodity:        t.Commodity,
		CommodityRepaid:  t.CommodityRepaid,
		Contribution:     t.Contribution,
		LoanBalance:      t.Loan.Sub(t.LoanRepaid),
		CommodityBalance: t.Commodity.Sub(t.CommodityRepaid),
	}
	if b.LoanBalance.IsNegative() {
		return Balance{}, &IntegrityError{MemberID: memberID, PeriodID: periodID, Detail: "loan balance " + b.LoanBalance.String(), Err: ErrNegativeBalance}
	}
	if b.CommodityBalance.IsNegative() {
		return Balance{}, &IntegrityError{MemberID: memberID, PeriodID: periodID, Detail: "commodity balance " + b.CommodityBalance.String(), Err: ErrNegativeBalance}
	}
	return b, nil
}

// CalculateBalance aggregates a member's position from the ledger.
func CalculateBalance(ctx context.Context, tx Tx, memberID, periodID int64) (Balance, error) {
	totals, err := tx.Totals(ctx, memberID, periodID)
	if err != nil {
		return Balance{}, err
	}
	return NewBalance(memberID, periodID, totals)
}

// OutstandingInterest returns charged minus paid interest through a period.
func OutstandingInterest(ctx context.Context, tx Tx, memberID, periodID int64) (decimal.Decimal, error) {
	charged, paid, err := tx.InterestTotals(ctx, memberID, periodID)
	if err != nil {
		return decimal.Zero, err
	}
	outstanding := charged.Sub(paid)
	if outstanding.IsNegative() {
		return decimal.Zero, &IntegrityError{MemberID: memberID, PeriodID: periodID, Detail: "outstanding interest " + outstanding.String(), Err: ErrNegativeInterest}
	}
	return outstanding, nil
}
