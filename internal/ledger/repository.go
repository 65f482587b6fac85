package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store opens ledger transactions.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// Totals holds the raw aggregates behind a member's balance position.
type Totals struct {
	Loan            decimal.Decimal
	LoanRepaid      decimal.Decimal
	Commodity       decimal.Decimal
	CommodityRepaid decimal.Decimal
	Contribution    decimal.Decimal
}

// PartialTables lists the side tables probed by the processing guard.
var PartialTables = []string{
	"fees",
	"member_levy_debt",
	"commodity_repayments",
	"interest_charged",
	"interest_paid",
	"loan_repayments",
	"member_balances",
}

// Tx exposes every read and write the period engine performs inside one
// transaction.
type Tx interface {
	LoadPeriodForUpdate(ctx context.Context, periodID int64) (Period, error)
	MarkPeriodProcessed(ctx context.Context, periodID int64) error

	GetMember(ctx context.Context, memberID int64) (Member, error)
	ListActiveMembers(ctx context.Context) ([]Member, error)
	MarkEntryFeePaid(ctx context.Context, memberID int64) error

	Totals(ctx context.Context, memberID, periodID int64) (Totals, error)

	// Processing guard reads.
	HasCompletedMarker(ctx context.Context, memberID, periodID int64) (bool, error)
	TablesWithRows(ctx context.Context, memberID, periodID int64) ([]string, error)
	LoadMemberState(ctx context.Context, memberID, periodID int64) (string, bool, error)
	SaveMemberState(ctx context.Context, memberID, periodID int64, state string) error

	InsertFee(ctx context.Context, fee FeeEntry) error

	CountLevyArrears(ctx context.Context, memberID, beforePeriodID int64) (int, error)
	InsertLevyDebt(ctx context.Context, debt LevyDebt) error
	ClearLevyArrears(ctx context.Context, memberID int64, baseLevy decimal.Decimal) error

	ListCommodityPositions(ctx context.Context, memberID int64) ([]CommodityPosition, error)
	InsertCommodityRepayment(ctx context.Context, repayment CommodityRepayment) error

	ListLoanPositions(ctx context.Context, memberID int64, statuses ...LoanStatus) ([]LoanPosition, error)
	PendingLoanTotal(ctx context.Context, memberID, periodID int64) (decimal.Decimal, error)
	UpdateLoanStatus(ctx context.Context, loanID int64, status LoanStatus, startDate *time.Time) error
	ActivatePendingLoans(ctx context.Context, memberID int64, startDate time.Time) (int, error)
	InsertLoanRepayment(ctx context.Context, repayment LoanRepayment) error

	InterestTotals(ctx context.Context, memberID, throughPeriodID int64) (charged, paid decimal.Decimal, err error)
	InsertInterestCharged(ctx context.Context, entry InterestEntry) error
	InsertInterestPaid(ctx context.Context, entry InterestEntry) error

	MemberBalanceExists(ctx context.Context, memberID, periodID int64) (bool, error)
	InsertMemberBalance(ctx context.Context, balance MemberBalance) error

	FindTransaction(ctx context.Context, memberID, periodID int64, txType TransactionType) (Transaction, bool, error)
	InsertTransaction(ctx context.Context, entry Transaction) (int64, error)
	AddToTransaction(ctx context.Context, id int64, amount decimal.Decimal) error
}
