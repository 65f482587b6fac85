package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MemberStatus enumerates membership states.
type MemberStatus string

const (
	MemberStatusActive   MemberStatus = "active"
	MemberStatusInactive MemberStatus = "inactive"
)

// Member is a cooperative member and the per-member flags the engine consults.
type Member struct {
	ID                    int64
	Name                  string
	UserID                int64
	Status                MemberStatus
	EntryFeePaid          bool
	StopLoanInterest      bool
	AllowSavingsWithLoan  bool
	SavingsWithLoanAmount decimal.Decimal
}

// PeriodStatus enumerates accounting period lifecycle stages.
type PeriodStatus string

const (
	PeriodStatusOpen      PeriodStatus = "open"
	PeriodStatusProcessed PeriodStatus = "processed"
)

// Period is one accounting cycle.
type Period struct {
	ID        int64
	Name      string
	Status    PeriodStatus
	StartDate time.Time
	EndDate   time.Time
}

// LoanStatus enumerates loan lifecycle stages.
type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "pending"
	LoanStatusApproved  LoanStatus = "approved"
	LoanStatusActive    LoanStatus = "active"
	LoanStatusCompleted LoanStatus = "completed"
)

// Loan is a disbursed (or awaiting disbursement) member loan.
type Loan struct {
	ID           int64
	MemberID     int64
	PeriodID     int64
	Amount       decimal.Decimal
	InterestRate decimal.Decimal
	Status       LoanStatus
	GrantDate    time.Time
	StartDate    *time.Time
	DueDate      *time.Time
}

// Overdue reports whether an active loan is past its due date.
func (l Loan) Overdue(today time.Time) bool {
	return l.Status == LoanStatusActive && l.DueDate != nil && l.DueDate.Before(today)
}

// LoanPosition is a loan together with everything repaid against it so far.
type LoanPosition struct {
	Loan
	Repaid decimal.Decimal
}

// Remaining returns the principal still owed on the loan.
func (p LoanPosition) Remaining() decimal.Decimal {
	return p.Amount.Sub(p.Repaid)
}

// RepaymentStatus enumerates loan repayment states.
type RepaymentStatus string

const (
	RepaymentStatusPaid    RepaymentStatus = "paid"
	RepaymentStatusOverdue RepaymentStatus = "overdue"
)

// LoanRepayment is an append-only repayment entry.
type LoanRepayment struct {
	ID              int64
	LoanID          int64
	MemberID        int64
	PeriodID        int64
	Amount          decimal.Decimal
	PrincipalAmount decimal.Decimal
	InterestAmount  decimal.Decimal
	Status          RepaymentStatus
}

// InterestEntry records interest charged to or paid by a member in a period.
type InterestEntry struct {
	ID       int64
	MemberID int64
	PeriodID int64
	Amount   decimal.Decimal
}

// Commodity is an item bought on credit and repaid in installments.
type Commodity struct {
	ID             int64
	MemberID       int64
	Name           string
	Amount         decimal.Decimal
	DeductionCount int
}

// CommodityPosition is a commodity together with everything repaid against it.
type CommodityPosition struct {
	Commodity
	Repaid decimal.Decimal
}

// Outstanding returns the unpaid part of the commodity.
func (p CommodityPosition) Outstanding() decimal.Decimal {
	return p.Amount.Sub(p.Repaid)
}

// CommodityRepayment is an append-only commodity installment entry.
type CommodityRepayment struct {
	ID          int64
	CommodityID int64
	MemberID    int64
	PeriodID    int64
	Amount      decimal.Decimal
}

// FeeType keys the fixed-fee table.
type FeeType string

const (
	FeeTypeEntry           FeeType = "entry"
	FeeTypeDevelopmentLevy FeeType = "development_levy"
	FeeTypeStationery      FeeType = "stationery"
)

// FeeEntry records a fee deducted from a member's contribution.
type FeeEntry struct {
	ID       int64
	MemberID int64
	PeriodID int64
	Type     FeeType
	Amount   decimal.Decimal
}

// LevyDebt is one development-levy tracking row. The persisted
// outstanding_amount column is zero for a period in arrears and the base
// levy otherwise; Arrears is the decoded form.
type LevyDebt struct {
	ID       int64
	MemberID int64
	PeriodID int64
	Arrears  bool
	BaseLevy decimal.Decimal
}

// OutstandingAmount encodes the row back into its stored column value.
func (d LevyDebt) OutstandingAmount() decimal.Decimal {
	if d.Arrears {
		return decimal.Zero
	}
	return d.BaseLevy
}

// MemberBalance is the savings/shares allocation for a member and period.
type MemberBalance struct {
	ID       int64
	MemberID int64
	PeriodID int64
	Savings  decimal.Decimal
	Shares   decimal.Decimal
}

// TransactionType enumerates audit ledger entry kinds.
type TransactionType string

const (
	TxEntryFee              TransactionType = "entry_fee"
	TxDevelopmentLevy       TransactionType = "development_levy"
	TxStationeryFee         TransactionType = "stationery_fee"
	TxCommodityRepayment    TransactionType = "commodity_repayment"
	TxInterestCharged       TransactionType = "interest_charged"
	TxInterestPaid          TransactionType = "interest_paid"
	TxLoanRepayment         TransactionType = "loan_repayment"
	TxSavings               TransactionType = "savings"
	TxShares                TransactionType = "shares"
	TxNotificationCommodity TransactionType = "notification_commodity"
	TxNotificationLoan      TransactionType = "notification_loan"
	TxPeriodProcessed       TransactionType = "period_processed"
)

// Transaction is a mastertransact audit row.
type Transaction struct {
	ID        int64
	MemberID  int64
	PeriodID  int64
	Type      TransactionType
	Amount    decimal.Decimal
	Completed bool
	CreatedAt time.Time
}

// Notification is a message queued for an external dispatcher.
type Notification struct {
	ID        int64
	UserID    int64
	MemberID  int64
	Title     string
	Body      string
	CreatedAt time.Time
}

// IntegrityError reports a data-integrity violation for a specific member.
type IntegrityError struct {
	MemberID int64
	PeriodID int64
	Detail   string
	Err      error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger: member %d period %d: %s: %v", e.MemberID, e.PeriodID, e.Detail, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}
