package allocation

import "github.com/shopspring/decimal"

// EventKind names what happened to a member's money.
type EventKind string

const (
	EventEntryFeeCharged   EventKind = "entry_fee_charged"
	EventLevyCharged       EventKind = "levy_charged"
	EventStationeryCharged EventKind = "stationery_charged"
	EventCommodityRepaid   EventKind = "commodity_repaid"
	EventCommodityUnpaid   EventKind = "commodity_unpaid"
	EventInterestCharged   EventKind = "interest_charged"
	EventInterestPaid      EventKind = "interest_paid"
	EventLoanRepaid        EventKind = "loan_repaid"
	EventLoanCompleted     EventKind = "loan_completed"
	EventRepaymentMissed   EventKind = "repayment_missed"
	EventSavingsAllocated  EventKind = "savings_allocated"
	EventMemberProcessed   EventKind = "member_processed"
)

// Event is emitted by an allocator and consumed after the run commits.
type Event struct {
	Kind     EventKind
	MemberID int64
	UserID   int64
	PeriodID int64
	Amount   decimal.Decimal

	// Optional context, populated per kind.
	Outstanding  decimal.Decimal
	Interest     decimal.Decimal
	Savings      decimal.Decimal
	Shares       decimal.Decimal
	ArrearsCount int
	// Settled is the number of arrears cleared by this deduction.
	Settled int
	LoanID       int64
}
