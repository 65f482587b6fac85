// Package notify turns committed allocation events into member notifications.
package notify

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/coopledger/coopledger/internal/allocation"
)

// Formatter renders notification titles and bodies.
type Formatter struct {
	printer *message.Printer
}

// NewFormatter returns a formatter for the given locale.
func NewFormatter(tag language.Tag) *Formatter {
	return &Formatter{printer: message.NewPrinter(tag)}
}

// Money renders an amount with grouping and two decimals.
func (f *Formatter) Money(amount decimal.Decimal) string {
	return f.printer.Sprint(number.Decimal(amount.Round(2).InexactFloat64(), number.Scale(2)))
}

// Render returns the title and body for an event. Events that carry nothing
// worth telling the member report ok=false.
func (f *Formatter) Render(ev allocation.Event) (title, body string, ok bool) {
	m := f.Money
	switch ev.Kind {
	case allocation.EventEntryFeeCharged:
		return "Entry fee", fmt.Sprintf("An entry fee of %s was deducted from your contribution.", m(ev.Amount)), true
	case allocation.EventLevyCharged:
		if ev.Amount.IsZero() {
			return "Development levy", fmt.Sprintf("Your development levy is unpaid. You now owe %d levies.", ev.ArrearsCount), true
		}
		if ev.Settled > 0 {
			return "Development levy", fmt.Sprintf("A development levy of %s was deducted, settling %d outstanding levies.", m(ev.Amount), ev.Settled), true
		}
		if ev.ArrearsCount > 0 {
			return "Development levy", fmt.Sprintf("A development levy of %s was deducted. You still owe %d levies.", m(ev.Amount), ev.ArrearsCount), true
		}
		return "Development levy", fmt.Sprintf("A development levy of %s was deducted from your contribution.", m(ev.Amount)), true
	case allocation.EventStationeryCharged:
		return "Stationery fee", fmt.Sprintf("A stationery fee of %s was deducted for your loan application.", m(ev.Amount)), true
	case allocation.EventCommodityRepaid:
		return "Commodity repayment", fmt.Sprintf("%s was applied to your commodity balance. Outstanding: %s.", m(ev.Amount), m(ev.Outstanding)), true
	case allocation.EventCommodityUnpaid:
		return "Commodity repayment missed", fmt.Sprintf("No commodity repayment was made this period. Outstanding: %s.", m(ev.Outstanding)), true
	case allocation.EventInterestCharged:
		return "Loan interest", fmt.Sprintf("Interest of %s was charged on your loan balance of %s.", m(ev.Amount), m(ev.Outstanding)), true
	case allocation.EventInterestPaid:
		return "Loan interest paid", fmt.Sprintf("%s of your contribution paid loan interest.", m(ev.Amount)), true
	case allocation.EventLoanRepaid:
		return "Loan repayment", fmt.Sprintf("%s was repaid on your loan. Outstanding: %s.", m(ev.Amount), m(ev.Outstanding)), true
	case allocation.EventLoanCompleted:
		return "Loan completed", "Congratulations, your loan has been fully repaid.", true
	case allocation.EventRepaymentMissed:
		return "Loan repayment missed", fmt.Sprintf("Your loan is overdue. Outstanding balance %s, unpaid interest %s.", m(ev.Outstanding), m(ev.Interest)), true
	case allocation.EventSavingsAllocated:
		return "Savings", fmt.Sprintf("%s was added to your savings and %s to your shares.", m(ev.Savings), m(ev.Shares)), true
	case allocation.EventMemberProcessed:
		return "Contribution processed", fmt.Sprintf("Your contribution for this period has been processed. Unallocated: %s. Loan balance: %s.", m(ev.Amount), m(ev.Outstanding)), true
	}
	return "", "", false
}
