package ledger

import "errors"

var (
	// ErrPeriodNotFound indicates the requested period does not exist.
	ErrPeriodNotFound = errors.New("ledger: period not found")
	// ErrMemberNotFound indicates the requested member does not exist.
	ErrMemberNotFound = errors.New("ledger: member not found")
	// ErrNegativeBalance indicates repayments exceed the amount owed.
	ErrNegativeBalance = errors.New("ledger: negative outstanding balance")
	// ErrNegativeInterest indicates more interest was paid than charged.
	ErrNegativeInterest = errors.New("ledger: negative outstanding interest")
	// ErrStoreNotInitialised indicates a nil store or pool.
	ErrStoreNotInitialised = errors.New("ledger: store not initialised")
)
