package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPeriodLocked indicates another run holds the period lock.
	ErrPeriodLocked = errors.New("period is locked by another run")
)
