package notification

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for mutations on an id that is not in the
	// collection.
	ErrNotFound = errors.New("notification not found")
	// ErrStaleSession means a refresh finished after the session changed and
	// its result was discarded.
	ErrStaleSession = errors.New("session changed during refresh")
	// ErrNoSession means there is no active session to refresh for.
	ErrNoSession = errors.New("no active session")
)

// ReconciliationError is a failed merge or server mutation. Local state is
// kept as is and converges on the next refresh.
type ReconciliationError struct {
	Op  string
	ID  string
	Err error
}

func (e *ReconciliationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("reconcile %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("reconcile %s %q: %v", e.Op, e.ID, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}
