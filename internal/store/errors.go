package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrIneligible is returned when a conditional transition matched no row
	// because the record is in the wrong state.
	ErrIneligible = errors.New("ineligible for transition")
)

// terminalJobStatuses mirror the jobs package. A QUEUED second pass whose
// job reached one of these may be enqueued again.
var terminalJobStatuses = []string{"completed", "failed", "dead_lettered"}
