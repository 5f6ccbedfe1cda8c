package store

import "errors"

var (
	// ErrLeaseLost is returned by Renew when the caller no longer holds the lease.
	ErrLeaseLost = errors.New("lease lost or stolen")
	// ErrNoRuns is returned when the run log is empty.
	ErrNoRuns = errors.New("no discovery runs recorded")
)
