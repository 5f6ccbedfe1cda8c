package store

import (
	"context"
	"time"
)

// Lease is a named lock held by one process until it expires.
type Lease struct {
	Name      string    `json:"name"`
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Version   int64     `json:"version"` // bumped on every acquire or renew
}

// LeaseStore hands out leases. Discovery holds one per source so that two
// runs never publish a schema for the same server at the same time.
type LeaseStore interface {
	// Acquire tries to acquire the lease. Returns true if successful.
	// If the lease is already held by holderID, it renews it.
	Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error)

	// Renew updates the expiry of an existing lease held by holderID.
	// Returns ErrLeaseLost if the lease is gone or held by someone else.
	Renew(ctx context.Context, name, holderID string, ttl time.Duration) error

	// Release releases the lease if held by holderID.
	Release(ctx context.Context, name, holderID string) error

	// Get returns the current lease state, or nil when nobody holds it.
	Get(ctx context.Context, name string) (*Lease, error)
}

// RunSummary is one row of the discovery run log.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	SourceURL   string    `json:"source_url"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	SampleLimit int       `json:"sample_limit"`
	Accepted    int       `json:"accepted"`
	Ambiguous   int       `json:"ambiguous"`
	Empty       int       `json:"empty"`
	Failed      int       `json:"failed"`
}
