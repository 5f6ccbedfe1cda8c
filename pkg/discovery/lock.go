package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultLockTTL is how long a run lock survives without renewal.
const DefaultLockTTL = 30 * time.Second

var (
	// ErrLocked is returned when another run holds the lock for the source.
	ErrLocked = errors.New("another discovery run holds the lock")
	// ErrLockLost is the cancellation cause when a held lock cannot be renewed.
	ErrLockLost = errors.New("discovery lock lost")
)

// LeaseStore is the lease API a RunLock needs. Both the SQLite and the Redis
// stores implement it.
type LeaseStore interface {
	Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, name, holderID string, ttl time.Duration) error
	Release(ctx context.Context, name, holderID string) error
}

// LockName is the lease name guarding discovery of one source.
func LockName(sourceURL string) string {
	return "discovery:" + sourceURL
}

// RunLock keeps a lease alive while a discovery run is in progress.
type RunLock struct {
	store    LeaseStore
	name     string
	holderID string
	ttl      time.Duration

	cancel   context.CancelCauseFunc
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// AcquireRunLock takes the lease or fails with ErrLocked. The returned
// context is canceled with ErrLockLost when a renewal fails, so a run that
// lost its lock stops before publishing.
func AcquireRunLock(ctx context.Context, store LeaseStore, name, holderID string, ttl time.Duration) (context.Context, *RunLock, error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	ok, err := store.Acquire(ctx, name, holderID, ttl)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrLocked, name)
	}
	slog.Info("discovery_lock_acquired", "lock", name, "holder_id", holderID)

	runCtx, cancel := context.WithCancelCause(ctx)
	l := &RunLock{
		store:    store,
		name:     name,
		holderID: holderID,
		ttl:      ttl,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.renew(runCtx)
	return runCtx, l, nil
}

func (l *RunLock) renew(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.store.Renew(ctx, l.name, l.holderID, l.ttl); err != nil {
				slog.Error("discovery_lock_renewal_failed", "lock", l.name, "holder_id", l.holderID, "error", err)
				l.cancel(fmt.Errorf("%w: %v", ErrLockLost, err))
				return
			}
			slog.Debug("discovery_lock_renewed", "lock", l.name)
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Release stops renewal and gives the lease back. It is safe to call more
// than once.
func (l *RunLock) Release(ctx context.Context) error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stopCh)
		<-l.done
		l.cancel(nil)
		if err = l.store.Release(ctx, l.name, l.holderID); err != nil {
			slog.Error("failed_to_release_discovery_lock", "lock", l.name, "error", err)
			return
		}
		slog.Info("discovery_lock_released", "lock", l.name, "holder_id", l.holderID)
	})
	return err
}
