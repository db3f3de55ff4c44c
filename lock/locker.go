// Package lock provides leases that keep recovery passes for one transaction
// from running in two processes at once.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLocked is returned when another holder owns the key
	ErrLocked = errors.New("lock is held by another holder")
	// ErrNotHeld is returned when extending a lease that expired or was taken over
	ErrNotHeld = errors.New("lock not held")
	// ErrEmptyKey is returned for an empty lock key
	ErrEmptyKey = errors.New("empty lock key")
)

// Locker hands out exclusive, expiring leases on keys.
type Locker interface {
	// TryLock takes the lease on key without waiting.
	// Returns ErrLocked if another holder owns it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is one held lock.
type Lease interface {
	// Key returns the locked key, without any backend prefix
	Key() string

	// Extend pushes the expiry to now+ttl.
	// Returns ErrNotHeld if the lease expired or was taken over
	Extend(ctx context.Context, ttl time.Duration) error

	// Release gives the lease up. Releasing a lost lease is not an error.
	Release(ctx context.Context) error
}
