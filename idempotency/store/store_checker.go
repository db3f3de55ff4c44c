// Package store adapts a storage backend to the idempotency.Checker interface.
package store

import (
	"context"
	"errors"
	"time"

	"lra/idempotency"
)

// IdempotencyStore defines the storage operations required for idempotency checking.
type IdempotencyStore interface {
	CheckIdempotency(ctx context.Context, key string) (exists bool, result []byte, err error)
	MarkIdempotency(ctx context.Context, key string, result []byte, ttl time.Duration) error
}

// ErrEmptyKey is returned for an empty record key
var ErrEmptyKey = errors.New("empty idempotency key")

// StoreChecker implements the idempotency.Checker interface using a store backend.
type StoreChecker struct {
	store IdempotencyStore
}

// Ensure StoreChecker implements idempotency.Checker interface.
var _ idempotency.Checker = (*StoreChecker)(nil)

// New creates a new StoreChecker with the given store.
func New(store IdempotencyStore) *StoreChecker {
	return &StoreChecker{
		store: store,
	}
}

// Check delegates to the store after rejecting empty keys.
func (c *StoreChecker) Check(ctx context.Context, key string) (bool, []byte, error) {
	if key == "" {
		return false, nil, ErrEmptyKey
	}
	return c.store.CheckIdempotency(ctx, key)
}

// Mark delegates to the store after rejecting empty keys.
func (c *StoreChecker) Mark(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	return c.store.MarkIdempotency(ctx, key, result, ttl)
}
