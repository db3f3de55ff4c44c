// Package store provides the durable storage interface for participants.
package store

import (
	"context"
	"time"

	"lra/recorder"
)

// Store persists what a participant must remember across restarts: the
// event counters consulted by status queries and the idempotency records
// used to replay terminal outcomes.
type Store interface {
	// Counter operations

	recorder.Recorder

	// ListCounters returns every counter kept for a transaction.
	ListCounters(ctx context.Context, txID string) ([]*CounterRecord, error)

	// Idempotency operations

	// CheckIdempotency reports whether an outcome was recorded under key.
	CheckIdempotency(ctx context.Context, key string) (exists bool, result []byte, err error)

	// MarkIdempotency records the outcome for key, kept for ttl.
	MarkIdempotency(ctx context.Context, key string, result []byte, ttl time.Duration) error

	// DeleteExpiredIdempotency removes expired idempotency records.
	DeleteExpiredIdempotency(ctx context.Context) (int64, error)
}
