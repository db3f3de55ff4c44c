// Package redis provides a Redis-backed participant event recorder.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"lra/recorder"
)

// Ensure Recorder implements recorder.Recorder
var _ recorder.Recorder = (*Recorder)(nil)

// Recorder stores each counter as a Redis integer key, so participants
// running in several processes share one view of a transaction.
type Recorder struct {
	client redis.Cmdable
	prefix string
}

// Option is a functional option for configuring Recorder
type Option func(*Recorder)

// WithPrefix sets the key prefix for counters
func WithPrefix(prefix string) Option {
	return func(r *Recorder) {
		r.prefix = prefix
	}
}

// New creates a Redis recorder.
func New(client redis.Cmdable, opts ...Option) *Recorder {
	r := &Recorder{
		client: client,
		prefix: "lra:metric:",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key returns the Redis key holding the counter.
func (r *Recorder) Key(kind recorder.Kind, txID, participant string) string {
	return fmt.Sprintf("%s%s:%s:%s", r.prefix, kind, participant, txID)
}

// Increment atomically adds one with INCR.
func (r *Recorder) Increment(ctx context.Context, kind recorder.Kind, txID, participant string) error {
	if err := (recorder.Key{Kind: kind, TxID: txID, Participant: participant}).Validate(); err != nil {
		return err
	}
	if err := r.client.Incr(ctx, r.Key(kind, txID, participant)).Err(); err != nil {
		return fmt.Errorf("incr %s counter: %w", kind, err)
	}
	return nil
}

// Get reads the counter; a missing key reads as zero.
func (r *Recorder) Get(ctx context.Context, kind recorder.Kind, txID, participant string) (int64, error) {
	if err := (recorder.Key{Kind: kind, TxID: txID, Participant: participant}).Validate(); err != nil {
		return 0, err
	}
	n, err := r.client.Get(ctx, r.Key(kind, txID, participant)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s counter: %w", kind, err)
	}
	return n, nil
}
