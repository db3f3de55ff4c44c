// Package idempotency remembers terminal participant outcomes so a replayed
// complete or compensate request can be answered without rerunning work.
package idempotency

import (
	"context"
	"fmt"
	"time"
)

// Checker defines the interface for idempotency checking.
type Checker interface {
	// Check reports whether an outcome was recorded under key and returns it.
	Check(ctx context.Context, key string) (exists bool, result []byte, err error)

	// Mark records the outcome for key, kept for ttl.
	Mark(ctx context.Context, key string, result []byte, ttl time.Duration) error
}

// Key builds the record key for one leg of one transaction.
func Key(participant, txID, leg string) string {
	return fmt.Sprintf("lra:%s:%s:%s", participant, txID, leg)
}
