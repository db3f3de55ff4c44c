// Package recorder keeps per-transaction event counters for participants.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is the kind of a recorded participant event.
type Kind int

const (
	// Completed counts finished completion work
	Completed Kind = iota
	// Compensated counts finished compensation work
	Compensated
	// Status counts status queries
	Status
	// Forget counts forget requests
	Forget
)

var kindNames = map[Kind]string{
	Completed:   "completed",
	Compensated: "compensated",
	Status:      "status",
	Forget:      "forget",
}

// String returns the kind name used in keys.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ErrMalformedKey indicates an empty or unknown key component
var ErrMalformedKey = errors.New("malformed metric key")

// Key identifies one counter.
type Key struct {
	Kind        Kind
	TxID        string
	Participant string
}

// Validate checks every key component.
func (k Key) Validate() error {
	if !k.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %d", ErrMalformedKey, int(k.Kind))
	}
	if k.TxID == "" {
		return fmt.Errorf("%w: empty transaction id", ErrMalformedKey)
	}
	if k.Participant == "" {
		return fmt.Errorf("%w: empty participant", ErrMalformedKey)
	}
	// Transaction ids are URIs; the separator may only appear after the
	// participant segment.
	if strings.Contains(k.Participant, ":") {
		return fmt.Errorf("%w: participant %q contains ':'", ErrMalformedKey, k.Participant)
	}
	return nil
}

// Recorder counts participant events keyed by kind, transaction and participant.
// Counts are monotonic; unseen keys read as zero.
type Recorder interface {
	// Increment adds one to the counter for the key
	Increment(ctx context.Context, kind Kind, txID, participant string) error
	// Get returns the counter for the key
	Get(ctx context.Context, kind Kind, txID, participant string) (int64, error)
}
