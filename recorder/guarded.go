package recorder

import (
	"context"

	"lra/circuit"
)

// Guarded wraps a remote Recorder with a circuit breaker.
// Malformed keys are caller errors and do not count against the backend.
type Guarded struct {
	next    Recorder
	breaker *circuit.Breaker
}

var _ Recorder = (*Guarded)(nil)

// NewGuarded guards next with breaker.
func NewGuarded(next Recorder, breaker *circuit.Breaker) *Guarded {
	return &Guarded{next: next, breaker: breaker}
}

// Increment forwards to the wrapped recorder unless the circuit is open.
func (g *Guarded) Increment(ctx context.Context, kind Kind, txID, participant string) error {
	if err := (Key{Kind: kind, TxID: txID, Participant: participant}).Validate(); err != nil {
		return err
	}
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.next.Increment(ctx, kind, txID, participant)
	})
}

// Get forwards to the wrapped recorder unless the circuit is open.
func (g *Guarded) Get(ctx context.Context, kind Kind, txID, participant string) (int64, error) {
	if err := (Key{Kind: kind, TxID: txID, Participant: participant}).Validate(); err != nil {
		return 0, err
	}
	var n int64
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		n, err = g.next.Get(ctx, kind, txID, participant)
		return err
	})
	return n, err
}

// Breaker returns the guarding breaker.
func (g *Guarded) Breaker() *circuit.Breaker {
	return g.breaker
}
