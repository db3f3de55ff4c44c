package lra

import (
	"context"
	"sync"
)

// Future is the handle returned by Complete and Compensate. Callers that must
// not block simply drop it and poll Status; tests and in-process callers may
// Wait on it. Duplicate requests for the same leg share one Future.
type Future struct {
	txID string
	leg  Leg
	done chan struct{}

	mu     sync.Mutex
	status ParticipantStatus
	err    error
}

func newFuture(txID string, leg Leg) *Future {
	return &Future{
		txID:   txID,
		leg:    leg,
		done:   make(chan struct{}),
		status: leg.pending(),
	}
}

// resolvedFuture returns a future that is already finished.
func resolvedFuture(txID string, leg Leg, status ParticipantStatus) *Future {
	f := newFuture(txID, leg)
	f.resolve(status, nil)
	return f
}

// TxID returns the transaction the future belongs to.
func (f *Future) TxID() string {
	return f.txID
}

// Leg returns whether the future tracks completion or compensation.
func (f *Future) Leg() Leg {
	return f.leg
}

// Done is closed when the work finished, failed or was cancelled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Status returns the leg status: pending until the work finishes.
func (f *Future) Status() ParticipantStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Err returns the work failure, nil while pending or on success.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until the work finished or ctx is done.
func (f *Future) Wait(ctx context.Context) (ParticipantStatus, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.status, f.err
	case <-ctx.Done():
		return f.Status(), ctx.Err()
	}
}

func (f *Future) resolve(status ParticipantStatus, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return
	default:
	}
	f.status = status
	f.err = err
	close(f.done)
}
