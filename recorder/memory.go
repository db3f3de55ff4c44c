package recorder

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryRecorder is a process-wide in-memory Recorder.
// Each key owns its own atomic counter; increments on different keys never
// contend beyond the map lookup.
type MemoryRecorder struct {
	counters sync.Map // Key -> *atomic.Int64
}

var _ Recorder = (*MemoryRecorder)(nil)

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Increment adds one to the counter for the key.
func (r *MemoryRecorder) Increment(_ context.Context, kind Kind, txID, participant string) error {
	key := Key{Kind: kind, TxID: txID, Participant: participant}
	if err := key.Validate(); err != nil {
		return err
	}
	r.counter(key).Add(1)
	return nil
}

// Get returns the counter for the key, zero when unseen.
func (r *MemoryRecorder) Get(_ context.Context, kind Kind, txID, participant string) (int64, error) {
	key := Key{Kind: kind, TxID: txID, Participant: participant}
	if err := key.Validate(); err != nil {
		return 0, err
	}
	v, ok := r.counters.Load(key)
	if !ok {
		return 0, nil
	}
	return v.(*atomic.Int64).Load(), nil
}

// Total sums a kind across every transaction and participant.
func (r *MemoryRecorder) Total(kind Kind) int64 {
	var total int64
	r.counters.Range(func(k, v any) bool {
		if k.(Key).Kind == kind {
			total += v.(*atomic.Int64).Load()
		}
		return true
	})
	return total
}

// Reset drops every counter. Test harnesses call it between scenarios.
func (r *MemoryRecorder) Reset() {
	r.counters.Range(func(k, _ any) bool {
		r.counters.Delete(k)
		return true
	})
}

func (r *MemoryRecorder) counter(key Key) *atomic.Int64 {
	if v, ok := r.counters.Load(key); ok {
		return v.(*atomic.Int64)
	}
	v, _ := r.counters.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}
