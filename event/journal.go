package event

import (
	"context"
	"sync"
	"time"
)

// Record is an event as kept by a Journal.
type Record struct {
	Seq         int64          `json:"seq"`
	Type        string         `json:"type"`
	TxID        string         `json:"tx_id"`
	Participant string         `json:"participant"`
	Status      string         `json:"status,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Journal keeps the most recent events in memory, oldest dropped first.
type Journal struct {
	mu      sync.RWMutex
	records []Record
	limit   int
	seq     int64
}

// NewJournal creates a journal holding at most limit records.
func NewJournal(limit int) *Journal {
	if limit <= 0 {
		limit = 1000
	}
	return &Journal{
		records: make([]Record, 0, limit),
		limit:   limit,
	}
}

// Append stores e.
func (j *Journal) Append(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	r := Record{
		Seq:         j.seq,
		Type:        string(e.Type),
		TxID:        e.TxID,
		Participant: e.Participant,
		Status:      e.Status,
		Timestamp:   e.Timestamp,
		Data:        e.Data,
	}
	if e.Error != nil {
		r.Error = e.Error.Error()
	}

	j.records = append(j.records, r)
	if over := len(j.records) - j.limit; over > 0 {
		j.records = j.records[over:]
	}
}

// ForTx returns the records of one transaction, oldest first.
func (j *Journal) ForTx(txID string) []Record {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Record
	for _, r := range j.records {
		if r.TxID == txID {
			out = append(out, r)
		}
	}
	return out
}

// Recent returns up to limit of the newest records, newest first.
func (j *Journal) Recent(limit int) []Record {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 || limit > len(j.records) {
		limit = len(j.records)
	}
	out := make([]Record, 0, limit)
	for i := len(j.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, j.records[i])
	}
	return out
}

// Count returns how many kept records have the given type and transaction.
// An empty txID matches every transaction.
func (j *Journal) Count(t EventType, txID string) int {
	j.mu.RLock()
	defer j.mu.RUnlock()

	n := 0
	for _, r := range j.records {
		if r.Type == string(t) && (txID == "" || r.TxID == txID) {
			n++
		}
	}
	return n
}

// Len returns the number of kept records.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.records)
}

// Handler returns an EventHandler that appends to the journal, ready for SubscribeAll.
func (j *Journal) Handler() EventHandler {
	return func(_ context.Context, e Event) error {
		j.Append(e)
		return nil
	}
}
