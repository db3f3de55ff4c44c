package store

import (
	"time"
)

// CounterRecord is one participant event counter as stored in the database.
type CounterRecord struct {
	// Kind is the recorded event kind name, e.g. "completed".
	Kind string `db:"kind" json:"kind"`

	// Participant is the participant identity.
	Participant string `db:"participant" json:"participant"`

	// TxID is the transaction identifier.
	TxID string `db:"tx_id" json:"tx_id"`

	// Count is the number of recorded events.
	Count int64 `db:"count" json:"count"`

	// UpdatedAt is when the counter last changed.
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IdempotencyRecord represents an idempotency record in the database.
type IdempotencyRecord struct {
	// ID is the auto-increment primary key.
	ID int64 `db:"id" json:"id"`

	// IdempotencyKey is the unique key of one leg of one transaction.
	IdempotencyKey string `db:"idempotency_key" json:"idempotency_key"`

	// Result is the terminal status name of the leg.
	Result []byte `db:"result" json:"result,omitempty"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	// ExpiresAt is when the record expires.
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
}

// Expired reports whether the record is no longer valid at now.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
