package event

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

func TestJournal_AppendAndQuery(t *testing.T) {
	j := NewJournal(10)
	bus := NewMemoryEventBus()
	_ = bus.SubscribeAll(j.Handler())

	ctx := context.Background()
	_ = bus.Publish(ctx, NewEvent(EventCompleteRequested).WithTxID("tx-1"))
	_ = bus.Publish(ctx, NewEvent(EventDuplicateRequest).WithTxID("tx-1"))
	_ = bus.Publish(ctx, NewEvent(EventDuplicateRequest).WithTxID("tx-2"))
	_ = bus.Publish(ctx, NewEvent(EventFailedToComplete).WithTxID("tx-1").WithError(errors.New("boom")))

	if j.Len() != 4 {
		t.Fatalf("expected 4 records, got %d", j.Len())
	}
	if n := j.Count(EventDuplicateRequest, ""); n != 2 {
		t.Errorf("expected 2 duplicates overall, got %d", n)
	}
	if n := j.Count(EventDuplicateRequest, "tx-1"); n != 1 {
		t.Errorf("expected 1 duplicate for tx-1, got %d", n)
	}

	records := j.ForTx("tx-1")
	if len(records) != 3 {
		t.Fatalf("expected 3 records for tx-1, got %d", len(records))
	}
	if records[0].Type != string(EventCompleteRequested) || records[2].Error != "boom" {
		t.Errorf("unexpected records %+v", records)
	}
	if records[0].Seq >= records[1].Seq {
		t.Error("sequence numbers must increase")
	}
}

func TestJournal_Recent(t *testing.T) {
	j := NewJournal(10)
	for i := 0; i < 5; i++ {
		j.Append(NewEvent(EventStatusQueried).WithTxID(fmt.Sprintf("tx-%d", i)))
	}

	recent := j.Recent(2)
	if len(recent) != 2 || recent[0].TxID != "tx-4" || recent[1].TxID != "tx-3" {
		t.Errorf("expected the two newest, newest first, got %+v", recent)
	}
	if len(j.Recent(0)) != 5 || len(j.Recent(50)) != 5 {
		t.Error("a zero or oversized limit should return everything")
	}
}

func TestJournal_DefaultLimit(t *testing.T) {
	j := NewJournal(0)
	for i := 0; i < 1005; i++ {
		j.Append(NewEvent(EventStatusQueried))
	}
	if j.Len() != 1000 {
		t.Errorf("expected 1000 records, got %d", j.Len())
	}
}

// The journal keeps the newest records up to its limit.
func TestProperty_JournalKeepsNewest(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 20).Draw(t, "limit")
		n := rapid.IntRange(0, 60).Draw(t, "n")

		j := NewJournal(limit)
		for i := 0; i < n; i++ {
			j.Append(NewEvent(EventStatusQueried).WithTxID(fmt.Sprintf("tx-%d", i)))
		}

		want := min(n, limit)
		if j.Len() != want {
			t.Fatalf("expected %d records, got %d", want, j.Len())
		}
		if n > 0 && len(j.ForTx(fmt.Sprintf("tx-%d", n-1))) != 1 {
			t.Fatal("newest record missing")
		}
		if n > limit && len(j.ForTx("tx-0")) != 0 {
			t.Fatal("oldest record should be dropped")
		}
	})
}
