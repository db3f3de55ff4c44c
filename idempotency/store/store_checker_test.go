package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lra/idempotency"

	"pgregory.net/rapid"
)

// ============================================================================
// Mock Store for Testing
// ============================================================================

// memoryStore keeps records in a map and honours the ttl.
type memoryStore struct {
	mu      sync.RWMutex
	records map[string]record
	err     error
}

type record struct {
	result    []byte
	expiresAt time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]record)}
}

func (m *memoryStore) CheckIdempotency(_ context.Context, key string) (bool, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return false, nil, m.err
	}
	r, ok := m.records[key]
	if !ok || time.Now().After(r.expiresAt) {
		return false, nil, nil
	}
	return true, r.result, nil
}

func (m *memoryStore) MarkIdempotency(_ context.Context, key string, result []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records[key] = record{result: result, expiresAt: time.Now().Add(ttl)}
	return nil
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestStoreChecker_CheckMissing(t *testing.T) {
	checker := New(newMemoryStore())

	exists, result, err := checker.Check(context.Background(), idempotency.Key("p", "tx-1", "complete"))
	if err != nil || exists || result != nil {
		t.Errorf("expected missing record, got %v/%v/%v", exists, result, err)
	}
}

func TestStoreChecker_MarkThenCheck(t *testing.T) {
	checker := New(newMemoryStore())
	ctx := context.Background()
	key := idempotency.Key("p", "tx-1", "compensate")

	if err := checker.Mark(ctx, key, []byte("Compensated"), time.Hour); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	exists, result, err := checker.Check(ctx, key)
	if err != nil || !exists || string(result) != "Compensated" {
		t.Errorf("expected Compensated record, got %v/%q/%v", exists, result, err)
	}
}

func TestStoreChecker_Expired(t *testing.T) {
	checker := New(newMemoryStore())
	ctx := context.Background()
	key := idempotency.Key("p", "tx-1", "complete")

	_ = checker.Mark(ctx, key, []byte("Completed"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if exists, _, _ := checker.Check(ctx, key); exists {
		t.Error("expired record should not be reported")
	}
}

func TestStoreChecker_EmptyKey(t *testing.T) {
	checker := New(newMemoryStore())
	if _, _, err := checker.Check(context.Background(), ""); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("expected ErrEmptyKey, got %v", err)
	}
	if err := checker.Mark(context.Background(), "", nil, time.Hour); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("expected ErrEmptyKey, got %v", err)
	}
}

func TestStoreChecker_StoreError(t *testing.T) {
	s := newMemoryStore()
	s.err = errors.New("connection refused")
	checker := New(s)

	if _, _, err := checker.Check(context.Background(), "k"); !errors.Is(err, s.err) {
		t.Errorf("expected store error, got %v", err)
	}
}

func TestKey_Format(t *testing.T) {
	if got := idempotency.Key("valid-cs-participant1", "tx-9", "complete"); got != "lra:valid-cs-participant1:tx-9:complete" {
		t.Errorf("unexpected key %q", got)
	}
}

// ============================================================================
// Property Tests
// ============================================================================

// Keys for different legs or transactions never collide.
func TestProperty_KeysDistinguishLegs(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		participant := rapid.StringMatching(`[a-z][a-z0-9-]{2,12}`).Draw(t, "participant")
		tx1 := rapid.StringMatching(`tx-[a-z0-9]{8}`).Draw(t, "tx1")
		tx2 := rapid.StringMatching(`tx-[a-z0-9]{8}`).Draw(t, "tx2")

		if idempotency.Key(participant, tx1, "complete") == idempotency.Key(participant, tx1, "compensate") {
			t.Fatal("legs share a key")
		}
		if tx1 != tx2 && idempotency.Key(participant, tx1, "complete") == idempotency.Key(participant, tx2, "complete") {
			t.Fatal("transactions share a key")
		}
	})
}

// The last mark wins and repeated checks agree.
func TestProperty_CheckAfterMark(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		checker := New(newMemoryStore())
		ctx := context.Background()
		key := idempotency.Key("p", rapid.StringMatching(`tx-[a-z0-9]{8}`).Draw(t, "tx"), "complete")
		outcomes := rapid.SliceOfN(rapid.SampledFrom([]string{"Completed", "FailedToComplete"}), 1, 5).Draw(t, "outcomes")

		for _, o := range outcomes {
			if err := checker.Mark(ctx, key, []byte(o), time.Hour); err != nil {
				t.Fatalf("Mark: %v", err)
			}
		}
		for i := 0; i < 3; i++ {
			exists, result, err := checker.Check(ctx, key)
			if err != nil || !exists {
				t.Fatalf("record missing: %v", err)
			}
			if string(result) != outcomes[len(outcomes)-1] {
				t.Fatalf("expected %s, got %s", outcomes[len(outcomes)-1], result)
			}
		}
	})
}
