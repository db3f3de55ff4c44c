package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"pgregory.net/rapid"

	"lra"
	"lra/idempotency"
	idemstore "lra/idempotency/store"
	"lra/recorder"
)

// ============================================================================
// Test Helpers
// ============================================================================

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	s := New(db)
	s.now = func() time.Time { return fixedNow }
	return s, mock, func() { db.Close() }
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// ============================================================================
// Schema Tests
// ============================================================================

func TestMySQLStore_Migrate(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS lra_participant_counters").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS lra_idempotency").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate failed: %v", err)
	}
	expectationsMet(t, mock)
}

func TestMySQLStore_Migrate_Error(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS lra_participant_counters").
		WillReturnError(errors.New("access denied"))

	if err := s.Migrate(context.Background()); !errors.Is(err, lra.ErrStoreOperationFailed) {
		t.Errorf("expected ErrStoreOperationFailed, got %v", err)
	}
}

func TestOpen_InvalidDSN(t *testing.T) {
	if _, err := Open("not a dsn"); err == nil {
		t.Error("expected DSN parse error")
	}
}

// ============================================================================
// Counter Tests
// ============================================================================

func TestMySQLStore_Increment(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO lra_participant_counters").
		WithArgs("completed", "valid-cs-participant1", "tx-123", fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.Increment(context.Background(), recorder.Completed, "tx-123", "valid-cs-participant1"); err != nil {
		t.Errorf("Increment failed: %v", err)
	}
	expectationsMet(t, mock)
}

func TestMySQLStore_Increment_RetriesDeadlock(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	deadlock := &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	mock.ExpectExec("INSERT INTO lra_participant_counters").WillReturnError(deadlock)
	mock.ExpectExec("INSERT INTO lra_participant_counters").WillReturnResult(sqlmock.NewResult(1, 2))

	if err := s.Increment(context.Background(), recorder.Status, "tx-123", "p"); err != nil {
		t.Errorf("expected retry to succeed, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestMySQLStore_Increment_GivesUp(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	timeout := &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}
	for i := 0; i < maxAttempts; i++ {
		mock.ExpectExec("INSERT INTO lra_participant_counters").WillReturnError(timeout)
	}

	err := s.Increment(context.Background(), recorder.Status, "tx-123", "p")
	if !errors.Is(err, lra.ErrStoreOperationFailed) {
		t.Errorf("expected ErrStoreOperationFailed, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestMySQLStore_Increment_NoRetryOnOtherErrors(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO lra_participant_counters").WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"})

	if err := s.Increment(context.Background(), recorder.Status, "tx-123", "p"); err == nil {
		t.Error("expected error")
	}
	expectationsMet(t, mock)
}

func TestMySQLStore_Increment_MalformedKey(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	if err := s.Increment(context.Background(), recorder.Completed, "", "p"); !errors.Is(err, recorder.ErrMalformedKey) {
		t.Errorf("expected ErrMalformedKey, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestMySQLStore_Get(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT count FROM lra_participant_counters").
		WithArgs("compensated", "p", "tx-123").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	n, err := s.Get(context.Background(), recorder.Compensated, "tx-123", "p")
	if err != nil || n != 2 {
		t.Errorf("expected 2, got %d/%v", n, err)
	}
}

func TestMySQLStore_Get_Missing(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT count FROM lra_participant_counters").
		WithArgs("completed", "p", "tx-123").
		WillReturnError(sql.ErrNoRows)

	n, err := s.Get(context.Background(), recorder.Completed, "tx-123", "p")
	if err != nil || n != 0 {
		t.Errorf("expected 0/nil, got %d/%v", n, err)
	}
}

func TestMySQLStore_Get_QueryError(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT count FROM lra_participant_counters").
		WillReturnError(errors.New("connection reset"))

	if _, err := s.Get(context.Background(), recorder.Completed, "tx-123", "p"); !errors.Is(err, lra.ErrStoreOperationFailed) {
		t.Errorf("expected ErrStoreOperationFailed, got %v", err)
	}
}

func TestMySQLStore_ListCounters(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"kind", "participant", "tx_id", "count", "updated_at"}).
		AddRow("completed", "p", "tx-123", int64(1), fixedNow).
		AddRow("status", "p", "tx-123", int64(4), fixedNow)
	mock.ExpectQuery("SELECT kind, participant, tx_id, count, updated_at").
		WithArgs("tx-123").
		WillReturnRows(rows)

	records, err := s.ListCounters(context.Background(), "tx-123")
	if err != nil {
		t.Fatalf("ListCounters failed: %v", err)
	}
	if len(records) != 2 || records[1].Kind != "status" || records[1].Count != 4 {
		t.Errorf("unexpected records %+v", records)
	}
}

func TestMySQLStore_ListCounters_ScanError(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"kind", "participant", "tx_id", "count", "updated_at"}).
		AddRow("completed", "p", "tx-123", "not-a-number", fixedNow)
	mock.ExpectQuery("SELECT kind, participant, tx_id, count, updated_at").WillReturnRows(rows)

	if _, err := s.ListCounters(context.Background(), "tx-123"); !errors.Is(err, lra.ErrStoreOperationFailed) {
		t.Errorf("expected ErrStoreOperationFailed, got %v", err)
	}
}

// ============================================================================
// Idempotency Tests
// ============================================================================

func TestMySQLStore_CheckIdempotency_NotExists(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT result FROM lra_idempotency").
		WithArgs("key-123", fixedNow).
		WillReturnError(sql.ErrNoRows)

	exists, result, err := s.CheckIdempotency(context.Background(), "key-123")
	if err != nil || exists || result != nil {
		t.Errorf("expected missing record, got %v/%v/%v", exists, result, err)
	}
}

func TestMySQLStore_CheckIdempotency_Exists(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT result FROM lra_idempotency").
		WithArgs("key-123", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow([]byte("Completed")))

	exists, result, err := s.CheckIdempotency(context.Background(), "key-123")
	if err != nil || !exists || string(result) != "Completed" {
		t.Errorf("expected Completed record, got %v/%q/%v", exists, result, err)
	}
}

func TestMySQLStore_CheckIdempotency_Error(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT result FROM lra_idempotency").WillReturnError(errors.New("boom"))

	if _, _, err := s.CheckIdempotency(context.Background(), "key-123"); !errors.Is(err, lra.ErrIdempotencyCheckFailed) {
		t.Errorf("expected ErrIdempotencyCheckFailed, got %v", err)
	}
}

func TestMySQLStore_MarkIdempotency(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO lra_idempotency").
		WithArgs("key-123", []byte("Compensated"), fixedNow, fixedNow.Add(24*time.Hour)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.MarkIdempotency(context.Background(), "key-123", []byte("Compensated"), 24*time.Hour); err != nil {
		t.Errorf("MarkIdempotency failed: %v", err)
	}
	expectationsMet(t, mock)
}

func TestMySQLStore_MarkIdempotency_Error(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO lra_idempotency").WillReturnError(errors.New("read only"))

	if err := s.MarkIdempotency(context.Background(), "k", nil, time.Hour); !errors.Is(err, lra.ErrStoreOperationFailed) {
		t.Errorf("expected ErrStoreOperationFailed, got %v", err)
	}
}

func TestMySQLStore_DeleteExpiredIdempotency(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM lra_idempotency WHERE expires_at").
		WithArgs(fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 5))

	count, err := s.DeleteExpiredIdempotency(context.Background())
	if err != nil || count != 5 {
		t.Errorf("expected 5 deleted, got %d/%v", count, err)
	}
}

func TestMySQLStore_DeleteExpiredIdempotency_RowsAffectedError(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM lra_idempotency").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("no rows info")))

	if _, err := s.DeleteExpiredIdempotency(context.Background()); err == nil {
		t.Error("expected error")
	}
}

// The store plugs into the idempotency checker used by participants.
func TestMySQLStore_AsChecker(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	key := idempotency.Key("p", "tx-1", "complete")
	mock.ExpectExec("INSERT INTO lra_idempotency").
		WithArgs(key, []byte("Completed"), fixedNow, fixedNow.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	checker := idemstore.New(s)
	if err := checker.Mark(context.Background(), key, []byte("Completed"), time.Hour); err != nil {
		t.Errorf("Mark: %v", err)
	}
	expectationsMet(t, mock)
}

// ============================================================================
// Property Tests
// ============================================================================

// Only lock wait timeouts and deadlocks are retried.
func TestProperty_IsRetryable(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		code := rapid.Uint16Range(1000, 2100).Draw(rt, "code")
		err := &mysql.MySQLError{Number: code}

		want := code == 1205 || code == 1213
		if isRetryable(err) != want {
			rt.Fatalf("code %d: expected retryable=%v", code, want)
		}
		if isRetryable(errors.New("plain")) {
			rt.Fatal("plain errors are not retryable")
		}
	})
}
