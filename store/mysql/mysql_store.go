// Package mysql provides a MySQL implementation of the store.Store interface.
package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"lra"
	"lra/recorder"
	"lra/store"
)

//go:embed schema.sql
var schema string

// MySQLStore implements the store.Store interface using MySQL.
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// Ensure MySQLStore implements store.Store interface.
var _ store.Store = (*MySQLStore)(nil)

// New creates a new MySQLStore with the given database connection.
func New(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

// Open connects to the database named by dsn. Time values are always parsed
// so DATETIME columns scan into time.Time.
func Open(dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("create mysql connector: %w", err)
	}
	return New(sql.OpenDB(connector)), nil
}

// DB returns the underlying connection pool.
func (s *MySQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// Migrate creates the participant tables when missing.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %v", lra.ErrStoreOperationFailed, err)
		}
	}
	return nil
}

// ============================================================================
// Counter Operations
// ============================================================================

// Increment adds one to a participant event counter, creating it on first use.
func (s *MySQLStore) Increment(ctx context.Context, kind recorder.Kind, txID, participant string) error {
	if err := (recorder.Key{Kind: kind, TxID: txID, Participant: participant}).Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO lra_participant_counters (kind, participant, tx_id, count, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON DUPLICATE KEY UPDATE count = count + 1, updated_at = VALUES(updated_at)
	`

	err := s.execRetry(ctx, query, kind.String(), participant, txID, s.now())
	if err != nil {
		return fmt.Errorf("%w: increment %s counter: %v", lra.ErrStoreOperationFailed, kind, err)
	}
	return nil
}

// Get returns a participant event counter, zero when it was never incremented.
func (s *MySQLStore) Get(ctx context.Context, kind recorder.Kind, txID, participant string) (int64, error) {
	if err := (recorder.Key{Kind: kind, TxID: txID, Participant: participant}).Validate(); err != nil {
		return 0, err
	}

	query := `
		SELECT count FROM lra_participant_counters
		WHERE kind = ? AND participant = ? AND tx_id = ?
	`

	var count int64
	err := s.db.QueryRowContext(ctx, query, kind.String(), participant, txID).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: get %s counter: %v", lra.ErrStoreOperationFailed, kind, err)
	}
	return count, nil
}

// ListCounters returns every counter kept for a transaction, ordered by
// participant then kind.
func (s *MySQLStore) ListCounters(ctx context.Context, txID string) ([]*store.CounterRecord, error) {
	query := `
		SELECT kind, participant, tx_id, count, updated_at
		FROM lra_participant_counters
		WHERE tx_id = ?
		ORDER BY participant, kind
	`

	rows, err := s.db.QueryContext(ctx, query, txID)
	if err != nil {
		return nil, fmt.Errorf("%w: list counters: %v", lra.ErrStoreOperationFailed, err)
	}
	defer rows.Close()

	var records []*store.CounterRecord
	for rows.Next() {
		r := &store.CounterRecord{}
		if err := rows.Scan(&r.Kind, &r.Participant, &r.TxID, &r.Count, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan counter: %v", lra.ErrStoreOperationFailed, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate counters: %v", lra.ErrStoreOperationFailed, err)
	}
	return records, nil
}

// ============================================================================
// Idempotency Operations
// ============================================================================

// CheckIdempotency reports whether an unexpired outcome was recorded under key.
func (s *MySQLStore) CheckIdempotency(ctx context.Context, key string) (bool, []byte, error) {
	query := `
		SELECT result FROM lra_idempotency
		WHERE idempotency_key = ? AND expires_at > ?
	`

	var result []byte
	err := s.db.QueryRowContext(ctx, query, key, s.now()).Scan(&result)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("%w: check idempotency: %v", lra.ErrIdempotencyCheckFailed, err)
	}

	return true, result, nil
}

// MarkIdempotency records the outcome for key. A second mark replaces the
// result and extends the expiry.
func (s *MySQLStore) MarkIdempotency(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	query := `
		INSERT INTO lra_idempotency (idempotency_key, result, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE result = VALUES(result), expires_at = VALUES(expires_at)
	`

	now := s.now()
	_, err := s.db.ExecContext(ctx, query, key, result, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("%w: mark idempotency: %v", lra.ErrStoreOperationFailed, err)
	}

	return nil
}

// DeleteExpiredIdempotency removes expired idempotency records.
func (s *MySQLStore) DeleteExpiredIdempotency(ctx context.Context) (int64, error) {
	query := `DELETE FROM lra_idempotency WHERE expires_at < ?`

	result, err := s.db.ExecContext(ctx, query, s.now())
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired idempotency: %v", lra.ErrStoreOperationFailed, err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return count, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

// maxAttempts bounds execRetry.
const maxAttempts = 3

// execRetry runs a statement, retrying when InnoDB rolled it back.
// Concurrent upserts of one counter row can deadlock under gap locks.
func (s *MySQLStore) execRetry(ctx context.Context, query string, args ...any) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if _, err = s.db.ExecContext(ctx, query, args...); err == nil || !isRetryable(err) {
			return err
		}
	}
	return err
}

// isRetryable reports whether err is a lock wait timeout (1205) or a
// deadlock (1213).
func isRetryable(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1205 || mysqlErr.Number == 1213
	}
	return false
}
