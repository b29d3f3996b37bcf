package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jassus213/go-lockout/ratelimiter"
)

// Supported SQL dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

const createAttemptTableSQL = `
CREATE TABLE IF NOT EXISTS attempt_records (
    policy VARCHAR(64) NOT NULL,
    principal VARCHAR(255) NOT NULL,
    day_start BIGINT NOT NULL,
    attempt_count INTEGER NOT NULL DEFAULT 0,
    last_attempt BIGINT NOT NULL DEFAULT 0,
    is_blocked SMALLINT NOT NULL DEFAULT 0,
    blocked_until BIGINT NOT NULL DEFAULT 0,
    label VARCHAR(255) NOT NULL DEFAULT '',
    PRIMARY KEY (policy, principal, day_start)%s
)`

const createAttemptIndexSQL = `CREATE INDEX IF NOT EXISTS idx_attempt_records_day ON attempt_records(day_start)`

const selectAttemptSQL = `SELECT attempt_count, last_attempt, is_blocked, blocked_until, label FROM attempt_records`

// SQLStore is a database/sql implementation of ratelimiter.Store.
// It supports SQLite, PostgreSQL and MySQL. Timestamps are stored as Unix milliseconds.
//
// Increment runs in a transaction and locks the row on PostgreSQL and MySQL. With SQLite,
// open the database with _txlock=immediate or a single connection so writers serialize.
type SQLStore struct {
	db      *sql.DB
	dialect string
	logger  ratelimiter.Logger
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithLogger sets the logger used by the background cleanup. Defaults to ratelimiter.NopLogger.
func WithLogger(logger ratelimiter.Logger) SQLOption {
	return func(s *SQLStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSQL creates a SQL-backed store and ensures its schema exists.
// Supported dialects: "sqlite", "postgres", "mysql".
//
// ctx bounds the background cleanup goroutine; pass cleanupInterval 0 to disable it.
// The store does not close db.
func NewSQL(ctx context.Context, db *sql.DB, dialect string, cleanupInterval time.Duration, opts ...SQLOption) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}

	switch dialect {
	case DialectSQLite, DialectPostgres, DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres, mysql)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect, logger: ratelimiter.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cleanupInterval > 0 {
		go s.runCleanup(ctx, cleanupInterval)
	}

	return s, nil
}

// Dialect returns the SQL dialect.
func (s *SQLStore) Dialect() string {
	return s.dialect
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// MySQL has no CREATE INDEX IF NOT EXISTS, so the index goes inline.
	if s.dialect == DialectMySQL {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(createAttemptTableSQL, ",\n    INDEX idx_attempt_records_day (day_start)"))
		if err != nil {
			return fmt.Errorf("failed to create attempt_records table: %w", err)
		}
		return nil
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(createAttemptTableSQL, "")); err != nil {
		return fmt.Errorf("failed to create attempt_records table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createAttemptIndexSQL); err != nil {
		return fmt.Errorf("failed to create attempt_records index: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) find(ctx context.Context, q queryRower, key ratelimiter.Key, forUpdate bool) (*ratelimiter.AttemptRecord, error) {
	query := selectAttemptSQL + ` WHERE policy = ? AND principal = ? AND day_start = ?`
	if forUpdate && s.dialect != DialectSQLite {
		query += ` FOR UPDATE`
	}

	var (
		count       int
		last, until int64
		blocked     int
		label       string
	)
	err := q.QueryRowContext(ctx, s.rebind(query), key.Policy, key.Principal, key.Day.UnixMilli()).
		Scan(&count, &last, &blocked, &until, &label)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query attempt record: %w", err)
	}

	rec := sqlRecord(key.Policy, key.Principal, key.Day, count, last, blocked, until, label)
	return &rec, nil
}

// Find returns the record stored under key.
func (s *SQLStore) Find(ctx context.Context, key ratelimiter.Key) (*ratelimiter.AttemptRecord, error) {
	return s.find(ctx, s.db, key, false)
}

// Upsert creates or replaces the record matching rec.Key().
func (s *SQLStore) Upsert(ctx context.Context, rec ratelimiter.AttemptRecord) error {
	var query string
	switch s.dialect {
	case DialectMySQL:
		query = `
			INSERT INTO attempt_records (policy, principal, day_start, attempt_count, last_attempt, is_blocked, blocked_until, label)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE attempt_count = VALUES(attempt_count), last_attempt = VALUES(last_attempt),
				is_blocked = VALUES(is_blocked), blocked_until = VALUES(blocked_until), label = VALUES(label)
		`
	default:
		query = `
			INSERT INTO attempt_records (policy, principal, day_start, attempt_count, last_attempt, is_blocked, blocked_until, label)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (policy, principal, day_start)
			DO UPDATE SET attempt_count = EXCLUDED.attempt_count, last_attempt = EXCLUDED.last_attempt,
				is_blocked = EXCLUDED.is_blocked, blocked_until = EXCLUDED.blocked_until, label = EXCLUDED.label
		`
	}

	_, err := s.db.ExecContext(ctx, s.rebind(query), sqlArgs(rec)...)
	if err != nil {
		return fmt.Errorf("failed to upsert attempt record: %w", err)
	}
	return nil
}

// Increment applies one attempt inside a transaction.
func (s *SQLStore) Increment(ctx context.Context, key ratelimiter.Key, now time.Time, p ratelimiter.Policy, label string) (ratelimiter.AttemptRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ratelimiter.AttemptRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var insert string
	switch s.dialect {
	case DialectSQLite:
		insert = `INSERT OR IGNORE INTO attempt_records (policy, principal, day_start) VALUES (?, ?, ?)`
	case DialectMySQL:
		insert = `INSERT IGNORE INTO attempt_records (policy, principal, day_start) VALUES (?, ?, ?)`
	default:
		insert = `INSERT INTO attempt_records (policy, principal, day_start) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	}
	if _, err := tx.ExecContext(ctx, s.rebind(insert), key.Policy, key.Principal, key.Day.UnixMilli()); err != nil {
		return ratelimiter.AttemptRecord{}, fmt.Errorf("failed to create attempt record: %w", err)
	}

	rec, err := s.find(ctx, tx, key, true)
	if err != nil {
		return ratelimiter.AttemptRecord{}, err
	}
	if rec == nil {
		return ratelimiter.AttemptRecord{}, errors.New("attempt record vanished inside transaction")
	}

	rec.Apply(time.UnixMilli(now.UnixMilli()), p, label)

	update := `
		UPDATE attempt_records
		SET attempt_count = ?, last_attempt = ?, is_blocked = ?, blocked_until = ?, label = ?
		WHERE policy = ? AND principal = ? AND day_start = ?
	`
	_, err = tx.ExecContext(ctx, s.rebind(update),
		rec.AttemptCount, msOrZero(rec.LastAttempt), boolInt(rec.IsBlocked), msOrZero(rec.BlockedUntil), rec.Label,
		key.Policy, key.Principal, key.Day.UnixMilli())
	if err != nil {
		return ratelimiter.AttemptRecord{}, fmt.Errorf("failed to update attempt record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ratelimiter.AttemptRecord{}, fmt.Errorf("failed to commit attempt: %w", err)
	}
	return *rec, nil
}

const clearAttemptSQL = `UPDATE attempt_records SET attempt_count = 0, is_blocked = 0, blocked_until = 0`

// ResetDay clears every row matching key.
func (s *SQLStore) ResetDay(ctx context.Context, key ratelimiter.Key) error {
	query := clearAttemptSQL + ` WHERE policy = ? AND principal = ? AND day_start = ?`
	if _, err := s.db.ExecContext(ctx, s.rebind(query), key.Policy, key.Principal, key.Day.UnixMilli()); err != nil {
		return fmt.Errorf("failed to reset attempt record: %w", err)
	}
	return nil
}

// BulkReset clears every row of principal under policy.
func (s *SQLStore) BulkReset(ctx context.Context, policy, principal string) error {
	query := clearAttemptSQL + ` WHERE policy = ? AND principal = ?`
	if _, err := s.db.ExecContext(ctx, s.rebind(query), policy, principal); err != nil {
		return fmt.Errorf("failed to reset attempt records: %w", err)
	}
	return nil
}

// ListBlocked returns the rows of day under policy that are blocked at now.
func (s *SQLStore) ListBlocked(ctx context.Context, policy string, day, now time.Time) ([]ratelimiter.AttemptRecord, error) {
	query := `SELECT principal, attempt_count, last_attempt, is_blocked, blocked_until, label FROM attempt_records
		WHERE policy = ? AND day_start = ? AND is_blocked = 1 AND blocked_until > ?
		ORDER BY blocked_until`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), policy, day.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query blocked records: %w", err)
	}
	defer rows.Close()

	var out []ratelimiter.AttemptRecord
	for rows.Next() {
		var (
			principal, label string
			count, blocked   int
			last, until      int64
		)
		if err := rows.Scan(&principal, &count, &last, &blocked, &until, &label); err != nil {
			return nil, fmt.Errorf("failed to scan blocked record: %w", err)
		}
		out = append(out, sqlRecord(policy, principal, day, count, last, blocked, until, label))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate blocked records: %w", err)
	}
	return out, nil
}

// Purge deletes rows whose day started before the given time.
func (s *SQLStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM attempt_records WHERE day_start < ?`), before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// runCleanup periodically removes rows older than Retention. Failed purges are retried on the next tick.
func (s *SQLStore) runCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(ctx, time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (s *SQLStore) cleanup(ctx context.Context, now time.Time) {
	n, err := s.Purge(ctx, now.Add(-Retention))
	if err != nil {
		s.logger.Warnf("ratelimit: sql cleanup failed: %v", err)
		return
	}
	s.logger.Debugf("ratelimit: sql cleanup removed %d records", n)
}

func sqlRecord(policy, principal string, day time.Time, count int, last int64, blocked int, until int64, label string) ratelimiter.AttemptRecord {
	rec := ratelimiter.AttemptRecord{
		Policy:       policy,
		Principal:    principal,
		Day:          day,
		AttemptCount: count,
		IsBlocked:    blocked == 1,
		Label:        label,
	}
	if last > 0 {
		rec.LastAttempt = time.UnixMilli(last)
	}
	if until > 0 {
		rec.BlockedUntil = time.UnixMilli(until)
	}
	return rec
}

func sqlArgs(rec ratelimiter.AttemptRecord) []any {
	return []any{
		rec.Policy, rec.Principal, rec.Day.UnixMilli(),
		rec.AttemptCount, msOrZero(rec.LastAttempt), boolInt(rec.IsBlocked), msOrZero(rec.BlockedUntil), rec.Label,
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
