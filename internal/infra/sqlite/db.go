// Package sqlite provides the persistence layer for the autopilot engine:
// work items, the two-tier credit ledger, and scheduled posts.
//
// All multi-statement mutations run inside BEGIN IMMEDIATE transactions so
// read-then-write sequences (claim, deduct) are atomic under concurrent
// ticks. Timestamps are stored as RFC3339 strings.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DB wraps the SQLite connection.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the engine database under dir and applies all
// migrations.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	path := filepath.Join(dir, "autopress.db")

	// WAL for concurrent readers during a tick; busy_timeout so overlapping
	// ticks wait for the write lock instead of failing immediately.
	// _txlock=immediate makes sql.Tx take the write lock at BEGIN, so a
	// read inside a transaction cannot be invalidated by a concurrent writer.
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY on overlapping write transactions.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	db := &DB{db: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.db.Close() }

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Schedulable content units
		`CREATE TABLE IF NOT EXISTS work_items (
			id                 TEXT PRIMARY KEY,
			owner_id           TEXT NOT NULL,
			topic              TEXT NOT NULL,
			payload            TEXT NOT NULL DEFAULT '',
			recurrence_enabled INTEGER NOT NULL DEFAULT 0,
			frequency          TEXT NOT NULL DEFAULT 'weekly',
			next_run_at        TEXT,
			status             TEXT NOT NULL DEFAULT 'idea',
			retry_count        INTEGER NOT NULL DEFAULT 0,
			last_error         TEXT NOT NULL DEFAULT '',
			artifact_json      TEXT,
			remote_id          TEXT NOT NULL DEFAULT '',
			remote_url         TEXT NOT NULL DEFAULT '',
			created_at         TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at         TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_due ON work_items(recurrence_enabled, status, next_run_at)`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_owner ON work_items(owner_id)`,

		// Per-owner two-tier credit balances
		`CREATE TABLE IF NOT EXISTS credit_accounts (
			owner_id             TEXT PRIMARY KEY,
			subscription_balance INTEGER NOT NULL DEFAULT 0,
			top_up_balance       INTEGER NOT NULL DEFAULT 0,
			unlimited            INTEGER NOT NULL DEFAULT 0,
			lifetime_used        INTEGER NOT NULL DEFAULT 0,
			lifetime_purchased   INTEGER NOT NULL DEFAULT 0,
			updated_at           TEXT NOT NULL DEFAULT (datetime('now')),
			CHECK (subscription_balance >= 0),
			CHECK (top_up_balance >= 0)
		)`,

		// Append-only ledger; reconstructs balances by summing amount
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id            TEXT PRIMARY KEY,
			account_id    TEXT NOT NULL REFERENCES credit_accounts(owner_id),
			amount        INTEGER NOT NULL,
			reason        TEXT NOT NULL,
			balance_after INTEGER NOT NULL,
			created_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_tx_account ON credit_transactions(account_id, created_at)`,

		// Pre-generated posts gated on scheduled_for
		`CREATE TABLE IF NOT EXISTS scheduled_posts (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			artifact_json TEXT NOT NULL,
			scheduled_for TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'scheduled',
			retry_count   INTEGER NOT NULL DEFAULT 0,
			last_error    TEXT NOT NULL DEFAULT '',
			remote_id     TEXT NOT NULL DEFAULT '',
			remote_url    TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_due ON scheduled_posts(status, scheduled_for)`,
	}
}

func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Rows created via datetime('now') defaults use SQLite's format.
		t, _ = time.Parse("2006-01-02 15:04:05", s)
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
