// Package store implements the persistence contract of section 4.1: durable
// storage for Tasks, Thoughts, Correlations and scheduled/deferred records,
// backed by SQLite the way the rest of this codebase's lineage does it —
// WAL mode, busy-retry with backoff, and a small versioned migration ledger.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersion  = 2
	schemaChecksum = "agentd-v2-core-schema"
)

// Store is the single source of truth for Task/Thought/Correlation state.
// All writers use it transactionally per operation; no cross-op transactions
// are required by the contract (spec section 5).
type Store struct {
	db *sql.DB
}

// Open creates or attaches to a SQLite database at path and brings its
// schema up to date.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer SQLite; serializes writers, matches WAL reader concurrency model.

	s := &Store{db: db}
	if err := s.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) configurePragmas(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `PRAGMA synchronous=FULL;`)
	return err
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_meta (
			version INTEGER NOT NULL,
			checksum TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create schema_meta: %w", err)
	}

	var version int
	var checksum string
	row := tx.QueryRowContext(ctx, `SELECT version, checksum FROM schema_meta LIMIT 1;`)
	switch err := row.Scan(&version, &checksum); {
	case err == sql.ErrNoRows:
		if err := applySchema(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_meta (version, checksum) VALUES (?, ?);`, schemaVersion, schemaChecksum); err != nil {
			return fmt.Errorf("record schema_meta: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema_meta: %w", err)
	default:
		if version != schemaVersion || checksum != schemaChecksum {
			return fmt.Errorf("schema mismatch: on-disk version=%d checksum=%s, expected version=%d checksum=%s", version, checksum, schemaVersion, schemaChecksum)
		}
	}

	return tx.Commit()
}

var tableStatements = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		task_id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		parent_task_id TEXT,
		status TEXT NOT NULL,
		context_author_name TEXT,
		context_author_id TEXT,
		context_channel_id TEXT,
		context_origin_service TEXT,
		context_extras_json TEXT NOT NULL DEFAULT '{}',
		outcome TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status_priority ON tasks(status, priority DESC, created_at ASC);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);`,

	`CREATE TABLE IF NOT EXISTS thoughts (
		thought_id TEXT PRIMARY KEY,
		source_task_id TEXT NOT NULL REFERENCES tasks(task_id),
		parent_thought_id TEXT,
		thought_type TEXT NOT NULL,
		content TEXT NOT NULL,
		context_json TEXT NOT NULL DEFAULT '{}',
		priority INTEGER NOT NULL DEFAULT 0,
		round_number INTEGER NOT NULL DEFAULT 0,
		round_processed INTEGER,
		ponder_count INTEGER NOT NULL DEFAULT 0,
		ponder_notes_json TEXT NOT NULL DEFAULT '[]',
		final_action_json TEXT,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_thoughts_task ON thoughts(source_task_id);`,
	`CREATE INDEX IF NOT EXISTS idx_thoughts_status ON thoughts(status);`,

	`CREATE TABLE IF NOT EXISTS correlations (
		correlation_id TEXT PRIMARY KEY,
		service_type TEXT NOT NULL,
		handler_name TEXT NOT NULL,
		action_type TEXT NOT NULL,
		request_data TEXT NOT NULL,
		response_data TEXT,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS scheduled_tasks (
		task_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		goal_description TEXT NOT NULL,
		status TEXT NOT NULL,
		trigger_prompt TEXT NOT NULL,
		origin_thought_id TEXT,
		parent_task_id TEXT NOT NULL REFERENCES tasks(task_id),
		defer_until TIMESTAMP,
		schedule_cron TEXT,
		last_triggered_at TIMESTAMP,
		deferral_count INTEGER NOT NULL DEFAULT 0,
		deferral_history_json TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_status ON scheduled_tasks(status);`,

	`CREATE TABLE IF NOT EXISTS deferral_reports (
		message_id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		thought_id TEXT NOT NULL,
		package_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS memory_entries (
		scope TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (scope, key)
	);`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id TEXT,
		subject TEXT,
		action TEXT NOT NULL,
		decision TEXT NOT NULL,
		reason TEXT,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_subject ON audit_log(subject);`,

	`CREATE TABLE IF NOT EXISTS filter_triggers (
		pattern TEXT PRIMARY KEY,
		priority TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);`,
}

func applySchema(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range tableStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using bounded
// exponential backoff with jitter. Transient failures here surface to the
// caller as PersistenceTransientError (section 7) once retries are exhausted.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return newTransientError(err)
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay/2) + 1))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "database is locked", "SQLITE_BUSY", "SQLITE_LOCKED")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(sub) <= len(s) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}
