// Package sqlite implements the task storage backend on an embedded SQLite
// database with WAL journaling and foreign keys enforced.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/types"
)

// Busy retry policy: exponential backoff starting at 10ms, capped at 1s,
// within an overall budget supplied at open (default 30s).
const (
	busyBackoffStart = 10 * time.Millisecond
	busyBackoffCap   = time.Second
)

// Store is the SQLite-backed storage implementation.
type Store struct {
	db   *sql.DB
	path string

	busyBudget time.Duration

	// clock guard: timestamps are strictly monotonic within a process so
	// created_at/updated_at reflect mutation order.
	clockMu sync.Mutex
	lastTS  time.Time
}

var _ storage.Storage = (*Store)(nil)

// Options configures opening a store.
type Options struct {
	// BusyBudget is the total retry budget for lock contention.
	BusyBudget time.Duration
	// BackupDir receives a database snapshot before migrations run.
	BackupDir string
	// SkipMigrations opens the store without running migrations
	// (used by the migrate operation itself and by repair tooling).
	SkipMigrations bool
}

// New opens (creating if necessary) the store at path and brings the schema
// up to date.
func New(ctx context.Context, path string, opts Options) (*Store, error) {
	if opts.BusyBudget <= 0 {
		opts.BusyBudget = 30 * time.Second
	}
	busyMs := int64(opts.BusyBudget / time.Millisecond)
	// _txlock=immediate acquires the write lock at BEGIN so concurrent
	// writers serialize instead of deadlocking at commit.
	connStr := fmt.Sprintf(
		"file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_time_format=sqlite",
		path, busyMs)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes statements within the process; cross-
	// process serialization is the workspace lock's job.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, busyBudget: opts.BusyBudget}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// The driver creates the file with default permissions; the workspace
	// layout wants it group read-write.
	if err := os.Chmod(path, 0660); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to set store permissions: %v", types.ErrWorkspace, err)
	}
	if !opts.SkipMigrations {
		if err := s.Migrate(ctx, opts.BackupDir); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// now returns a UTC timestamp that is strictly greater than any timestamp
// previously returned by this store.
func (s *Store) now() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	t := time.Now().UTC()
	if !t.After(s.lastTS) {
		t = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = t
	return t
}

// isBusyError reports whether err is SQLite lock contention.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

// tx adapts *sql.Tx to the storage.Transaction interface.
type tx struct {
	s  *Store
	tx *sql.Tx
}

var _ storage.Transaction = (*tx)(nil)

// RunInTransaction executes fn inside a single transaction, retrying the
// whole unit on lock contention within the busy budget.
func (s *Store) RunInTransaction(ctx context.Context, fn func(t storage.Transaction) error) error {
	deadline := time.Now().Add(s.busyBudget)
	backoff := busyBackoffStart
	for {
		err := s.runOnce(ctx, fn)
		if !isBusyError(err) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: store busy after %s: %v", types.ErrBusy, s.busyBudget, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > busyBackoffCap {
			backoff = busyBackoffCap
		}
	}
}

func (s *Store) runOnce(ctx context.Context, fn func(t storage.Transaction) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(&tx{s: s, tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Integrity runs PRAGMA quick_check and fails with Corrupt on any finding.
func (s *Store) Integrity(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check(1)").Scan(&result); err != nil {
		return fmt.Errorf("%w: integrity check failed: %v", types.ErrCorrupt, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: %s", types.ErrCorrupt, result)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// UnderlyingDB returns the raw connection. Migrations and tests only.
func (s *Store) UnderlyingDB() *sql.DB {
	return s.db
}

// SetConfig stores a runtime setting.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}

// GetConfig reads a runtime setting; empty string if unset.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config %s: %w", key, err)
	}
	return value, nil
}
