package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/taskmesh/taskmesh/internal/types"
)

// migration is one schema change. Statements must be idempotent so a
// crash between apply and bookkeeping is safe to replay.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

// migrations run in order. Append only; never renumber.
var migrations = []migration{
	{
		version: 1,
		name:    "baseline",
		// The baseline schema is created by the schema constant. This entry
		// exists so version bookkeeping starts at 1.
		apply: func(ctx context.Context, tx *sql.Tx) error { return nil },
	},
	{
		version: 2,
		name:    "tasks_updated_at_index",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`CREATE INDEX IF NOT EXISTS idx_tasks_updated_at ON tasks(updated_at)`)
			return err
		},
	},
	{
		version: 3,
		name:    "notifications_created_at_index",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at)`)
			return err
		},
	},
}

// SchemaVersion is the version a fully migrated database reports.
func SchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// CurrentVersion reads the highest applied migration version, 0 for a fresh
// database.
func (s *Store) CurrentVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

// Migrate brings the database up to the latest schema version. A database
// ahead of this binary fails with SchemaMismatch rather than being touched.
// When backupDir is set and migrations are pending, the database file is
// copied there first.
func (s *Store) Migrate(ctx context.Context, backupDir string) error {
	current, err := s.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	latest := SchemaVersion()
	if current > latest {
		return fmt.Errorf("%w: database at schema version %d, this build understands up to %d",
			types.ErrSchemaMismatch, current, latest)
	}
	if current == latest {
		return nil
	}

	if backupDir != "" && current > 0 {
		if err := s.backupFile(backupDir); err != nil {
			return err
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := m.apply(ctx, tx); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)
		ON CONFLICT(version) DO NOTHING
	`, m.version, m.name, s.now())
	if err != nil {
		return err
	}
	return tx.Commit()
}

// backupFile copies the database file into dir with a timestamped name.
func (s *Store) backupFile(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup dir: %w", err)
	}
	src, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open database for backup: %w", err)
	}
	defer func() { _ = src.Close() }()

	name := fmt.Sprintf("tasks-%s.db", time.Now().UTC().Format("20060102-150405"))
	dstPath := filepath.Join(dir, name)
	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dstPath)
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close backup: %w", err)
	}
	return nil
}
