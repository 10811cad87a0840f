package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/taskmesh/taskmesh/internal/types"
)

func TestFreshStoreIsFullyMigrated(t *testing.T) {
	env := newTestEnv(t)
	current, err := env.Store.CurrentVersion(env.Ctx)
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if current != SchemaVersion() {
		t.Errorf("fresh store at version %d, want %d", current, SchemaVersion())
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Store.Migrate(env.Ctx, ""); err != nil {
		t.Fatalf("repeat Migrate failed: %v", err)
	}
	current, err := env.Store.CurrentVersion(env.Ctx)
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if current != SchemaVersion() {
		t.Errorf("version drifted to %d after repeat migrate", current)
	}
}

func TestMigrateRejectsNewerDatabase(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Store.UnderlyingDB().ExecContext(env.Ctx, `
		INSERT INTO schema_migrations (version, name, applied_at)
		VALUES (?, 'from_the_future', datetime('now'))
	`, SchemaVersion()+1)
	if err != nil {
		t.Fatalf("seeding future version failed: %v", err)
	}
	if err := env.Store.Migrate(env.Ctx, ""); !errors.Is(err, types.ErrSchemaMismatch) {
		t.Errorf("got %v, want SchemaMismatch", err)
	}
}

func TestMigrateBacksUpBeforePendingWork(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.db")

	// Open skipping migrations, then roll the bookkeeping back so the store
	// looks partially migrated.
	store, err := New(ctx, path, Options{SkipMigrations: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx, ""); err != nil {
		t.Fatalf("initial migrate failed: %v", err)
	}
	if _, err := store.UnderlyingDB().ExecContext(ctx,
		`DELETE FROM schema_migrations WHERE version > 1`); err != nil {
		t.Fatalf("resetting versions failed: %v", err)
	}

	backups := filepath.Join(dir, "backups")
	if err := store.Migrate(ctx, backups); err != nil {
		t.Fatalf("Migrate with backup failed: %v", err)
	}

	entries, err := os.ReadDir(backups)
	if err != nil {
		t.Fatalf("reading backup dir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d backup files, want 1", len(entries))
	}
	current, err := store.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if current != SchemaVersion() {
		t.Errorf("version = %d after migrate, want %d", current, SchemaVersion())
	}
}
