// Package taskmesh provides a minimal public API for embedding the task
// coordination engine in other Go programs.
//
// Most integrations should use the tm command-line tool. This package
// exports only the essential types and entry points for programs that want
// to drive the engine directly: open a workspace, run operations, and
// classify errors with the sentinel values in the types package.
package taskmesh

import (
	"context"

	"github.com/taskmesh/taskmesh/internal/engine"
	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/storage/sqlite"
	"github.com/taskmesh/taskmesh/internal/workspace"
)

// Engine coordinates all operations on one workspace.
type Engine = engine.Engine

// Options configures Open.
type Options = engine.Options

// Storage is the interface over the task store, for callers that want raw
// store access without the enforcement and hook pipeline.
type Storage = storage.Storage

// Transaction provides atomic multi-operation support within a store
// transaction. Use Storage.RunInTransaction to obtain one.
type Transaction = storage.Transaction

// Init creates the workspace state tree at root (or the resolved workspace
// when root is empty). Idempotent.
func Init(ctx context.Context, root string) error {
	return engine.Init(ctx, root)
}

// Open binds an engine to an initialized workspace.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	return engine.Open(ctx, opts)
}

// OpenStorage opens the raw SQLite store at dbPath, bypassing the engine
// pipeline. The caller is responsible for workspace locking.
func OpenStorage(ctx context.Context, dbPath string) (Storage, error) {
	return sqlite.New(ctx, dbPath, sqlite.Options{})
}

// StateDirName is the workspace state directory name.
const StateDirName = workspace.StateDirName
