// Package engine is the coordination core: it wires the workspace lock,
// enforcement gate, hook pipeline, store, context channels and telemetry
// into the operation set consumed by the CLI and library facade.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskmesh/taskmesh/internal/agent"
	"github.com/taskmesh/taskmesh/internal/channels"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/enforce"
	"github.com/taskmesh/taskmesh/internal/hooks"
	"github.com/taskmesh/taskmesh/internal/lock"
	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/storage/sqlite"
	"github.com/taskmesh/taskmesh/internal/telemetry"
	"github.com/taskmesh/taskmesh/internal/types"
	"github.com/taskmesh/taskmesh/internal/workspace"
)

// Engine coordinates all operations on one workspace. Construct with Open;
// an Engine is not safe for concurrent use within a process, matching the
// one-mutation-at-a-time model.
type Engine struct {
	ws       *workspace.Workspace
	store    storage.Storage
	sqlStore *sqlite.Store
	lock     *lock.Lock
	gate     *enforce.Gate
	hooks    *hooks.Runner
	channels *channels.Channels
	tele     *telemetry.Recorder
	log      *slog.Logger
	agentID  string
}

// Options configures Open.
type Options struct {
	// Root overrides workspace resolution; empty means resolve from the
	// environment and working directory.
	Root string
	// AgentID overrides agent identity resolution.
	AgentID string
	// Log receives structured diagnostics. Defaults to slog.Default().
	Log *slog.Logger
}

// Init creates the workspace state tree and an empty store. Idempotent.
func Init(ctx context.Context, root string) error {
	ws, err := resolveWorkspace(root)
	if err != nil {
		return err
	}
	if err := ws.Init(); err != nil {
		return err
	}
	store, err := sqlite.New(ctx, ws.DBPath(), sqlite.Options{BackupDir: ws.BackupsDir()})
	if err != nil {
		return err
	}
	return store.Close()
}

// Open binds an engine to an initialized workspace.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	ws, err := resolveWorkspace(opts.Root)
	if err != nil {
		return nil, err
	}
	if !ws.Initialized() {
		return nil, fmt.Errorf("%w: workspace %s is not initialized, run init", types.ErrWorkspace, ws.Root)
	}
	if err := config.Initialize(ws.ConfigFilePath()); err != nil {
		return nil, err
	}

	agentID, err := agent.Resolve(opts.AgentID)
	if err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	store, err := sqlite.New(ctx, ws.DBPath(), sqlite.Options{
		BusyBudget: config.BusyTimeout(),
		BackupDir:  ws.BackupsDir(),
	})
	if err != nil {
		return nil, err
	}

	gate := enforce.New(ws, log)
	e := &Engine{
		ws:       ws,
		store:    store,
		sqlStore: store,
		lock:     lock.New(ws.LockPath(), config.LockTimeout()),
		gate:     gate,
		hooks: hooks.NewRunner(ws.HooksDir(), ws.Root, config.HookTimeout(),
			gate.Mode() == enforce.ModeStrict, log),
		channels: channels.New(ws),
		tele:     telemetry.NewRecorder(ws.TelemetryLogPath(), ws.Root, log),
		log:      log,
		agentID:  agentID,
	}
	return e, nil
}

func resolveWorkspace(root string) (*workspace.Workspace, error) {
	if root != "" {
		return workspace.At(root), nil
	}
	return workspace.Resolve()
}

// Close releases the store. The lock is never held between operations.
func (e *Engine) Close() error {
	return e.store.Close()
}

// AgentID returns the resolved agent identity.
func (e *Engine) AgentID() string {
	return e.agentID
}

// Workspace returns the bound workspace.
func (e *Engine) Workspace() *workspace.Workspace {
	return e.ws
}

// HookStats returns aggregated hook execution timing.
func (e *Engine) HookStats() map[string]hooks.Stats {
	return e.hooks.Stats()
}

// mutation describes one gated write for the pipeline.
type mutation struct {
	op           string
	taskID       string
	createsTasks bool
	hasIntent    bool
	confirm      bool
	// hookTask is the task snapshot passed to hooks; may be nil.
	hookTask  *types.Task
	hookInput any
	// skipHooks omits pre/post hooks for operations outside the hook
	// operation set.
	skipHooks bool
	// run executes the store work under the lock, after gate and pre-hooks.
	run func(ctx context.Context) error
	// after runs while still holding the lock, for channel writes and event
	// hooks that must observe the committed mutation.
	after func(ctx context.Context)
}

// mutate runs the full pipeline: exclusive lock, enforcement gate, pre-hook,
// store work, channel writes, post-hook, telemetry.
func (e *Engine) mutate(ctx context.Context, m mutation) error {
	start := time.Now()
	err := e.mutateLocked(ctx, m)
	e.tele.Record(e.agentID, m.op, m.taskID, time.Since(start), err)
	return err
}

func (e *Engine) mutateLocked(ctx context.Context, m mutation) error {
	release, err := e.lock.Exclusive(ctx)
	if err != nil {
		return err
	}
	defer release()

	if _, err := e.gate.Check(enforce.Request{
		Operation:    m.op,
		AgentID:      e.agentID,
		CreatesTasks: m.createsTasks,
		HasIntent:    m.hasIntent,
		Confirm:      m.confirm,
	}); err != nil {
		return err
	}

	payload := e.hookPayload(m.op, m.hookTask, m.hookInput)
	if !m.skipHooks {
		if err := e.hooks.RunPre(ctx, m.op, payload); err != nil {
			return err
		}
	}

	if err := m.run(ctx); err != nil {
		return err
	}
	if m.after != nil {
		m.after(ctx)
	}
	if !m.skipHooks {
		e.hooks.RunPost(ctx, m.op, payload)
	}
	return nil
}

// read runs fn under the shared lock and records telemetry.
func (e *Engine) read(ctx context.Context, op, taskID string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := e.readLocked(ctx, fn)
	e.tele.Record(e.agentID, op, taskID, time.Since(start), err)
	return err
}

func (e *Engine) readLocked(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := e.lock.Shared(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// timeFormat renders timestamps in payloads returned to callers.
const timeFormat = time.RFC3339

func nowUTC() time.Time {
	return time.Now().UTC()
}

// writeBroadcast mirrors a notification row to the broadcast log. Best
// effort: the store row is the source of truth.
func (e *Engine) writeBroadcast(n *types.Notification) {
	if err := e.channels.WriteBroadcast(n); err != nil {
		e.log.Warn("broadcast log write failed", "error", err)
	}
}

func (e *Engine) hookPayload(op string, task *types.Task, input any) *hooks.Payload {
	p := &hooks.Payload{
		Operation: &op,
		Workspace: e.ws.Root,
		Agent:     &e.agentID,
		Task:      task,
		Input:     input,
	}
	return p
}
