// Package workspace resolves the active workspace root and manages the
// .task-orchestrator state directory tree.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/taskmesh/taskmesh/internal/types"
)

// StateDirName is the name of the state directory under the workspace root.
const StateDirName = ".task-orchestrator"

// Well-known entries inside the state directory.
const (
	DBFileName        = "tasks.db"
	LockFileName      = ".lock"
	ContextsDirName   = "contexts"
	NotesDirName      = "notes"
	NotifyDirName     = "notifications"
	ArchivesDirName   = "archives"
	BackupsDirName    = "backups"
	LogsDirName       = "logs"
	TelemetryDirName  = "telemetry"
	ConfigDirName     = "config"
	HooksDirName      = "hooks"
	BroadcastLogName  = "broadcast.log"
	TelemetryLogName  = "events.log"
	ConfigFileName    = "config.json"
)

// Workspace is a resolved workspace root plus its state directory.
type Workspace struct {
	Root     string
	StateDir string
}

// Resolve determines the active workspace. An explicit TM_WORKSPACE override
// names the state directory directly; otherwise the state directory lives
// under the current working directory.
func Resolve() (*Workspace, error) {
	if override := os.Getenv("TM_WORKSPACE"); override != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return nil, fmt.Errorf("%w: resolving TM_WORKSPACE %q: %v", types.ErrWorkspace, override, err)
		}
		return &Workspace{Root: filepath.Dir(abs), StateDir: abs}, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("%w: getting working directory: %v", types.ErrWorkspace, err)
	}
	return &Workspace{Root: cwd, StateDir: filepath.Join(cwd, StateDirName)}, nil
}

// At returns the workspace rooted at the given directory, bypassing
// environment resolution. Used by tests and the library facade.
func At(root string) *Workspace {
	return &Workspace{Root: root, StateDir: filepath.Join(root, StateDirName)}
}

// Initialized reports whether the state directory and store file exist.
func (w *Workspace) Initialized() bool {
	if _, err := os.Stat(w.StateDir); err != nil {
		return false
	}
	_, err := os.Stat(w.DBPath())
	return err == nil
}

// Init creates the full state tree. Idempotent: repeated calls on an existing
// workspace change nothing and return nil.
func (w *Workspace) Init() error {
	if err := checkWritable(filepath.Dir(w.StateDir)); err != nil {
		return err
	}
	dirs := []string{
		w.StateDir,
		filepath.Join(w.StateDir, ContextsDirName),
		filepath.Join(w.StateDir, NotesDirName),
		filepath.Join(w.StateDir, NotifyDirName),
		filepath.Join(w.StateDir, ArchivesDirName),
		filepath.Join(w.StateDir, BackupsDirName),
		filepath.Join(w.StateDir, LogsDirName),
		filepath.Join(w.StateDir, TelemetryDirName),
		filepath.Join(w.StateDir, ConfigDirName),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: creating %s: %v", types.ErrWorkspace, dir, err)
		}
	}
	// The lock file is a zero-byte flock target.
	if err := touch(w.LockPath(), 0644); err != nil {
		return err
	}
	if err := touch(filepath.Join(w.StateDir, NotifyDirName, BroadcastLogName), 0644); err != nil {
		return err
	}
	if err := touch(w.TelemetryLogPath(), 0644); err != nil {
		return err
	}
	if err := touch(w.ConfigFilePath(), 0644); err != nil {
		return err
	}
	return nil
}

// DBPath returns the store file path.
func (w *Workspace) DBPath() string {
	return filepath.Join(w.StateDir, DBFileName)
}

// LockPath returns the advisory lock file path.
func (w *Workspace) LockPath() string {
	return filepath.Join(w.StateDir, LockFileName)
}

// ContextLogPath returns the shared context log for a task.
func (w *Workspace) ContextLogPath(taskID string) string {
	return filepath.Join(w.StateDir, ContextsDirName, taskID+".log")
}

// NoteLogPath returns the private note log for a (task, agent) pair.
func (w *Workspace) NoteLogPath(taskID, agentID string) string {
	return filepath.Join(w.StateDir, NotesDirName, taskID+"_"+agentID+".log")
}

// BroadcastLogPath returns the broadcast notification log.
func (w *Workspace) BroadcastLogPath() string {
	return filepath.Join(w.StateDir, NotifyDirName, BroadcastLogName)
}

// TelemetryLogPath returns the NDJSON telemetry event log.
func (w *Workspace) TelemetryLogPath() string {
	return filepath.Join(w.StateDir, TelemetryDirName, TelemetryLogName)
}

// ConfigFilePath returns the runtime config file.
func (w *Workspace) ConfigFilePath() string {
	return filepath.Join(w.StateDir, ConfigDirName, ConfigFileName)
}

// HooksDir returns the hook script directory. TM_HOOKS_DIR overrides.
func (w *Workspace) HooksDir() string {
	if dir := os.Getenv("TM_HOOKS_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(w.StateDir, HooksDirName)
}

// BackupsDir returns the pre-migration backup directory.
func (w *Workspace) BackupsDir() string {
	return filepath.Join(w.StateDir, BackupsDirName)
}

// ArchivesDir returns the completed-task archive directory.
func (w *Workspace) ArchivesDir() string {
	return filepath.Join(w.StateDir, ArchivesDirName)
}

func checkWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrWorkspace, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", types.ErrWorkspace, dir)
	}
	probe, err := os.CreateTemp(dir, ".tm-probe-*")
	if err != nil {
		return fmt.Errorf("%w: %s is not writable: %v", types.ErrWorkspace, dir, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

func touch(path string, mode os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", types.ErrWorkspace, path, err)
	}
	return f.Close()
}
