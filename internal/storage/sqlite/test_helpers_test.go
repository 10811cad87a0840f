package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/types"
)

// testEnv provides a store backed by a temp database with common helpers.
type testEnv struct {
	t     *testing.T
	Store *Store
	Ctx   context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.db")
	store, err := New(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &testEnv{t: t, Store: store, Ctx: context.Background()}
}

// CreateTask creates a task with the given title and defaults.
func (e *testEnv) CreateTask(title string) *types.Task {
	e.t.Helper()
	task := &types.Task{Title: title}
	if err := e.Store.CreateTask(e.Ctx, task, "test-agent", storage.CreateOptions{}); err != nil {
		e.t.Fatalf("CreateTask(%q) failed: %v", title, err)
	}
	return task
}

// CreateChain creates n tasks where each depends on the previous one and
// returns them in order. All but the first are blocked.
func (e *testEnv) CreateChain(n int) []*types.Task {
	e.t.Helper()
	tasks := make([]*types.Task, n)
	for i := range tasks {
		tasks[i] = e.CreateTask("chain task")
		if i > 0 {
			e.AddDep(tasks[i].ID, tasks[i-1].ID)
		}
	}
	return tasks
}

// AddDep adds the edge taskID -> dependsOn or fails the test.
func (e *testEnv) AddDep(taskID, dependsOn string) {
	e.t.Helper()
	dep := &types.Dependency{TaskID: taskID, DependsOn: dependsOn}
	if err := e.Store.AddDependency(e.Ctx, dep, "test-agent"); err != nil {
		e.t.Fatalf("AddDependency(%s -> %s) failed: %v", taskID, dependsOn, err)
	}
}

// MustGet fetches a task or fails the test.
func (e *testEnv) MustGet(id string) *types.Task {
	e.t.Helper()
	task, err := e.Store.GetTask(e.Ctx, id)
	if err != nil {
		e.t.Fatalf("GetTask(%s) failed: %v", id, err)
	}
	return task
}

// Complete completes a task or fails the test, returning the unblocked set.
func (e *testEnv) Complete(id string) []string {
	e.t.Helper()
	effects, err := e.Store.CompleteTask(e.Ctx, id, storage.CompleteOptions{}, "test-agent")
	if err != nil {
		e.t.Fatalf("CompleteTask(%s) failed: %v", id, err)
	}
	ids := make([]string, len(effects.Unblocked))
	for i, u := range effects.Unblocked {
		ids[i] = u.TaskID
	}
	return ids
}
