package sqlite

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/types"
)

func TestCreateAndGetTask(t *testing.T) {
	env := newTestEnv(t)

	task := &types.Task{
		Title:       "Design the schema",
		Description: "tables and indexes",
		Priority:    types.PriorityHigh,
		Tags:        []string{"db", "design"},
	}
	if err := env.Store.CreateTask(env.Ctx, task, "alice", storage.CreateOptions{}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if len(task.ID) != 8 {
		t.Errorf("expected 8-char id, got %q", task.ID)
	}

	got := env.MustGet(task.ID)
	if got.Title != task.Title {
		t.Errorf("title = %q, want %q", got.Title, task.Title)
	}
	if got.Status != types.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.CreatedBy != "alice" {
		t.Errorf("created_by = %q, want alice", got.CreatedBy)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "db" {
		t.Errorf("tags = %v", got.Tags)
	}
	if got.CompletedAt != nil {
		t.Error("new task has completed_at set")
	}
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Error("updated_at before created_at")
	}
}

func TestCreateTaskTitleBoundaries(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name    string
		length  int
		wantErr bool
	}{
		{"empty", 0, true},
		{"one char", 1, false},
		{"max length", types.MaxTitleLength, false},
		{"over max", types.MaxTitleLength + 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := &types.Task{Title: strings.Repeat("x", tc.length)}
			err := env.Store.CreateTask(env.Ctx, task, "a", storage.CreateOptions{})
			if tc.wantErr {
				if !errors.Is(err, types.ErrInvalidInput) {
					t.Errorf("length %d: got %v, want InvalidInput", tc.length, err)
				}
			} else if err != nil {
				t.Errorf("length %d: unexpected error %v", tc.length, err)
			}
		})
	}
}

func TestCreateTaskRejectsControlChars(t *testing.T) {
	env := newTestEnv(t)
	task := &types.Task{Title: "bad\x00title"}
	err := env.Store.CreateTask(env.Ctx, task, "a", storage.CreateOptions{})
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("got %v, want InvalidInput", err)
	}
}

func TestUniqueTitle(t *testing.T) {
	env := newTestEnv(t)
	env.CreateTask("dup")

	task := &types.Task{Title: "dup"}
	err := env.Store.CreateTask(env.Ctx, task, "a", storage.CreateOptions{UniqueTitle: true})
	if !errors.Is(err, types.ErrConflict) {
		t.Errorf("got %v, want Conflict", err)
	}

	// Without the option, duplicates are allowed.
	if err := env.Store.CreateTask(env.Ctx, &types.Task{Title: "dup"}, "a", storage.CreateOptions{}); err != nil {
		t.Errorf("duplicate without unique_title failed: %v", err)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Store.GetTask(env.Ctx, "deadbeef")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("got %v, want NotFound", err)
	}
}

func TestUpdateTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("original")

	title := "renamed"
	priority := types.PriorityCritical
	if err := env.Store.UpdateTask(env.Ctx, task.ID, &types.TaskPatch{
		Title:    &title,
		Priority: &priority,
	}, "a"); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	got := env.MustGet(task.ID)
	if got.Title != "renamed" || got.Priority != types.PriorityCritical {
		t.Errorf("update not applied: %+v", got)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Error("updated_at not advanced")
	}
}

func TestUpdateTaskOptimisticConflict(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("contended")

	stale := task.UpdatedAt.Add(-time.Hour)
	title := "nope"
	err := env.Store.UpdateTask(env.Ctx, task.ID, &types.TaskPatch{
		Title:             &title,
		ExpectedUpdatedAt: &stale,
	}, "a")
	if !errors.Is(err, types.ErrConflict) {
		t.Errorf("got %v, want Conflict", err)
	}
}

func TestUpdateTaskRejectsCompletedStatus(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("finish me properly")

	status := types.StatusCompleted
	err := env.Store.UpdateTask(env.Ctx, task.ID, &types.TaskPatch{Status: &status}, "a")
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("got %v, want InvalidInput", err)
	}
}

func TestUpdateCannotReopenCompleted(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("done and dusted")
	env.Complete(task.ID)

	status := types.StatusPending
	err := env.Store.UpdateTask(env.Ctx, task.ID, &types.TaskPatch{Status: &status}, "a")
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("got %v, want InvalidInput", err)
	}
	got := env.MustGet(task.ID)
	if got.Status != types.StatusCompleted || got.CompletedAt == nil {
		t.Errorf("reopen attempt changed task: status=%s completed_at=%v", got.Status, got.CompletedAt)
	}

	// Non-status fields stay updatable after completion.
	title := "done, renamed"
	if err := env.Store.UpdateTask(env.Ctx, task.ID, &types.TaskPatch{Title: &title}, "a"); err != nil {
		t.Errorf("title update on completed task failed: %v", err)
	}
}

func TestDeleteTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("short lived")

	if err := env.Store.DeleteTask(env.Ctx, task.ID, "a"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	if _, err := env.Store.GetTask(env.Ctx, task.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("got %v, want NotFound after delete", err)
	}

	// Audit events survive deletion.
	events, err := env.Store.GetEvents(env.Ctx, task.ID, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) == 0 {
		t.Error("expected audit events to survive deletion")
	}
}

func TestDeleteTaskWithDependents(t *testing.T) {
	env := newTestEnv(t)
	base := env.CreateTask("base")
	dep := env.CreateTask("dependent")
	env.AddDep(dep.ID, base.ID)

	err := env.Store.DeleteTask(env.Ctx, base.ID, "a")
	if !errors.Is(err, types.ErrHasDependents) {
		t.Errorf("got %v, want HasDependents", err)
	}
}

func TestListTasksFilterAndOrder(t *testing.T) {
	env := newTestEnv(t)
	low := &types.Task{Title: "low", Priority: types.PriorityLow}
	crit := &types.Task{Title: "crit", Priority: types.PriorityCritical}
	med := &types.Task{Title: "med", Priority: types.PriorityMedium}
	for _, task := range []*types.Task{low, crit, med} {
		if err := env.Store.CreateTask(env.Ctx, task, "a", storage.CreateOptions{}); err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
	}

	tasks, err := env.Store.ListTasks(env.Ctx, types.TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(tasks))
	}
	if tasks[0].ID != crit.ID || tasks[2].ID != low.ID {
		t.Errorf("priority ordering wrong: %s, %s, %s", tasks[0].Title, tasks[1].Title, tasks[2].Title)
	}

	status := types.StatusPending
	assignee := "nobody"
	filtered, err := env.Store.ListTasks(env.Ctx, types.TaskFilter{Status: &status, Assignee: &assignee})
	if err != nil {
		t.Fatalf("ListTasks with filter failed: %v", err)
	}
	if len(filtered) != 0 {
		t.Errorf("got %d tasks for unused assignee, want 0", len(filtered))
	}
}

func TestListTasksLimit(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.CreateTask("task")
	}
	tasks, err := env.Store.ListTasks(env.Ctx, types.TaskFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Errorf("got %d tasks, want 2", len(tasks))
	}
}

func TestMonotonicTimestamps(t *testing.T) {
	env := newTestEnv(t)
	a := env.CreateTask("first")
	b := env.CreateTask("second")
	if !b.CreatedAt.After(a.CreatedAt) {
		t.Errorf("created_at not monotonic: %v then %v", a.CreatedAt, b.CreatedAt)
	}
}

func TestStoreFileMode(t *testing.T) {
	env := newTestEnv(t)
	info, err := os.Stat(env.Store.Path())
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if got := info.Mode().Perm(); got != 0660 {
		t.Errorf("store file mode = %o, want 0660", got)
	}
}

func TestIntegrity(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Store.Integrity(env.Ctx); err != nil {
		t.Errorf("Integrity on fresh store failed: %v", err)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Store.SetConfig(env.Ctx, "enforcement", "strict"); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	got, err := env.Store.GetConfig(env.Ctx, "enforcement")
	if err != nil || got != "strict" {
		t.Errorf("GetConfig = %q, %v; want strict", got, err)
	}
	missing, err := env.Store.GetConfig(env.Ctx, "absent")
	if err != nil || missing != "" {
		t.Errorf("GetConfig(absent) = %q, %v; want empty", missing, err)
	}
}
