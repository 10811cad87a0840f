package telemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/types"
)

func TestRecordAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	r := NewRecorder(path, "/work", nil)

	r.Record("alice", "add", "abc12345", 12*time.Millisecond, nil)
	r.Record("bob", "complete", "abc12345", 40*time.Millisecond, os.ErrPermission)

	events, err := ReadEvents(path, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Op != "add" || events[0].Outcome != OutcomeOK {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Agent != "bob" || events[1].Outcome != OutcomeError {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestRecordSwallowsWriteFailure(t *testing.T) {
	// Recorder pointed at a directory cannot append; the operation result
	// must be unaffected.
	r := NewRecorder(t.TempDir(), "/work", nil)
	r.Record("alice", "add", "", time.Millisecond, nil)
}

func TestReadEventsWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	r := NewRecorder(path, "/work", nil)
	r.Record("alice", "add", "", 0, nil)

	future := time.Now().Add(time.Hour)
	events, err := ReadEvents(path, future, time.Time{})
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events outside the window, want 0", len(events))
	}
}

func TestReadEventsSkipsPartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	r := NewRecorder(path, "/work", nil)
	r.Record("alice", "add", "", 0, nil)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("opening log failed: %v", err)
	}
	if _, err := f.WriteString(`{"ts":"2026-`); err != nil {
		t.Fatalf("writing partial line failed: %v", err)
	}
	_ = f.Close()

	events, err := ReadEvents(path, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events, want 1", len(events))
	}
}

func TestReadEventsMissingFile(t *testing.T) {
	events, err := ReadEvents(filepath.Join(t.TempDir(), "absent.log"), time.Time{}, time.Time{})
	if err != nil || events != nil {
		t.Errorf("got %v, %v; want nil, nil", events, err)
	}
}

func completedTask(assignee string, quality int, deadline, completedAt time.Time) *types.Task {
	now := time.Now().Add(-24 * time.Hour)
	task := &types.Task{
		Status:          types.StatusCompleted,
		Assignee:        assignee,
		CreatedAt:       now,
		FeedbackQuality: &quality,
	}
	if !deadline.IsZero() {
		task.Deadline = &deadline
		task.CompletedAt = &completedAt
	}
	return task
}

func TestCompute(t *testing.T) {
	now := time.Now()
	tasks := []*types.Task{
		completedTask("alice", 5, now, now.Add(-time.Hour)),           // on time
		completedTask("alice", 3, now.Add(-2*time.Hour), now),         // late
		completedTask("bob", 4, time.Time{}, time.Time{}),             // no deadline
		{Status: types.StatusPending, CreatedAt: now.Add(-time.Hour)}, // incomplete
	}

	m := Compute(tasks, time.Time{}, time.Time{})
	if m.Total != 4 || m.Completed != 3 {
		t.Fatalf("total/completed = %d/%d, want 4/3", m.Total, m.Completed)
	}
	if m.CompletionRate != 0.75 {
		t.Errorf("completion rate = %v, want 0.75", m.CompletionRate)
	}
	if m.OnTimeRate != 0.5 {
		t.Errorf("on-time rate = %v, want 0.5", m.OnTimeRate)
	}
	if m.AvgQuality != 4 {
		t.Errorf("avg quality = %v, want 4", m.AvgQuality)
	}
	if len(m.PerAssignee) != 2 {
		t.Fatalf("per-assignee entries = %d, want 2", len(m.PerAssignee))
	}
	alice := m.PerAssignee[0]
	if alice.Assignee != "alice" || alice.Completed != 2 || alice.OnTime != 1 {
		t.Errorf("alice metrics = %+v", alice)
	}
}

func TestComputeWindowFiltersByCreation(t *testing.T) {
	now := time.Now()
	tasks := []*types.Task{
		{Status: types.StatusCompleted, CreatedAt: now.Add(-48 * time.Hour)},
		{Status: types.StatusCompleted, CreatedAt: now.Add(-1 * time.Hour)},
	}

	m := Compute(tasks, now.Add(-2*time.Hour), time.Time{})
	if m.Total != 1 {
		t.Errorf("total = %d, want 1 inside the window", m.Total)
	}
}

func TestComputeEmpty(t *testing.T) {
	m := Compute(nil, time.Time{}, time.Time{})
	if m.Total != 0 || m.CompletionRate != 0 {
		t.Errorf("metrics over no tasks = %+v", m)
	}
}
