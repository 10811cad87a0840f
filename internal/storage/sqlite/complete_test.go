package sqlite

import (
	"errors"
	"testing"

	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/types"
)

func TestCompleteLinearChainUnblock(t *testing.T) {
	env := newTestEnv(t)
	design := env.CreateTask("Design")
	build := env.CreateTask("Build")
	env.AddDep(build.ID, design.ID)

	unblocked := env.Complete(design.ID)
	if len(unblocked) != 1 || unblocked[0] != build.ID {
		t.Fatalf("unblocked = %v, want [%s]", unblocked, build.ID)
	}

	d := env.MustGet(design.ID)
	if d.Status != types.StatusCompleted || d.CompletedAt == nil {
		t.Errorf("completed task: status=%s completed_at=%v", d.Status, d.CompletedAt)
	}
	if d.CompletedAt.Before(d.CreatedAt) {
		t.Error("completed_at before created_at")
	}
	if got := env.MustGet(build.ID).Status; got != types.StatusPending {
		t.Errorf("dependent status = %s, want pending", got)
	}

	// Exactly one unblocked notification, addressed to nobody (broadcast).
	pending, err := env.Store.PendingNotifications(env.Ctx, "anyone")
	if err != nil {
		t.Fatalf("PendingNotifications failed: %v", err)
	}
	var count int
	for _, n := range pending {
		if n.Kind == types.NotifyUnblocked && n.TaskID == build.ID {
			count++
		}
	}
	if count != 1 {
		t.Errorf("got %d unblocked notifications, want 1", count)
	}
}

func TestCompleteTwiceConflicts(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("once")
	env.Complete(task.ID)

	_, err := env.Store.CompleteTask(env.Ctx, task.ID, storage.CompleteOptions{}, "a")
	if !errors.Is(err, types.ErrConflict) {
		t.Errorf("second complete: got %v, want Conflict", err)
	}
	// State unchanged.
	got := env.MustGet(task.ID)
	if got.Status != types.StatusCompleted {
		t.Errorf("status = %s after failed re-complete", got.Status)
	}
}

func TestDiamondUnblocksOnce(t *testing.T) {
	env := newTestEnv(t)
	left := env.CreateTask("left")
	right := env.CreateTask("right")
	joined := env.CreateTask("join")
	env.AddDep(joined.ID, left.ID)
	env.AddDep(joined.ID, right.ID)

	if got := env.Complete(left.ID); len(got) != 0 {
		t.Errorf("first completion unblocked %v, want none", got)
	}
	if got := env.MustGet(joined.ID).Status; got != types.StatusBlocked {
		t.Errorf("join status = %s after one dep, want blocked", got)
	}

	unblocked := env.Complete(right.ID)
	if len(unblocked) != 1 || unblocked[0] != joined.ID {
		t.Fatalf("second completion unblocked %v, want [%s]", unblocked, joined.ID)
	}

	pending, err := env.Store.PendingNotifications(env.Ctx, "anyone")
	if err != nil {
		t.Fatalf("PendingNotifications failed: %v", err)
	}
	var count int
	for _, n := range pending {
		if n.Kind == types.NotifyUnblocked && n.TaskID == joined.ID {
			count++
		}
	}
	if count != 1 {
		t.Errorf("got %d unblocked notifications for the join task, want exactly 1", count)
	}
}

func TestCompleteRecordsHoursAndSummary(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("measured")

	hours := 3.5
	_, err := env.Store.CompleteTask(env.Ctx, task.ID,
		storage.CompleteOptions{ActualHours: &hours, Summary: "done well"}, "a")
	if err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}
	got := env.MustGet(task.ID)
	if got.ActualHours == nil || *got.ActualHours != 3.5 {
		t.Errorf("actual_hours = %v, want 3.5", got.ActualHours)
	}
	if got.CompletionSummary != "done well" {
		t.Errorf("summary = %q", got.CompletionSummary)
	}
}

func TestCompleteNotifiesAssignee(t *testing.T) {
	env := newTestEnv(t)
	base := env.CreateTask("base")
	dep := &types.Task{Title: "assigned dependent", Assignee: "bob"}
	if err := env.Store.CreateTask(env.Ctx, dep, "a", storage.CreateOptions{}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	env.AddDep(dep.ID, base.ID)
	env.Complete(base.ID)

	// bob sees the targeted notification; carol does not.
	bobPending, err := env.Store.PendingNotifications(env.Ctx, "bob")
	if err != nil {
		t.Fatalf("PendingNotifications failed: %v", err)
	}
	if len(bobPending) != 1 || bobPending[0].Kind != types.NotifyUnblocked {
		t.Fatalf("bob pending = %v", bobPending)
	}
	carolPending, err := env.Store.PendingNotifications(env.Ctx, "carol")
	if err != nil {
		t.Fatalf("PendingNotifications failed: %v", err)
	}
	if len(carolPending) != 0 {
		t.Errorf("carol pending = %v, want none", carolPending)
	}
}

func TestCompleteNotifiesParticipants(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("shared work")
	if err := env.Store.JoinTask(env.Ctx, task.ID, "alice"); err != nil {
		t.Fatalf("JoinTask failed: %v", err)
	}
	if err := env.Store.JoinTask(env.Ctx, task.ID, "bob"); err != nil {
		t.Fatalf("JoinTask failed: %v", err)
	}

	if _, err := env.Store.CompleteTask(env.Ctx, task.ID, storage.CompleteOptions{}, "alice"); err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}

	// bob hears about it; alice completed it herself and does not.
	bobPending, _ := env.Store.PendingNotifications(env.Ctx, "bob")
	var bobCompleted int
	for _, n := range bobPending {
		if n.Kind == types.NotifyCompleted {
			bobCompleted++
		}
	}
	if bobCompleted != 1 {
		t.Errorf("bob completed notifications = %d, want 1", bobCompleted)
	}
	alicePending, _ := env.Store.PendingNotifications(env.Ctx, "alice")
	for _, n := range alicePending {
		if n.Kind == types.NotifyCompleted {
			t.Error("alice notified about her own completion")
		}
	}
}

func TestAcknowledgeNotifications(t *testing.T) {
	env := newTestEnv(t)
	design := env.CreateTask("Design")
	build := env.CreateTask("Build")
	env.AddDep(build.ID, design.ID)
	env.Complete(design.ID)

	pending, err := env.Store.PendingNotifications(env.Ctx, "reader")
	if err != nil {
		t.Fatalf("PendingNotifications failed: %v", err)
	}
	if len(pending) == 0 {
		t.Fatal("expected pending notifications")
	}
	ids := []string{pending[0].ID}
	if err := env.Store.AcknowledgeNotifications(env.Ctx, ids); err != nil {
		t.Fatalf("AcknowledgeNotifications failed: %v", err)
	}
	after, err := env.Store.PendingNotifications(env.Ctx, "reader")
	if err != nil {
		t.Fatalf("PendingNotifications failed: %v", err)
	}
	if len(after) != len(pending)-1 {
		t.Errorf("pending after ack = %d, want %d", len(after), len(pending)-1)
	}
}
