package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/internal/criteria"
	"github.com/taskmesh/taskmesh/internal/hooks"
	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/types"
)

// AddRequest carries the inputs of the add operation.
type AddRequest struct {
	Title           string
	Description     string
	Priority        types.Priority
	DependsOn       []string
	Assignee        string
	SuccessCriteria []types.Criterion
	Deadline        *time.Time
	EstimatedHours  *float64
	Tags            []string
	UniqueTitle     bool
	Confirm         bool
}

// Add creates a task with its dependency edges in one transaction and
// returns the new id. The creating agent joins the task; an assignee
// receives an assigned notification.
func (e *Engine) Add(ctx context.Context, req AddRequest) (string, error) {
	task := &types.Task{
		Title:           req.Title,
		Description:     req.Description,
		Priority:        req.Priority,
		Assignee:        req.Assignee,
		CreatedBy:       e.agentID,
		SuccessCriteria: req.SuccessCriteria,
		Deadline:        req.Deadline,
		EstimatedHours:  req.EstimatedHours,
		Tags:            req.Tags,
	}
	var assigned *types.Notification
	err := e.mutate(ctx, mutation{
		op:           hooks.OpAdd,
		createsTasks: true,
		hasIntent:    req.Description != "" || len(req.SuccessCriteria) > 0,
		confirm:      req.Confirm,
		hookTask:     task,
		hookInput:    req,
		run: func(ctx context.Context) error {
			return e.store.RunInTransaction(ctx, func(t storage.Transaction) error {
				if err := t.CreateTask(ctx, task, e.agentID, storage.CreateOptions{UniqueTitle: req.UniqueTitle}); err != nil {
					return err
				}
				for _, depID := range req.DependsOn {
					dep := &types.Dependency{TaskID: task.ID, DependsOn: depID}
					if err := t.AddDependency(ctx, dep, e.agentID); err != nil {
						return err
					}
				}
				if err := t.JoinTask(ctx, task.ID, e.agentID); err != nil {
					return err
				}
				if req.Assignee != "" && req.Assignee != e.agentID {
					n := &types.Notification{
						TaskID:      task.ID,
						Kind:        types.NotifyAssigned,
						TargetAgent: req.Assignee,
						Payload:     fmt.Sprintf("assigned to %s by %s", req.Assignee, e.agentID),
					}
					if err := t.AddNotification(ctx, n); err != nil {
						return err
					}
					assigned = n
				}
				return nil
			})
		},
		after: func(ctx context.Context) {
			if assigned != nil {
				e.writeBroadcast(assigned)
			}
		},
	})
	if err != nil {
		return "", err
	}
	return task.ID, nil
}

// Update applies a partial update to a task.
func (e *Engine) Update(ctx context.Context, id string, patch *types.TaskPatch, confirm bool) error {
	if patch.IsEmpty() {
		return fmt.Errorf("%w: empty update", types.ErrInvalidInput)
	}
	return e.mutate(ctx, mutation{
		op:        hooks.OpUpdate,
		taskID:    id,
		confirm:   confirm,
		hookInput: patch,
		run: func(ctx context.Context) error {
			return e.store.UpdateTask(ctx, id, patch, e.agentID)
		},
	})
}

// Delete removes a task. Refused while other tasks depend on it.
func (e *Engine) Delete(ctx context.Context, id string, confirm bool) error {
	return e.mutate(ctx, mutation{
		op:      hooks.OpDelete,
		taskID:  id,
		confirm: confirm,
		run: func(ctx context.Context) error {
			return e.store.DeleteTask(ctx, id, e.agentID)
		},
	})
}

// Assign claims a task for an agent. An unassigned task is claimed
// atomically; reassigning someone else's task fails with Conflict unless
// force is set. The assignee joins the task and is notified.
func (e *Engine) Assign(ctx context.Context, id, assignee string, force, confirm bool) error {
	if assignee == "" {
		assignee = e.agentID
	}
	var assigned *types.Notification
	return e.mutate(ctx, mutation{
		op:        hooks.OpAssign,
		taskID:    id,
		confirm:   confirm,
		hookInput: map[string]string{"assignee": assignee},
		run: func(ctx context.Context) error {
			return e.store.RunInTransaction(ctx, func(t storage.Transaction) error {
				task, err := t.GetTask(ctx, id)
				if err != nil {
					return err
				}
				if task.Assignee != "" && task.Assignee != assignee && !force {
					return fmt.Errorf("%w: task %s already assigned to %s", types.ErrConflict, id, task.Assignee)
				}
				if err := t.UpdateTask(ctx, id, &types.TaskPatch{Assignee: &assignee}, e.agentID); err != nil {
					return err
				}
				old := task.Assignee
				if err := t.AddEvent(ctx, id, types.EventAssigned, e.agentID, strPtrOrNil(old), &assignee); err != nil {
					return err
				}
				if err := t.JoinTask(ctx, id, assignee); err != nil {
					return err
				}
				if assignee != e.agentID {
					n := &types.Notification{
						TaskID:      id,
						Kind:        types.NotifyAssigned,
						TargetAgent: assignee,
						Payload:     fmt.Sprintf("assigned to %s by %s", assignee, e.agentID),
					}
					if err := t.AddNotification(ctx, n); err != nil {
						return err
					}
					assigned = n
				}
				return nil
			})
		},
		after: func(ctx context.Context) {
			if assigned != nil {
				e.writeBroadcast(assigned)
			}
		},
	})
}

// AddDependency records that taskID depends on dependsOn. The dependent
// blocks until the target completes.
func (e *Engine) AddDependency(ctx context.Context, taskID, dependsOn string, confirm bool) error {
	return e.mutate(ctx, mutation{
		op:        "add_dependency",
		taskID:    taskID,
		confirm:   confirm,
		hookInput: map[string]string{"task_id": taskID, "depends_on": dependsOn},
		run: func(ctx context.Context) error {
			dep := &types.Dependency{TaskID: taskID, DependsOn: dependsOn}
			return e.store.AddDependency(ctx, dep, e.agentID)
		},
	})
}

// RemoveDependency deletes the edge taskID -> dependsOn. A blocked dependent
// left without incomplete dependencies returns to pending.
func (e *Engine) RemoveDependency(ctx context.Context, taskID, dependsOn string, confirm bool) error {
	return e.mutate(ctx, mutation{
		op:        "remove_dependency",
		taskID:    taskID,
		confirm:   confirm,
		hookInput: map[string]string{"task_id": taskID, "depends_on": dependsOn},
		run: func(ctx context.Context) error {
			return e.store.RemoveDependency(ctx, taskID, dependsOn, e.agentID)
		},
	})
}

// CompleteRequest carries the inputs of the complete operation.
type CompleteRequest struct {
	Validate    bool
	ActualHours *float64
	Summary     string
	// Override confirms criteria whose measurable is the literal "true".
	Override bool
	Confirm  bool
}

// CompleteResult reports what a completion changed.
type CompleteResult struct {
	Unblocked []string              `json:"unblocked,omitempty"`
	Report    *types.CriteriaReport `json:"criteria_report,omitempty"`
}

// Complete finishes a task. With Validate set, success criteria gate the
// completion: all must pass or the call fails with CriteriaUnmet carrying
// the report. Dependents left with no incomplete dependencies unblock in the
// same transaction.
func (e *Engine) Complete(ctx context.Context, id string, req CompleteRequest) (*CompleteResult, error) {
	result := &CompleteResult{}
	var effects *storage.CompleteEffects
	err := e.mutate(ctx, mutation{
		op:        hooks.OpComplete,
		taskID:    id,
		confirm:   req.Confirm,
		hookInput: req,
		run: func(ctx context.Context) error {
			return e.store.RunInTransaction(ctx, func(t storage.Transaction) error {
				task, err := t.GetTask(ctx, id)
				if err != nil {
					return err
				}
				if req.Validate && len(task.SuccessCriteria) > 0 {
					env := criteria.EnvFromTask(task, req.ActualHours, time.Now().UTC())
					report := criteria.Validate(task.SuccessCriteria, env, req.Override)
					result.Report = report
					if report.Passed != report.Total {
						return &types.CriteriaUnmetError{Report: report}
					}
				}
				effects, err = t.CompleteTask(ctx, id,
					storage.CompleteOptions{ActualHours: req.ActualHours, Summary: req.Summary}, e.agentID)
				return err
			})
		},
		after: func(ctx context.Context) {
			for _, n := range effects.Notified {
				e.writeBroadcast(n)
			}
			for _, u := range effects.Unblocked {
				result.Unblocked = append(result.Unblocked, u.TaskID)
				e.writeBroadcast(u.Notification)
				e.hooks.RunEvent(ctx, hooks.EventTaskUnblocked,
					e.hookPayload(hooks.OpComplete, nil, map[string]string{"task_id": u.TaskID}))
			}
			e.hooks.RunEvent(ctx, hooks.EventTaskCompleted,
				e.hookPayload(hooks.OpComplete, nil, map[string]string{"task_id": id}))
		},
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Feedback records quality and timeliness scores on a completed task.
func (e *Engine) Feedback(ctx context.Context, id string, quality, timeliness int, notes string, confirm bool) error {
	return e.mutate(ctx, mutation{
		op:        "feedback",
		taskID:    id,
		confirm:   confirm,
		skipHooks: true,
		run: func(ctx context.Context) error {
			return e.store.RunInTransaction(ctx, func(t storage.Transaction) error {
				task, err := t.GetTask(ctx, id)
				if err != nil {
					return err
				}
				if task.Status != types.StatusCompleted {
					return fmt.Errorf("%w: feedback requires a completed task", types.ErrInvalidInput)
				}
				if quality < 1 || quality > 5 || timeliness < 1 || timeliness > 5 {
					return fmt.Errorf("%w: feedback scores must be between 1 and 5", types.ErrInvalidInput)
				}
				patch := &types.TaskPatch{
					FeedbackQuality:    &quality,
					FeedbackTimeliness: &timeliness,
					FeedbackNotes:      &notes,
				}
				if err := t.UpdateTask(ctx, id, patch, e.agentID); err != nil {
					return err
				}
				detail := fmt.Sprintf("quality=%d timeliness=%d", quality, timeliness)
				return t.AddEvent(ctx, id, types.EventFeedback, e.agentID, nil, &detail)
			})
		},
	})
}

// Progress marks a task in progress and shares a status update with its
// participants.
func (e *Engine) Progress(ctx context.Context, id, text string, confirm bool) error {
	return e.mutate(ctx, mutation{
		op:        "progress",
		taskID:    id,
		confirm:   confirm,
		skipHooks: true,
		run: func(ctx context.Context) error {
			return e.store.RunInTransaction(ctx, func(t storage.Transaction) error {
				task, err := t.GetTask(ctx, id)
				if err != nil {
					return err
				}
				if task.Status == types.StatusPending {
					status := types.StatusInProgress
					if err := t.UpdateTask(ctx, id, &types.TaskPatch{Status: &status}, e.agentID); err != nil {
						return err
					}
				}
				if err := t.JoinTask(ctx, id, e.agentID); err != nil {
					return err
				}
				if text != "" {
					entry := &types.ContextEntry{
						TaskID:  id,
						AgentID: e.agentID,
						Kind:    types.ContextShare,
						Text:    text,
					}
					if err := t.AddContextEntry(ctx, entry); err != nil {
						return err
					}
					if err := e.channels.WriteShared(entry); err != nil {
						e.log.Warn("context log write failed", "error", err)
					}
				}
				return t.AddEvent(ctx, id, types.EventProgress, e.agentID, nil, strPtrOrNil(text))
			})
		},
	})
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
