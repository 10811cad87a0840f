package sqlite

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/ids"
	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/types"
)

// CompleteTask transitions the task to completed and cascades: every blocked
// dependent whose dependencies are now all completed moves to pending, with
// an unblocked notification targeted at its assignee (broadcast if
// unassigned). All transitions commit atomically with the completion.
func (s *Store) CompleteTask(ctx context.Context, id string, opts storage.CompleteOptions, actor string) (*storage.CompleteEffects, error) {
	var effects *storage.CompleteEffects
	err := s.RunInTransaction(ctx, func(t storage.Transaction) error {
		var err error
		effects, err = t.CompleteTask(ctx, id, opts, actor)
		return err
	})
	return effects, err
}

func (t *tx) CompleteTask(ctx context.Context, id string, opts storage.CompleteOptions, actor string) (*storage.CompleteEffects, error) {
	task, err := getTask(ctx, t.tx, id)
	if err != nil {
		return nil, err
	}
	if task.Status == types.StatusCompleted {
		return nil, fmt.Errorf("%w: task %s already completed", types.ErrConflict, id)
	}
	if opts.ActualHours != nil && *opts.ActualHours < 0 {
		return nil, fmt.Errorf("%w: actual_hours must be non-negative", types.ErrInvalidInput)
	}

	now := t.s.now()
	_, err = t.tx.ExecContext(ctx, `
		UPDATE tasks SET
			status = 'completed', completed_at = ?, updated_at = ?,
			actual_hours = COALESCE(?, actual_hours),
			completion_summary = CASE WHEN ? != '' THEN ? ELSE completion_summary END
		WHERE id = ?
	`, now, now, opts.ActualHours, opts.Summary, opts.Summary, id)
	if err != nil {
		return nil, fmt.Errorf("failed to complete task %s: %w", id, err)
	}

	old := string(task.Status)
	next := string(types.StatusCompleted)
	if err := addEvent(ctx, t.tx, t.s, id, types.EventCompleted, actor, &old, &next); err != nil {
		return nil, err
	}

	effects := &storage.CompleteEffects{}

	// Other participants hear about the completion; the completing agent
	// does not notify itself.
	participants, err := getParticipants(ctx, t.tx, id)
	if err != nil {
		return nil, err
	}
	for _, p := range participants {
		if p.AgentID == actor {
			continue
		}
		n := &types.Notification{
			TaskID:      id,
			Kind:        types.NotifyCompleted,
			TargetAgent: p.AgentID,
			Payload:     fmt.Sprintf("task %s completed by %s", id, actor),
		}
		if err := t.AddNotification(ctx, n); err != nil {
			return nil, err
		}
		effects.Notified = append(effects.Notified, n)
	}

	// Cascade: blocked dependents with no remaining incomplete dependency
	// become pending, in created_at asc, id asc order.
	rows, err := t.tx.QueryContext(ctx, `
		SELECT t2.id, t2.assignee FROM dependencies d
		JOIN tasks t2 ON d.task_id = t2.id
		WHERE d.depends_on = ?
		  AND t2.status = 'blocked'
		  AND NOT EXISTS (
			SELECT 1 FROM dependencies d2
			JOIN tasks dep ON d2.depends_on = dep.id
			WHERE d2.task_id = t2.id AND dep.status != 'completed'
		  )
		ORDER BY t2.created_at ASC, t2.id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find unblocked dependents: %w", err)
	}

	type dependent struct {
		id       string
		assignee string
	}
	var dependents []dependent
	for rows.Next() {
		var d dependent
		var assignee *string
		if err := rows.Scan(&d.id, &assignee); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan dependent: %w", err)
		}
		if assignee != nil {
			d.assignee = *assignee
		}
		dependents = append(dependents, d)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, d := range dependents {
		if err := setStatus(ctx, t.tx, t.s, d.id, types.StatusPending); err != nil {
			return nil, err
		}
		n := &types.Notification{
			TaskID:      d.id,
			Kind:        types.NotifyUnblocked,
			TargetAgent: d.assignee,
			Payload:     fmt.Sprintf("unblocked by completion of %s", id),
		}
		if err := t.AddNotification(ctx, n); err != nil {
			return nil, err
		}
		effects.Unblocked = append(effects.Unblocked, storage.Unblocked{TaskID: d.id, Notification: n})
	}
	return effects, nil
}

// AddNotification inserts a notification row, generating id and timestamp.
func (s *Store) AddNotification(ctx context.Context, n *types.Notification) error {
	return s.RunInTransaction(ctx, func(t storage.Transaction) error {
		return t.AddNotification(ctx, n)
	})
}

func (t *tx) AddNotification(ctx context.Context, n *types.Notification) error {
	if n.Kind == "" {
		return fmt.Errorf("%w: notification kind is required", types.ErrInvalidInput)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = t.s.now()
	}
	if n.ID == "" {
		id, err := ids.Generate(string(n.Kind)+"|"+n.TaskID+"|"+n.TargetAgent, n.CreatedAt,
			func(candidate string) (bool, error) {
				var count int
				err := t.tx.QueryRowContext(ctx,
					`SELECT COUNT(*) FROM notifications WHERE id = ?`, candidate).Scan(&count)
				return count > 0, err
			})
		if err != nil {
			return err
		}
		n.ID = id
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO notifications (id, agent_id, task_id, kind, payload, created_at, acknowledged)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`, n.ID, nullString(n.TargetAgent), nullString(n.TaskID), n.Kind, n.Payload, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// PendingNotifications returns unacknowledged notifications visible to the
// agent: targeted rows plus broadcasts, oldest first.
func (s *Store) PendingNotifications(ctx context.Context, agentID string) ([]*types.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, task_id, kind, payload, created_at, acknowledged
		FROM notifications
		WHERE acknowledged = 0 AND (agent_id IS NULL OR agent_id = ?)
		ORDER BY created_at ASC, id ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notifications []*types.Notification
	for rows.Next() {
		var n types.Notification
		var agent, taskID *string
		var acked int
		if err := rows.Scan(&n.ID, &agent, &taskID, &n.Kind, &n.Payload, &n.CreatedAt, &acked); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if agent != nil {
			n.TargetAgent = *agent
		}
		if taskID != nil {
			n.TaskID = *taskID
		}
		n.Acknowledged = acked != 0
		n.CreatedAt = n.CreatedAt.UTC()
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// AcknowledgeNotifications marks the given notifications delivered.
func (s *Store) AcknowledgeNotifications(ctx context.Context, notificationIDs []string) error {
	if len(notificationIDs) == 0 {
		return nil
	}
	return s.RunInTransaction(ctx, func(t storage.Transaction) error {
		inner := t.(*tx)
		for _, id := range notificationIDs {
			_, err := inner.tx.ExecContext(ctx,
				`UPDATE notifications SET acknowledged = 1 WHERE id = ?`, id)
			if err != nil {
				return fmt.Errorf("failed to acknowledge notification %s: %w", id, err)
			}
		}
		return nil
	})
}
