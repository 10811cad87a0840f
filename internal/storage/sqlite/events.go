package sqlite

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/types"
)

// addEvent appends one audit trail row. The events table carries no foreign
// key so history survives task deletion.
func addEvent(ctx context.Context, q querier, s *Store, taskID string, eventType types.EventType, actor string, oldValue, newValue *string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO events (task_id, event_type, actor, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, taskID, eventType, actor, oldValue, newValue, s.now())
	if err != nil {
		return fmt.Errorf("failed to record %s event for %s: %w", eventType, taskID, err)
	}
	return nil
}

func (t *tx) AddEvent(ctx context.Context, taskID string, eventType types.EventType, actor string, oldValue, newValue *string) error {
	return addEvent(ctx, t.tx, t.s, taskID, eventType, actor, oldValue, newValue)
}

// GetEvents returns the audit trail for a task, newest first. limit <= 0
// returns everything.
func (s *Store) GetEvents(ctx context.Context, taskID string, limit int) ([]*types.Event, error) {
	query := `
		SELECT id, task_id, event_type, actor, old_value, new_value, created_at
		FROM events WHERE task_id = ?
		ORDER BY created_at DESC, id DESC
	`
	args := []any{taskID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		var e types.Event
		if err := rows.Scan(&e.ID, &e.TaskID, &e.EventType, &e.Actor, &e.OldValue, &e.NewValue, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, &e)
	}
	return events, rows.Err()
}
