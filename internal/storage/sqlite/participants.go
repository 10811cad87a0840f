package sqlite

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/types"
)

// JoinTask registers the agent as a participant. Joining twice is a no-op.
func (s *Store) JoinTask(ctx context.Context, taskID, agentID string) error {
	return s.RunInTransaction(ctx, func(t storage.Transaction) error {
		return t.JoinTask(ctx, taskID, agentID)
	})
}

func (t *tx) JoinTask(ctx context.Context, taskID, agentID string) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent id is required", types.ErrInvalidInput)
	}
	if _, err := getTask(ctx, t.tx, taskID); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO participants (task_id, agent_id, joined_at)
		VALUES (?, ?, ?)
		ON CONFLICT(task_id, agent_id) DO NOTHING
	`, taskID, agentID, t.s.now())
	if err != nil {
		return fmt.Errorf("failed to join task %s: %w", taskID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return addEvent(ctx, t.tx, t.s, taskID, types.EventJoined, agentID, nil, nil)
	}
	return nil
}

// GetParticipants returns agents joined to the task, in join order.
func (s *Store) GetParticipants(ctx context.Context, taskID string) ([]*types.Participant, error) {
	return getParticipants(ctx, s.db, taskID)
}

func getParticipants(ctx context.Context, q querier, taskID string) ([]*types.Participant, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT task_id, agent_id, joined_at FROM participants
		WHERE task_id = ?
		ORDER BY joined_at ASC, agent_id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var participants []*types.Participant
	for rows.Next() {
		var p types.Participant
		if err := rows.Scan(&p.TaskID, &p.AgentID, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		p.JoinedAt = p.JoinedAt.UTC()
		participants = append(participants, &p)
	}
	return participants, rows.Err()
}

// IsParticipant reports whether the agent has joined the task.
func (s *Store) IsParticipant(ctx context.Context, taskID, agentID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM participants WHERE task_id = ? AND agent_id = ?`,
		taskID, agentID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return count > 0, nil
}
