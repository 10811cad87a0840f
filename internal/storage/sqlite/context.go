package sqlite

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/types"
)

// AddContextEntry appends a shared-visibility entry for a task. The sequence
// number is assigned by the database and written back into entry.
func (s *Store) AddContextEntry(ctx context.Context, entry *types.ContextEntry) error {
	return s.RunInTransaction(ctx, func(t storage.Transaction) error {
		return t.AddContextEntry(ctx, entry)
	})
}

func (t *tx) AddContextEntry(ctx context.Context, entry *types.ContextEntry) error {
	if entry.TaskID == "" || entry.AgentID == "" {
		return fmt.Errorf("%w: context entry requires task and agent", types.ErrInvalidInput)
	}
	switch entry.Kind {
	case types.ContextShare, types.ContextDiscover, types.ContextSync:
	default:
		return fmt.Errorf("%w: invalid context kind %q", types.ErrInvalidInput, entry.Kind)
	}
	if _, err := getTask(ctx, t.tx, entry.TaskID); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.s.now()
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO context_entries (task_id, agent_id, kind, text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.TaskID, entry.AgentID, entry.Kind, entry.Text, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert context entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get context entry seq: %w", err)
	}
	entry.Seq = seq
	return nil
}

// GetContextEntries returns all shared entries for a task in insertion order.
func (s *Store) GetContextEntries(ctx context.Context, taskID string) ([]*types.ContextEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, task_id, agent_id, kind, text, created_at
		FROM context_entries WHERE task_id = ?
		ORDER BY seq ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query context entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.ContextEntry
	for rows.Next() {
		var e types.ContextEntry
		if err := rows.Scan(&e.Seq, &e.TaskID, &e.AgentID, &e.Kind, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan context entry: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
