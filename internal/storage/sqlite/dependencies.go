package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/types"
)

// AddDependency inserts the edge task_id -> depends_on after verifying both
// endpoints exist, the edge is not a self-loop, and the graph stays acyclic.
// The dependent's status is recomputed in the same transaction.
func (s *Store) AddDependency(ctx context.Context, dep *types.Dependency, actor string) error {
	return s.RunInTransaction(ctx, func(t storage.Transaction) error {
		return t.AddDependency(ctx, dep, actor)
	})
}

func (t *tx) AddDependency(ctx context.Context, dep *types.Dependency, actor string) error {
	if dep.TaskID == dep.DependsOn {
		return fmt.Errorf("%w: task %s cannot depend on itself", types.ErrCycle, dep.TaskID)
	}
	dependent, err := getTask(ctx, t.tx, dep.TaskID)
	if err != nil {
		return err
	}
	target, err := getTask(ctx, t.tx, dep.DependsOn)
	if err != nil {
		return err
	}
	// A completed task has no incomplete dependencies; taking one on now
	// would contradict its completion.
	if dependent.Status == types.StatusCompleted && target.Status != types.StatusCompleted {
		return fmt.Errorf("%w: completed task %s cannot depend on incomplete task %s",
			types.ErrConflict, dep.TaskID, dep.DependsOn)
	}

	// Cycle check: the edge A -> B is illegal when A is reachable from B
	// over existing outgoing edges.
	var reachable int
	err = t.tx.QueryRowContext(ctx, `
		WITH RECURSIVE reach(id) AS (
			VALUES(?)
			UNION
			SELECT d.depends_on FROM dependencies d JOIN reach ON d.task_id = reach.id
		)
		SELECT COUNT(*) FROM reach WHERE id = ?
	`, dep.DependsOn, dep.TaskID).Scan(&reachable)
	if err != nil {
		return fmt.Errorf("failed to check for cycles: %w", err)
	}
	if reachable > 0 {
		return fmt.Errorf("%w: %s -> %s would close a cycle", types.ErrCycle, dep.TaskID, dep.DependsOn)
	}

	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = t.s.now()
	}
	if dep.CreatedBy == "" {
		dep.CreatedBy = actor
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO dependencies (task_id, depends_on, created_at, created_by)
		VALUES (?, ?, ?, ?)
	`, dep.TaskID, dep.DependsOn, dep.CreatedAt, dep.CreatedBy)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: dependency %s -> %s already exists", types.ErrConflict, dep.TaskID, dep.DependsOn)
		}
		return fmt.Errorf("failed to insert dependency: %w", err)
	}

	// A new edge on an incomplete target blocks the dependent. Cancelled
	// tasks keep their status, matching the update invariant.
	if target.Status != types.StatusCompleted && dependent.Status != types.StatusCancelled {
		if err := setStatus(ctx, t.tx, t.s, dep.TaskID, types.StatusBlocked); err != nil {
			return err
		}
	}
	return nil
}

// RemoveDependency deletes the edge and recomputes the dependent's status.
func (s *Store) RemoveDependency(ctx context.Context, taskID, dependsOn string, actor string) error {
	return s.RunInTransaction(ctx, func(t storage.Transaction) error {
		return t.RemoveDependency(ctx, taskID, dependsOn, actor)
	})
}

func (t *tx) RemoveDependency(ctx context.Context, taskID, dependsOn string, actor string) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM dependencies WHERE task_id = ? AND depends_on = ?`, taskID, dependsOn)
	if err != nil {
		return fmt.Errorf("failed to remove dependency: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: dependency %s -> %s", types.ErrNotFound, taskID, dependsOn)
	}

	task, err := getTask(ctx, t.tx, taskID)
	if err != nil {
		return err
	}
	if task.Status == types.StatusBlocked {
		blocked, err := hasIncompleteDeps(ctx, t.tx, taskID)
		if err != nil {
			return err
		}
		if !blocked {
			return setStatus(ctx, t.tx, t.s, taskID, types.StatusPending)
		}
	}
	return nil
}

// GetDependencies returns the tasks this task depends on.
func (s *Store) GetDependencies(ctx context.Context, taskID string) ([]*types.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE id IN (SELECT depends_on FROM dependencies WHERE task_id = ?)
		ORDER BY created_at, id
	`, taskID)
}

// GetDependents returns the tasks that depend on this task.
func (s *Store) GetDependents(ctx context.Context, taskID string) ([]*types.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE id IN (SELECT task_id FROM dependencies WHERE depends_on = ?)
		ORDER BY created_at, id
	`, taskID)
}

// IsBlocked reports whether the task has incomplete dependencies, returning
// the blocker ids.
func (s *Store) IsBlocked(ctx context.Context, taskID string) (bool, []string, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return false, nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.depends_on FROM dependencies d
		JOIN tasks dep ON d.depends_on = dep.id
		WHERE d.task_id = ? AND dep.status != 'completed'
		ORDER BY dep.created_at, dep.id
	`, taskID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to query blockers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var blockers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return false, nil, fmt.Errorf("failed to scan blocker: %w", err)
		}
		blockers = append(blockers, id)
	}
	return len(blockers) > 0, blockers, rows.Err()
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func dependencyRecords(ctx context.Context, q querier, query string, args ...any) ([]*types.Dependency, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deps []*types.Dependency
	for rows.Next() {
		var dep types.Dependency
		if err := rows.Scan(&dep.TaskID, &dep.DependsOn, &dep.CreatedAt, &dep.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		dep.CreatedAt = dep.CreatedAt.UTC()
		deps = append(deps, &dep)
	}
	return deps, rows.Err()
}

// hasIncompleteDeps reports whether any dependency of taskID is incomplete.
func hasIncompleteDeps(ctx context.Context, q querier, taskID string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dependencies d
		JOIN tasks dep ON d.depends_on = dep.id
		WHERE d.task_id = ? AND dep.status != 'completed'
	`, taskID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check dependencies: %w", err)
	}
	return count > 0, nil
}

// setStatus updates status and updated_at without touching other fields.
func setStatus(ctx context.Context, q querier, s *Store, taskID string, status types.Status) error {
	_, err := q.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		status, s.now(), taskID)
	if err != nil {
		return fmt.Errorf("failed to set status of %s: %w", taskID, err)
	}
	return nil
}

// isUniqueConstraintError checks for a UNIQUE/PRIMARY KEY violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
