package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/internal/ids"
	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/types"
)

// querier is the common surface of *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const taskColumns = `id, title, description, status, priority, assignee, created_by,
	created_at, updated_at, completed_at, success_criteria, deadline,
	estimated_hours, actual_hours, feedback_quality, feedback_timeliness,
	feedback_notes, completion_summary, tags`

// CreateTask inserts a task, generating an id and timestamps. The initial
// status is pending; dependency insertion may flip it to blocked.
func (t *tx) CreateTask(ctx context.Context, task *types.Task, actor string, opts storage.CreateOptions) error {
	return createTask(ctx, t.tx, t.s, task, actor, opts)
}

// CreateTask (non-transactional) wraps the insert in its own transaction.
func (s *Store) CreateTask(ctx context.Context, task *types.Task, actor string, opts storage.CreateOptions) error {
	return s.RunInTransaction(ctx, func(t storage.Transaction) error {
		return t.CreateTask(ctx, task, actor, opts)
	})
}

func createTask(ctx context.Context, q querier, s *Store, task *types.Task, actor string, opts storage.CreateOptions) error {
	if task.Status == "" {
		task.Status = types.StatusPending
	}
	if task.Priority == "" {
		task.Priority = types.PriorityMedium
	}
	if task.CreatedBy == "" {
		task.CreatedBy = actor
	}
	if err := validateTask(task); err != nil {
		return err
	}

	if opts.UniqueTitle {
		var count int
		err := q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tasks WHERE TRIM(title) = ?`, task.TrimmedTitle()).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check title uniqueness: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: duplicate title %q", types.ErrConflict, task.TrimmedTitle())
		}
	}

	now := s.now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = task.CreatedAt

	if task.ID == "" {
		id, err := ids.Generate(task.Title+"|"+task.Description+"|"+actor, task.CreatedAt,
			func(candidate string) (bool, error) {
				var count int
				err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, candidate).Scan(&count)
				return count > 0, err
			})
		if err != nil {
			return err
		}
		task.ID = id
	}

	criteriaJSON, err := marshalCriteria(task.SuccessCriteria)
	if err != nil {
		return err
	}
	tagsJSON, err := marshalTags(task.Tags)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID, task.Title, task.Description, task.Status, task.Priority,
		nullString(task.Assignee), task.CreatedBy, task.CreatedAt, task.UpdatedAt,
		task.CompletedAt, criteriaJSON, task.Deadline,
		task.EstimatedHours, task.ActualHours,
		task.FeedbackQuality, task.FeedbackTimeliness,
		task.FeedbackNotes, task.CompletionSummary, tagsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	return addEvent(ctx, q, s, task.ID, types.EventCreated, actor, nil, strPtr(task.Title))
}

// GetTask returns a single task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	return getTask(ctx, s.db, id)
}

func (t *tx) GetTask(ctx context.Context, id string) (*types.Task, error) {
	return getTask(ctx, t.tx, id)
}

func getTask(ctx context.Context, q querier, id string) (*types.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: task %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return task, nil
}

// GetTaskAggregate returns the task plus edges, participants and recent
// audit events.
func (s *Store) GetTaskAggregate(ctx context.Context, id string) (*types.TaskAggregate, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	agg := &types.TaskAggregate{Task: task}

	agg.Dependencies, err = dependencyRecords(ctx, s.db,
		`SELECT task_id, depends_on, created_at, created_by FROM dependencies WHERE task_id = ? ORDER BY created_at, depends_on`, id)
	if err != nil {
		return nil, err
	}
	agg.Dependents, err = dependencyRecords(ctx, s.db,
		`SELECT task_id, depends_on, created_at, created_by FROM dependencies WHERE depends_on = ? ORDER BY created_at, task_id`, id)
	if err != nil {
		return nil, err
	}
	agg.Participants, err = s.GetParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	agg.Events, err = s.GetEvents(ctx, id, 20)
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// ListTasks returns tasks matching the filter, ordered by priority desc then
// created_at asc, capped at filter.Limit (default 100).
func (s *Store) ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	var conds []string
	var args []any

	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Assignee != nil {
		conds = append(conds, "assignee = ?")
		args = append(args, *filter.Assignee)
	}
	if filter.Priority != nil {
		conds = append(conds, "priority = ?")
		args = append(args, *filter.Priority)
	}
	if filter.Tag != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(tasks.tags) WHERE json_each.value = ?)")
		args = append(args, filter.Tag)
	}
	if filter.HasDependencies != nil {
		op := "EXISTS"
		if !*filter.HasDependencies {
			op = "NOT EXISTS"
		}
		conds = append(conds, op+" (SELECT 1 FROM dependencies d WHERE d.task_id = tasks.id)")
	}
	if filter.IsBlocked != nil {
		op := "EXISTS"
		if !*filter.IsBlocked {
			op = "NOT EXISTS"
		}
		conds = append(conds, op+` (SELECT 1 FROM dependencies d
			JOIN tasks dep ON d.depends_on = dep.id
			WHERE d.task_id = tasks.id AND dep.status != 'completed')`)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = types.DefaultListLimit
	}
	args = append(args, limit)

	// #nosec G201 - conds are built from fixed fragments
	query := fmt.Sprintf(`
		SELECT `+taskColumns+` FROM tasks
		%s
		ORDER BY CASE priority
			WHEN 'critical' THEN 3
			WHEN 'high' THEN 2
			WHEN 'medium' THEN 1
			ELSE 0 END DESC,
			created_at ASC, id ASC
		LIMIT ?
	`, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
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

// UpdateTask applies a partial update. Setting status to completed is the
// complete operation's job and is rejected here.
func (s *Store) UpdateTask(ctx context.Context, id string, patch *types.TaskPatch, actor string) error {
	return s.RunInTransaction(ctx, func(t storage.Transaction) error {
		return t.UpdateTask(ctx, id, patch, actor)
	})
}

func (t *tx) UpdateTask(ctx context.Context, id string, patch *types.TaskPatch, actor string) error {
	current, err := getTask(ctx, t.tx, id)
	if err != nil {
		return err
	}
	if patch.ExpectedUpdatedAt != nil && !patch.ExpectedUpdatedAt.Equal(current.UpdatedAt) {
		return fmt.Errorf("%w: task %s modified since read", types.ErrConflict, id)
	}
	if patch.Status != nil && *patch.Status == types.StatusCompleted {
		return fmt.Errorf("%w: use complete to finish a task", types.ErrInvalidInput)
	}
	if patch.Status != nil && current.Status == types.StatusCompleted {
		return fmt.Errorf("%w: completed task %s cannot be reopened", types.ErrInvalidInput, id)
	}
	updated := *current
	oldStatus := current.Status
	if patch.Title != nil {
		updated.Title = *patch.Title
	}
	if patch.Description != nil {
		updated.Description = *patch.Description
	}
	if patch.Status != nil {
		updated.Status = *patch.Status
	}
	if patch.Priority != nil {
		updated.Priority = *patch.Priority
	}
	if patch.Assignee != nil {
		updated.Assignee = *patch.Assignee
	}
	if patch.ClearDeadline {
		updated.Deadline = nil
	} else if patch.Deadline != nil {
		updated.Deadline = patch.Deadline
	}
	if patch.EstimatedHours != nil {
		updated.EstimatedHours = patch.EstimatedHours
	}
	if patch.ActualHours != nil {
		updated.ActualHours = patch.ActualHours
	}
	if patch.SuccessCriteria != nil {
		updated.SuccessCriteria = patch.SuccessCriteria
	}
	if patch.Tags != nil {
		updated.Tags = patch.Tags
	}
	if patch.CompletionSummary != nil {
		updated.CompletionSummary = *patch.CompletionSummary
	}
	if patch.FeedbackQuality != nil {
		updated.FeedbackQuality = patch.FeedbackQuality
	}
	if patch.FeedbackTimeliness != nil {
		updated.FeedbackTimeliness = patch.FeedbackTimeliness
	}
	if patch.FeedbackNotes != nil {
		updated.FeedbackNotes = *patch.FeedbackNotes
	}
	if err := validateTask(&updated); err != nil {
		return err
	}

	// Keep the blocked invariant: a non-completed task with incomplete
	// dependencies is blocked regardless of the requested status.
	if updated.Status != types.StatusCompleted && updated.Status != types.StatusCancelled {
		blocked, err := hasIncompleteDeps(ctx, t.tx, id)
		if err != nil {
			return err
		}
		if blocked {
			updated.Status = types.StatusBlocked
		} else if updated.Status == types.StatusBlocked {
			updated.Status = types.StatusPending
		}
	}

	updated.UpdatedAt = t.s.now()

	criteriaJSON, err := marshalCriteria(updated.SuccessCriteria)
	if err != nil {
		return err
	}
	tagsJSON, err := marshalTags(updated.Tags)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, `
		UPDATE tasks SET
			title = ?, description = ?, status = ?, priority = ?, assignee = ?,
			updated_at = ?, success_criteria = ?, deadline = ?,
			estimated_hours = ?, actual_hours = ?,
			feedback_quality = ?, feedback_timeliness = ?,
			feedback_notes = ?, completion_summary = ?, tags = ?
		WHERE id = ?
	`,
		updated.Title, updated.Description, updated.Status, updated.Priority,
		nullString(updated.Assignee), updated.UpdatedAt, criteriaJSON,
		updated.Deadline, updated.EstimatedHours, updated.ActualHours,
		updated.FeedbackQuality, updated.FeedbackTimeliness,
		updated.FeedbackNotes, updated.CompletionSummary, tagsJSON, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", id, err)
	}

	if oldStatus != updated.Status {
		old := string(oldStatus)
		next := string(updated.Status)
		return addEvent(ctx, t.tx, t.s, id, types.EventUpdated, actor, &old, &next)
	}
	return addEvent(ctx, t.tx, t.s, id, types.EventUpdated, actor, nil, nil)
}

// DeleteTask removes a task. Refused with HasDependents if any edge points
// at it; otherwise owned rows cascade (audit events survive).
func (s *Store) DeleteTask(ctx context.Context, id string, actor string) error {
	return s.RunInTransaction(ctx, func(t storage.Transaction) error {
		return t.DeleteTask(ctx, id, actor)
	})
}

func (t *tx) DeleteTask(ctx context.Context, id string, actor string) error {
	if _, err := getTask(ctx, t.tx, id); err != nil {
		return err
	}
	var dependents int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dependencies WHERE depends_on = ?`, id).Scan(&dependents)
	if err != nil {
		return fmt.Errorf("failed to count dependents: %w", err)
	}
	if dependents > 0 {
		return fmt.Errorf("%w: task %s has %d dependent(s)", types.ErrHasDependents, id, dependents)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return addEvent(ctx, t.tx, t.s, id, types.EventDeleted, actor, nil, nil)
}

// scanner is the common surface of *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*types.Task, error) {
	var task types.Task
	var assignee sql.NullString
	var completedAt, deadline sql.NullTime
	var estimated, actual sql.NullFloat64
	var quality, timeliness sql.NullInt64
	var criteriaJSON, tagsJSON string

	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &task.Status, &task.Priority,
		&assignee, &task.CreatedBy, &task.CreatedAt, &task.UpdatedAt,
		&completedAt, &criteriaJSON, &deadline,
		&estimated, &actual, &quality, &timeliness,
		&task.FeedbackNotes, &task.CompletionSummary, &tagsJSON,
	)
	if err != nil {
		return nil, err
	}

	if assignee.Valid {
		task.Assignee = assignee.String
	}
	if completedAt.Valid {
		ts := completedAt.Time.UTC()
		task.CompletedAt = &ts
	}
	if deadline.Valid {
		ts := deadline.Time.UTC()
		task.Deadline = &ts
	}
	if estimated.Valid {
		task.EstimatedHours = &estimated.Float64
	}
	if actual.Valid {
		task.ActualHours = &actual.Float64
	}
	if quality.Valid {
		n := int(quality.Int64)
		task.FeedbackQuality = &n
	}
	if timeliness.Valid {
		n := int(timeliness.Int64)
		task.FeedbackTimeliness = &n
	}
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()

	if err := json.Unmarshal([]byte(criteriaJSON), &task.SuccessCriteria); err != nil {
		return nil, fmt.Errorf("corrupt success_criteria for %s: %w", task.ID, err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &task.Tags); err != nil {
		return nil, fmt.Errorf("corrupt tags for %s: %w", task.ID, err)
	}
	return &task, nil
}

func marshalCriteria(criteria []types.Criterion) (string, error) {
	if criteria == nil {
		return "[]", nil
	}
	data, err := json.Marshal(criteria)
	if err != nil {
		return "", fmt.Errorf("failed to marshal success criteria: %w", err)
	}
	return string(data), nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		return "[]", nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	return string(data), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func strPtr(s string) *string {
	return &s
}
