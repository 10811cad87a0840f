package sqlite

import (
	"context"
	"fmt"
	"sort"

	"github.com/taskmesh/taskmesh/internal/types"
)

// GetStatistics returns aggregate task counts by status.
func (s *Store) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &types.Statistics{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan statistics: %w", err)
		}
		stats.Total += count
		switch types.Status(status) {
		case types.StatusPending:
			stats.Pending = count
		case types.StatusInProgress:
			stats.InProgress = count
		case types.StatusCompleted:
			stats.Completed = count
		case types.StatusBlocked:
			stats.Blocked = count
		case types.StatusCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

// CriticalPath returns the heaviest dependency chain among incomplete tasks,
// ordered from the deepest prerequisite to the final dependent. Weight is
// estimated_hours, defaulting to 1 when unset. Ties break by priority rank
// then id so the result is deterministic.
func (s *Store) CriticalPath(ctx context.Context) ([]*types.Task, error) {
	tasks, err := s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status NOT IN ('completed', 'cancelled')
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	byID := make(map[string]*types.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	// Edges restricted to the incomplete subgraph: dependents[dep] lists
	// tasks that must wait for dep.
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, depends_on FROM dependencies`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependency edges: %w", err)
	}
	dependents := make(map[string][]string)
	indegree := make(map[string]int)
	for rows.Next() {
		var taskID, dependsOn string
		if err := rows.Scan(&taskID, &dependsOn); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan dependency edge: %w", err)
		}
		if byID[taskID] == nil || byID[dependsOn] == nil {
			continue
		}
		dependents[dependsOn] = append(dependents[dependsOn], taskID)
		indegree[taskID]++
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	weight := func(id string) float64 {
		if h := byID[id].EstimatedHours; h != nil {
			return *h
		}
		return 1
	}

	// Longest path over the DAG in topological order. cost[id] is the weight
	// of the heaviest chain ending at id; prev[id] reconstructs it.
	var queue []string
	for _, t := range tasks {
		if indegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}
	sort.Strings(queue)

	cost := make(map[string]float64, len(tasks))
	prev := make(map[string]string, len(tasks))
	for _, t := range tasks {
		cost[t.ID] = weight(t.ID)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range dependents[id] {
			if c := cost[id] + weight(next); c > cost[next] || (c == cost[next] && betterTail(byID, id, prev[next])) {
				cost[next] = c
				prev[next] = id
			}
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
				sort.Strings(queue)
			}
		}
	}

	tail := ""
	for _, t := range tasks {
		if tail == "" || cost[t.ID] > cost[tail] ||
			(cost[t.ID] == cost[tail] && betterTail(byID, t.ID, tail)) {
			tail = t.ID
		}
	}

	var path []*types.Task
	for id := tail; id != ""; id = prev[id] {
		path = append(path, byID[id])
	}
	// Reverse: deepest prerequisite first.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// betterTail prefers the higher-priority task, then the smaller id.
func betterTail(byID map[string]*types.Task, a, b string) bool {
	if b == "" {
		return true
	}
	ra, rb := byID[a].Priority.Rank(), byID[b].Priority.Rank()
	if ra != rb {
		return ra > rb
	}
	return a < b
}
