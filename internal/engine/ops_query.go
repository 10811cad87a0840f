package engine

import (
	"context"
	"time"

	"github.com/taskmesh/taskmesh/internal/enforce"
	"github.com/taskmesh/taskmesh/internal/telemetry"
	"github.com/taskmesh/taskmesh/internal/types"
)

// List returns tasks matching the filter under the shared lock.
func (e *Engine) List(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	var tasks []*types.Task
	err := e.read(ctx, "list", "", func(ctx context.Context) error {
		var err error
		tasks, err = e.store.ListTasks(ctx, filter)
		return err
	})
	return tasks, err
}

// Show returns the full aggregate for one task.
func (e *Engine) Show(ctx context.Context, id string) (*types.TaskAggregate, error) {
	var agg *types.TaskAggregate
	err := e.read(ctx, "show", id, func(ctx context.Context) error {
		var err error
		agg, err = e.store.GetTaskAggregate(ctx, id)
		return err
	})
	return agg, err
}

// CriticalPath returns the heaviest incomplete dependency chain.
func (e *Engine) CriticalPath(ctx context.Context) ([]*types.Task, error) {
	var path []*types.Task
	err := e.read(ctx, "critical_path", "", func(ctx context.Context) error {
		var err error
		path, err = e.store.CriticalPath(ctx)
		return err
	})
	return path, err
}

// ValidateEnforcement returns the current policy findings without mutating
// anything.
func (e *Engine) ValidateEnforcement() []types.Violation {
	return e.gate.Validate(e.agentID)
}

// EnforcementMode returns the active enforcement mode.
func (e *Engine) EnforcementMode() enforce.Mode {
	return e.gate.Mode()
}

// MetricsReport is the metrics operation result.
type MetricsReport struct {
	Statistics *types.Statistics  `json:"statistics"`
	Metrics    *telemetry.Metrics `json:"metrics"`
}

// Metrics aggregates completion and feedback statistics for tasks created
// within the window. Zero bounds are open.
func (e *Engine) Metrics(ctx context.Context, since, until time.Time) (*MetricsReport, error) {
	report := &MetricsReport{}
	err := e.read(ctx, "metrics", "", func(ctx context.Context) error {
		stats, err := e.store.GetStatistics(ctx)
		if err != nil {
			return err
		}
		report.Statistics = stats
		tasks, err := e.store.ListTasks(ctx, types.TaskFilter{Limit: 1 << 30})
		if err != nil {
			return err
		}
		report.Metrics = telemetry.Compute(tasks, since, until)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Migrate brings the store schema up to date, snapshotting the database
// file into backups/ first.
func (e *Engine) Migrate(ctx context.Context) error {
	release, err := e.lock.Exclusive(ctx)
	if err != nil {
		return err
	}
	defer release()
	return e.sqlStore.Migrate(ctx, e.ws.BackupsDir())
}

// SchemaVersion returns the store's applied schema version.
func (e *Engine) SchemaVersion(ctx context.Context) (int, error) {
	return e.sqlStore.CurrentVersion(ctx)
}

// Integrity runs the store integrity check.
func (e *Engine) Integrity(ctx context.Context) error {
	return e.read(ctx, "integrity", "", func(ctx context.Context) error {
		return e.store.Integrity(ctx)
	})
}
