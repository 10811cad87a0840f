// Package storage defines the interface for task storage backends.
package storage

import (
	"context"
	"database/sql"

	"github.com/taskmesh/taskmesh/internal/types"
)

// CreateOptions modifies task creation behavior.
type CreateOptions struct {
	// UniqueTitle rejects the insert with Conflict if another task already
	// has the same trimmed title.
	UniqueTitle bool
}

// CompleteOptions modifies task completion behavior.
type CompleteOptions struct {
	ActualHours *float64
	Summary     string
}

// Unblocked describes a dependent that transitioned blocked -> pending as
// part of a completion, plus the notification emitted for it.
type Unblocked struct {
	TaskID       string
	Notification *types.Notification
}

// CompleteEffects reports what a completion changed beyond the task row:
// dependents that unblocked and the completion notifications inserted for
// the other participants.
type CompleteEffects struct {
	Unblocked []Unblocked
	Notified  []*types.Notification
}

// Transaction exposes the subset of Storage methods that execute within a
// single database transaction. All operations share one connection; if the
// callback returns an error or panics the transaction is rolled back,
// otherwise it is committed.
type Transaction interface {
	CreateTask(ctx context.Context, task *types.Task, actor string, opts CreateOptions) error
	GetTask(ctx context.Context, id string) (*types.Task, error)
	UpdateTask(ctx context.Context, id string, patch *types.TaskPatch, actor string) error
	CompleteTask(ctx context.Context, id string, opts CompleteOptions, actor string) (*CompleteEffects, error)
	DeleteTask(ctx context.Context, id string, actor string) error

	AddDependency(ctx context.Context, dep *types.Dependency, actor string) error
	RemoveDependency(ctx context.Context, taskID, dependsOn string, actor string) error

	JoinTask(ctx context.Context, taskID, agentID string) error
	AddNotification(ctx context.Context, n *types.Notification) error
	AddContextEntry(ctx context.Context, entry *types.ContextEntry) error
	AddEvent(ctx context.Context, taskID string, eventType types.EventType, actor string, oldValue, newValue *string) error
}

// Storage defines the interface for task storage backends.
type Storage interface {
	// Tasks
	CreateTask(ctx context.Context, task *types.Task, actor string, opts CreateOptions) error
	GetTask(ctx context.Context, id string) (*types.Task, error)
	GetTaskAggregate(ctx context.Context, id string) (*types.TaskAggregate, error)
	ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error)
	UpdateTask(ctx context.Context, id string, patch *types.TaskPatch, actor string) error
	CompleteTask(ctx context.Context, id string, opts CompleteOptions, actor string) (*CompleteEffects, error)
	DeleteTask(ctx context.Context, id string, actor string) error

	// Dependencies
	AddDependency(ctx context.Context, dep *types.Dependency, actor string) error
	RemoveDependency(ctx context.Context, taskID, dependsOn string, actor string) error
	GetDependencies(ctx context.Context, taskID string) ([]*types.Task, error)
	GetDependents(ctx context.Context, taskID string) ([]*types.Task, error)
	IsBlocked(ctx context.Context, taskID string) (bool, []string, error)
	CriticalPath(ctx context.Context) ([]*types.Task, error)

	// Participants
	JoinTask(ctx context.Context, taskID, agentID string) error
	GetParticipants(ctx context.Context, taskID string) ([]*types.Participant, error)
	IsParticipant(ctx context.Context, taskID, agentID string) (bool, error)

	// Notifications
	AddNotification(ctx context.Context, n *types.Notification) error
	PendingNotifications(ctx context.Context, agentID string) ([]*types.Notification, error)
	AcknowledgeNotifications(ctx context.Context, ids []string) error

	// Context entries (store side of the shared channel)
	AddContextEntry(ctx context.Context, entry *types.ContextEntry) error
	GetContextEntries(ctx context.Context, taskID string) ([]*types.ContextEntry, error)

	// Audit events
	GetEvents(ctx context.Context, taskID string, limit int) ([]*types.Event, error)

	// Statistics
	GetStatistics(ctx context.Context) (*types.Statistics, error)

	// Config
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)

	// Transactions. If fn returns nil the transaction commits; on error or
	// panic it rolls back. Uses BEGIN IMMEDIATE to acquire the write lock
	// early and serialize concurrent writers.
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Integrity runs the backend integrity check, failing with Corrupt.
	Integrity(ctx context.Context) error

	// Lifecycle
	Close() error
	Path() string

	// UnderlyingDB exposes the raw connection for migrations and tests.
	UnderlyingDB() *sql.DB
}
