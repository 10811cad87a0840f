// Package types defines the core data structures for the taskmesh engine.
package types

import (
	"strings"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusCancelled  Status = "cancelled"
)

// ValidStatuses lists all accepted task statuses.
var ValidStatuses = []Status{
	StatusPending, StatusInProgress, StatusCompleted, StatusBlocked, StatusCancelled,
}

// IsValid reports whether s is a recognized status.
func (s Status) IsValid() bool {
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Priority represents task urgency. Stored as text; Rank gives sort order.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns the numeric sort rank of a priority (higher is more urgent).
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	}
	return -1
}

// IsValid reports whether p is a recognized priority.
func (p Priority) IsValid() bool {
	return p.Rank() >= 0
}

// MaxTitleLength is the maximum allowed title length in characters.
const MaxTitleLength = 500

// MaxDescriptionLength is the maximum allowed description length in characters.
const MaxDescriptionLength = 5000

// Criterion is one success condition on a task. Measurable is either the
// literal "true" (manual confirmation required) or a boolean expression over
// the fixed symbol table evaluated by the criteria package.
type Criterion struct {
	Criterion  string `json:"criterion" yaml:"criterion" toml:"criterion"`
	Measurable string `json:"measurable" yaml:"measurable" toml:"measurable"`
}

// Task is the central entity tracked by the engine.
type Task struct {
	ID                 string      `json:"id"`
	Title              string      `json:"title"`
	Description        string      `json:"description,omitempty"`
	Status             Status      `json:"status"`
	Priority           Priority    `json:"priority"`
	Assignee           string      `json:"assignee,omitempty"`
	CreatedBy          string      `json:"created_by"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	SuccessCriteria    []Criterion `json:"success_criteria,omitempty"`
	Deadline           *time.Time  `json:"deadline,omitempty"`
	EstimatedHours     *float64    `json:"estimated_hours,omitempty"`
	ActualHours        *float64    `json:"actual_hours,omitempty"`
	FeedbackQuality    *int        `json:"feedback_quality,omitempty"`
	FeedbackTimeliness *int        `json:"feedback_timeliness,omitempty"`
	FeedbackNotes      string      `json:"feedback_notes,omitempty"`
	CompletionSummary  string      `json:"completion_summary,omitempty"`
	Tags               []string    `json:"tags,omitempty"`
}

// TrimmedTitle returns the title with surrounding whitespace removed.
func (t *Task) TrimmedTitle() string {
	return strings.TrimSpace(t.Title)
}

// Dependency is a directed edge: TaskID depends on DependsOn.
type Dependency struct {
	TaskID    string    `json:"task_id"`
	DependsOn string    `json:"depends_on"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

// Participant records an agent that has joined a task.
type Participant struct {
	TaskID   string    `json:"task_id"`
	AgentID  string    `json:"agent_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// NotificationKind classifies broadcast notifications.
type NotificationKind string

const (
	NotifyUnblocked NotificationKind = "unblocked"
	NotifyCompleted NotificationKind = "completed"
	NotifyDiscovery NotificationKind = "discovery"
	NotifyAssigned  NotificationKind = "assigned"
	NotifyConflict  NotificationKind = "conflict"
)

// Notification is an event delivered to one agent or broadcast to all.
// TargetAgent empty means broadcast.
type Notification struct {
	ID           string           `json:"id"`
	TaskID       string           `json:"task_id,omitempty"`
	Kind         NotificationKind `json:"kind"`
	TargetAgent  string           `json:"target_agent,omitempty"`
	Payload      string           `json:"payload,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	Acknowledged bool             `json:"acknowledged"`
}

// ContextKind classifies shared-visibility context entries.
type ContextKind string

const (
	ContextShare    ContextKind = "share"
	ContextDiscover ContextKind = "discover"
	ContextSync     ContextKind = "sync"
)

// ContextEntry is a shared-visibility update on a task.
type ContextEntry struct {
	Seq       int64       `json:"seq"`
	TaskID    string      `json:"task_id"`
	AgentID   string      `json:"agent_id"`
	Kind      ContextKind `json:"kind"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"created_at"`
}

// PrivateNote is a single-reader scratch entry, visible only to its author.
type PrivateNote struct {
	TaskID    string    `json:"task_id"`
	AgentID   string    `json:"agent_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// EventType classifies audit trail events.
type EventType string

const (
	EventCreated   EventType = "created"
	EventUpdated   EventType = "updated"
	EventCompleted EventType = "completed"
	EventDeleted   EventType = "deleted"
	EventAssigned  EventType = "assigned"
	EventJoined    EventType = "joined"
	EventFeedback  EventType = "feedback"
	EventProgress  EventType = "progress"
)

// Event is one row of the append-only audit trail.
type Event struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	EventType EventType `json:"event_type"`
	Actor     string    `json:"actor"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  *string   `json:"new_value,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskFilter selects tasks for List queries. Nil fields match everything.
type TaskFilter struct {
	Status          *Status
	Assignee        *string
	Priority        *Priority
	Tag             string
	HasDependencies *bool
	IsBlocked       *bool
	Limit           int
}

// DefaultListLimit caps List results when the caller supplies no limit.
const DefaultListLimit = 100

// TaskPatch carries a partial update. Nil fields are untouched.
// ExpectedUpdatedAt, when set, is an optimistic concurrency token: the update
// fails with Conflict if the stored updated_at differs.
type TaskPatch struct {
	Title              *string
	Description        *string
	Status             *Status
	Priority           *Priority
	Assignee           *string
	Deadline           *time.Time
	ClearDeadline      bool
	EstimatedHours     *float64
	ActualHours        *float64
	SuccessCriteria    []Criterion
	Tags               []string
	CompletionSummary  *string
	FeedbackQuality    *int
	FeedbackTimeliness *int
	FeedbackNotes      *string
	ExpectedUpdatedAt  *time.Time
}

// IsEmpty reports whether the patch changes nothing.
func (p *TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.Assignee == nil && p.Deadline == nil &&
		!p.ClearDeadline && p.EstimatedHours == nil && p.ActualHours == nil &&
		p.SuccessCriteria == nil && p.Tags == nil && p.CompletionSummary == nil &&
		p.FeedbackQuality == nil && p.FeedbackTimeliness == nil && p.FeedbackNotes == nil
}

// TaskAggregate is the full view returned by Show: the task plus its edges,
// participants and recent audit events.
type TaskAggregate struct {
	Task         *Task          `json:"task"`
	Dependencies []*Dependency  `json:"dependencies,omitempty"`
	Dependents   []*Dependency  `json:"dependents,omitempty"`
	Participants []*Participant `json:"participants,omitempty"`
	Events       []*Event       `json:"events,omitempty"`
}

// Statistics holds aggregate task counts for metrics reports.
type Statistics struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Blocked    int `json:"blocked"`
	Cancelled  int `json:"cancelled"`
}
