package telemetry

import (
	"time"

	"github.com/taskmesh/taskmesh/internal/types"
)

// AssigneeMetrics summarizes one assignee's completed work.
type AssigneeMetrics struct {
	Assignee       string  `json:"assignee"`
	Completed      int     `json:"completed"`
	OnTime         int     `json:"on_time"`
	AvgQuality     float64 `json:"avg_quality,omitempty"`
	AvgTimeliness  float64 `json:"avg_timeliness,omitempty"`
	TotalEstimated float64 `json:"total_estimated_hours,omitempty"`
	TotalActual    float64 `json:"total_actual_hours,omitempty"`
}

// Metrics is the aggregate report for a time window.
type Metrics struct {
	WindowStart    time.Time         `json:"window_start,omitempty"`
	WindowEnd      time.Time         `json:"window_end,omitempty"`
	Total          int               `json:"total"`
	Completed      int               `json:"completed"`
	CompletionRate float64           `json:"completion_rate"`
	OnTimeRate     float64           `json:"on_time_rate,omitempty"`
	AvgQuality     float64           `json:"avg_quality,omitempty"`
	AvgTimeliness  float64           `json:"avg_timeliness,omitempty"`
	PerAssignee    []AssigneeMetrics `json:"per_assignee,omitempty"`
}

// Compute aggregates metrics over tasks created within [since, until).
// Zero bounds are open.
func Compute(tasks []*types.Task, since, until time.Time) *Metrics {
	m := &Metrics{WindowStart: since, WindowEnd: until}

	type acc struct {
		completed, onTime, withDeadline int
		qualitySum, qualityN            int
		timelinessSum, timelinessN      int
		estimatedSum, actualSum         float64
	}
	perAssignee := map[string]*acc{}
	var order []string
	total := acc{}

	for _, t := range tasks {
		if !since.IsZero() && t.CreatedAt.Before(since) {
			continue
		}
		if !until.IsZero() && !t.CreatedAt.Before(until) {
			continue
		}
		m.Total++
		if t.Status != types.StatusCompleted {
			continue
		}
		m.Completed++

		accs := []*acc{&total}
		if t.Assignee != "" {
			a := perAssignee[t.Assignee]
			if a == nil {
				a = &acc{}
				perAssignee[t.Assignee] = a
				order = append(order, t.Assignee)
			}
			accs = append(accs, a)
		}
		for _, a := range accs {
			a.completed++
			if t.Deadline != nil {
				a.withDeadline++
				if t.CompletedAt != nil && !t.CompletedAt.After(*t.Deadline) {
					a.onTime++
				}
			}
			if t.FeedbackQuality != nil {
				a.qualitySum += *t.FeedbackQuality
				a.qualityN++
			}
			if t.FeedbackTimeliness != nil {
				a.timelinessSum += *t.FeedbackTimeliness
				a.timelinessN++
			}
			if t.EstimatedHours != nil {
				a.estimatedSum += *t.EstimatedHours
			}
			if t.ActualHours != nil {
				a.actualSum += *t.ActualHours
			}
		}
	}

	if m.Total > 0 {
		m.CompletionRate = float64(m.Completed) / float64(m.Total)
	}
	if total.withDeadline > 0 {
		m.OnTimeRate = float64(total.onTime) / float64(total.withDeadline)
	}
	if total.qualityN > 0 {
		m.AvgQuality = float64(total.qualitySum) / float64(total.qualityN)
	}
	if total.timelinessN > 0 {
		m.AvgTimeliness = float64(total.timelinessSum) / float64(total.timelinessN)
	}
	for _, name := range order {
		a := perAssignee[name]
		am := AssigneeMetrics{
			Assignee:       name,
			Completed:      a.completed,
			OnTime:         a.onTime,
			TotalEstimated: a.estimatedSum,
			TotalActual:    a.actualSum,
		}
		if a.qualityN > 0 {
			am.AvgQuality = float64(a.qualitySum) / float64(a.qualityN)
		}
		if a.timelinessN > 0 {
			am.AvgTimeliness = float64(a.timelinessSum) / float64(a.timelinessN)
		}
		m.PerAssignee = append(m.PerAssignee, am)
	}
	return m
}
