// Package telemetry appends operation events to the workspace NDJSON log
// and aggregates metrics for reports. Appends are best-effort: a failed
// write never aborts the operation that produced it.
package telemetry

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"time"
)

// Outcome classifies how an operation ended.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Event is one NDJSON record in the telemetry log.
type Event struct {
	TS         time.Time `json:"ts"`
	Workspace  string    `json:"workspace"`
	Agent      string    `json:"agent"`
	Op         string    `json:"op"`
	TaskID     string    `json:"task_id,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Outcome    string    `json:"outcome"`
}

// Recorder appends to one workspace's telemetry log.
type Recorder struct {
	path      string
	workspace string
	log       *slog.Logger
}

// NewRecorder builds a recorder for the given log path.
func NewRecorder(path, workspaceRoot string, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{path: path, workspace: workspaceRoot, log: log}
}

// Record appends one event. Failures are logged and swallowed.
func (r *Recorder) Record(agent, op, taskID string, duration time.Duration, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	e := Event{
		TS:         time.Now().UTC(),
		Workspace:  r.workspace,
		Agent:      agent,
		Op:         op,
		TaskID:     taskID,
		DurationMS: duration.Milliseconds(),
		Outcome:    outcome,
	}
	data, marshalErr := json.Marshal(e)
	if marshalErr != nil {
		r.log.Warn("telemetry encode failed", "error", marshalErr)
		return
	}
	f, openErr := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if openErr != nil {
		r.log.Warn("telemetry append failed", "error", openErr)
		return
	}
	defer func() { _ = f.Close() }()
	if _, writeErr := f.Write(append(data, '\n')); writeErr != nil {
		r.log.Warn("telemetry append failed", "error", writeErr)
	}
}

// ReadEvents returns events from the log with TS within [since, until).
// Zero bounds are open. A partial trailing line from a crashed writer is
// skipped.
func ReadEvents(path string, since, until time.Time) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if !since.IsZero() && e.TS.Before(since) {
			continue
		}
		if !until.IsZero() && !e.TS.Before(until) {
			continue
		}
		events = append(events, e)
	}
	return events, scanner.Err()
}
