// Package channels implements the three communication channels: private
// per-agent notes, shared per-task context logs, and the broadcast
// notification log. All writes are append-only NDJSON lines; files rotate at
// 10 MiB keeping 5 backups.
package channels

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/taskmesh/taskmesh/internal/types"
	"github.com/taskmesh/taskmesh/internal/workspace"
)

// MaxEntryBytes caps a single channel entry. Longer text is truncated on a
// rune boundary.
const MaxEntryBytes = 4 * 1024

const (
	maxFileMegabytes = 10
	maxBackups       = 5
)

// Channels writes and reads the workspace channel logs. The store rows for
// shared entries are the caller's responsibility; Channels only owns the
// file side.
type Channels struct {
	ws *workspace.Workspace
}

// New returns a Channels bound to the workspace.
func New(ws *workspace.Workspace) *Channels {
	return &Channels{ws: ws}
}

// line is the on-disk NDJSON record shared by all three logs.
type line struct {
	TS      time.Time `json:"ts"`
	TaskID  string    `json:"task_id,omitempty"`
	AgentID string    `json:"agent_id,omitempty"`
	Kind    string    `json:"kind"`
	Text    string    `json:"text"`
}

// WriteNote appends a private note. Only the writing agent can read it back.
func (c *Channels) WriteNote(note *types.PrivateNote) error {
	return c.append(c.ws.NoteLogPath(note.TaskID, note.AgentID), line{
		TS:      note.CreatedAt,
		TaskID:  note.TaskID,
		AgentID: note.AgentID,
		Kind:    "note",
		Text:    Sanitize(note.Text),
	})
}

// WriteShared appends a shared context entry to the task's context log.
func (c *Channels) WriteShared(entry *types.ContextEntry) error {
	return c.append(c.ws.ContextLogPath(entry.TaskID), line{
		TS:      entry.CreatedAt,
		TaskID:  entry.TaskID,
		AgentID: entry.AgentID,
		Kind:    string(entry.Kind),
		Text:    Sanitize(entry.Text),
	})
}

// WriteBroadcast appends a notification to the broadcast log.
func (c *Channels) WriteBroadcast(n *types.Notification) error {
	return c.append(c.ws.BroadcastLogPath(), line{
		TS:      n.CreatedAt,
		TaskID:  n.TaskID,
		AgentID: n.TargetAgent,
		Kind:    string(n.Kind),
		Text:    Sanitize(n.Payload),
	})
}

// ReadNotes returns the private notes written by agentID on taskID, in
// write order. Other agents' notes are unreachable: the path embeds the
// author's id.
func (c *Channels) ReadNotes(taskID, agentID string) ([]*types.PrivateNote, error) {
	lines, err := readLines(c.ws.NoteLogPath(taskID, agentID))
	if err != nil {
		return nil, err
	}
	notes := make([]*types.PrivateNote, 0, len(lines))
	for _, l := range lines {
		notes = append(notes, &types.PrivateNote{
			TaskID:    l.TaskID,
			AgentID:   l.AgentID,
			Text:      l.Text,
			CreatedAt: l.TS,
		})
	}
	return notes, nil
}

func (c *Channels) append(path string, l line) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to encode channel entry: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxFileMegabytes,
		MaxBackups: maxBackups,
	}
	defer func() { _ = w.Close() }()
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return nil
}

func readLines(path string) ([]line, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open channel log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var lines []line
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxEntryBytes*2)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var l line
		// A partial trailing line from a crashed writer is skipped.
		if err := json.Unmarshal(raw, &l); err != nil {
			continue
		}
		lines = append(lines, l)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read channel log: %w", err)
	}
	return lines, nil
}

// Sanitize strips control characters other than \n and \t and truncates to
// MaxEntryBytes on a rune boundary.
func Sanitize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < 0x20 && r != '\n' && r != '\t' {
			continue
		}
		if r == 0x7f {
			continue
		}
		if b.Len()+len(string(r)) > MaxEntryBytes {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}
