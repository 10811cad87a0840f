package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/taskmesh/taskmesh/internal/hooks"
	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/types"
)

// Join registers the calling agent as a participant of the task.
func (e *Engine) Join(ctx context.Context, taskID string) error {
	return e.mutate(ctx, mutation{
		op:        "join",
		taskID:    taskID,
		confirm:   true,
		skipHooks: true,
		run: func(ctx context.Context) error {
			return e.store.JoinTask(ctx, taskID, e.agentID)
		},
	})
}

// Note appends a private note visible only to the calling agent. The agent
// joins the task as a side effect.
func (e *Engine) Note(ctx context.Context, taskID, text string) error {
	return e.mutate(ctx, mutation{
		op:        "note",
		taskID:    taskID,
		confirm:   true,
		skipHooks: true,
		run: func(ctx context.Context) error {
			return e.store.RunInTransaction(ctx, func(t storage.Transaction) error {
				if _, err := t.GetTask(ctx, taskID); err != nil {
					return err
				}
				return t.JoinTask(ctx, taskID, e.agentID)
			})
		},
		after: func(ctx context.Context) {
			note := &types.PrivateNote{TaskID: taskID, AgentID: e.agentID, Text: text}
			if note.CreatedAt.IsZero() {
				note.CreatedAt = nowUTC()
			}
			if err := e.channels.WriteNote(note); err != nil {
				e.log.Warn("note log write failed", "error", err)
			}
		},
	})
}

// Share appends a shared context entry visible to all participants.
func (e *Engine) Share(ctx context.Context, taskID, text string) error {
	_, err := e.addContext(ctx, "share", taskID, text, types.ContextShare, false)
	return err
}

// Discover appends a high-priority shared entry and broadcasts a discovery
// notification to every agent.
func (e *Engine) Discover(ctx context.Context, taskID, text string) error {
	entry, err := e.addContext(ctx, "discover", taskID, text, types.ContextDiscover, true)
	if err != nil {
		return err
	}
	e.hooks.RunEvent(ctx, hooks.EventDiscovery,
		e.hookPayload("discover", nil, entry))
	return nil
}

// Sync appends a shared entry and broadcasts it, combining share and
// discover semantics for checkpoint-style updates.
func (e *Engine) Sync(ctx context.Context, taskID, text string) error {
	_, err := e.addContext(ctx, "sync", taskID, text, types.ContextSync, true)
	return err
}

func (e *Engine) addContext(ctx context.Context, op, taskID, text string, kind types.ContextKind, broadcast bool) (*types.ContextEntry, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text must not be empty", types.ErrInvalidInput)
	}
	entry := &types.ContextEntry{
		TaskID:  taskID,
		AgentID: e.agentID,
		Kind:    kind,
		Text:    text,
	}
	var notification *types.Notification
	err := e.mutate(ctx, mutation{
		op:        op,
		taskID:    taskID,
		confirm:   true,
		skipHooks: true,
		run: func(ctx context.Context) error {
			return e.store.RunInTransaction(ctx, func(t storage.Transaction) error {
				if err := t.JoinTask(ctx, taskID, e.agentID); err != nil {
					return err
				}
				if err := t.AddContextEntry(ctx, entry); err != nil {
					return err
				}
				if broadcast {
					notification = &types.Notification{
						TaskID:  taskID,
						Kind:    types.NotifyDiscovery,
						Payload: text,
					}
					return t.AddNotification(ctx, notification)
				}
				return nil
			})
		},
		after: func(ctx context.Context) {
			if err := e.channels.WriteShared(entry); err != nil {
				e.log.Warn("context log write failed", "error", err)
			}
			if notification != nil {
				e.writeBroadcast(notification)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ContextView is one entry returned by Context, merging shared entries and
// the reader's own private notes.
type ContextView struct {
	Kind      string `json:"kind"`
	AgentID   string `json:"agent_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// Context returns every entry the calling agent is authorized to see on a
// task: shared entries when the agent is a participant, plus its own
// private notes, ordered by creation time then insertion sequence.
func (e *Engine) Context(ctx context.Context, taskID string) ([]*ContextView, error) {
	type merged struct {
		view *ContextView
		at   int64
		seq  int64
	}
	var items []merged

	err := e.read(ctx, "context", taskID, func(ctx context.Context) error {
		if _, err := e.store.GetTask(ctx, taskID); err != nil {
			return err
		}
		participant, err := e.store.IsParticipant(ctx, taskID, e.agentID)
		if err != nil {
			return err
		}
		if participant {
			entries, err := e.store.GetContextEntries(ctx, taskID)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				items = append(items, merged{
					view: &ContextView{
						Kind:      string(entry.Kind),
						AgentID:   entry.AgentID,
						Text:      entry.Text,
						CreatedAt: entry.CreatedAt.Format(timeFormat),
					},
					at:  entry.CreatedAt.UnixNano(),
					seq: entry.Seq,
				})
			}
		}
		notes, err := e.channels.ReadNotes(taskID, e.agentID)
		if err != nil {
			return err
		}
		for i, note := range notes {
			items = append(items, merged{
				view: &ContextView{
					Kind:      "note",
					AgentID:   note.AgentID,
					Text:      note.Text,
					CreatedAt: note.CreatedAt.Format(timeFormat),
				},
				at:  note.CreatedAt.UnixNano(),
				seq: int64(i),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].at != items[j].at {
			return items[i].at < items[j].at
		}
		return items[i].seq < items[j].seq
	})
	views := make([]*ContextView, len(items))
	for i, m := range items {
		views[i] = m.view
	}
	return views, nil
}
