package engine

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/taskmesh/taskmesh/internal/types"
)

// watchPollInterval bounds staleness when filesystem events are missed.
const watchPollInterval = 2 * time.Second

// Watch delivers pending notifications for the calling agent as they
// arrive, acknowledging each delivered batch. It blocks until the context
// is cancelled. Store file changes trigger an immediate poll; a timer
// covers writers on filesystems without reliable change events.
func (e *Engine) Watch(ctx context.Context, deliver func(*types.Notification)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(e.ws.StateDir); err != nil {
		return err
	}

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	// Drain anything already pending before waiting.
	if err := e.deliverPending(ctx, deliver); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := e.deliverPending(ctx, deliver); err != nil {
				return err
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.log.Warn("watch error", "error", watchErr)
		case <-ticker.C:
			if err := e.deliverPending(ctx, deliver); err != nil {
				return err
			}
		}
	}
}

// deliverPending drains the agent's queue. The pending read and the
// acknowledgement happen under the exclusive lock so two concurrent
// watchers cannot both claim the same broadcast; delivery runs after
// release.
func (e *Engine) deliverPending(ctx context.Context, deliver func(*types.Notification)) error {
	var pending []*types.Notification
	err := func() error {
		release, err := e.lock.Exclusive(ctx)
		if err != nil {
			return err
		}
		defer release()
		pending, err = e.store.PendingNotifications(ctx, e.agentID)
		if err != nil || len(pending) == 0 {
			return err
		}
		ids := make([]string, len(pending))
		for i, n := range pending {
			ids[i] = n.ID
		}
		return e.store.AcknowledgeNotifications(ctx, ids)
	}()
	if err != nil {
		return err
	}
	for _, n := range pending {
		deliver(n)
	}
	return nil
}
