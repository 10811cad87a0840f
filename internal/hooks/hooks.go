// Package hooks discovers and executes the workspace hook scripts that run
// around mutating operations. Hooks are executables under the hooks
// directory named pre_<op>, post_<op>, or on_<event>; they receive a JSON
// document on stdin and answer with {"decision": "approve"|"block"}.
package hooks

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/types"
)

// Operations with pre/post hooks.
const (
	OpAdd      = "add"
	OpUpdate   = "update"
	OpComplete = "complete"
	OpDelete   = "delete"
	OpAssign   = "assign"
)

// Events with on_ hooks.
const (
	EventTaskUnblocked = "task_unblocked"
	EventTaskCompleted = "task_completed"
	EventDiscovery     = "discovery"
)

// Payload is the JSON document written to a hook's stdin. Every field is
// always present; absent values serialize as explicit null so hooks see
// stable shapes.
type Payload struct {
	Operation *string     `json:"operation"`
	Event     *string     `json:"event"`
	Workspace string      `json:"workspace"`
	Agent     *string     `json:"agent"`
	Task      *types.Task `json:"task"`
	Input     any         `json:"input"`
}

// decision is the parsed hook response.
type decision struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// Stats aggregates execution timing for one hook script.
type Stats struct {
	Count    int           `json:"count"`
	Errors   int           `json:"errors"`
	Timeouts int           `json:"timeouts"`
	Avg      time.Duration `json:"avg"`
	P50      time.Duration `json:"p50"`
	P95      time.Duration `json:"p95"`
}

type hookRecord struct {
	durations []time.Duration
	errors    int
	timeouts  int
}

// Runner executes workspace hooks with a bounded timeout. Strict controls
// whether pre-hook failures abort the operation (fail-closed) or degrade to
// a logged warning (fail-open).
type Runner struct {
	dir       string
	workspace string
	timeout   time.Duration
	strict    bool
	log       *slog.Logger

	mu    sync.Mutex
	stats map[string]*hookRecord
}

// NewRunner builds a runner over the given hooks directory.
func NewRunner(dir, workspaceRoot string, timeout time.Duration, strict bool, log *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		dir:       dir,
		workspace: workspaceRoot,
		timeout:   timeout,
		strict:    strict,
		log:       log,
		stats:     make(map[string]*hookRecord),
	}
}

// RunPre executes pre_<op> if present. A block decision aborts with
// HookBlocked. Timeouts and execution failures are fatal only in strict
// mode; otherwise the operation proceeds with a logged warning.
func (r *Runner) RunPre(ctx context.Context, op string, p *Payload) error {
	name := "pre_" + op
	path, ok := r.find(name)
	if !ok {
		return nil
	}
	out, timedOut, err := r.execute(ctx, name, path, op, p)
	if timedOut {
		if r.strict {
			return &types.HookTimeoutError{Hook: name}
		}
		r.log.Warn("hook timed out, proceeding", "hook", name)
		return nil
	}
	if err != nil {
		if r.strict {
			return &types.HookExecError{Hook: name, Err: err}
		}
		r.log.Warn("hook failed, proceeding", "hook", name, "error", err)
		return nil
	}

	var d decision
	if jsonErr := json.Unmarshal(out, &d); jsonErr != nil || d.Decision == "" {
		r.log.Warn("hook produced no decision, treating as approve", "hook", name)
		return nil
	}
	if d.Decision == "block" {
		return &types.HookBlockedError{Hook: name, Reason: d.Reason}
	}
	return nil
}

// RunPost executes post_<op> if present. Post-hooks never fail the mutation
// they follow.
func (r *Runner) RunPost(ctx context.Context, op string, p *Payload) {
	r.runInformational(ctx, "post_"+op, op, p)
}

// RunEvent executes on_<event> if present. Event hooks are informational.
func (r *Runner) RunEvent(ctx context.Context, event string, p *Payload) {
	if p.Event == nil {
		p.Event = &event
	}
	r.runInformational(ctx, "on_"+event, event, p)
}

func (r *Runner) runInformational(ctx context.Context, name, op string, p *Payload) {
	path, ok := r.find(name)
	if !ok {
		return
	}
	if _, timedOut, err := r.execute(ctx, name, path, op, p); timedOut {
		r.log.Warn("hook timed out", "hook", name)
	} else if err != nil {
		r.log.Warn("hook failed", "hook", name, "error", err)
	}
}

// find returns the hook path if an executable file with that name exists.
func (r *Runner) find(name string) (string, bool) {
	path := filepath.Join(r.dir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	if info.Mode()&0111 == 0 {
		return "", false
	}
	return path, true
}

// execute runs the hook, records timing, and returns its stdout.
func (r *Runner) execute(ctx context.Context, name, path, op string, p *Payload) (out []byte, timedOut bool, err error) {
	input, err := json.Marshal(p)
	if err != nil {
		return nil, false, err
	}
	start := time.Now()
	out, timedOut, err = r.run(ctx, path, r.env(op, p), input)
	r.record(name, time.Since(start), timedOut, err)
	return out, timedOut, err
}

func (r *Runner) record(name string, d time.Duration, timedOut bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.stats[name]
	if rec == nil {
		rec = &hookRecord{}
		r.stats[name] = rec
	}
	rec.durations = append(rec.durations, d)
	if timedOut {
		rec.timeouts++
	} else if err != nil {
		rec.errors++
	}
}

// Stats returns aggregated timing per hook.
func (r *Runner) Stats() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make(map[string]Stats, len(r.stats))
	for name, rec := range r.stats {
		sorted := append([]time.Duration(nil), rec.durations...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		var total time.Duration
		for _, d := range sorted {
			total += d
		}
		s := Stats{
			Count:    len(sorted),
			Errors:   rec.errors,
			Timeouts: rec.timeouts,
		}
		if len(sorted) > 0 {
			s.Avg = total / time.Duration(len(sorted))
			s.P50 = percentile(sorted, 50)
			s.P95 = percentile(sorted, 95)
		}
		result[name] = s
	}
	return result
}

// percentile returns the nearest-rank percentile of sorted durations.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// env builds the restricted hook environment: PATH, HOME, workspace root,
// agent id, and operation name only.
func (r *Runner) env(op string, p *Payload) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"TM_WORKSPACE=" + r.workspace,
		"TM_OPERATION=" + op,
	}
	if p.Agent != nil {
		env = append(env, "TM_AGENT_ID="+*p.Agent)
	}
	return env
}
