// Command tm is the command-line front-end for the taskmesh coordination
// engine.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/taskmesh/taskmesh/internal/engine"
	"github.com/taskmesh/taskmesh/internal/types"
)

var (
	rootCtx    context.Context
	flagAgent  string
	flagRoot   string
	flagJSON   bool
	dateParser *when.Parser
)

var rootCmd = &cobra.Command{
	Use:   "tm",
	Short: "Multi-agent task coordination",
	Long: `tm tracks tasks, dependencies, and the shared context of multiple
agents working in one workspace. State lives in .task-orchestrator under
the workspace root.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCtx = ctx

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	dateParser = when.New(nil)
	dateParser.Add(en.All...)
	dateParser.Add(common.All...)

	rootCmd.PersistentFlags().StringVar(&flagAgent, "agent", "", "agent identity (default: TM_AGENT_ID or derived)")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "workspace", "", "workspace root (default: TM_WORKSPACE or cwd)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output")

	if err := rootCmd.Execute(); err != nil {
		fatal(err)
	}
}

// openEngine binds to the workspace or exits with a tagged error.
func openEngine() *engine.Engine {
	e, err := engine.Open(rootCtx, engine.Options{Root: flagRoot, AgentID: flagAgent})
	if err != nil {
		fatal(err)
	}
	return e
}

// jsonOutput reports whether results should render as JSON: the --json flag
// or a non-terminal stdout.
func jsonOutput() bool {
	return flagJSON || !term.IsTerminal(int(os.Stdout.Fd()))
}

func printResult(v any) {
	if jsonOutput() {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	fmt.Println(v)
}

// fatal prints the error with its taxonomy tag and exits nonzero.
func fatal(err error) {
	if jsonOutput() {
		_ = json.NewEncoder(os.Stderr).Encode(map[string]string{
			"error":   errorTag(err),
			"message": err.Error(),
		})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

func errorTag(err error) string {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrConflict):
		return "conflict"
	case errors.Is(err, types.ErrCycle):
		return "cycle"
	case errors.Is(err, types.ErrHasDependents):
		return "has_dependents"
	case errors.Is(err, types.ErrBusy):
		return "busy"
	case errors.Is(err, types.ErrCorrupt):
		return "corrupt"
	case errors.Is(err, types.ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, types.ErrPolicyViolation):
		return "policy_violation"
	case errors.Is(err, types.ErrHookBlocked):
		return "hook_blocked"
	case errors.Is(err, types.ErrHookTimeout):
		return "hook_timeout"
	case errors.Is(err, types.ErrHookError):
		return "hook_error"
	case errors.Is(err, types.ErrTemplateError):
		return "template_error"
	case errors.Is(err, types.ErrCriteriaUnmet):
		return "criteria_unmet"
	case errors.Is(err, types.ErrWorkspace):
		return "workspace_error"
	case errors.Is(err, types.ErrInvalidInput):
		return "invalid_input"
	}
	return "error"
}

// parseDeadline accepts RFC3339 or natural language ("next friday").
func parseDeadline(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		utc := t.UTC()
		return &utc, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		utc := t.UTC()
		return &utc, nil
	}
	result, err := dateParser.Parse(s, time.Now())
	if err == nil && result != nil {
		utc := result.Time.UTC()
		return &utc, nil
	}
	return nil, fmt.Errorf("%w: unrecognized deadline %q", types.ErrInvalidInput, s)
}
