// Package enforce implements the policy gate evaluated before every
// mutating operation. The workspace enforcement mode decides how findings
// are surfaced: strict rejects, standard warns and requires confirmation,
// advisory only counts.
package enforce

import (
	"log/slog"
	"os"

	"github.com/taskmesh/taskmesh/internal/agent"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/types"
	"github.com/taskmesh/taskmesh/internal/workspace"
)

// Mode is the enforcement severity level.
type Mode string

const (
	ModeStrict   Mode = "strict"
	ModeStandard Mode = "standard"
	ModeAdvisory Mode = "advisory"
)

// ParseMode returns the mode for s, defaulting to standard.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeStrict, ModeAdvisory:
		return Mode(s)
	}
	return ModeStandard
}

// Violation codes.
const (
	CodeNoAgent       = "no_agent"
	CodeBadAgent      = "bad_agent"
	CodeUninitialized = "uninitialized"
	CodeNoIntent      = "no_intent"
)

// Request describes the operation being gated.
type Request struct {
	Operation string
	AgentID   string
	// CreatesTasks marks add and template_apply, which require commander's
	// intent in strict mode.
	CreatesTasks bool
	// HasIntent is true when the input carries a non-empty description or a
	// success criteria list.
	HasIntent bool
	// Confirm is the caller's acknowledgement flag for standard mode.
	Confirm bool
}

// Result is the gate outcome for an allowed operation. Warnings are the
// findings that did not reject in the active mode.
type Result struct {
	Mode     Mode              `json:"mode"`
	Warnings []types.Violation `json:"warnings,omitempty"`
}

// Gate evaluates policy for one workspace.
type Gate struct {
	ws   *workspace.Workspace
	mode Mode
	log  *slog.Logger

	// advisoryCount tallies findings suppressed in advisory mode.
	advisoryCount int
}

// New builds a gate. The mode comes from config unless orchestration
// heuristics force strict.
func New(ws *workspace.Workspace, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	g := &Gate{ws: ws, log: log}
	g.mode = ParseMode(config.GetString("enforcement"))
	if g.mode != ModeStrict && g.orchestrationDetected() {
		g.log.Info("orchestration context detected, enforcing strict mode")
		g.mode = ModeStrict
	}
	return g
}

// Mode returns the active enforcement mode.
func (g *Gate) Mode() Mode {
	return g.mode
}

// AdvisoryCount returns the number of findings suppressed in advisory mode.
func (g *Gate) AdvisoryCount() int {
	return g.advisoryCount
}

// Check evaluates the request. In strict mode any violation rejects with
// PolicyViolation. In standard mode violations reject only when the caller
// did not confirm; otherwise they come back as warnings. Advisory mode logs
// and counts.
func (g *Gate) Check(req Request) (*Result, error) {
	violations := g.findings(req)
	res := &Result{Mode: g.mode}
	if len(violations) == 0 {
		return res, nil
	}

	switch g.mode {
	case ModeStrict:
		return nil, &types.PolicyViolationError{Violations: violations}
	case ModeStandard:
		if !req.Confirm {
			return nil, &types.PolicyViolationError{Violations: violations}
		}
		res.Warnings = violations
		return res, nil
	default:
		g.advisoryCount += len(violations)
		for _, v := range violations {
			g.log.Warn("policy finding", "code", v.Code, "message", v.Message, "op", req.Operation)
		}
		return res, nil
	}
}

// Validate returns the full finding list for the current workspace without
// gating anything. Used by the validate_enforcement operation.
func (g *Gate) Validate(agentID string) []types.Violation {
	return g.findings(Request{AgentID: agentID, CreatesTasks: true})
}

func (g *Gate) findings(req Request) []types.Violation {
	var violations []types.Violation
	if req.AgentID == "" {
		violations = append(violations, types.Violation{
			Code:    CodeNoAgent,
			Message: "no agent identity supplied",
			FixHint: "set TM_AGENT_ID or pass an explicit agent id",
		})
	} else if !agent.Valid(req.AgentID) {
		violations = append(violations, types.Violation{
			Code:    CodeBadAgent,
			Message: "agent id must match [A-Za-z0-9_-]{1,64}",
			FixHint: "use only letters, digits, underscore and hyphen",
		})
	}
	if !g.ws.Initialized() {
		violations = append(violations, types.Violation{
			Code:    CodeUninitialized,
			Message: "workspace is not initialized",
			FixHint: "run init first",
		})
	}
	if g.mode == ModeStrict && req.CreatesTasks && !req.HasIntent {
		violations = append(violations, types.Violation{
			Code:    CodeNoIntent,
			Message: "task creation requires a description or success criteria",
			FixHint: "supply a description explaining why, what, and done",
		})
	}
	return violations
}

// orchestrationDetected applies the multi-agent heuristics: an agent id in
// the environment, a populated hooks directory, and prior multi-agent
// activity each count as one signal. Two or more signals enable strict mode.
func (g *Gate) orchestrationDetected() bool {
	signals := 0
	if os.Getenv("TM_AGENT_ID") != "" {
		signals++
	}
	if entries, err := os.ReadDir(g.ws.HooksDir()); err == nil && len(entries) > 0 {
		signals++
	}
	if g.multiAgentActivity() {
		signals++
	}
	return signals >= 2
}

// multiAgentActivity reports whether the notes directory shows entries from
// more than one agent. Note file names embed the author id.
func (g *Gate) multiAgentActivity() bool {
	entries, err := os.ReadDir(g.ws.StateDir)
	if err != nil {
		return false
	}
	agents := map[string]bool{}
	for _, e := range entries {
		if e.Name() != workspace.NotesDirName || !e.IsDir() {
			continue
		}
		notes, err := os.ReadDir(g.ws.StateDir + "/" + e.Name())
		if err != nil {
			continue
		}
		for _, n := range notes {
			name := n.Name()
			if i := lastUnderscore(name); i > 0 {
				agents[trimLogSuffix(name[i+1:])] = true
			}
		}
	}
	return len(agents) > 1
}

func lastUnderscore(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '_' {
			return i
		}
	}
	return -1
}

func trimLogSuffix(s string) string {
	const suffix = ".log"
	if len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}
