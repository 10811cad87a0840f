package types

import (
	"errors"
	"fmt"
	"strings"
)

// Tagged errors propagated verbatim to callers. Use errors.Is to classify.
var (
	// ErrWorkspace indicates a missing or unwritable state directory.
	ErrWorkspace = errors.New("workspace error")
	// ErrNotFound indicates a referenced id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates an optimistic version mismatch or a duplicate
	// where uniqueness was required.
	ErrConflict = errors.New("conflict")
	// ErrCycle indicates a dependency insertion would create a cycle.
	ErrCycle = errors.New("dependency cycle")
	// ErrHasDependents indicates a delete was refused because edges point at
	// the task.
	ErrHasDependents = errors.New("task has dependents")
	// ErrBusy indicates lock acquisition timed out. Retryable.
	ErrBusy = errors.New("workspace busy")
	// ErrCorrupt indicates the store failed an integrity check. Fatal.
	ErrCorrupt = errors.New("store corrupt")
	// ErrSchemaMismatch indicates a migration is required or failed.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrTemplateError indicates a template parse, variable, or reference
	// failure.
	ErrTemplateError = errors.New("template error")
	// ErrCriteriaUnmet indicates completion was blocked by unmet success
	// criteria.
	ErrCriteriaUnmet = errors.New("success criteria unmet")
	// ErrInvalidInput indicates an argument validation failure.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPolicyViolation is the class sentinel for enforcement rejections.
	ErrPolicyViolation = errors.New("policy violation")
	// ErrHookBlocked is the class sentinel for pre-hook block decisions.
	ErrHookBlocked = errors.New("hook blocked")
	// ErrHookTimeout is the class sentinel for hooks killed on timeout.
	ErrHookTimeout = errors.New("hook timeout")
	// ErrHookError is the class sentinel for hook execution failures.
	ErrHookError = errors.New("hook error")
)

// Violation is a single enforcement finding.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	FixHint string `json:"fix_hint,omitempty"`
}

// PolicyViolationError carries the full violation list from the enforcement
// gate. Matches ErrPolicyViolation via errors.Is.
type PolicyViolationError struct {
	Violations []Violation
}

func (e *PolicyViolationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Code + ": " + v.Message
	}
	return "policy violation: " + strings.Join(msgs, "; ")
}

func (e *PolicyViolationError) Is(target error) bool {
	return target == ErrPolicyViolation
}

// HookBlockedError reports a pre-hook that returned a block decision.
// Matches ErrHookBlocked via errors.Is.
type HookBlockedError struct {
	Hook   string
	Reason string
}

func (e *HookBlockedError) Error() string {
	return fmt.Sprintf("hook %s blocked operation: %s", e.Hook, e.Reason)
}

func (e *HookBlockedError) Is(target error) bool {
	return target == ErrHookBlocked
}

// HookTimeoutError reports a hook killed after exceeding its timeout.
// Matches ErrHookTimeout via errors.Is.
type HookTimeoutError struct {
	Hook string
}

func (e *HookTimeoutError) Error() string {
	return fmt.Sprintf("hook %s timed out", e.Hook)
}

func (e *HookTimeoutError) Is(target error) bool {
	return target == ErrHookTimeout
}

// HookExecError reports a hook that failed to execute or exited nonzero.
// Matches ErrHookError via errors.Is.
type HookExecError struct {
	Hook string
	Err  error
}

func (e *HookExecError) Error() string {
	return fmt.Sprintf("hook %s failed: %v", e.Hook, e.Err)
}

func (e *HookExecError) Is(target error) bool {
	return target == ErrHookError
}

func (e *HookExecError) Unwrap() error {
	return e.Err
}

// CriteriaReport is the validator result returned alongside ErrCriteriaUnmet.
type CriteriaReport struct {
	Passed       int               `json:"passed"`
	Total        int               `json:"total"`
	PerCriterion []CriterionResult `json:"per_criterion"`
}

// CriterionResult is the evaluation outcome of one criterion.
type CriterionResult struct {
	Text   string `json:"text"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// CriteriaUnmetError carries the evaluation report for a rejected completion.
// Matches ErrCriteriaUnmet via errors.Is.
type CriteriaUnmetError struct {
	Report *CriteriaReport
}

func (e *CriteriaUnmetError) Error() string {
	return fmt.Sprintf("success criteria unmet: %d/%d passed",
		e.Report.Passed, e.Report.Total)
}

func (e *CriteriaUnmetError) Is(target error) bool {
	return target == ErrCriteriaUnmet
}
