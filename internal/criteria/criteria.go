// Package criteria evaluates success-criteria expressions at completion
// time. Expressions are boolean formulas over a fixed symbol table; there
// are no function calls, attribute access, or assignment. The literal
// "true" marks a criterion as requiring manual confirmation.
package criteria

import (
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/internal/types"
)

// Env is the symbol table an expression may reference.
type Env struct {
	ActualHours        *float64
	EstimatedHours     *float64
	DeadlineMissed     bool
	FeedbackQuality    *int
	FeedbackTimeliness *int
}

// EnvFromTask derives the symbol table from a task at completion time.
// actualHours, when non-nil, overrides the stored value (the completion call
// may supply it in the same request).
func EnvFromTask(task *types.Task, actualHours *float64, now time.Time) Env {
	env := Env{
		ActualHours:        task.ActualHours,
		EstimatedHours:     task.EstimatedHours,
		FeedbackQuality:    task.FeedbackQuality,
		FeedbackTimeliness: task.FeedbackTimeliness,
	}
	if actualHours != nil {
		env.ActualHours = actualHours
	}
	if task.Deadline != nil {
		env.DeadlineMissed = now.After(*task.Deadline)
	}
	return env
}

// lookup resolves a symbol to a value. Unset optional fields fail the
// criterion rather than defaulting.
func (e Env) lookup(name string) (value, error) {
	switch name {
	case "actual_hours":
		return numOrErr(e.ActualHours, name)
	case "estimated_hours":
		return numOrErr(e.EstimatedHours, name)
	case "deadline_missed":
		return value{kind: kindBool, b: e.DeadlineMissed}, nil
	case "feedback_quality":
		return intOrErr(e.FeedbackQuality, name)
	case "feedback_timeliness":
		return intOrErr(e.FeedbackTimeliness, name)
	}
	return value{}, fmt.Errorf("unknown symbol %q", name)
}

func numOrErr(v *float64, name string) (value, error) {
	if v == nil {
		return value{}, fmt.Errorf("%s is unset", name)
	}
	return value{kind: kindNum, n: *v}, nil
}

func intOrErr(v *int, name string) (value, error) {
	if v == nil {
		return value{}, fmt.Errorf("%s is unset", name)
	}
	return value{kind: kindNum, n: float64(*v)}, nil
}

// Validate evaluates every criterion. manualOverride confirms criteria whose
// measurable is the literal "true". The report is complete even when
// criteria fail; passed == total means completion may proceed.
func Validate(criteria []types.Criterion, env Env, manualOverride bool) *types.CriteriaReport {
	report := &types.CriteriaReport{Total: len(criteria)}
	for _, c := range criteria {
		result := types.CriterionResult{Text: c.Criterion}
		if c.Measurable == "true" {
			if manualOverride {
				result.OK = true
				result.Detail = "manually confirmed"
			} else {
				result.Detail = "requires manual confirmation"
			}
		} else {
			ok, err := Evaluate(c.Measurable, env)
			result.OK = ok
			if err != nil {
				result.Detail = err.Error()
			}
		}
		if result.OK {
			report.Passed++
		}
		report.PerCriterion = append(report.PerCriterion, result)
	}
	return report
}

// Evaluate parses and evaluates one expression against the environment.
// Any evaluation failure, including division by zero, yields false with the
// failure as error detail.
func Evaluate(expr string, env Env) (bool, error) {
	p := &parser{lex: newLexer(expr), env: env}
	p.next()
	v, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.tok.kind != tokEOF {
		return false, fmt.Errorf("unexpected %q", p.tok.text)
	}
	if v.kind != kindBool {
		return false, fmt.Errorf("expression is not boolean")
	}
	return v.b, nil
}
