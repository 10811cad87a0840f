package criteria

import (
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/types"
)

func num(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func TestEvaluate(t *testing.T) {
	env := Env{
		ActualHours:        num(3),
		EstimatedHours:     num(4),
		DeadlineMissed:     false,
		FeedbackQuality:    intp(5),
		FeedbackTimeliness: intp(4),
	}

	cases := []struct {
		expr string
		want bool
	}{
		{"actual_hours < estimated_hours", true},
		{"actual_hours <= 3", true},
		{"actual_hours > estimated_hours", false},
		{"actual_hours >= 3.0", true},
		{"actual_hours == 3", true},
		{"actual_hours != 3", false},
		{"not deadline_missed", true},
		{"!deadline_missed", true},
		{"feedback_quality >= 4 and feedback_timeliness >= 4", true},
		{"feedback_quality >= 4 && deadline_missed", false},
		{"deadline_missed or actual_hours < 10", true},
		{"deadline_missed || false", false},
		{"(actual_hours + 1) * 2 == 8", true},
		{"estimated_hours - actual_hours >= 1", true},
		{"actual_hours / estimated_hours < 1", true},
		{"-actual_hours < 0", true},
		{"true", true},
		{"false", false},
	}
	for _, tc := range cases {
		got, err := Evaluate(tc.expr, env)
		if err != nil {
			t.Errorf("Evaluate(%q) error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	env := Env{ActualHours: num(3)}

	cases := []string{
		"actual_hours / 0 > 1",          // division by zero
		"estimated_hours < 5",           // unset symbol
		"unknown_symbol > 1",            // unknown symbol
		"actual_hours <",                // truncated
		"actual_hours",                  // not boolean
		"actual_hours < 2 extra",        // trailing tokens
		"feedback_quality >= 4",         // unset feedback
		"(actual_hours < 2",             // unclosed paren
		"actual_hours.hours() > 1",      // no attribute access
		"__import__ > 0",                // no dunder anything
	}
	for _, expr := range cases {
		got, err := Evaluate(expr, env)
		if err == nil {
			t.Errorf("Evaluate(%q) = %v, want error", expr, got)
		}
		if got {
			t.Errorf("Evaluate(%q) = true on error", expr)
		}
	}
}

func TestValidateAllPass(t *testing.T) {
	env := Env{ActualHours: num(3), EstimatedHours: num(4)}
	criteria := []types.Criterion{
		{Criterion: "finished under estimate", Measurable: "actual_hours < estimated_hours"},
		{Criterion: "took some time", Measurable: "actual_hours > 0"},
	}

	report := Validate(criteria, env, false)
	if report.Total != 2 || report.Passed != 2 {
		t.Errorf("report = %d/%d, want 2/2", report.Passed, report.Total)
	}
}

func TestValidateFailureDetail(t *testing.T) {
	env := Env{ActualHours: num(5), EstimatedHours: num(4)}
	criteria := []types.Criterion{
		{Criterion: "under estimate", Measurable: "actual_hours < estimated_hours"},
	}

	report := Validate(criteria, env, false)
	if report.Passed != 0 {
		t.Errorf("passed = %d, want 0", report.Passed)
	}
	if report.PerCriterion[0].OK {
		t.Error("failing criterion reported OK")
	}
}

func TestValidateManualConfirmation(t *testing.T) {
	criteria := []types.Criterion{
		{Criterion: "docs reviewed by a human", Measurable: "true"},
	}

	report := Validate(criteria, Env{}, false)
	if report.Passed != 0 {
		t.Error("manual criterion passed without override")
	}
	if report.PerCriterion[0].Detail != "requires manual confirmation" {
		t.Errorf("detail = %q", report.PerCriterion[0].Detail)
	}

	report = Validate(criteria, Env{}, true)
	if report.Passed != 1 {
		t.Error("manual criterion not confirmed by override")
	}
}

func TestValidateUnsetSymbolFails(t *testing.T) {
	criteria := []types.Criterion{
		{Criterion: "under estimate", Measurable: "actual_hours < estimated_hours"},
	}
	report := Validate(criteria, Env{}, false)
	if report.Passed != 0 {
		t.Error("criterion over unset symbols passed")
	}
	if report.PerCriterion[0].Detail == "" {
		t.Error("expected failure detail for unset symbol")
	}
}

func TestEnvFromTask(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	task := &types.Task{
		EstimatedHours: num(4),
		ActualHours:    num(2),
		Deadline:       &past,
	}

	env := EnvFromTask(task, nil, time.Now())
	if !env.DeadlineMissed {
		t.Error("deadline in the past not flagged as missed")
	}
	if *env.ActualHours != 2 {
		t.Errorf("actual_hours = %v, want stored 2", *env.ActualHours)
	}

	// Request-supplied hours override the stored value.
	env = EnvFromTask(task, num(6), time.Now())
	if *env.ActualHours != 6 {
		t.Errorf("actual_hours = %v, want override 6", *env.ActualHours)
	}
}
