package template

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/taskmesh/taskmesh/internal/storage/sqlite"
	"github.com/taskmesh/taskmesh/internal/types"
)

const featureYAML = `
metadata:
  name: feature
  version: "1.0"
variables:
  - name: feature_name
    type: string
    required: true
  - name: reviewer
    type: string
tasks:
  - title: "Design {{feature_name}}"
    priority: high
    estimated_hours: 4
  - title: "Build {{feature_name}}"
    description: "Implement the design.{{#if reviewer}} Review by {{reviewer}}.{{/if}}"
    depends_on: [0]
`

const featureTOML = `
[metadata]
name = "feature"
version = "1.0"

[[variables]]
name = "feature_name"
type = "string"
required = true

[[tasks]]
title = "Design {{feature_name}}"
priority = "high"

[[tasks]]
title = "Build {{feature_name}}"
depends_on = [0]
`

func TestParseYAML(t *testing.T) {
	spec, err := Parse([]byte(featureYAML), ".yaml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if spec.Metadata.Name != "feature" || len(spec.Tasks) != 2 {
		t.Errorf("spec = %+v", spec)
	}
	if len(spec.Tasks[1].DependsOn) != 1 || spec.Tasks[1].DependsOn[0] != 0 {
		t.Errorf("depends_on = %v", spec.Tasks[1].DependsOn)
	}
}

func TestParseTOML(t *testing.T) {
	spec, err := Parse([]byte(featureTOML), ".toml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if spec.Metadata.Name != "feature" || len(spec.Tasks) != 2 {
		t.Errorf("spec = %+v", spec)
	}
}

func TestParseRejectsBadTemplates(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"no tasks", "metadata:\n  name: empty\n"},
		{"bad var type", "variables:\n  - name: x\n    type: float\ntasks:\n  - title: a\n"},
		{"enum without options", "variables:\n  - name: x\n    type: enum\ntasks:\n  - title: a\n"},
		{"out of range dep", "tasks:\n  - title: a\n    depends_on: [5]\n"},
		{"self dep", "tasks:\n  - title: a\n    depends_on: [0]\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.body), ".yaml")
			if !errors.Is(err, types.ErrTemplateError) {
				t.Errorf("got %v, want TemplateError", err)
			}
		})
	}
}

func TestExpand(t *testing.T) {
	vars := map[string]string{"name": "auth", "reviewer": ""}

	cases := []struct {
		in   string
		want string
	}{
		{"Design {{name}}", "Design auth"},
		{"{{name}}-{{name}}", "auth-auth"},
		{"plain text", "plain text"},
		{"{{#if name}}has name{{/if}}", "has name"},
		{"{{#if reviewer}}review by {{reviewer}}{{/if}}done", "done"},
	}
	for _, tc := range cases {
		got, err := Expand(tc.in, vars)
		if err != nil {
			t.Errorf("Expand(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Expand(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExpandUndefinedVariable(t *testing.T) {
	for _, in := range []string{"{{missing}}", "{{#if missing}}x{{/if}}", "{{unterminated"} {
		if _, err := Expand(in, map[string]string{}); !errors.Is(err, types.ErrTemplateError) {
			t.Errorf("Expand(%q): got %v, want TemplateError", in, err)
		}
	}
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "tasks.db"), sqlite.Options{})
	if err != nil {
		t.Fatalf("opening store failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestInstantiate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	spec, err := Parse([]byte(featureYAML), ".yaml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	ids, err := Instantiate(ctx, store, spec, map[string]string{"feature_name": "auth"}, "alice")
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}

	design, err := store.GetTask(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if design.Title != "Design auth" || design.Priority != types.PriorityHigh {
		t.Errorf("design task = %+v", design)
	}

	build, err := store.GetTask(ctx, ids[1])
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if build.Status != types.StatusBlocked {
		t.Errorf("dependent task status = %s, want blocked", build.Status)
	}
	// Empty reviewer drops the conditional body.
	if build.Description != "Implement the design." {
		t.Errorf("description = %q", build.Description)
	}
}

func TestInstantiateMissingRequiredVariable(t *testing.T) {
	store := newTestStore(t)
	spec, err := Parse([]byte(featureYAML), ".yaml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	_, err = Instantiate(context.Background(), store, spec, nil, "alice")
	if !errors.Is(err, types.ErrTemplateError) {
		t.Errorf("got %v, want TemplateError", err)
	}
}

func TestInstantiateRejectsUnknownVariable(t *testing.T) {
	store := newTestStore(t)
	spec, err := Parse([]byte(featureYAML), ".yaml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	vars := map[string]string{"feature_name": "auth", "typo": "x"}
	_, err = Instantiate(context.Background(), store, spec, vars, "alice")
	if !errors.Is(err, types.ErrTemplateError) {
		t.Errorf("got %v, want TemplateError", err)
	}
}

func TestInstantiateIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// The second stub's title expands past the length limit, so creation
	// fails mid-transaction. Nothing may persist.
	long := make([]byte, types.MaxTitleLength)
	for i := range long {
		long[i] = 'x'
	}
	spec := &Spec{
		Variables: []Variable{{Name: "pad"}},
		Tasks: []TaskStub{
			{Title: "fine"},
			{Title: "too long {{pad}}"},
		},
	}

	_, err := Instantiate(ctx, store, spec, map[string]string{"pad": string(long)}, "alice")
	if err == nil {
		t.Fatal("expected instantiation to fail")
	}
	tasks, err := store.ListTasks(ctx, types.TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("partial instantiation left %d tasks", len(tasks))
	}
}
