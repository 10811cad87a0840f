// Package template parses declarative task templates and instantiates them
// as task graphs. Templates are YAML or TOML documents with metadata,
// variables, and task stubs; {{var}} placeholders are substituted and
// depends_on references index other stubs within the same template.
package template

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/taskmesh/taskmesh/internal/storage"
	"github.com/taskmesh/taskmesh/internal/types"
)

// Metadata identifies a template.
type Metadata struct {
	Name        string `yaml:"name" toml:"name"`
	Version     string `yaml:"version" toml:"version"`
	Description string `yaml:"description" toml:"description"`
}

// Variable declares one substitutable value.
type Variable struct {
	Name     string   `yaml:"name" toml:"name"`
	Type     string   `yaml:"type" toml:"type"`
	Required bool     `yaml:"required" toml:"required"`
	Default  string   `yaml:"default" toml:"default"`
	Options  []string `yaml:"options" toml:"options"`
}

// TaskStub is one task to create. DependsOn holds zero-based indexes into
// the template's own task list.
type TaskStub struct {
	Title           string            `yaml:"title" toml:"title"`
	Description     string            `yaml:"description" toml:"description"`
	Priority        string            `yaml:"priority" toml:"priority"`
	DependsOn       []int             `yaml:"depends_on" toml:"depends_on"`
	SuccessCriteria []types.Criterion `yaml:"success_criteria" toml:"success_criteria"`
	EstimatedHours  *float64          `yaml:"estimated_hours" toml:"estimated_hours"`
	Tags            []string          `yaml:"tags" toml:"tags"`
}

// Spec is a parsed template.
type Spec struct {
	Metadata  Metadata   `yaml:"metadata" toml:"metadata"`
	Variables []Variable `yaml:"variables" toml:"variables"`
	Tasks     []TaskStub `yaml:"tasks" toml:"tasks"`
}

// Load parses a template file, choosing the format by extension: .toml is
// TOML, everything else is YAML.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading template: %v", types.ErrTemplateError, err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes template content. ext selects the format.
func Parse(data []byte, ext string) (*Spec, error) {
	var spec Spec
	if strings.EqualFold(ext, ".toml") {
		if err := toml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("%w: parsing template: %v", types.ErrTemplateError, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("%w: parsing template: %v", types.ErrTemplateError, err)
		}
	}
	if err := spec.check(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *Spec) check() error {
	if len(s.Tasks) == 0 {
		return fmt.Errorf("%w: template has no tasks", types.ErrTemplateError)
	}
	for _, v := range s.Variables {
		switch v.Type {
		case "", "string", "int", "enum":
		default:
			return fmt.Errorf("%w: variable %s has unknown type %q", types.ErrTemplateError, v.Name, v.Type)
		}
		if v.Type == "enum" && len(v.Options) == 0 {
			return fmt.Errorf("%w: enum variable %s has no options", types.ErrTemplateError, v.Name)
		}
	}
	for i, stub := range s.Tasks {
		for _, ref := range stub.DependsOn {
			if ref < 0 || ref >= len(s.Tasks) {
				return fmt.Errorf("%w: task %d references nonexistent index %d", types.ErrTemplateError, i, ref)
			}
			if ref == i {
				return fmt.Errorf("%w: task %d depends on itself", types.ErrTemplateError, i)
			}
		}
	}
	return nil
}

// resolveVariables validates supplied values against declarations and fills
// defaults. Unknown supplied variables are rejected.
func (s *Spec) resolveVariables(supplied map[string]string) (map[string]string, error) {
	declared := make(map[string]Variable, len(s.Variables))
	for _, v := range s.Variables {
		declared[v.Name] = v
	}
	for name := range supplied {
		if _, ok := declared[name]; !ok {
			return nil, fmt.Errorf("%w: unknown variable %q", types.ErrTemplateError, name)
		}
	}

	resolved := make(map[string]string, len(s.Variables))
	for _, v := range s.Variables {
		val, ok := supplied[v.Name]
		if !ok || val == "" {
			if v.Required && v.Default == "" {
				return nil, fmt.Errorf("%w: missing required variable %q", types.ErrTemplateError, v.Name)
			}
			val = v.Default
		}
		if val == "" {
			resolved[v.Name] = ""
			continue
		}
		switch v.Type {
		case "int":
			if _, err := strconv.Atoi(val); err != nil {
				return nil, fmt.Errorf("%w: variable %q must be an integer, got %q", types.ErrTemplateError, v.Name, val)
			}
		case "enum":
			found := false
			for _, opt := range v.Options {
				if opt == val {
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("%w: variable %q must be one of %v", types.ErrTemplateError, v.Name, v.Options)
			}
		}
		resolved[v.Name] = val
	}
	return resolved, nil
}

// Instantiate creates every task and edge of the template inside one
// transaction, returning ids in template order. Any failure creates nothing.
func Instantiate(ctx context.Context, store storage.Storage, spec *Spec, vars map[string]string, actor string) ([]string, error) {
	resolved, err := spec.resolveVariables(vars)
	if err != nil {
		return nil, err
	}

	stubs := make([]TaskStub, len(spec.Tasks))
	for i, stub := range spec.Tasks {
		expanded, err := expandStub(stub, resolved)
		if err != nil {
			return nil, err
		}
		stubs[i] = expanded
	}

	ids := make([]string, len(stubs))
	err = store.RunInTransaction(ctx, func(t storage.Transaction) error {
		for i, stub := range stubs {
			priority := types.PriorityMedium
			if stub.Priority != "" {
				priority = types.Priority(stub.Priority)
			}
			task := &types.Task{
				Title:           stub.Title,
				Description:     stub.Description,
				Priority:        priority,
				CreatedBy:       actor,
				SuccessCriteria: stub.SuccessCriteria,
				EstimatedHours:  stub.EstimatedHours,
				Tags:            stub.Tags,
			}
			if err := t.CreateTask(ctx, task, actor, storage.CreateOptions{}); err != nil {
				return err
			}
			ids[i] = task.ID
		}
		// Edges reference earlier or later stubs; all ids exist by now.
		for i, stub := range stubs {
			for _, ref := range stub.DependsOn {
				dep := &types.Dependency{TaskID: ids[i], DependsOn: ids[ref]}
				if err := t.AddDependency(ctx, dep, actor); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func expandStub(stub TaskStub, vars map[string]string) (TaskStub, error) {
	var err error
	if stub.Title, err = Expand(stub.Title, vars); err != nil {
		return stub, err
	}
	if stub.Description, err = Expand(stub.Description, vars); err != nil {
		return stub, err
	}
	for i := range stub.SuccessCriteria {
		if stub.SuccessCriteria[i].Criterion, err = Expand(stub.SuccessCriteria[i].Criterion, vars); err != nil {
			return stub, err
		}
	}
	for i := range stub.Tags {
		if stub.Tags[i], err = Expand(stub.Tags[i], vars); err != nil {
			return stub, err
		}
	}
	return stub, nil
}
