package template

import (
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/internal/types"
)

// Expand substitutes {{var}} placeholders and resolves {{#if var}}...{{/if}}
// conditionals. A conditional keeps its body when the variable resolves to a
// non-empty value. Referencing an undeclared variable fails.
func Expand(s string, vars map[string]string) (string, error) {
	out, err := expandConditionals(s, vars)
	if err != nil {
		return "", err
	}
	return expandVars(out, vars)
}

func expandConditionals(s string, vars map[string]string) (string, error) {
	for {
		start := strings.Index(s, "{{#if ")
		if start < 0 {
			return s, nil
		}
		nameEnd := strings.Index(s[start:], "}}")
		if nameEnd < 0 {
			return "", fmt.Errorf("%w: unterminated {{#if}}", types.ErrTemplateError)
		}
		nameEnd += start
		name := strings.TrimSpace(s[start+len("{{#if ") : nameEnd])

		bodyStart := nameEnd + 2
		endIdx := strings.Index(s[bodyStart:], "{{/if}}")
		if endIdx < 0 {
			return "", fmt.Errorf("%w: {{#if %s}} has no {{/if}}", types.ErrTemplateError, name)
		}
		endIdx += bodyStart

		val, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("%w: undefined variable %q in conditional", types.ErrTemplateError, name)
		}
		body := ""
		if val != "" {
			body = s[bodyStart:endIdx]
		}
		s = s[:start] + body + s[endIdx+len("{{/if}}"):]
	}
}

func expandVars(s string, vars map[string]string) (string, error) {
	var b strings.Builder
	for {
		start := strings.Index(s, "{{")
		if start < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated placeholder", types.ErrTemplateError)
		}
		end += start
		name := strings.TrimSpace(s[start+2 : end])
		val, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("%w: undefined variable %q", types.ErrTemplateError, name)
		}
		b.WriteString(s[:start])
		b.WriteString(val)
		s = s[end+2:]
	}
}
