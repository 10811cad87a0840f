package agent

import (
	"strings"
	"testing"
)

func TestValid(t *testing.T) {
	valid := []string{"alice", "agent-1", "A_b-C9", strings.Repeat("x", 64)}
	for _, id := range valid {
		if !Valid(id) {
			t.Errorf("Valid(%q) = false", id)
		}
	}
	invalid := []string{"", "has space", "semi;colon", "a/b", strings.Repeat("x", 65), "ünïcode"}
	for _, id := range invalid {
		if Valid(id) {
			t.Errorf("Valid(%q) = true", id)
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	t.Setenv("TM_AGENT_ID", "env-agent")

	got, err := Resolve("explicit-agent")
	if err != nil || got != "explicit-agent" {
		t.Errorf("explicit: got %q, %v", got, err)
	}

	got, err = Resolve("")
	if err != nil || got != "env-agent" {
		t.Errorf("env: got %q, %v", got, err)
	}
}

func TestResolveDerivedFallback(t *testing.T) {
	t.Setenv("TM_AGENT_ID", "")

	first, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !strings.HasPrefix(first, "agent-") {
		t.Errorf("derived id = %q, want agent- prefix", first)
	}
	// Stable within the process.
	second, err := Resolve("")
	if err != nil || second != first {
		t.Errorf("derived id not stable: %q then %q", first, second)
	}
}

func TestResolveRejectsInvalid(t *testing.T) {
	if _, err := Resolve("bad agent!"); err == nil {
		t.Error("invalid explicit id accepted")
	}
	t.Setenv("TM_AGENT_ID", "also bad")
	if _, err := Resolve(""); err == nil {
		t.Error("invalid env id accepted")
	}
}
