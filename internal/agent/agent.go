// Package agent resolves and validates agent identities.
package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/user"
	"regexp"
	"syscall"

	"github.com/taskmesh/taskmesh/internal/types"
)

// identityPattern is the accepted shape of an agent id.
var identityPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Valid reports whether id is a well-formed agent identity.
func Valid(id string) bool {
	return identityPattern.MatchString(id)
}

// Resolve determines the calling agent's identity. Precedence: the explicit
// parameter, then TM_AGENT_ID, then a stable id derived from the OS username
// and process group. The result is always validated.
func Resolve(explicit string) (string, error) {
	id := explicit
	if id == "" {
		id = os.Getenv("TM_AGENT_ID")
	}
	if id == "" {
		id = derived()
	}
	if !Valid(id) {
		return "", fmt.Errorf("%w: invalid agent id %q", types.ErrInvalidInput, id)
	}
	return id, nil
}

// derived builds a stable fallback identity. Two processes in the same
// process group resolve to the same agent; distinct sessions do not.
func derived() string {
	username := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	pgid := syscall.Getpgrp()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", username, pgid)))
	return "agent-" + hex.EncodeToString(sum[:4])
}
