//go:build windows

package hooks

import (
	"bytes"
	"context"
	"os/exec"
)

// run executes the hook with input on stdin. Windows has no process groups
// to signal; CommandContext kills the immediate process on timeout.
func (r *Runner) run(ctx context.Context, path string, env []string, input []byte) (out []byte, timedOut bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = r.workspace
	cmd.Env = env
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return stdout.Bytes(), true, ctx.Err()
	}
	return stdout.Bytes(), false, err
}
