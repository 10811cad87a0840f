//go:build unix

package hooks

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// termGrace is how long a hook gets between SIGTERM and SIGKILL.
const termGrace = time.Second

// run executes the hook with input on stdin and the restricted environment.
// On timeout or cancellation the whole process group receives SIGTERM, then
// SIGKILL after a grace period, so descendant processes cannot outlive the
// hook.
func (r *Runner) run(ctx context.Context, path string, env []string, input []byte) (out []byte, timedOut bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// #nosec G204 -- path comes from the workspace hooks directory
	cmd := exec.Command(path)
	cmd.Dir = r.workspace
	cmd.Env = env
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, false, err
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		killGroup(cmd.Process.Pid, syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(termGrace):
			killGroup(cmd.Process.Pid, syscall.SIGKILL)
			<-done
		}
		return stdout.Bytes(), true, ctx.Err()
	case waitErr := <-done:
		if waitErr != nil {
			return stdout.Bytes(), false, waitErr
		}
		return stdout.Bytes(), false, nil
	}
}

func killGroup(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		_ = syscall.Kill(pid, sig)
	}
}
