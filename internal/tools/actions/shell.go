package actions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aura-dev/aura/internal/tools"
)

// runShellTimeout caps one shell invocation. Anything longer belongs in a
// background process, not a mission task.
const runShellTimeout = 5 * time.Minute

// shellOutputLimit bounds captured stdout/stderr so a chatty command cannot
// blow up the mission log or the result events.
const shellOutputLimit = 64000

func runShellCommand(ctx context.Context, args map[string]any, tc *tools.ToolContext) (any, error) {
	command := strings.TrimSpace(stringArg(args, "command"))
	if command == "" {
		return "Error: No command provided.", nil
	}

	runCtx, cancel := context.WithTimeout(ctx, runShellTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = tc.ProjectRoot
	cmd.Env = venvEnviron(tc.ProjectRoot)

	stdout := newLimitedBuffer(shellOutputLimit)
	stderr := newLimitedBuffer(shellOutputLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	full := combineOutput(stdout.String(), stderr.String())

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return map[string]any{
			"status":      "failure",
			"summary":     fmt.Sprintf("Command timed out after %s.", runShellTimeout),
			"full_output": full,
		}, nil
	}
	if err != nil {
		return map[string]any{
			"status":      "failure",
			"summary":     fmt.Sprintf("Command exited with code %d.", exitCode(err)),
			"full_output": full,
		}, nil
	}
	return map[string]any{
		"status":      "success",
		"summary":     "Command completed successfully.",
		"full_output": full,
	}, nil
}

func combineOutput(stdout, stderr string) string {
	stdout = strings.TrimSpace(stdout)
	stderr = strings.TrimSpace(stderr)
	switch {
	case stdout == "":
		return stderr
	case stderr == "":
		return stdout
	}
	return stdout + "\n" + stderr
}

// venvEnviron prepends the project's virtualenv binary directories to PATH
// so bare python/pip invocations hit the project environment first.
func venvEnviron(projectRoot string) []string {
	env := os.Environ()
	if projectRoot == "" {
		return env
	}

	var bins []string
	for _, venv := range []string{"venv", ".venv"} {
		for _, sub := range []string{"bin", "Scripts"} {
			dir := filepath.Join(projectRoot, venv, sub)
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				bins = append(bins, dir)
			}
		}
	}
	if len(bins) == 0 {
		return env
	}

	prefix := strings.Join(bins, string(os.PathListSeparator))
	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			env[i] = "PATH=" + prefix + string(os.PathListSeparator) + strings.TrimPrefix(kv, "PATH=")
			return env
		}
	}
	return append(env, "PATH="+prefix)
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// limitedBuffer accumulates output up to a byte cap and silently discards
// the rest, so cmd.Run never blocks on a full pipe.
type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		return len(p), nil
	}
	if remaining := b.max - len(b.buf); b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
