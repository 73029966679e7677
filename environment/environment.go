// Package environment executes session shell commands in a tagged execution
// environment and reports outcomes in the raw result form the engine
// interprets.
package environment

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"

	"github.com/c360studio/sessionflow/session"
)

// DefaultTimeout bounds command execution when no timeout is supplied.
const DefaultTimeout = 10 * time.Minute

// Options modifies a single command execution.
type Options struct {
	// Dir is the working directory. Empty means the process default.
	Dir string

	// Timeout bounds execution; DefaultTimeout when zero. Expiry is
	// reported as a timeout-status raw result, not a Go error.
	Timeout time.Duration
}

// Runner executes a session command string in the environment named by tag.
// The returned error covers infrastructure failures only; command failures,
// non-zero exits and timeouts are reported inside the raw result.
type Runner interface {
	Cmd(ctx context.Context, tag, command string, opts Options) (session.RawResult, error)
}

// Local runs commands on the host through the shell. The environment tag is
// recorded for observability only: a local runner executes every tag.
type Local struct {
	logger *slog.Logger
}

// NewLocal creates a local runner.
func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{logger: logger}
}

// Cmd implements Runner.
func (l *Local) Cmd(ctx context.Context, tag, command string, opts Options) (session.RawResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = opts.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := session.RawResult{
		Status: session.RawStatusOK,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.Status = session.RawStatusTimeout
		result.ExitCode = -1
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Status = session.RawStatusError
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Process never started: the caller's problem, not the command's.
			return session.RawResult{}, err
		}
	}

	l.logger.Debug("Executed command",
		"environment", tag,
		"status", result.Status,
		"exit_code", result.ExitCode,
		"elapsed", elapsed)
	return result, nil
}
