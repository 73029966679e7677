// Package gitx provides the git operations sessions depend on, shelling out
// through an execution environment.
package gitx

import (
	"context"
	"fmt"

	"github.com/c360studio/sessionflow/environment"
	"github.com/c360studio/sessionflow/session"
)

// CloneCommand builds the shell invocation cloning url into path.
func CloneCommand(url, path string) string {
	return fmt.Sprintf("git clone %s %s", url, path)
}

// PullCommand builds the shell invocation fast-forwarding the checkout at path.
func PullCommand(path string) string {
	return fmt.Sprintf("git -C %s pull --ff-only", path)
}

// CommitAllCommand builds the shell invocation committing every change at
// path with the given message. The commit is allowed to be empty so finalize
// stays idempotent on unchanged workspaces.
func CommitAllCommand(path, message string) string {
	return fmt.Sprintf("git -C %s add -A && git -C %s commit --allow-empty -m %q", path, path, message)
}

// Provider performs repository operations for session workspaces.
type Provider interface {
	// Clone clones url into path.
	Clone(ctx context.Context, tag, url, path string) error

	// Pull fast-forwards the checkout at path.
	Pull(ctx context.Context, tag, path string) error
}

// CLI shells out to the git binary through a Runner.
type CLI struct {
	runner environment.Runner
}

// NewCLI creates a git provider backed by the runner.
func NewCLI(runner environment.Runner) *CLI {
	return &CLI{runner: runner}
}

// Clone implements Provider.
func (g *CLI) Clone(ctx context.Context, tag, url, path string) error {
	return g.run(ctx, tag, CloneCommand(url, path))
}

// Pull implements Provider.
func (g *CLI) Pull(ctx context.Context, tag, path string) error {
	return g.run(ctx, tag, PullCommand(path))
}

func (g *CLI) run(ctx context.Context, tag, command string) error {
	raw, err := g.runner.Cmd(ctx, tag, command, environment.Options{})
	if err != nil {
		return err
	}
	if raw.Failed() {
		detail := raw.Stderr
		if detail == "" {
			detail = raw.Stdout
		}
		if raw.Status == session.RawStatusTimeout {
			return fmt.Errorf("git command timed out: %s", command)
		}
		return fmt.Errorf("git command failed (exit %d): %s", raw.ExitCode, detail)
	}
	return nil
}
