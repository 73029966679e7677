package gitx

import (
	"context"
	"strings"
	"testing"

	"github.com/c360studio/sessionflow/environment"
	"github.com/c360studio/sessionflow/session"
)

// fakeRunner records commands and returns a scripted result.
type fakeRunner struct {
	commands []string
	result   session.RawResult
}

func (f *fakeRunner) Cmd(_ context.Context, _, command string, _ environment.Options) (session.RawResult, error) {
	f.commands = append(f.commands, command)
	return f.result, nil
}

func TestCloneCommand(t *testing.T) {
	runner := &fakeRunner{result: session.RawResult{Status: session.RawStatusOK}}
	git := NewCLI(runner)

	if err := git.Clone(context.Background(), "local", "https://example.com/repo.git", "/work/session:abc"); err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if len(runner.commands) != 1 || runner.commands[0] != "git clone https://example.com/repo.git /work/session:abc" {
		t.Errorf("commands = %v", runner.commands)
	}
}

func TestPullCommand(t *testing.T) {
	runner := &fakeRunner{result: session.RawResult{Status: session.RawStatusOK}}
	git := NewCLI(runner)

	if err := git.Pull(context.Background(), "local", "/work/session:abc"); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if runner.commands[0] != "git -C /work/session:abc pull --ff-only" {
		t.Errorf("commands = %v", runner.commands)
	}
}

func TestFailureCarriesStderr(t *testing.T) {
	runner := &fakeRunner{result: session.RawResult{
		Status:   session.RawStatusError,
		Stderr:   "fatal: repository not found",
		ExitCode: 128,
	}}
	git := NewCLI(runner)

	err := git.Clone(context.Background(), "local", "https://example.com/missing.git", "/work/x")
	if err == nil {
		t.Fatal("expected error for failed clone")
	}
	if !strings.Contains(err.Error(), "repository not found") || !strings.Contains(err.Error(), "128") {
		t.Errorf("error = %v", err)
	}
}

func TestTimeoutError(t *testing.T) {
	runner := &fakeRunner{result: session.RawResult{
		Status:   session.RawStatusTimeout,
		ExitCode: -1,
	}}
	git := NewCLI(runner)

	err := git.Pull(context.Background(), "local", "/work/x")
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %v", err)
	}
}
