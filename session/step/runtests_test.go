package step

import (
	"strings"
	"testing"

	"github.com/c360studio/sessionflow/session"
)

func TestRunTestsDefaultCommand(t *testing.T) {
	s := NewRunTests()
	sess := testSession(session.State{session.KeyWorkDir: "/work"})

	cmd, err := s.GetCommand(session.Scope{}, sess)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	if cmd.Command != "go test ./..." {
		t.Errorf("command = %q", cmd.Command)
	}
}

func TestRunTestsCommandOverride(t *testing.T) {
	s := NewRunTests()
	sess := testSession(session.State{
		session.KeyWorkDir:     "/work",
		session.KeyTestCommand: "make check",
	})

	cmd, err := s.GetCommand(session.Scope{}, sess)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	if cmd.Command != "make check" {
		t.Errorf("command = %q, want override", cmd.Command)
	}
}

func TestRunTestsFailureCapturesOutput(t *testing.T) {
	s := NewRunTests()
	sess := testSession(session.State{session.KeyWorkDir: "/work"})

	delta, result, err := s.HandleResult(session.Scope{}, sess, session.RawResult{
		Status:   session.RawStatusError,
		Stdout:   "--- FAIL: TestLogin",
		ExitCode: 1,
	})
	if err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	if result.Status != session.ResultError {
		t.Fatal("failing run must be an error outcome")
	}
	if out, _ := delta.GetString(session.KeyTestOutput); !strings.Contains(out, "TestLogin") {
		t.Errorf("failing output must land in state for the fix step, got %q", out)
	}
}

func TestRunTestsTimeoutDetail(t *testing.T) {
	s := NewRunTests()
	sess := testSession(session.State{session.KeyWorkDir: "/work"})

	_, result, err := s.HandleResult(session.Scope{}, sess, session.RawResult{
		Status:   session.RawStatusTimeout,
		ExitCode: -1,
	})
	if err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	if !strings.Contains(result.Detail, "timed out") {
		t.Errorf("timeout must be called out, got %q", result.Detail)
	}
}

func TestRunTestsSuccessClearsOutput(t *testing.T) {
	s := NewRunTests()
	sess := testSession(session.State{
		session.KeyWorkDir:    "/work",
		session.KeyTestOutput: "stale failure",
	})

	delta, result, err := s.HandleResult(session.Scope{}, sess, session.RawResult{
		Status: session.RawStatusOK,
		Stdout: "ok\tgithub.com/example/auth\t0.1s",
	})
	if err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	if result.Status != session.ResultOK {
		t.Fatalf("status = %s", result.Status)
	}
	if out, ok := delta.GetString(session.KeyTestOutput); !ok || out != "" {
		t.Error("passing run must clear stale failure output")
	}
}

func TestFinalizeCommitsArtifacts(t *testing.T) {
	s := NewFinalize()
	sess := testSession(session.State{session.KeyWorkDir: "/work"})

	cmd, err := s.GetCommand(session.Scope{}, sess)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	if !strings.Contains(cmd.Command, "git -C /work add -A") {
		t.Errorf("command = %q", cmd.Command)
	}
	if !strings.Contains(cmd.Command, "commit") {
		t.Errorf("command must commit, got %q", cmd.Command)
	}
}
