package step

import (
	"errors"
	"strings"
	"testing"

	"github.com/c360studio/sessionflow/session"
)

func testSession(state session.State) *session.Session {
	return &session.Session{
		ID:          "session:abc",
		Type:        session.TypeComponentDesign,
		Status:      session.StatusActive,
		Agent:       "claude",
		Environment: "local",
		ComponentID: "auth-service",
		AccountID:   "acct-1",
		ProjectID:   "proj-1",
		State:       state,
	}
}

func TestInitializeClonesOnFirstRun(t *testing.T) {
	s := NewInitialize("/var/lib/sessionflow/workspaces")
	sess := testSession(session.State{session.KeyRepoURL: "https://example.com/repo.git"})

	cmd, err := s.GetCommand(session.Scope{}, sess)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	if !strings.HasPrefix(cmd.Command, "git clone https://example.com/repo.git") {
		t.Errorf("expected clone command, got %q", cmd.Command)
	}
	if !strings.Contains(cmd.Command, sess.ID) {
		t.Errorf("work dir must be keyed by session id, got %q", cmd.Command)
	}
	if cmd.PipeString("work_dir") == "" {
		t.Error("work_dir missing from command pipe")
	}
}

func TestInitializePullsWhenWorkDirExists(t *testing.T) {
	s := NewInitialize("/var/lib/sessionflow/workspaces")
	sess := testSession(session.State{session.KeyWorkDir: "/var/lib/sessionflow/workspaces/session:abc"})

	cmd, err := s.GetCommand(session.Scope{}, sess)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	if !strings.Contains(cmd.Command, "pull --ff-only") {
		t.Errorf("expected fast-forward pull, got %q", cmd.Command)
	}
}

func TestInitializeRequiresRepoURL(t *testing.T) {
	s := NewInitialize("/tmp")
	_, err := s.GetCommand(session.Scope{}, testSession(session.State{}))
	var stepErr *session.StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %v", err)
	}
}

func TestInitializeHandleResultStoresWorkDir(t *testing.T) {
	s := NewInitialize("/tmp")
	sess := testSession(session.State{session.KeyRepoURL: "https://example.com/repo.git"})

	cmd, err := s.GetCommand(session.Scope{}, sess)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	sess.PushInteraction(&session.Interaction{ID: "int-1", Command: cmd})

	delta, result, err := s.HandleResult(session.Scope{}, sess, session.RawResult{Status: session.RawStatusOK})
	if err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	if result.Status != session.ResultOK {
		t.Fatalf("result status = %s", result.Status)
	}
	if dir, ok := delta.GetString(session.KeyWorkDir); !ok || dir != cmd.PipeString("work_dir") {
		t.Errorf("delta work_dir = %q, want %q", dir, cmd.PipeString("work_dir"))
	}
}

func TestInitializeHandleResultCloneFailure(t *testing.T) {
	s := NewInitialize("/tmp")
	sess := testSession(session.State{session.KeyRepoURL: "https://example.com/repo.git"})

	_, result, err := s.HandleResult(session.Scope{}, sess, session.RawResult{
		Status:   session.RawStatusError,
		Stderr:   "fatal: repository not found",
		ExitCode: 128,
	})
	if err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	if result.Status != session.ResultError {
		t.Fatalf("result status = %s, want error", result.Status)
	}
	if !strings.Contains(result.Detail, "repository not found") {
		t.Errorf("detail must carry stderr, got %q", result.Detail)
	}
	if result.ExitCode != 128 {
		t.Errorf("exit code = %d, want 128", result.ExitCode)
	}
}
