package step

import (
	"errors"
	"strings"
	"testing"

	"github.com/c360studio/sessionflow/session"
)

func TestGenerateDesignCommand(t *testing.T) {
	s := NewGenerateDesign()
	sess := testSession(session.State{session.KeyWorkDir: "/work/session:abc"})
	sess.ExecutionMode = session.ModeAuto

	cmd, err := s.GetCommand(session.Scope{}, sess)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	if !cmd.IsAsync() {
		t.Fatalf("agent command must be async, got %q", cmd.Command)
	}
	if cmd.Module != ModuleGenerateDesign {
		t.Errorf("module = %s", cmd.Module)
	}
	if cmd.PipeString("agent") != "claude" {
		t.Errorf("agent = %q", cmd.PipeString("agent"))
	}
	if cmd.PipeString("artifact") != "design.md" {
		t.Errorf("artifact = %q", cmd.PipeString("artifact"))
	}
	if !strings.Contains(cmd.PipeString("prompt"), "auth-service") {
		t.Error("prompt must name the target component")
	}
	if auto, _ := cmd.Pipe["auto"].(bool); !auto {
		t.Error("auto flag must reflect execution mode")
	}
}

func TestGenerateRequiresWorkDir(t *testing.T) {
	_, err := NewGenerateDesign().GetCommand(session.Scope{}, testSession(session.State{}))
	var stepErr *session.StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %v", err)
	}
}

func TestGenerateCommandCarriesFileScope(t *testing.T) {
	sess := testSession(session.State{session.KeyWorkDir: "/work"})
	sess.FileScope = &session.FileScope{DoNotTouch: []string{"go.mod"}}

	cmd, err := NewGenerateCode().GetCommand(session.Scope{}, sess)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	scope, ok := cmd.Pipe["file_scope"].(*session.FileScope)
	if !ok || !scope.Protected("go.mod") {
		t.Errorf("file_scope missing from pipe: %v", cmd.Pipe["file_scope"])
	}
	if !strings.Contains(cmd.PipeString("prompt"), "go.mod") {
		t.Error("coding prompt must mention protected files")
	}
}

func TestGenerateHandleResultExtractsDocument(t *testing.T) {
	s := NewGenerateDesign()
	sess := testSession(session.State{session.KeyWorkDir: "/work"})

	delta, result, err := s.HandleResult(session.Scope{}, sess, session.RawResult{
		Status: session.RawStatusOK,
		Data: map[string]any{
			"document": "# Design\n\ncontent",
			"path":     "/work/design.md",
		},
	})
	if err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	if result.Status != session.ResultOK {
		t.Fatalf("status = %s", result.Status)
	}
	if doc, _ := delta.GetString(session.KeyDesignDocument); doc != "# Design\n\ncontent" {
		t.Errorf("design document delta = %q", doc)
	}
	if path, _ := delta.GetString(session.KeyDesignPath); path != "/work/design.md" {
		t.Errorf("design path delta = %q", path)
	}
}

func TestGenerateHandleResultEmptyDocument(t *testing.T) {
	s := NewGenerateSpec()
	sess := testSession(session.State{session.KeyWorkDir: "/work"})

	_, result, err := s.HandleResult(session.Scope{}, sess, session.RawResult{Status: session.RawStatusOK})
	if err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	if result.Status != session.ResultError {
		t.Errorf("empty delivery must be an error outcome, got %s", result.Status)
	}
}

func TestGenerateHandleResultAgentFailure(t *testing.T) {
	s := NewGenerateCode()
	sess := testSession(session.State{session.KeyWorkDir: "/work"})

	_, result, err := s.HandleResult(session.Scope{}, sess, session.RawResult{
		Status: session.RawStatusError,
		Data:   map[string]any{"error": "agent crashed"},
	})
	if err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	if result.Status != session.ResultError || result.Detail != "agent crashed" {
		t.Errorf("result = %+v", result)
	}
}

func TestSpecPromptIncludesDesign(t *testing.T) {
	sess := testSession(session.State{
		session.KeyWorkDir:        "/work",
		session.KeyDesignDocument: "the approved design text",
	})

	cmd, err := NewGenerateSpec().GetCommand(session.Scope{}, sess)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	if !strings.Contains(cmd.PipeString("prompt"), "the approved design text") {
		t.Error("spec prompt must embed the design document")
	}
}
