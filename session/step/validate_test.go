package step

import (
	"errors"
	"strings"
	"testing"

	"github.com/c360studio/sessionflow/session"
	"github.com/c360studio/sessionflow/session/validation"
)

const wellFormedDesign = `# Auth Service Design

## Purpose

Handles token issuance and refresh for tenant-facing APIs, isolating all
credential handling from the request path.

## Interfaces

Exposes IssueToken, RefreshToken and RevokeToken over the internal gRPC
surface. Every method takes the ambient tenant scope.

## Behavior

Tokens are signed with the per-tenant key and expire after fifteen minutes.
Refresh rotates the token family; revocation fences the whole family.
`

func TestValidateCommandReadsArtifact(t *testing.T) {
	s := NewValidateDesign(validation.NewValidator())
	sess := testSession(session.State{session.KeyDesignPath: "/work/design.md"})

	cmd, err := s.GetCommand(session.Scope{}, sess)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	if cmd.Command != "cat /work/design.md" {
		t.Errorf("command = %q", cmd.Command)
	}
	if cmd.IsAsync() {
		t.Error("validation runs synchronously")
	}
}

func TestValidateRequiresArtifactPath(t *testing.T) {
	s := NewValidateSpec(validation.NewValidator())
	_, err := s.GetCommand(session.Scope{}, testSession(session.State{}))
	var stepErr *session.StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %v", err)
	}
}

func TestValidateAcceptsWellFormedDocument(t *testing.T) {
	s := NewValidateDesign(validation.NewValidator())
	sess := testSession(session.State{session.KeyDesignPath: "/work/design.md"})

	delta, result, err := s.HandleResult(session.Scope{}, sess, session.RawResult{
		Status: session.RawStatusOK,
		Stdout: wellFormedDesign,
	})
	if err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	if result.Status != session.ResultOK {
		t.Fatalf("status = %s, detail %q", result.Status, result.Detail)
	}
	if doc, _ := delta.GetString(session.KeyDesignDocument); doc != wellFormedDesign {
		t.Error("validated content must land in the state delta")
	}
	if fb, ok := delta.GetString(session.KeyValidationFeedback); !ok || fb != "" {
		t.Error("prior validation feedback must be cleared on success")
	}
}

func TestValidateRejectsMalformedDocument(t *testing.T) {
	s := NewValidateDesign(validation.NewValidator())
	sess := testSession(session.State{session.KeyDesignPath: "/work/design.md"})

	delta, result, err := s.HandleResult(session.Scope{}, sess, session.RawResult{
		Status: session.RawStatusOK,
		Stdout: "# Title but nothing else",
	})
	if err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	if result.Status != session.ResultError {
		t.Fatal("malformed document must produce an error outcome")
	}
	fb, _ := delta.GetString(session.KeyValidationFeedback)
	if !strings.Contains(fb, "Purpose") {
		t.Errorf("feedback must name the missing sections, got %q", fb)
	}
	if result.Detail != fb {
		t.Error("result detail and stored feedback must match")
	}
}

func TestValidateReadFailure(t *testing.T) {
	s := NewValidateDesign(validation.NewValidator())
	sess := testSession(session.State{session.KeyDesignPath: "/work/design.md"})

	_, result, err := s.HandleResult(session.Scope{}, sess, session.RawResult{
		Status:   session.RawStatusError,
		Stderr:   "cat: /work/design.md: No such file or directory",
		ExitCode: 1,
	})
	if err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	if result.Status != session.ResultError {
		t.Error("unreadable artifact must be an error outcome")
	}
}
