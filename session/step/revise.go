package step

import (
	"fmt"

	"github.com/c360studio/sessionflow/session"
)

// ReviseDocument sends the validation feedback back to the agent so it can
// correct the artifact in place. Its ok outcome always routes back to the
// validate step — a revision never advances the workflow directly.
type ReviseDocument struct {
	module     string
	artifact   string
	contentKey string
	pathKey    string
}

// NewReviseDesign creates the design revision step.
func NewReviseDesign() *ReviseDocument {
	return &ReviseDocument{
		module:     ModuleReviseDesign,
		artifact:   "design.md",
		contentKey: session.KeyDesignDocument,
		pathKey:    session.KeyDesignPath,
	}
}

// NewReviseSpec creates the spec revision step.
func NewReviseSpec() *ReviseDocument {
	return &ReviseDocument{
		module:     ModuleReviseSpec,
		artifact:   "spec.md",
		contentKey: session.KeySpecDocument,
		pathKey:    session.KeySpecPath,
	}
}

// Name implements session.Step.
func (s *ReviseDocument) Name() string { return s.module }

// GetCommand implements session.Step.
func (s *ReviseDocument) GetCommand(_ session.Scope, sess *session.Session) (session.Command, error) {
	dir, ok := sess.WorkDir()
	if !ok {
		return session.Command{}, session.NewStepError(s.Name(), "work_dir not found in session state")
	}
	feedback, ok := sess.State.GetString(session.KeyValidationFeedback)
	if !ok || feedback == "" {
		return session.Command{}, session.NewStepError(s.Name(), "validation feedback not found in session state")
	}

	prompt := fmt.Sprintf("Revise %s in the working directory to fix the problems below, keeping valid content.\n\n%s",
		s.artifact, feedback)

	return session.Command{
		ID:      session.NewCommandID(),
		Module:  s.Name(),
		Command: session.AsyncCommand,
		Pipe: map[string]any{
			"agent":    sess.Agent,
			"work_dir": dir,
			"artifact": s.artifact,
			"prompt":   prompt,
			"auto":     sess.ExecutionMode == session.ModeAuto,
		},
	}, nil
}

// HandleResult implements session.Step.
func (s *ReviseDocument) HandleResult(_ session.Scope, _ *session.Session, raw session.RawResult) (session.State, session.Result, error) {
	if raw.Failed() {
		return nil, session.Result{
			Status:   session.ResultError,
			Detail:   firstNonEmpty(raw.DataString("error"), raw.Stderr, "agent revision failed"),
			ExitCode: raw.ExitCode,
		}, nil
	}

	delta := session.State{}
	if content := firstNonEmpty(raw.DataString("document"), raw.Stdout); content != "" {
		delta[s.contentKey] = content
	}
	if path := raw.DataString("path"); path != "" {
		delta[s.pathKey] = path
	}
	return delta, session.Result{Status: session.ResultOK}, nil
}
