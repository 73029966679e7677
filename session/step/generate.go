package step

import (
	"fmt"
	"strings"

	"github.com/c360studio/sessionflow/session"
)

// GenerateDocument asks the external agent to write an artifact document
// (design, spec) in the session's working directory. The agent runs out of
// band: the command is the async sentinel and completion arrives via
// DeliverResult with the document content and on-disk path.
type GenerateDocument struct {
	module     string
	artifact   string // file name the agent writes, e.g. design.md
	contentKey string // state key for the document text
	pathKey    string // state key for the artifact path
	prompt     func(sess *session.Session) string
}

// NewGenerateDesign creates the design generation step.
func NewGenerateDesign() *GenerateDocument {
	return &GenerateDocument{
		module:     ModuleGenerateDesign,
		artifact:   "design.md",
		contentKey: session.KeyDesignDocument,
		pathKey:    session.KeyDesignPath,
		prompt:     designPrompt,
	}
}

// NewGenerateSpec creates the spec generation step.
func NewGenerateSpec() *GenerateDocument {
	return &GenerateDocument{
		module:     ModuleGenerateSpec,
		artifact:   "spec.md",
		contentKey: session.KeySpecDocument,
		pathKey:    session.KeySpecPath,
		prompt:     specPrompt,
	}
}

// Name implements session.Step.
func (s *GenerateDocument) Name() string { return s.module }

// GetCommand implements session.Step.
func (s *GenerateDocument) GetCommand(_ session.Scope, sess *session.Session) (session.Command, error) {
	dir, ok := sess.WorkDir()
	if !ok {
		return session.Command{}, session.NewStepError(s.Name(), "work_dir not found in session state")
	}

	pipe := map[string]any{
		"agent":    sess.Agent,
		"work_dir": dir,
		"artifact": s.artifact,
		"prompt":   s.prompt(sess),
		"auto":     sess.ExecutionMode == session.ModeAuto,
	}
	if sess.FileScope != nil {
		pipe["file_scope"] = sess.FileScope
	}

	return session.Command{
		ID:      session.NewCommandID(),
		Module:  s.Name(),
		Command: session.AsyncCommand,
		Pipe:    pipe,
	}, nil
}

// HandleResult implements session.Step.
func (s *GenerateDocument) HandleResult(_ session.Scope, _ *session.Session, raw session.RawResult) (session.State, session.Result, error) {
	if raw.Failed() {
		return nil, session.Result{
			Status:   session.ResultError,
			Detail:   firstNonEmpty(raw.DataString("error"), raw.Stderr, "agent run failed"),
			ExitCode: raw.ExitCode,
		}, nil
	}

	content := firstNonEmpty(raw.DataString("document"), raw.Stdout)
	path := raw.DataString("path")
	if content == "" {
		return nil, session.Result{
			Status: session.ResultError,
			Detail: "agent delivered no document content",
		}, nil
	}

	delta := session.State{s.contentKey: content}
	if path != "" {
		delta[s.pathKey] = path
	}
	return delta, session.Result{Status: session.ResultOK, Output: content}, nil
}

// GenerateCode asks the agent to implement the target component in the
// working directory. No document is extracted; success is judged by the
// subsequent test run.
type GenerateCode struct{}

// NewGenerateCode creates the coding step.
func NewGenerateCode() *GenerateCode { return &GenerateCode{} }

// Name implements session.Step.
func (s *GenerateCode) Name() string { return ModuleGenerateCode }

// GetCommand implements session.Step.
func (s *GenerateCode) GetCommand(_ session.Scope, sess *session.Session) (session.Command, error) {
	dir, ok := sess.WorkDir()
	if !ok {
		return session.Command{}, session.NewStepError(s.Name(), "work_dir not found in session state")
	}

	pipe := map[string]any{
		"agent":     sess.Agent,
		"work_dir":  dir,
		"component": sess.ComponentID,
		"prompt":    codingPrompt(sess),
		"auto":      sess.ExecutionMode == session.ModeAuto,
	}
	if sess.FileScope != nil {
		pipe["file_scope"] = sess.FileScope
	}

	return session.Command{
		ID:      session.NewCommandID(),
		Module:  s.Name(),
		Command: session.AsyncCommand,
		Pipe:    pipe,
	}, nil
}

// HandleResult implements session.Step.
func (s *GenerateCode) HandleResult(_ session.Scope, _ *session.Session, raw session.RawResult) (session.State, session.Result, error) {
	if raw.Failed() {
		return nil, session.Result{
			Status:   session.ResultError,
			Detail:   firstNonEmpty(raw.DataString("error"), raw.Stderr, "agent run failed"),
			ExitCode: raw.ExitCode,
		}, nil
	}
	return nil, session.Result{Status: session.ResultOK, Output: raw.DataString("summary")}, nil
}

func designPrompt(sess *session.Session) string {
	return fmt.Sprintf(
		"Write a design document for component %s. Save it as design.md in the working directory. "+
			"Include Purpose, Interfaces and Behavior sections.", sess.ComponentID)
}

func specPrompt(sess *session.Session) string {
	base := fmt.Sprintf(
		"Write a specification for the context of project %s. Save it as spec.md in the working directory. "+
			"Include Overview, Requirements and Acceptance Criteria sections.", sess.ProjectID)
	if design, ok := sess.State.GetString(session.KeyDesignDocument); ok && design != "" {
		return base + "\n\nBase the specification on this design:\n\n" + design
	}
	return base
}

func codingPrompt(sess *session.Session) string {
	base := fmt.Sprintf("Implement component %s in the working directory, with tests.", sess.ComponentID)
	if fs := sess.FileScope; fs != nil && len(fs.DoNotTouch) > 0 {
		base += fmt.Sprintf(" Do not modify these files: %s.", strings.Join(fs.DoNotTouch, ", "))
	}
	if spec, ok := sess.State.GetString(session.KeySpecDocument); ok && spec != "" {
		return base + "\n\nFollow this specification:\n\n" + spec
	}
	return base
}
