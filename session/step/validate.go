package step

import (
	"fmt"

	"github.com/c360studio/sessionflow/session"
	"github.com/c360studio/sessionflow/session/validation"
)

// ValidateDocument checks a generated artifact against its structural
// schema. The command reads the artifact off disk (the agent wrote it
// there); interpretation parses the content and, on violation, returns an
// error outcome carrying revise feedback — which the definition routes to
// the revise step, not to terminal failure.
type ValidateDocument struct {
	module     string
	docType    validation.DocumentType
	pathKey    string
	contentKey string
	validator  *validation.Validator
}

// NewValidateDesign creates the design validation step.
func NewValidateDesign(v *validation.Validator) *ValidateDocument {
	return &ValidateDocument{
		module:     ModuleValidateDesign,
		docType:    validation.DocumentTypeDesign,
		pathKey:    session.KeyDesignPath,
		contentKey: session.KeyDesignDocument,
		validator:  v,
	}
}

// NewValidateSpec creates the spec validation step.
func NewValidateSpec(v *validation.Validator) *ValidateDocument {
	return &ValidateDocument{
		module:     ModuleValidateSpec,
		docType:    validation.DocumentTypeSpec,
		pathKey:    session.KeySpecPath,
		contentKey: session.KeySpecDocument,
		validator:  v,
	}
}

// Name implements session.Step.
func (s *ValidateDocument) Name() string { return s.module }

// GetCommand implements session.Step.
func (s *ValidateDocument) GetCommand(_ session.Scope, sess *session.Session) (session.Command, error) {
	path, ok := sess.State.GetString(s.pathKey)
	if !ok || path == "" {
		return session.Command{}, session.NewStepError(s.Name(),
			"%s document path not found in session state", s.docType)
	}

	return session.Command{
		ID:      session.NewCommandID(),
		Module:  s.Name(),
		Command: fmt.Sprintf("cat %s", path),
	}, nil
}

// HandleResult implements session.Step.
func (s *ValidateDocument) HandleResult(_ session.Scope, _ *session.Session, raw session.RawResult) (session.State, session.Result, error) {
	if raw.Failed() {
		return nil, session.Result{
			Status:   session.ResultError,
			Detail:   firstNonEmpty(raw.Stderr, "artifact could not be read"),
			ExitCode: raw.ExitCode,
		}, nil
	}

	result := s.validator.Validate(raw.Stdout, s.docType)
	if !result.Valid {
		feedback := result.FormatFeedback()
		delta := session.State{session.KeyValidationFeedback: feedback}
		return delta, session.Result{Status: session.ResultError, Detail: feedback}, nil
	}

	delta := session.State{
		s.contentKey:                  raw.Stdout,
		session.KeyValidationFeedback: "",
	}
	return delta, session.Result{Status: session.ResultOK, Output: raw.Stdout}, nil
}
