package step

import (
	"fmt"

	"github.com/c360studio/sessionflow/gitx"
	"github.com/c360studio/sessionflow/session"
)

// Finalize commits the session's artifacts. It is always the terminal step:
// its ok outcome completes the workflow regardless of prior step outcomes.
type Finalize struct{}

// NewFinalize creates the finalize step.
func NewFinalize() *Finalize { return &Finalize{} }

// Name implements session.Step.
func (s *Finalize) Name() string { return ModuleFinalize }

// GetCommand implements session.Step.
func (s *Finalize) GetCommand(_ session.Scope, sess *session.Session) (session.Command, error) {
	dir, ok := sess.WorkDir()
	if !ok {
		return session.Command{}, session.NewStepError(s.Name(), "work_dir not found in session state")
	}

	message := fmt.Sprintf("sessionflow: %s session %s", sess.Type, sess.ID)
	return session.Command{
		ID:      session.NewCommandID(),
		Module:  s.Name(),
		Command: gitx.CommitAllCommand(dir, message),
		Pipe:    map[string]any{"work_dir": dir},
	}, nil
}

// HandleResult implements session.Step.
func (s *Finalize) HandleResult(_ session.Scope, _ *session.Session, raw session.RawResult) (session.State, session.Result, error) {
	if raw.Failed() {
		return nil, session.Result{
			Status:   session.ResultError,
			Detail:   firstNonEmpty(raw.Stderr, raw.Stdout, "finalize commit failed"),
			ExitCode: raw.ExitCode,
		}, nil
	}
	return nil, session.Result{Status: session.ResultOK, Output: raw.Stdout}, nil
}
