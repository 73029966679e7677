package step

import (
	"fmt"

	"github.com/c360studio/sessionflow/session"
)

// FixTestFailures sends the failing test output back to the agent. Its ok
// outcome routes back to run_tests; only a clean test run advances.
type FixTestFailures struct{}

// NewFixTestFailures creates the fix step.
func NewFixTestFailures() *FixTestFailures { return &FixTestFailures{} }

// Name implements session.Step.
func (s *FixTestFailures) Name() string { return ModuleFixTests }

// GetCommand implements session.Step.
func (s *FixTestFailures) GetCommand(_ session.Scope, sess *session.Session) (session.Command, error) {
	dir, ok := sess.WorkDir()
	if !ok {
		return session.Command{}, session.NewStepError(s.Name(), "work_dir not found in session state")
	}
	output, ok := sess.State.GetString(session.KeyTestOutput)
	if !ok || output == "" {
		return session.Command{}, session.NewStepError(s.Name(), "test output not found in session state")
	}

	prompt := fmt.Sprintf("The test suite is failing. Fix the code in the working directory so all tests pass.\n\nFailing output:\n\n%s", output)

	return session.Command{
		ID:      session.NewCommandID(),
		Module:  s.Name(),
		Command: session.AsyncCommand,
		Pipe: map[string]any{
			"agent":    sess.Agent,
			"work_dir": dir,
			"prompt":   prompt,
			"auto":     sess.ExecutionMode == session.ModeAuto,
		},
	}, nil
}

// HandleResult implements session.Step.
func (s *FixTestFailures) HandleResult(_ session.Scope, _ *session.Session, raw session.RawResult) (session.State, session.Result, error) {
	if raw.Failed() {
		return nil, session.Result{
			Status:   session.ResultError,
			Detail:   firstNonEmpty(raw.DataString("error"), raw.Stderr, "agent fix run failed"),
			ExitCode: raw.ExitCode,
		}, nil
	}
	return nil, session.Result{Status: session.ResultOK, Output: raw.DataString("summary")}, nil
}
