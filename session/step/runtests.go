package step

import (
	"github.com/c360studio/sessionflow/session"
)

// defaultTestCommand runs when the session does not override test_command.
const defaultTestCommand = "go test ./..."

// RunTests runs the component's test suite synchronously in the working
// directory. A non-zero exit is an error outcome carrying the failing
// output, which routes to the fix-tests step.
type RunTests struct{}

// NewRunTests creates the test run step.
func NewRunTests() *RunTests { return &RunTests{} }

// Name implements session.Step.
func (s *RunTests) Name() string { return ModuleRunTests }

// GetCommand implements session.Step.
func (s *RunTests) GetCommand(_ session.Scope, sess *session.Session) (session.Command, error) {
	dir, ok := sess.WorkDir()
	if !ok {
		return session.Command{}, session.NewStepError(s.Name(), "work_dir not found in session state")
	}

	cmd := defaultTestCommand
	if override, ok := sess.State.GetString(session.KeyTestCommand); ok && override != "" {
		cmd = override
	}

	return session.Command{
		ID:      session.NewCommandID(),
		Module:  s.Name(),
		Command: cmd,
		Pipe:    map[string]any{"work_dir": dir},
	}, nil
}

// HandleResult implements session.Step.
func (s *RunTests) HandleResult(_ session.Scope, _ *session.Session, raw session.RawResult) (session.State, session.Result, error) {
	if raw.Failed() {
		output := firstNonEmpty(raw.Stdout+raw.Stderr, "test run produced no output")
		delta := session.State{session.KeyTestOutput: output}
		detail := "tests failed"
		if raw.Status == session.RawStatusTimeout {
			detail = "test run timed out"
		}
		return delta, session.Result{
			Status:   session.ResultError,
			Detail:   detail,
			Output:   output,
			ExitCode: raw.ExitCode,
		}, nil
	}

	delta := session.State{session.KeyTestOutput: ""}
	return delta, session.Result{Status: session.ResultOK, Output: raw.Stdout}, nil
}
