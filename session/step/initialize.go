// Package step implements the workflow step variants sequenced by session
// definitions: repository initialization, document generation and
// validation, revision loops, test runs and child-session fan-out.
package step

import (
	"path/filepath"

	"github.com/c360studio/sessionflow/gitx"
	"github.com/c360studio/sessionflow/session"
)

// Step module names. Stable identifiers: commands carry them for execution
// dispatch and tests assert on them.
const (
	ModuleInitialize     = "initialize"
	ModuleGenerateDesign = "generate_design"
	ModuleGenerateSpec   = "generate_spec"
	ModuleGenerateCode   = "generate_code"
	ModuleValidateDesign = "validate_design"
	ModuleValidateSpec   = "validate_spec"
	ModuleReviseDesign   = "revise_design"
	ModuleReviseSpec     = "revise_spec"
	ModuleRunTests       = "run_tests"
	ModuleFixTests       = "fix_tests"
	ModuleFinalize       = "finalize"
	ModuleSpawnChildren  = "spawn_children"
)

// Initialize prepares the working directory: a git clone on first run, a
// fast-forward pull when the session already has one.
type Initialize struct {
	// WorkspaceRoot is where per-session working directories live.
	WorkspaceRoot string
}

// NewInitialize creates the initialize step.
func NewInitialize(workspaceRoot string) *Initialize {
	return &Initialize{WorkspaceRoot: workspaceRoot}
}

// Name implements session.Step.
func (s *Initialize) Name() string { return ModuleInitialize }

// GetCommand implements session.Step.
func (s *Initialize) GetCommand(_ session.Scope, sess *session.Session) (session.Command, error) {
	if dir, ok := sess.WorkDir(); ok {
		return session.Command{
			ID:      session.NewCommandID(),
			Module:  s.Name(),
			Command: gitx.PullCommand(dir),
			Pipe:    map[string]any{"work_dir": dir},
		}, nil
	}

	url, ok := sess.RepoURL()
	if !ok {
		return session.Command{}, session.NewStepError(s.Name(), "repo_url not found in session state")
	}

	dir := filepath.Join(s.WorkspaceRoot, sess.ID)
	return session.Command{
		ID:      session.NewCommandID(),
		Module:  s.Name(),
		Command: gitx.CloneCommand(url, dir),
		Pipe:    map[string]any{"work_dir": dir},
	}, nil
}

// HandleResult implements session.Step. The prepared directory travels in
// the command pipe so interpretation stays deterministic.
func (s *Initialize) HandleResult(_ session.Scope, sess *session.Session, raw session.RawResult) (session.State, session.Result, error) {
	if raw.Failed() {
		return nil, session.Result{
			Status:   session.ResultError,
			Detail:   firstNonEmpty(raw.Stderr, raw.Stdout, "repository preparation failed"),
			ExitCode: raw.ExitCode,
		}, nil
	}

	pending := sess.Pending()
	if pending == nil {
		return nil, session.Result{}, session.ErrNoPending
	}
	dir := pending.Command.PipeString("work_dir")
	if dir == "" {
		return nil, session.Result{}, session.NewStepError(s.Name(), "work_dir missing from command pipe")
	}

	delta := session.State{session.KeyWorkDir: dir}
	return delta, session.Result{Status: session.ResultOK, Output: dir}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
