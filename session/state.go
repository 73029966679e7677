package session

// Well-known state bag keys. Each key is written by exactly one step family;
// the bag itself stays schemaless so new steps can introduce keys without a
// migration.
const (
	// KeyRepoURL is the clone URL of the target repository (set at creation).
	KeyRepoURL = "repo_url"

	// KeyWorkDir is the prepared working directory (set by initialize).
	KeyWorkDir = "work_dir"

	// KeyDesignDocument holds generated design text (set by generate/revise).
	KeyDesignDocument = "design_document"

	// KeyDesignPath is the on-disk path of the design artifact.
	KeyDesignPath = "design_path"

	// KeySpecDocument holds generated specification text.
	KeySpecDocument = "spec_document"

	// KeySpecPath is the on-disk path of the spec artifact.
	KeySpecPath = "spec_path"

	// KeyValidationFeedback holds diagnostic text from the last failed
	// validation, consumed by revise steps to build the correction prompt.
	KeyValidationFeedback = "validation_feedback"

	// KeyTestOutput holds the last failing test run output, consumed by
	// the fix-tests step.
	KeyTestOutput = "test_output"

	// KeyTestCommand overrides the default test invocation for a component.
	KeyTestCommand = "test_command"

	// KeyChildTargets lists the component ids a spawn step fans out over
	// (set at creation for context-testing sessions).
	KeyChildTargets = "child_targets"

	// KeyChildSessionIDs lists spawned child session ids. Written once by
	// the spawn step's first successful interpretation, never regenerated.
	KeyChildSessionIDs = "child_session_ids"
)

// WorkDir returns the prepared working directory from session state.
func (s *Session) WorkDir() (string, bool) {
	return s.State.GetString(KeyWorkDir)
}

// RepoURL returns the target repository clone URL from session state.
func (s *Session) RepoURL() (string, bool) {
	return s.State.GetString(KeyRepoURL)
}

// ChildSessionIDs returns the spawned child session ids from session state.
func (s *Session) ChildSessionIDs() ([]string, bool) {
	return s.State.GetStringSlice(KeyChildSessionIDs)
}
