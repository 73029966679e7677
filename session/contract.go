package session

// Step is the polymorphic unit of workflow logic. Implementations are
// stateless: GetCommand builds the next command from session state only, and
// HandleResult deterministically interprets a raw outcome into a state delta
// plus a normalized result. Neither performs I/O — real work happens in the
// caller-owned environment, outside the engine's critical section.
type Step interface {
	// Name is the stable module identifier, used for execution dispatch
	// and observability assertions.
	Name() string

	// GetCommand produces the next command for the session. It returns a
	// recoverable error (not a panic) when required prior state is absent.
	GetCommand(scope Scope, sess *Session) (Command, error)

	// HandleResult interprets the raw outcome into a state delta to merge
	// into the session and a normalized result for transition decisions.
	HandleResult(scope Scope, sess *Session, raw RawResult) (State, Result, error)
}
