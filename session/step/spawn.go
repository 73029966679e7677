package step

import (
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/sessionflow/session"
)

// SpawnChildren fans out one child session per target component and polls
// their aggregate completion. The engine's child runner executes the async
// command: on the first run it creates the children, afterwards it only
// reports their current statuses. Interpretation returns ok only once every
// child is complete; any non-complete child — including failed ones — keeps
// the aggregate at error so the same step is re-issued.
type SpawnChildren struct {
	// ChildType is the workflow type the spawned children run.
	ChildType session.Type
}

// NewSpawnChildren creates the fan-out step.
func NewSpawnChildren(childType session.Type) *SpawnChildren {
	return &SpawnChildren{ChildType: childType}
}

// Name implements session.Step.
func (s *SpawnChildren) Name() string { return ModuleSpawnChildren }

// GetCommand implements session.Step.
func (s *SpawnChildren) GetCommand(_ session.Scope, sess *session.Session) (session.Command, error) {
	targets, ok := sess.State.GetStringSlice(session.KeyChildTargets)
	if !ok || len(targets) == 0 {
		return session.Command{}, session.NewStepError(s.Name(), "child targets not found in session state")
	}

	pipe := map[string]any{
		"child_type": s.ChildType.String(),
		"targets":    targets,
	}
	// Existing child ids forbid recreation: the runner polls them instead.
	if ids, ok := sess.ChildSessionIDs(); ok && len(ids) > 0 {
		pipe["existing"] = ids
	}

	return session.Command{
		ID:      session.NewCommandID(),
		Module:  s.Name(),
		Command: session.AsyncCommand,
		Pipe:    pipe,
	}, nil
}

// ChildStatus is one child's status as reported by the child runner.
type ChildStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HandleResult implements session.Step.
func (s *SpawnChildren) HandleResult(_ session.Scope, sess *session.Session, raw session.RawResult) (session.State, session.Result, error) {
	if raw.Failed() {
		return nil, session.Result{
			Status: session.ResultError,
			Detail: firstNonEmpty(raw.DataString("error"), raw.Stderr, "child spawn failed"),
		}, nil
	}

	children, err := decodeChildren(raw)
	if err != nil {
		return nil, session.Result{}, session.NewStepError(s.Name(), "%v", err)
	}
	if len(children) == 0 {
		return nil, session.Result{Status: session.ResultError, Detail: "no child sessions reported"}, nil
	}

	delta := session.State{}
	if _, stored := sess.ChildSessionIDs(); !stored {
		ids := make([]string, 0, len(children))
		for _, c := range children {
			ids = append(ids, c.ID)
		}
		delta[session.KeyChildSessionIDs] = ids
	}

	var blocked []string
	for _, c := range children {
		if c.Status != session.StatusComplete.String() {
			blocked = append(blocked, fmt.Sprintf("%s (%s)", c.ID, c.Status))
		}
	}
	if len(blocked) > 0 {
		sort.Strings(blocked)
		return delta, session.Result{
			Status: session.ResultError,
			Detail: fmt.Sprintf("waiting on child sessions: %s", strings.Join(blocked, ", ")),
		}, nil
	}

	return delta, session.Result{
		Status: session.ResultOK,
		Output: fmt.Sprintf("%d child sessions complete", len(children)),
	}, nil
}

func decodeChildren(raw session.RawResult) ([]ChildStatus, error) {
	value, ok := raw.Data["children"]
	if !ok {
		return nil, fmt.Errorf("children missing from spawn result")
	}

	switch v := value.(type) {
	case []ChildStatus:
		return v, nil
	case []any:
		out := make([]ChildStatus, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("malformed child entry in spawn result")
			}
			id, _ := m["id"].(string)
			status, _ := m["status"].(string)
			if id == "" {
				return nil, fmt.Errorf("child entry missing id")
			}
			out = append(out, ChildStatus{ID: id, Status: status})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("malformed children in spawn result")
	}
}
