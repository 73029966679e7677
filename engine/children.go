package engine

import (
	"context"
	"fmt"

	"github.com/c360studio/sessionflow/session"
	"github.com/c360studio/sessionflow/session/step"
)

const spawnModule = step.ModuleSpawnChildren

// runSpawn executes a child-spawn command: on the first run it creates one
// child session per target, afterwards it polls the recorded children. The
// outcome is always reported as a raw result so the spawn step interprets
// aggregation purely, the same way every other step sees its command output.
func (e *Engine) runSpawn(ctx context.Context, scope session.Scope, parentID string, cmd session.Command) session.RawResult {
	existing := pipeStrings(cmd.Pipe, "existing")
	if len(existing) == 0 {
		created, err := e.spawnChildren(ctx, scope, parentID, cmd)
		if err != nil {
			return spawnFailure(err)
		}
		existing = created
	}

	children := make([]step.ChildStatus, 0, len(existing))
	for _, id := range existing {
		child, err := e.store.Get(ctx, id)
		if err != nil {
			return spawnFailure(fmt.Errorf("poll child %s: %w", id, err))
		}
		children = append(children, step.ChildStatus{
			ID:     child.ID,
			Status: child.Status.String(),
		})
	}

	payload := make([]any, 0, len(children))
	for _, c := range children {
		payload = append(payload, map[string]any{"id": c.ID, "status": c.Status})
	}
	return session.RawResult{
		Status: session.RawStatusOK,
		Data:   map[string]any{"children": payload},
	}
}

func (e *Engine) spawnChildren(ctx context.Context, scope session.Scope, parentID string, cmd session.Command) ([]string, error) {
	parent, err := e.store.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}

	childType := session.Type(cmd.PipeString("child_type"))
	targets := pipeStrings(cmd.Pipe, "targets")
	if len(targets) == 0 {
		return nil, fmt.Errorf("no child targets in spawn command")
	}

	state := session.State{}
	if url, ok := parent.RepoURL(); ok {
		state[session.KeyRepoURL] = url
	}

	ids := make([]string, 0, len(targets))
	for _, target := range targets {
		child, err := e.Create(ctx, scope, session.Attrs{
			Type:          childType,
			Agent:         parent.Agent,
			Environment:   parent.Environment,
			ComponentID:   target,
			ExecutionMode: parent.ExecutionMode,
			ParentID:      parent.ID,
			State:         state,
		})
		if err != nil {
			// Children created before the failure stay linked via their
			// parent id; the next spawn attempt creates a fresh batch.
			return nil, fmt.Errorf("create child for %s: %w", target, err)
		}
		ids = append(ids, child.ID)
		childrenSpawned.WithLabelValues(childType.String()).Inc()
	}

	e.logger.Info("Spawned child sessions",
		"parent_id", parentID,
		"child_type", childType,
		"count", len(ids))
	return ids, nil
}

func spawnFailure(err error) session.RawResult {
	return session.RawResult{
		Status: session.RawStatusError,
		Data:   map[string]any{"error": err.Error()},
	}
}

func pipeStrings(pipe map[string]any, key string) []string {
	value, ok := pipe[key]
	if !ok {
		return nil
	}
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
