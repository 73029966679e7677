// Package engine orchestrates session workflows: it decides what command
// runs next, interprets delivered results into state transitions, persists
// each session snapshot and broadcasts every mutation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/sessionflow/session"
	"github.com/c360studio/sessionflow/session/validation"
)

// Store persists session aggregates. Each engine operation is one
// read-modify-write of a single session document.
type Store interface {
	// Create assigns an id and persists a new session.
	Create(ctx context.Context, sess *session.Session) error

	// Get loads a session by id. Returns storage.ErrNotFound when absent.
	Get(ctx context.Context, id string) (*session.Session, error)

	// Update persists a new snapshot of an existing session.
	Update(ctx context.Context, sess *session.Session) error

	// List returns every session owned by an account.
	List(ctx context.Context, accountID string) ([]*session.Session, error)
}

// Publisher broadcasts session lifecycle events on per-tenant topics.
// Publishing is fire and forget: a delivery failure never fails the
// mutation that produced the event.
type Publisher interface {
	Publish(ctx context.Context, event session.Event) error
}

// NopPublisher discards events. Used by tests and offline runs.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, session.Event) error { return nil }

// AgentLauncher dispatches async agent commands for out-of-band execution.
// The launcher's executor later resumes the workflow via DeliverResult with
// the durable (session id, interaction id) token — no in-memory handle
// survives between the two calls.
type AgentLauncher interface {
	Launch(ctx context.Context, req session.AgentRunRequest) error
}

// NextOptions modifies NextCommand behavior.
type NextOptions struct {
	// Regenerate discards the pending interaction and generates a fresh
	// command for the same step. Used for execution-mode changes.
	Regenerate bool
}

// Options configures an Engine.
type Options struct {
	Store    Store
	Registry *session.Registry

	// Publisher defaults to NopPublisher.
	Publisher Publisher

	// Launcher handles async agent commands. Optional: Execute returns an
	// error for agent commands when unset.
	Launcher AgentLauncher

	// Retries escalates steps that keep failing. Defaults to the standard
	// retry configuration.
	Retries *validation.RetryManager

	Logger *slog.Logger
}

// Engine advances sessions through their workflow definitions. It is
// synchronous and request-driven: concurrency comes from independent
// sessions progressing in parallel and from async result delivery.
type Engine struct {
	store     Store
	registry  *session.Registry
	publisher Publisher
	launcher  AgentLauncher
	retries   *validation.RetryManager
	logger    *slog.Logger
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine requires a store")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("engine requires a definition registry")
	}
	if opts.Publisher == nil {
		opts.Publisher = NopPublisher{}
	}
	if opts.Retries == nil {
		opts.Retries = validation.NewRetryManager(validation.DefaultRetryConfig())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:     opts.Store,
		registry:  opts.Registry,
		publisher: opts.Publisher,
		launcher:  opts.Launcher,
		retries:   opts.Retries,
		logger:    opts.Logger,
	}, nil
}

// Create validates attrs, builds a new active session owned by the scope's
// account/project, persists it and broadcasts created.
func (e *Engine) Create(ctx context.Context, scope session.Scope, attrs session.Attrs) (*session.Session, error) {
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	def, err := e.registry.Lookup(attrs.Type)
	if err != nil {
		return nil, &session.AttrsError{Fields: map[string]string{
			"type": fmt.Sprintf("unknown session type: %s", attrs.Type),
		}}
	}

	mode := attrs.ExecutionMode
	if mode == "" {
		mode = session.ModeManual
	}

	state := session.State{}
	if attrs.State != nil {
		state = attrs.State.Merge(nil)
	}

	sess := &session.Session{
		Type:            attrs.Type,
		Status:          session.StatusActive,
		StepName:        def.First(),
		State:           state,
		ExecutionMode:   mode,
		Agent:           attrs.Agent,
		Environment:     attrs.Environment,
		FileScope:       attrs.FileScope,
		ComponentID:     attrs.ComponentID,
		ProjectID:       scope.ProjectID,
		AccountID:       scope.AccountID,
		ParentSessionID: attrs.ParentID,
	}

	if err := e.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	sessionsCreated.WithLabelValues(sess.Type.String()).Inc()
	e.broadcast(ctx, session.EventCreated, sess)
	return sess, nil
}

// Get loads a session, enforcing tenancy.
func (e *Engine) Get(ctx context.Context, scope session.Scope, id string) (*session.Session, error) {
	sess, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	session.MustOwn(scope, sess)
	return sess, nil
}

// List returns the scope's sessions.
func (e *Engine) List(ctx context.Context, scope session.Scope) ([]*session.Session, error) {
	return e.store.List(ctx, scope.AccountID)
}

// NextCommand returns the session's pending interaction, generating one via
// the current step when none exists. Idempotent: calling it twice without
// an intervening result returns the same interaction. Returns ErrComplete
// once the session is terminal, the normal stop-polling signal.
func (e *Engine) NextCommand(ctx context.Context, scope session.Scope, id string, opts NextOptions) (*session.Interaction, error) {
	sess, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	session.MustOwn(scope, sess)

	if sess.Status.IsTerminal() {
		return nil, session.ErrComplete
	}

	if pending := sess.Pending(); pending != nil && !opts.Regenerate {
		return pending, nil
	}

	def, err := e.registry.Lookup(sess.Type)
	if err != nil {
		return nil, err
	}
	slot, err := def.Slot(sess.StepName)
	if err != nil {
		return nil, err
	}

	cmd, err := slot.Step.GetCommand(scope, sess)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	interaction := &session.Interaction{
		ID:        session.NewInteractionID(),
		Command:   cmd,
		CreatedAt: now,
	}

	updated := sess.Clone()
	if opts.Regenerate && updated.Pending() != nil {
		// The discarded pending interaction is replaced, not kept as history.
		updated.Interactions[0] = interaction
	} else {
		updated.PushInteraction(interaction)
	}

	if err := e.persist(ctx, updated); err != nil {
		return nil, err
	}
	return interaction, nil
}

// HandleResult interprets a delivered raw result through the current step,
// merges the returned state delta, closes the pending interaction, applies
// the transition rule and persists the new snapshot. Delivery for any
// interaction other than the pending one is rejected.
func (e *Engine) HandleResult(ctx context.Context, scope session.Scope, id, interactionID string, raw session.RawResult) (*session.Session, error) {
	sess, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	session.MustOwn(scope, sess)

	pending := sess.Pending()
	if pending == nil {
		return nil, session.ErrNoPending
	}
	if pending.ID != interactionID {
		return nil, &session.StaleInteractionError{Delivered: interactionID, Pending: pending.ID}
	}

	def, err := e.registry.Lookup(sess.Type)
	if err != nil {
		return nil, err
	}
	slot, err := def.Slot(sess.StepName)
	if err != nil {
		return nil, err
	}

	delta, result, err := slot.Step.HandleResult(scope, sess, raw)
	if err != nil {
		// Recoverable interpretation failure: the interaction stays
		// pending so the caller can retry delivery after intervention.
		return nil, err
	}

	updated := sess.Clone()
	updated.State = updated.State.Merge(delta)

	now := time.Now().UTC()
	closed := *pending
	closed.Result = &result
	closed.CompletedAt = &now
	updated.Interactions[0] = &closed

	next, complete, failed, err := def.Next(sess.StepName, result.Status)
	if err != nil {
		return nil, err
	}

	if result.Status == session.ResultError {
		attempts := e.retries.RecordFailure(sess.ID, sess.StepName, result.Detail)
		if slot.RetryBudget > 0 && attempts >= slot.RetryBudget {
			failed = true
			updated.FailureReason = fmt.Sprintf("step %s failed %d times, escalating: %s",
				sess.StepName, attempts, result.Detail)
			escalations.WithLabelValues(sess.Type.String(), sess.StepName).Inc()
		}
	} else {
		e.retries.Clear(sess.ID, sess.StepName)
	}

	switch {
	case failed:
		updated.Status = session.StatusFailed
		if updated.FailureReason == "" {
			updated.FailureReason = result.Detail
		}
		e.retries.ClearSession(sess.ID)
	case complete:
		updated.Status = session.StatusComplete
		e.retries.ClearSession(sess.ID)
	default:
		updated.StepName = next
	}

	if err := e.persist(ctx, updated); err != nil {
		return nil, err
	}

	stepTransitions.WithLabelValues(sess.Type.String(), sess.StepName, string(result.Status)).Inc()
	return updated, nil
}

// Execute dispatches the pending command's out-of-band work. Child-spawn
// commands run inline (the engine is their executor) and are delivered
// immediately; agent commands are handed to the launcher and resume later
// via DeliverResult; synchronous shell commands are returned untouched for
// the caller's environment to run.
func (e *Engine) Execute(ctx context.Context, scope session.Scope, id string) (*session.Interaction, error) {
	interaction, err := e.NextCommand(ctx, scope, id, NextOptions{})
	if err != nil {
		return nil, err
	}

	cmd := interaction.Command
	if !cmd.IsAsync() {
		return interaction, nil
	}

	if cmd.Module == spawnModule {
		raw := e.runSpawn(ctx, scope, id, cmd)
		if _, err := e.HandleResult(ctx, scope, id, interaction.ID, raw); err != nil {
			return nil, err
		}
		return interaction, nil
	}

	if e.launcher == nil {
		return nil, fmt.Errorf("no agent launcher configured for async command %s", cmd.Module)
	}
	req := session.AgentRunRequest{
		SessionID:     id,
		InteractionID: interaction.ID,
		Command:       cmd,
	}
	if err := e.launcher.Launch(ctx, req); err != nil {
		return nil, fmt.Errorf("launch agent for %s: %w", cmd.Module, err)
	}
	return interaction, nil
}

// DeliverResult is the out-of-band resumption entry point, callable from a
// different process than the one that issued the command. The scope is
// derived from the session itself: the durable (session id, interaction id)
// pair is the hand-off token.
func (e *Engine) DeliverResult(ctx context.Context, id, interactionID string, raw session.RawResult) (*session.Session, error) {
	sess, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	scope := session.Scope{
		UserID:    "system",
		AccountID: sess.AccountID,
		ProjectID: sess.ProjectID,
	}
	return e.HandleResult(ctx, scope, id, interactionID, raw)
}

// UpdateExecutionMode changes the session's execution mode. When an
// interaction is pending, its command is regenerated under the new mode so
// mode-dependent flags take effect; the old pending interaction is
// discarded, not kept as history.
func (e *Engine) UpdateExecutionMode(ctx context.Context, scope session.Scope, id string, mode session.ExecutionMode) (*session.Session, error) {
	if !mode.IsValid() {
		return nil, &session.AttrsError{Fields: map[string]string{
			"execution_mode": fmt.Sprintf("unknown execution mode: %s", mode),
		}}
	}

	sess, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	session.MustOwn(scope, sess)

	updated := sess.Clone()
	updated.ExecutionMode = mode

	if pending := updated.Pending(); pending != nil {
		def, err := e.registry.Lookup(updated.Type)
		if err != nil {
			return nil, err
		}
		slot, err := def.Slot(updated.StepName)
		if err != nil {
			return nil, err
		}
		cmd, err := slot.Step.GetCommand(scope, updated)
		if err != nil {
			return nil, err
		}
		updated.Interactions[0] = &session.Interaction{
			ID:        session.NewInteractionID(),
			Command:   cmd,
			CreatedAt: time.Now().UTC(),
		}
	}

	if err := e.persist(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (e *Engine) persist(ctx context.Context, sess *session.Session) error {
	if err := e.store.Update(ctx, sess); err != nil {
		return fmt.Errorf("persist session %s: %w", sess.ID, err)
	}
	e.broadcast(ctx, session.EventUpdated, sess)
	return nil
}

func (e *Engine) broadcast(ctx context.Context, action string, sess *session.Session) {
	event := session.Event{
		Action:    action,
		Session:   sess,
		EmittedAt: time.Now().UTC(),
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		broadcastFailures.Inc()
		e.logger.Warn("Failed to broadcast session event",
			"session_id", sess.ID,
			"action", action,
			"error", err)
	}
}
