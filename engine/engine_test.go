package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/c360studio/sessionflow/engine"
	"github.com/c360studio/sessionflow/session"
	"github.com/c360studio/sessionflow/storage"
)

var testScope = session.Scope{UserID: "user-1", AccountID: "acct-1", ProjectID: "proj-1"}

// stubStep is a scriptable step for exercising engine transitions.
type stubStep struct {
	name    string
	command func(sess *session.Session) (session.Command, error)
	handle  func(sess *session.Session, raw session.RawResult) (session.State, session.Result, error)
}

func (s *stubStep) Name() string { return s.name }

func (s *stubStep) GetCommand(_ session.Scope, sess *session.Session) (session.Command, error) {
	if s.command != nil {
		return s.command(sess)
	}
	return session.Command{
		ID:      session.NewCommandID(),
		Module:  s.name,
		Command: "echo " + s.name,
	}, nil
}

func (s *stubStep) HandleResult(_ session.Scope, sess *session.Session, raw session.RawResult) (session.State, session.Result, error) {
	if s.handle != nil {
		return s.handle(sess, raw)
	}
	if raw.Failed() {
		return nil, session.Result{Status: session.ResultError, Detail: raw.Stderr, ExitCode: raw.ExitCode}, nil
	}
	return nil, session.Result{Status: session.ResultOK, Output: raw.Stdout}, nil
}

// recordPublisher captures broadcast events for assertions.
type recordPublisher struct {
	mu     sync.Mutex
	events []session.Event
}

func (p *recordPublisher) Publish(_ context.Context, event session.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordPublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Action
	}
	return out
}

func newTestEngine(t *testing.T, defs ...*session.Definition) (*engine.Engine, *storage.MemoryStore, *recordPublisher) {
	t.Helper()
	registry := session.NewRegistry()
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			t.Fatalf("register definition %s: %v", def.Type, err)
		}
	}
	store := storage.NewMemoryStore()
	publisher := &recordPublisher{}
	eng, err := engine.New(engine.Options{
		Store:     store,
		Registry:  registry,
		Publisher: publisher,
	})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	return eng, store, publisher
}

func okRaw(stdout string) session.RawResult {
	return session.RawResult{Status: session.RawStatusOK, Stdout: stdout}
}

func errRaw(stderr string) session.RawResult {
	return session.RawResult{Status: session.RawStatusError, Stderr: stderr, ExitCode: 1}
}

// simpleDefinition is one echo step that completes on success.
func simpleDefinition(typ session.Type) *session.Definition {
	return &session.Definition{
		Type: typ,
		Slots: []session.Slot{
			{
				Step:    &stubStep{name: "work"},
				OnOK:    session.Transition{Kind: session.Complete},
				OnError: session.Transition{Kind: session.Repeat},
			},
		},
	}
}

func createSession(t *testing.T, eng *engine.Engine, typ session.Type, state session.State) *session.Session {
	t.Helper()
	sess, err := eng.Create(context.Background(), testScope, session.Attrs{
		Type:        typ,
		Agent:       "claude",
		Environment: "local",
		State:       state,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestCreateValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t, simpleDefinition("unit"))
	ctx := context.Background()

	tests := []struct {
		name   string
		attrs  session.Attrs
		fields []string
	}{
		{
			name:   "missing everything",
			attrs:  session.Attrs{},
			fields: []string{"type", "agent", "environment"},
		},
		{
			name: "bad execution mode",
			attrs: session.Attrs{
				Type: "unit", Agent: "claude", Environment: "local",
				ExecutionMode: "turbo",
			},
			fields: []string{"execution_mode"},
		},
		{
			name: "unknown type",
			attrs: session.Attrs{
				Type: "nonexistent", Agent: "claude", Environment: "local",
			},
			fields: []string{"type"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Create(ctx, testScope, tt.attrs)
			var attrsErr *session.AttrsError
			if !errors.As(err, &attrsErr) {
				t.Fatalf("expected AttrsError, got %v", err)
			}
			for _, field := range tt.fields {
				if _, ok := attrsErr.Fields[field]; !ok {
					t.Errorf("expected field %q in error, got %v", field, attrsErr.Fields)
				}
			}
		})
	}
}

func TestCreateDefaults(t *testing.T) {
	eng, _, _ := newTestEngine(t, simpleDefinition("unit"))

	sess := createSession(t, eng, "unit", nil)
	if sess.ID == "" || !strings.HasPrefix(sess.ID, "session:") {
		t.Errorf("expected typed session id, got %q", sess.ID)
	}
	if sess.Status != session.StatusActive {
		t.Errorf("expected active status, got %s", sess.Status)
	}
	if sess.StepName != "work" {
		t.Errorf("expected entry step work, got %s", sess.StepName)
	}
	if sess.ExecutionMode != session.ModeManual {
		t.Errorf("expected manual mode default, got %s", sess.ExecutionMode)
	}
	if sess.AccountID != testScope.AccountID || sess.ProjectID != testScope.ProjectID {
		t.Errorf("ownership not taken from scope: %s/%s", sess.AccountID, sess.ProjectID)
	}
}

func TestNextCommandIdempotent(t *testing.T) {
	eng, _, _ := newTestEngine(t, simpleDefinition("unit"))
	ctx := context.Background()
	sess := createSession(t, eng, "unit", nil)

	first, err := eng.NextCommand(ctx, testScope, sess.ID, engine.NextOptions{})
	if err != nil {
		t.Fatalf("first next-command: %v", err)
	}
	second, err := eng.NextCommand(ctx, testScope, sess.ID, engine.NextOptions{})
	if err != nil {
		t.Fatalf("second next-command: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("expected same pending interaction, got %s then %s", first.ID, second.ID)
	}

	loaded, err := eng.Get(ctx, testScope, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(loaded.Interactions) != 1 {
		t.Errorf("expected exactly one interaction, got %d", len(loaded.Interactions))
	}
}

func TestStaleDeliveryRejected(t *testing.T) {
	eng, _, _ := newTestEngine(t, simpleDefinition("unit"))
	ctx := context.Background()
	sess := createSession(t, eng, "unit", nil)

	t.Run("no pending interaction", func(t *testing.T) {
		_, err := eng.HandleResult(ctx, testScope, sess.ID, "int-bogus", okRaw("x"))
		if !errors.Is(err, session.ErrNoPending) {
			t.Fatalf("expected ErrNoPending, got %v", err)
		}
	})

	interaction, err := eng.NextCommand(ctx, testScope, sess.ID, engine.NextOptions{})
	if err != nil {
		t.Fatalf("next-command: %v", err)
	}

	t.Run("wrong interaction id", func(t *testing.T) {
		_, err := eng.HandleResult(ctx, testScope, sess.ID, "int-bogus", okRaw("x"))
		var stale *session.StaleInteractionError
		if !errors.As(err, &stale) {
			t.Fatalf("expected StaleInteractionError, got %v", err)
		}
		if stale.Pending != interaction.ID {
			t.Errorf("expected pending %s in error, got %s", interaction.ID, stale.Pending)
		}
	})

	t.Run("duplicate delivery", func(t *testing.T) {
		if _, err := eng.HandleResult(ctx, testScope, sess.ID, interaction.ID, okRaw("x")); err != nil {
			t.Fatalf("first delivery: %v", err)
		}
		_, err := eng.HandleResult(ctx, testScope, sess.ID, interaction.ID, okRaw("x"))
		if !errors.Is(err, session.ErrNoPending) {
			t.Fatalf("expected ErrNoPending on duplicate, got %v", err)
		}
	})
}

// docDefinition mirrors the document workflow shape: validation routes to a
// revision step until the artifact is corrected.
func docDefinition() *session.Definition {
	capture := func(key string) func(*session.Session, session.RawResult) (session.State, session.Result, error) {
		return func(_ *session.Session, raw session.RawResult) (session.State, session.Result, error) {
			if raw.Failed() {
				return nil, session.Result{Status: session.ResultError, Detail: raw.Stderr}, nil
			}
			return session.State{key: raw.Stdout}, session.Result{Status: session.ResultOK, Output: raw.Stdout}, nil
		}
	}

	validate := func(sess *session.Session, _ session.RawResult) (session.State, session.Result, error) {
		artifact, _ := sess.State.GetString("artifact")
		if artifact != "Y" {
			return nil, session.Result{Status: session.ResultError, Detail: "artifact invalid"}, nil
		}
		return nil, session.Result{Status: session.ResultOK, Output: "valid"}, nil
	}

	return &session.Definition{
		Type: "doc_flow",
		Slots: []session.Slot{
			{
				Step:    &stubStep{name: "initialize"},
				OnOK:    session.Transition{Kind: session.Advance},
				OnError: session.Transition{Kind: session.Repeat},
			},
			{
				Step:    &stubStep{name: "generate", handle: capture("artifact")},
				OnOK:    session.Transition{Kind: session.Advance},
				OnError: session.Transition{Kind: session.Repeat},
			},
			{
				Step:        &stubStep{name: "validate", handle: validate},
				OnOK:        session.Transition{Kind: session.Goto, Target: "finalize"},
				OnError:     session.Transition{Kind: session.Goto, Target: "revise"},
				RetryBudget: 5,
			},
			{
				Step:    &stubStep{name: "revise", handle: capture("artifact")},
				OnOK:    session.Transition{Kind: session.Goto, Target: "validate"},
				OnError: session.Transition{Kind: session.Repeat},
			},
			{
				Step:    &stubStep{name: "finalize"},
				OnOK:    session.Transition{Kind: session.Complete},
				OnError: session.Transition{Kind: session.Repeat},
			},
		},
	}
}

// deliverStep runs one next-command/handle-result cycle, asserting the
// issued command came from the expected step.
func deliverStep(t *testing.T, eng *engine.Engine, id, wantModule string, raw session.RawResult) *session.Session {
	t.Helper()
	ctx := context.Background()

	interaction, err := eng.NextCommand(ctx, testScope, id, engine.NextOptions{})
	if err != nil {
		t.Fatalf("next-command at %s: %v", wantModule, err)
	}
	if interaction.Command.Module != wantModule {
		t.Fatalf("expected command from %s, got %s", wantModule, interaction.Command.Module)
	}

	sess, err := eng.HandleResult(ctx, testScope, id, interaction.ID, raw)
	if err != nil {
		t.Fatalf("handle result at %s: %v", wantModule, err)
	}
	return sess
}

func TestValidateReviseLoopTerminatesByCorrection(t *testing.T) {
	eng, _, _ := newTestEngine(t, docDefinition())
	ctx := context.Background()
	sess := createSession(t, eng, "doc_flow", nil)

	deliverStep(t, eng, sess.ID, "initialize", okRaw("ready"))
	deliverStep(t, eng, sess.ID, "generate", okRaw("X"))

	// Invalid artifact keeps routing validate -> revise until corrected.
	updated := deliverStep(t, eng, sess.ID, "validate", okRaw("cat output"))
	if updated.StepName != "revise" {
		t.Fatalf("expected revise after failed validation, got %s", updated.StepName)
	}

	updated = deliverStep(t, eng, sess.ID, "revise", okRaw("Y"))
	if updated.StepName != "validate" {
		t.Fatalf("expected validate after revision, got %s", updated.StepName)
	}

	updated = deliverStep(t, eng, sess.ID, "validate", okRaw("cat output"))
	if updated.StepName != "finalize" {
		t.Fatalf("expected finalize after corrected validation, got %s", updated.StepName)
	}

	updated = deliverStep(t, eng, sess.ID, "finalize", okRaw("committed"))
	if updated.Status != session.StatusComplete {
		t.Fatalf("expected complete status, got %s", updated.Status)
	}

	if _, err := eng.NextCommand(ctx, testScope, sess.ID, engine.NextOptions{}); !errors.Is(err, session.ErrComplete) {
		t.Fatalf("expected ErrComplete after completion, got %v", err)
	}
}

func TestTerminalSignalStability(t *testing.T) {
	eng, _, _ := newTestEngine(t, simpleDefinition("unit"))
	ctx := context.Background()
	sess := createSession(t, eng, "unit", nil)
	deliverStep(t, eng, sess.ID, "work", okRaw("done"))

	for i := 0; i < 3; i++ {
		if _, err := eng.NextCommand(ctx, testScope, sess.ID, engine.NextOptions{}); !errors.Is(err, session.ErrComplete) {
			t.Fatalf("call %d: expected ErrComplete, got %v", i, err)
		}
	}

	loaded, err := eng.Get(ctx, testScope, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(loaded.Interactions) != 1 {
		t.Errorf("terminal session grew interactions: %d", len(loaded.Interactions))
	}
}

func TestExecutionModeRegeneration(t *testing.T) {
	def := &session.Definition{
		Type: "modal",
		Slots: []session.Slot{
			{
				Step: &stubStep{name: "work", command: func(sess *session.Session) (session.Command, error) {
					return session.Command{
						ID:      session.NewCommandID(),
						Module:  "work",
						Command: session.AsyncCommand,
						Pipe:    map[string]any{"auto": sess.ExecutionMode == session.ModeAuto},
					}, nil
				}},
				OnOK:    session.Transition{Kind: session.Complete},
				OnError: session.Transition{Kind: session.Repeat},
			},
		},
	}
	eng, _, _ := newTestEngine(t, def)
	ctx := context.Background()
	sess := createSession(t, eng, "modal", nil)

	before, err := eng.NextCommand(ctx, testScope, sess.ID, engine.NextOptions{})
	if err != nil {
		t.Fatalf("next-command: %v", err)
	}
	if auto, _ := before.Command.Pipe["auto"].(bool); auto {
		t.Fatal("expected manual-mode command before the change")
	}

	updated, err := eng.UpdateExecutionMode(ctx, testScope, sess.ID, session.ModeAuto)
	if err != nil {
		t.Fatalf("update execution mode: %v", err)
	}

	after := updated.Pending()
	if after == nil {
		t.Fatal("expected a pending interaction after mode change")
	}
	if after.ID == before.ID {
		t.Error("expected a fresh interaction id after regeneration")
	}
	if auto, _ := after.Command.Pipe["auto"].(bool); !auto {
		t.Error("expected regenerated command to carry the auto flag")
	}

	pendingCount := 0
	for _, i := range updated.Interactions {
		if i.Pending() {
			pendingCount++
		}
	}
	if pendingCount != 1 {
		t.Errorf("expected exactly one pending interaction, got %d", pendingCount)
	}
	if len(updated.Interactions) != 1 {
		t.Errorf("discarded interaction kept as history: %d interactions", len(updated.Interactions))
	}
}

func TestUpdateExecutionModeRejectsUnknownMode(t *testing.T) {
	eng, _, _ := newTestEngine(t, simpleDefinition("unit"))
	sess := createSession(t, eng, "unit", nil)

	_, err := eng.UpdateExecutionMode(context.Background(), testScope, sess.ID, "turbo")
	var attrsErr *session.AttrsError
	if !errors.As(err, &attrsErr) {
		t.Fatalf("expected AttrsError, got %v", err)
	}
}

func TestRetryBudgetEscalation(t *testing.T) {
	def := &session.Definition{
		Type: "flaky",
		Slots: []session.Slot{
			{
				Step:        &stubStep{name: "work"},
				OnOK:        session.Transition{Kind: session.Complete},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 2,
			},
		},
	}
	eng, _, _ := newTestEngine(t, def)
	sess := createSession(t, eng, "flaky", nil)

	updated := deliverStep(t, eng, sess.ID, "work", errRaw("boom"))
	if updated.Status != session.StatusActive {
		t.Fatalf("expected active after first failure, got %s", updated.Status)
	}

	updated = deliverStep(t, eng, sess.ID, "work", errRaw("boom again"))
	if updated.Status != session.StatusFailed {
		t.Fatalf("expected failed after exhausting retry budget, got %s", updated.Status)
	}
	if !strings.Contains(updated.FailureReason, "escalating") {
		t.Errorf("expected escalation detail in failure reason, got %q", updated.FailureReason)
	}
}

func TestRetrySuccessResetsBudget(t *testing.T) {
	def := &session.Definition{
		Type: "wobbly",
		Slots: []session.Slot{
			{
				Step:        &stubStep{name: "work"},
				OnOK:        session.Transition{Kind: session.Repeat},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 2,
			},
		},
	}
	eng, _, _ := newTestEngine(t, def)
	sess := createSession(t, eng, "wobbly", nil)

	// fail, succeed, fail: the success clears the count, so one more
	// failure stays under budget.
	deliverStep(t, eng, sess.ID, "work", errRaw("boom"))
	deliverStep(t, eng, sess.ID, "work", okRaw("fine"))
	updated := deliverStep(t, eng, sess.ID, "work", errRaw("boom"))
	if updated.Status != session.StatusActive {
		t.Fatalf("expected active after reset, got %s (%s)", updated.Status, updated.FailureReason)
	}
}

func TestDeliverResultNeedsNoCallerScope(t *testing.T) {
	eng, _, _ := newTestEngine(t, simpleDefinition("unit"))
	ctx := context.Background()
	sess := createSession(t, eng, "unit", nil)

	interaction, err := eng.NextCommand(ctx, testScope, sess.ID, engine.NextOptions{})
	if err != nil {
		t.Fatalf("next-command: %v", err)
	}

	// The (session id, interaction id) pair is the hand-off token: an
	// out-of-band runner resumes the workflow without tenant headers.
	updated, err := eng.DeliverResult(ctx, sess.ID, interaction.ID, okRaw("done"))
	if err != nil {
		t.Fatalf("deliver result: %v", err)
	}
	if updated.Status != session.StatusComplete {
		t.Errorf("expected delivery to advance the workflow, got %s", updated.Status)
	}

	_, err = eng.DeliverResult(ctx, sess.ID, interaction.ID, okRaw("again"))
	if !errors.Is(err, session.ErrNoPending) {
		t.Errorf("expected ErrNoPending on replayed delivery, got %v", err)
	}
}

func TestTenancyMismatchPanics(t *testing.T) {
	eng, _, _ := newTestEngine(t, simpleDefinition("unit"))
	sess := createSession(t, eng, "unit", nil)

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic on tenancy mismatch")
		}
		if _, ok := rec.(*session.TenancyViolation); !ok {
			t.Fatalf("expected TenancyViolation panic, got %T", rec)
		}
	}()

	intruder := session.Scope{UserID: "user-2", AccountID: "acct-2", ProjectID: "proj-2"}
	_, _ = eng.Get(context.Background(), intruder, sess.ID)
}

func TestBroadcastsEveryMutation(t *testing.T) {
	eng, _, publisher := newTestEngine(t, simpleDefinition("unit"))
	sess := createSession(t, eng, "unit", nil)
	deliverStep(t, eng, sess.ID, "work", okRaw("done"))

	actions := publisher.actions()
	want := []string{session.EventCreated, session.EventUpdated, session.EventUpdated}
	if len(actions) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(actions), actions)
	}
	for i, action := range want {
		if actions[i] != action {
			t.Errorf("event %d: expected %s, got %s", i, action, actions[i])
		}
	}
}
