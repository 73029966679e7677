package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name   string
		from   Status
		to     Status
		expect bool
	}{
		{"active to complete", StatusActive, StatusComplete, true},
		{"active to failed", StatusActive, StatusFailed, true},
		{"active to active", StatusActive, StatusActive, false},
		{"complete to active", StatusComplete, StatusActive, false},
		{"complete to failed", StatusComplete, StatusFailed, false},
		{"failed to active", StatusFailed, StatusActive, false},
		{"failed to complete", StatusFailed, StatusComplete, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.expect {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.expect)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusActive.IsTerminal() {
		t.Error("active must not be terminal")
	}
	if !StatusComplete.IsTerminal() {
		t.Error("complete must be terminal")
	}
	if !StatusFailed.IsTerminal() {
		t.Error("failed must be terminal")
	}
}

func TestExecutionModeIsValid(t *testing.T) {
	if !ModeManual.IsValid() || !ModeAuto.IsValid() {
		t.Error("manual and auto must be valid modes")
	}
	if ExecutionMode("turbo").IsValid() {
		t.Error("unknown mode must be invalid")
	}
}

func TestCommandIsAsync(t *testing.T) {
	sync := Command{Command: "go test ./..."}
	if sync.IsAsync() {
		t.Error("shell command reported async")
	}
	async := Command{Command: AsyncCommand}
	if !async.IsAsync() {
		t.Error("sentinel command not reported async")
	}
}

func TestRawResultFailed(t *testing.T) {
	tests := []struct {
		name   string
		raw    RawResult
		failed bool
	}{
		{"ok", RawResult{Status: RawStatusOK}, false},
		{"error status", RawResult{Status: RawStatusError}, true},
		{"timeout status", RawResult{Status: RawStatusTimeout}, true},
		{"nonzero exit", RawResult{Status: RawStatusOK, ExitCode: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.raw.Failed(); got != tt.failed {
				t.Errorf("Failed() = %v, want %v", got, tt.failed)
			}
		})
	}
}

func TestSessionPending(t *testing.T) {
	sess := &Session{}
	if sess.Pending() != nil {
		t.Error("empty session reported a pending interaction")
	}

	pending := &Interaction{ID: "int-1", CreatedAt: time.Now()}
	sess.PushInteraction(pending)
	if got := sess.Pending(); got == nil || got.ID != "int-1" {
		t.Fatalf("Pending() = %v, want int-1", got)
	}

	now := time.Now()
	pending.Result = &Result{Status: ResultOK}
	pending.CompletedAt = &now
	if sess.Pending() != nil {
		t.Error("closed interaction still reported pending")
	}
	if sess.CompletedCount() != 1 {
		t.Errorf("CompletedCount() = %d, want 1", sess.CompletedCount())
	}
}

func TestSessionLastResult(t *testing.T) {
	sess := &Session{}
	if sess.LastResult() != nil {
		t.Error("empty session has a last result")
	}

	now := time.Now()
	sess.PushInteraction(&Interaction{
		ID:          "int-1",
		Result:      &Result{Status: ResultError, Detail: "first"},
		CompletedAt: &now,
	})
	sess.PushInteraction(&Interaction{
		ID:          "int-2",
		Result:      &Result{Status: ResultOK, Output: "second"},
		CompletedAt: &now,
	})
	// Pending head must be skipped.
	sess.PushInteraction(&Interaction{ID: "int-3"})

	last := sess.LastResult()
	if last == nil || last.Output != "second" {
		t.Fatalf("LastResult() = %+v, want output of int-2", last)
	}
}

func TestSessionCloneIsolation(t *testing.T) {
	now := time.Now()
	orig := &Session{
		ID:     "session:abc",
		Status: StatusActive,
		State:  State{"repo_url": "https://example.com/repo.git"},
		Interactions: []*Interaction{
			{ID: "int-1", Result: &Result{Status: ResultOK}, CompletedAt: &now},
		},
	}

	clone := orig.Clone()
	clone.State["repo_url"] = "changed"
	clone.Interactions[0].Result.Status = ResultError
	clone.Interactions[0].ID = "mutated"

	if got, _ := orig.State.GetString("repo_url"); got != "https://example.com/repo.git" {
		t.Errorf("clone mutation leaked into original state: %s", got)
	}
	if orig.Interactions[0].Result.Status != ResultOK {
		t.Error("clone mutation leaked into original interaction result")
	}
	if orig.Interactions[0].ID != "int-1" {
		t.Error("clone mutation leaked into original interaction id")
	}
}

func TestStateMerge(t *testing.T) {
	base := State{"a": "1", "b": "2"}
	merged := base.Merge(State{"b": "changed", "c": "3"})

	if v, _ := merged.GetString("a"); v != "1" {
		t.Errorf("merged[a] = %s, want 1", v)
	}
	if v, _ := merged.GetString("b"); v != "changed" {
		t.Errorf("merged[b] = %s, want changed", v)
	}
	if v, _ := merged.GetString("c"); v != "3" {
		t.Errorf("merged[c] = %s, want 3", v)
	}
	if v, _ := base.GetString("b"); v != "2" {
		t.Error("merge mutated the receiver")
	}
}

func TestStateGetStringSliceAcceptsJSONForm(t *testing.T) {
	// JSON round-trips turn []string into []any.
	var s State
	if err := json.Unmarshal([]byte(`{"child_targets":["a","b"]}`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got, ok := s.GetStringSlice("child_targets")
	if !ok || len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("GetStringSlice = %v, %v", got, ok)
	}

	direct := State{"targets": []string{"x"}}
	if got, ok := direct.GetStringSlice("targets"); !ok || got[0] != "x" {
		t.Fatalf("GetStringSlice on []string = %v, %v", got, ok)
	}

	mixed := State{"bad": []any{"x", 7}}
	if _, ok := mixed.GetStringSlice("bad"); ok {
		t.Error("mixed-type slice must not decode")
	}
}

func TestAttrsValidate(t *testing.T) {
	tests := []struct {
		name   string
		attrs  Attrs
		fields []string
	}{
		{
			name:  "valid",
			attrs: Attrs{Type: TypeComponentDesign, Agent: "claude", Environment: "local"},
		},
		{
			name:   "missing everything",
			attrs:  Attrs{},
			fields: []string{"type", "agent", "environment"},
		},
		{
			name: "bad mode",
			attrs: Attrs{
				Type: TypeComponentDesign, Agent: "claude", Environment: "local",
				ExecutionMode: "warp",
			},
			fields: []string{"execution_mode"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.attrs.Validate()
			if len(tt.fields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var attrsErr *AttrsError
			if !errors.As(err, &attrsErr) {
				t.Fatalf("expected AttrsError, got %v", err)
			}
			for _, f := range tt.fields {
				if _, ok := attrsErr.Fields[f]; !ok {
					t.Errorf("expected field %s in %v", f, attrsErr.Fields)
				}
			}
			if len(attrsErr.Fields) != len(tt.fields) {
				t.Errorf("got %d fields, want %d: %v", len(attrsErr.Fields), len(tt.fields), attrsErr.Fields)
			}
		})
	}
}

func TestSessionJSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	orig := &Session{
		ID:            "session:9f3a",
		Type:          TypeComponentCoding,
		Status:        StatusActive,
		StepName:      "run_tests",
		State:         State{"work_dir": "/tmp/w"},
		ExecutionMode: ModeAuto,
		Agent:         "claude",
		Environment:   "local",
		FileScope:     &FileScope{DoNotTouch: []string{"go.mod"}},
		AccountID:     "acct-1",
		ProjectID:     "proj-1",
		CreatedAt:     now,
		UpdatedAt:     now,
		Interactions: []*Interaction{
			{ID: "int-1", Command: Command{ID: "cmd-1", Module: "run_tests", Command: "go test ./..."}, CreatedAt: now},
		},
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Session
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != orig.ID || got.Type != orig.Type || got.StepName != orig.StepName {
		t.Errorf("identity fields did not survive: %+v", got)
	}
	if got.Pending() == nil || got.Pending().ID != "int-1" {
		t.Error("pending interaction did not survive")
	}
	if got.FileScope == nil || !got.FileScope.Protected("go.mod") {
		t.Error("file scope did not survive")
	}
}
