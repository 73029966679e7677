// Package session provides the sessionflow workflow engine data model:
// sessions, interactions, commands and the per-type workflow definitions
// that sequence agent-driven development steps.
package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type selects the workflow definition a session runs.
type Type string

const (
	// TypeContextSpec generates and validates a context specification document.
	TypeContextSpec Type = "context_spec"

	// TypeComponentDesign generates and validates a component design document.
	TypeComponentDesign Type = "component_design"

	// TypeComponentCoding implements a component and iterates until its tests pass.
	TypeComponentCoding Type = "component_coding"

	// TypeContextTesting spawns one child coding session per component under a
	// context and aggregates their completion.
	TypeContextTesting Type = "context_testing"
)

// String returns the string representation of the session type.
func (t Type) String() string {
	return string(t)
}

// Status represents the lifecycle state of a session.
type Status string

const (
	// StatusActive indicates the session is progressing through its steps.
	StatusActive Status = "active"

	// StatusComplete indicates the terminal step finished successfully.
	StatusComplete Status = "complete"

	// StatusFailed indicates a step determined the workflow cannot proceed.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a known session status.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusComplete, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true once no further commands will be issued.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CanTransitionTo returns true if the status can transition to the target.
// Status is monotonic: active → complete or active → failed, no resurrection.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusActive:
		return target == StatusComplete || target == StatusFailed
	case StatusComplete, StatusFailed:
		return false
	default:
		return false
	}
}

// ExecutionMode controls whether a session advances on external triggers only
// or re-invokes itself after each completed step.
type ExecutionMode string

const (
	// ModeManual requires an external trigger per step.
	ModeManual ExecutionMode = "manual"

	// ModeAuto lets the orchestrator immediately re-invoke the next step.
	ModeAuto ExecutionMode = "auto"
)

// String returns the string representation of the execution mode.
func (m ExecutionMode) String() string {
	return string(m)
}

// IsValid returns true if the mode is a known execution mode.
func (m ExecutionMode) IsValid() bool {
	return m == ModeManual || m == ModeAuto
}

// AsyncCommand is the sentinel command string meaning the step's work runs
// out of band; its result arrives later via DeliverResult.
const AsyncCommand = "@async"

// Command describes the next unit of work a step wants executed.
type Command struct {
	// ID uniquely identifies this generated command.
	ID string `json:"id"`

	// Module names the step that produced the command. Stable identifier
	// used for execution dispatch and observability.
	Module string `json:"module"`

	// Command is the literal shell invocation, or AsyncCommand when the
	// work completes out of band.
	Command string `json:"command"`

	// Pipe carries auxiliary payload for the execution side (prompt text,
	// child target lists) without polluting the shell string.
	Pipe map[string]any `json:"pipe,omitempty"`
}

// IsAsync returns true when the command completes out of band.
func (c Command) IsAsync() bool {
	return c.Command == AsyncCommand
}

// PipeString returns a string value from the command pipe.
func (c Command) PipeString(key string) string {
	if c.Pipe == nil {
		return ""
	}
	s, _ := c.Pipe[key].(string)
	return s
}

// ResultStatus is the normalized outcome of an interpreted step result.
type ResultStatus string

const (
	// ResultOK advances the workflow per the transition rule.
	ResultOK ResultStatus = "ok"

	// ResultError routes to the step's error edge (repeat or revise).
	ResultError ResultStatus = "error"
)

// Result is the normalized outcome record stored on a closed interaction
// and used for transition decisions.
type Result struct {
	// Status is the normalized outcome.
	Status ResultStatus `json:"status"`

	// Output is the primary output (stdout or agent-delivered content).
	Output string `json:"output,omitempty"`

	// Detail carries diagnostic text for error outcomes (validation
	// feedback, not-yet-complete child ids).
	Detail string `json:"detail,omitempty"`

	// ExitCode is the underlying process exit code when relevant.
	ExitCode int `json:"exit_code,omitempty"`
}

// Raw result statuses reported by the execution side.
const (
	RawStatusOK      = "ok"
	RawStatusError   = "error"
	RawStatusTimeout = "timeout"
)

// RawResult is the unprocessed outcome delivered back to the engine: shell
// stdout and exit code for sync commands, or an agent payload for async ones.
type RawResult struct {
	// Status is ok, error or timeout as reported by the executor.
	Status string `json:"status"`

	// Stdout is captured standard output.
	Stdout string `json:"stdout,omitempty"`

	// Stderr is captured standard error.
	Stderr string `json:"stderr,omitempty"`

	// ExitCode is the process exit code for shell commands.
	ExitCode int `json:"exit_code"`

	// Data holds structured payload delivered by async executors.
	Data map[string]any `json:"data,omitempty"`
}

// Failed returns true when the executor reported a failure or timeout.
func (r RawResult) Failed() bool {
	return r.Status == RawStatusError || r.Status == RawStatusTimeout || r.ExitCode != 0
}

// DataString returns a string value from the structured payload.
func (r RawResult) DataString(key string) string {
	if r.Data == nil {
		return ""
	}
	s, _ := r.Data[key].(string)
	return s
}

// Interaction pairs one issued command with its eventual result. Immutable
// once created except for Result, which transitions exactly once from nil.
type Interaction struct {
	// ID uniquely identifies the interaction.
	ID string `json:"id"`

	// Command is the unit of work that was issued.
	Command Command `json:"command"`

	// Result is nil while the interaction is pending.
	Result *Result `json:"result,omitempty"`

	// CreatedAt is when the command was generated.
	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is when the result was delivered and interpreted.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Pending returns true while no result has been delivered.
func (i *Interaction) Pending() bool {
	return i != nil && i.Result == nil
}

// State is the open string-keyed bag of values accumulated across steps.
// Steps are the only writers of specific keys; no schema is enforced beyond
// string → JSON value so new step types can introduce keys freely.
type State map[string]any

// Merge returns a copy of the state with the delta applied on top.
func (s State) Merge(delta State) State {
	merged := make(State, len(s)+len(delta))
	for k, v := range s {
		merged[k] = v
	}
	for k, v := range delta {
		merged[k] = v
	}
	return merged
}

// GetString returns a string value from the state bag.
func (s State) GetString(key string) (string, bool) {
	v, ok := s[key].(string)
	return v, ok
}

// GetStringSlice returns a string-slice value from the state bag. JSON
// round-trips store slices as []any, so both forms are accepted.
func (s State) GetStringSlice(key string) ([]string, bool) {
	switch v := s[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	default:
		return nil, false
	}
}

// Session is one workflow instance: the aggregate advanced exclusively
// through the engine's next-command/handle-result cycle.
type Session struct {
	// ID is the typed entity identifier (session:{uuid}).
	ID string `json:"id"`

	// Type selects the workflow definition. Immutable after creation.
	Type Type `json:"type"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// StepName is the current step pointer within the definition.
	StepName string `json:"step_name"`

	// State is the accumulated key/value bag written by steps.
	State State `json:"state"`

	// Interactions is the ordered command/result history, most recent first.
	Interactions []*Interaction `json:"interactions"`

	// ExecutionMode is manual or auto. Mutable at any time; changing it
	// regenerates any pending interaction's command.
	ExecutionMode ExecutionMode `json:"execution_mode"`

	// Agent is the external coding agent program this session drives.
	Agent string `json:"agent"`

	// Environment tags which execution environment runs shell commands.
	Environment string `json:"environment"`

	// FileScope bounds which files the agent may touch in the working
	// directory. Nil means unrestricted.
	FileScope *FileScope `json:"file_scope,omitempty"`

	// ComponentID links the target component. Immutable.
	ComponentID string `json:"component_id,omitempty"`

	// ProjectID links the owning project, set from scope. Immutable.
	ProjectID string `json:"project_id"`

	// AccountID is the owning tenant, set from scope. Immutable.
	AccountID string `json:"account_id"`

	// ParentSessionID back-references the spawning parent session when this
	// session is a child created by a spawn step.
	ParentSessionID string `json:"session_id,omitempty"`

	// FailureReason records why a session reached StatusFailed.
	FailureReason string `json:"failure_reason,omitempty"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the session was last persisted.
	UpdatedAt time.Time `json:"updated_at"`
}

// Pending returns the currently pending interaction, or nil. The engine
// enforces that at most one interaction is pending at a time.
func (s *Session) Pending() *Interaction {
	if len(s.Interactions) == 0 {
		return nil
	}
	if head := s.Interactions[0]; head.Pending() {
		return head
	}
	return nil
}

// CompletedCount returns the number of closed interactions.
func (s *Session) CompletedCount() int {
	n := 0
	for _, i := range s.Interactions {
		if !i.Pending() {
			n++
		}
	}
	return n
}

// LastResult returns the most recently closed interaction's result, or nil.
func (s *Session) LastResult() *Result {
	for _, i := range s.Interactions {
		if !i.Pending() {
			return i.Result
		}
	}
	return nil
}

// PushInteraction prepends a new interaction, keeping most-recent-first order.
func (s *Session) PushInteraction(i *Interaction) {
	s.Interactions = append([]*Interaction{i}, s.Interactions...)
}

// Clone returns a deep copy of the session. The engine mutates copies so a
// failed persist never leaves a half-updated aggregate behind.
func (s *Session) Clone() *Session {
	clone := *s
	clone.State = s.State.Merge(nil)
	clone.Interactions = make([]*Interaction, len(s.Interactions))
	for idx, i := range s.Interactions {
		ic := *i
		if i.Result != nil {
			rc := *i.Result
			ic.Result = &rc
		}
		clone.Interactions[idx] = &ic
	}
	return &clone
}

// MarshalJSON implements json.Marshaler.
func (s *Session) MarshalJSON() ([]byte, error) {
	type Alias Session
	return json.Marshal((*Alias)(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Session) UnmarshalJSON(data []byte) error {
	type Alias Session
	return json.Unmarshal(data, (*Alias)(s))
}

// NewCommandID generates a unique command identifier.
func NewCommandID() string {
	return fmt.Sprintf("cmd-%s", uuid.New().String()[:8])
}

// NewInteractionID generates a unique interaction identifier.
func NewInteractionID() string {
	return fmt.Sprintf("int-%s", uuid.New().String())
}

// Attrs are the caller-supplied attributes for creating a session.
type Attrs struct {
	Type          Type          `json:"type"`
	Agent         string        `json:"agent"`
	Environment   string        `json:"environment"`
	ComponentID   string        `json:"component_id,omitempty"`
	ExecutionMode ExecutionMode `json:"execution_mode,omitempty"`
	ParentID      string        `json:"session_id,omitempty"`
	FileScope     *FileScope    `json:"file_scope,omitempty"`
	State         State         `json:"state,omitempty"`
}

// Validate checks attrs against the creation schema and returns an
// AttrsError listing every offending field on malformed input.
func (a Attrs) Validate() error {
	fields := map[string]string{}
	if a.Type == "" {
		fields["type"] = "type is required"
	}
	if a.Agent == "" {
		fields["agent"] = "agent is required"
	}
	if a.Environment == "" {
		fields["environment"] = "environment is required"
	}
	if a.ExecutionMode != "" && !a.ExecutionMode.IsValid() {
		fields["execution_mode"] = fmt.Sprintf("unknown execution mode: %s", a.ExecutionMode)
	}
	if len(fields) > 0 {
		return &AttrsError{Fields: fields}
	}
	return nil
}

// AttrsError reports every invalid field from session creation.
type AttrsError struct {
	Fields map[string]string `json:"fields"`
}

// Error implements error.
func (e *AttrsError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("invalid session attrs: %s", strings.Join(parts, "; "))
}
