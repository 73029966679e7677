// Typed NATS subject definitions for session lifecycle events.
//
// Events are published on per-tenant subjects under
// "sessions.events.<account>.<action>" so one tenant's live UI never
// observes another tenant's sessions.
package session

import (
	"fmt"
	"time"
)

// Event actions broadcast after every persisted mutation.
const (
	EventCreated = "created"
	EventUpdated = "updated"
)

// Event is the payload broadcast on every persisted session mutation.
type Event struct {
	// Action is created or updated.
	Action string `json:"action"`

	// Session is the full persisted snapshot after the mutation.
	Session *Session `json:"session"`

	// EmittedAt is when the event was published.
	EmittedAt time.Time `json:"emitted_at"`
}

// EventSubject builds the per-tenant subject for an event action.
func EventSubject(accountID, action string) string {
	return fmt.Sprintf("sessions.events.%s.%s", accountID, action)
}

// EventSubscribeSubject builds the wildcard subject covering all event
// actions for one tenant.
func EventSubscribeSubject(accountID string) string {
	return fmt.Sprintf("sessions.events.%s.>", accountID)
}

// AgentRunSubject is where async agent commands are dispatched for
// out-of-band execution, keyed by session so agent runners can filter.
func AgentRunSubject(sessionID string) string {
	return fmt.Sprintf("sessions.agent.run.%s", sessionID)
}

// AgentRunRequest is the payload dispatched to async agent runners. The
// runner executes the agent out of band and calls back into the engine via
// DeliverResult with the durable (session id, interaction id) token.
type AgentRunRequest struct {
	SessionID     string  `json:"session_id"`
	InteractionID string  `json:"interaction_id"`
	Command       Command `json:"command"`
}
