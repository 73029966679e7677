package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/sessionflow/session"
)

// NATSPublisher broadcasts session events on per-tenant JetStream subjects.
type NATSPublisher struct {
	nc *natsclient.Client
}

// NewNATSPublisher creates a publisher backed by the shared NATS client.
func NewNATSPublisher(nc *natsclient.Client) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, event session.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}

	js, err := p.nc.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream for event publish: %w", err)
	}

	subject := session.EventSubject(event.Session.AccountID, event.Action)
	if _, err := js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish event to %s: %w", subject, err)
	}
	return nil
}

// NATSAgentLauncher dispatches async agent commands onto the agent-run
// subject. Agent runner processes subscribe, execute the agent out of band
// and deliver the result back through the API.
type NATSAgentLauncher struct {
	nc *natsclient.Client
}

// NewNATSAgentLauncher creates a launcher backed by the shared NATS client.
func NewNATSAgentLauncher(nc *natsclient.Client) *NATSAgentLauncher {
	return &NATSAgentLauncher{nc: nc}
}

// Launch implements AgentLauncher.
func (l *NATSAgentLauncher) Launch(ctx context.Context, req session.AgentRunRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal agent run request: %w", err)
	}

	js, err := l.nc.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream for agent dispatch: %w", err)
	}

	subject := session.AgentRunSubject(req.SessionID)
	if _, err := js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("dispatch agent run to %s: %w", subject, err)
	}
	return nil
}
