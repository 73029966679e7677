// Package sessionapi provides HTTP endpoints for creating and driving agent
// sessions: create, inspect, next-command, result delivery and execution-mode
// changes.
package sessionapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/sessionflow/engine"
	"github.com/c360studio/sessionflow/session/workflows"
	"github.com/c360studio/sessionflow/storage"
)

// Component implements the session-api component.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	// Session engine, built lazily once JetStream is reachable
	eng *engine.Engine

	// Lifecycle state machine
	// States: 0=stopped, 1=starting, 2=running, 3=stopping
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
}

const (
	stateStopped  = 0
	stateStarting = 1
	stateRunning  = 2
	stateStopping = 3
)

// NewComponent creates a new session-api component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.SessionBucketName == "" {
		config.SessionBucketName = defaults.SessionBucketName
	}
	if config.WorkspaceRoot == "" {
		config.WorkspaceRoot = defaults.WorkspaceRoot
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "session-api",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized session-api",
		"session_bucket", c.config.SessionBucketName)
	return nil
}

// Start begins the component.
func (c *Component) Start(ctx context.Context) error {
	// Atomically transition from stopped to starting
	if !c.state.CompareAndSwap(stateStopped, stateStarting) {
		currentState := c.state.Load()
		if currentState == stateRunning || currentState == stateStarting {
			return fmt.Errorf("component already running or starting")
		}
		return fmt.Errorf("component in invalid state: %d", currentState)
	}

	// Ensure we transition to stopped if setup fails
	defer func() {
		if c.state.Load() == stateStarting {
			c.state.Store(stateStopped)
		}
	}()

	if c.natsClient == nil {
		return fmt.Errorf("NATS client required")
	}

	eng, err := c.buildEngine(ctx)
	if err != nil {
		// Don't fail startup - JetStream might become reachable later
		c.logger.Warn("Session engine not ready, will retry on requests",
			"error", err)
	}

	c.mu.Lock()
	c.eng = eng
	c.startTime = time.Now()
	c.mu.Unlock()

	c.state.Store(stateRunning)

	c.logger.Info("session-api started",
		"session_bucket", c.config.SessionBucketName,
		"workspace_root", c.config.WorkspaceRoot)
	return nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	// Atomically transition from running to stopping
	if !c.state.CompareAndSwap(stateRunning, stateStopping) {
		currentState := c.state.Load()
		if currentState == stateStopped {
			return nil // Already stopped
		}
		if currentState == stateStopping {
			return nil // Already stopping
		}
		return fmt.Errorf("component in unexpected state: %d", currentState)
	}

	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.state.Store(stateStopped)

	c.logger.Info("session-api stopped")
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "session-api",
		Type:        "processor",
		Description: "HTTP endpoints for creating and driving agent sessions",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return sessionAPISchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	state := c.state.Load()
	running := state == stateRunning

	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	switch state {
	case stateStarting:
		status = "starting"
	case stateRunning:
		status = "running"
	case stateStopping:
		status = "stopping"
	}

	return component.HealthStatus{
		Healthy:   running,
		LastCheck: time.Now(),
		Uptime:    time.Since(startTime),
		Status:    status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}

// buildEngine wires the NATS-backed store, publisher, launcher and workflow
// registry into a session engine.
func (c *Component) buildEngine(ctx context.Context) (*engine.Engine, error) {
	js, err := c.natsClient.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	store, err := storage.NewSessionStore(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	registry, err := workflows.NewRegistry(workflows.Options{
		WorkspaceRoot: c.config.WorkspaceRoot,
	})
	if err != nil {
		return nil, fmt.Errorf("build workflow registry: %w", err)
	}

	if c.config.RulesPath != "" {
		rules, err := workflows.LoadRules(c.config.RulesPath)
		if err != nil {
			c.logger.Warn("Failed to load session rules overlay, using built-ins",
				"path", c.config.RulesPath,
				"error", err)
		} else if err := rules.Apply(registry); err != nil {
			c.logger.Warn("Failed to apply session rules overlay",
				"path", c.config.RulesPath,
				"error", err)
		}
	}

	return engine.New(engine.Options{
		Store:     store,
		Registry:  registry,
		Publisher: engine.NewNATSPublisher(c.natsClient),
		Launcher:  engine.NewNATSAgentLauncher(c.natsClient),
		Logger:    c.logger,
	})
}

// getEngine returns the engine, attempting to rebuild it if startup found
// JetStream unavailable. Uses double-checked locking to prevent races.
func (c *Component) getEngine(ctx context.Context) (*engine.Engine, error) {
	c.mu.RLock()
	eng := c.eng
	c.mu.RUnlock()

	if eng != nil {
		return eng, nil
	}

	// Upgrade to write lock and check again (double-checked locking)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eng != nil {
		return c.eng, nil
	}

	eng, err := c.buildEngine(ctx)
	if err != nil {
		return nil, err
	}
	c.eng = eng
	return eng, nil
}
