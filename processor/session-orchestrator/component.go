// Package sessionorchestrator auto-advances auto-mode sessions. It watches
// the sessions KV bucket; whenever an active auto-mode session has no
// pending interaction it drives one next-command/execute cycle, so auto
// sessions chain through their steps without external triggers.
package sessionorchestrator

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
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/sessionflow/engine"
	"github.com/c360studio/sessionflow/environment"
	"github.com/c360studio/sessionflow/session"
	"github.com/c360studio/sessionflow/session/workflows"
	"github.com/c360studio/sessionflow/storage"
)

// Component implements the session-orchestrator component.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	eng          *engine.Engine
	registry     *session.Registry
	runner       environment.Runner
	rulesWatcher *workflows.RulesWatcher

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

// NewComponent creates a new session-orchestrator component.
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
	if config.CommandTimeout == "" {
		config.CommandTimeout = defaults.CommandTimeout
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "session-orchestrator",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized session-orchestrator",
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

	defer func() {
		if c.state.Load() == stateStarting {
			c.state.Store(stateStopped)
		}
	}()

	if c.natsClient == nil {
		return fmt.Errorf("NATS client required")
	}

	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	store, err := storage.NewSessionStore(ctx, js)
	if err != nil {
		return fmt.Errorf("create session store: %w", err)
	}

	registry, err := workflows.NewRegistry(workflows.Options{
		WorkspaceRoot: c.config.WorkspaceRoot,
	})
	if err != nil {
		return fmt.Errorf("build workflow registry: %w", err)
	}

	eng, err := engine.New(engine.Options{
		Store:     store,
		Registry:  registry,
		Publisher: engine.NewNATSPublisher(c.natsClient),
		Launcher:  engine.NewNATSAgentLauncher(c.natsClient),
		Logger:    c.logger,
	})
	if err != nil {
		return fmt.Errorf("build session engine: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.eng = eng
	c.registry = registry
	c.runner = environment.NewLocal(c.logger)
	c.cancel = cancel
	c.startTime = time.Now()
	c.mu.Unlock()

	if c.config.RulesPath != "" {
		if err := c.startRulesOverlay(watchCtx); err != nil {
			c.logger.Warn("Session rules overlay unavailable, using built-ins",
				"path", c.config.RulesPath,
				"error", err)
		}
	}

	// Watch KV bucket for session snapshots
	go c.watchSessions(watchCtx)

	c.state.Store(stateRunning)

	c.logger.Info("Session orchestrator started",
		"session_bucket", c.config.SessionBucketName)
	return nil
}

// startRulesOverlay applies the overlay and begins hot-reloading it.
func (c *Component) startRulesOverlay(ctx context.Context) error {
	rules, err := workflows.LoadRules(c.config.RulesPath)
	if err != nil {
		return err
	}
	if err := rules.Apply(c.registry); err != nil {
		return err
	}

	watcher, err := workflows.NewRulesWatcher(c.config.RulesPath, c.logger, func(reloaded *workflows.RulesFile) {
		if err := reloaded.Apply(c.registry); err != nil {
			c.logger.Warn("Failed to apply reloaded session rules", "error", err)
		}
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.rulesWatcher = watcher
	c.mu.Unlock()
	return nil
}

// watchSessions watches the sessions KV bucket and drives eligible sessions.
func (c *Component) watchSessions(ctx context.Context) {
	js, err := c.natsClient.JetStream()
	if err != nil {
		c.logger.Error("Failed to get JetStream context", "error", err)
		return
	}

	kv, err := js.KeyValue(ctx, c.config.SessionBucketName)
	if err != nil {
		c.logger.Error("Failed to get KV bucket",
			"bucket", c.config.SessionBucketName,
			"error", err)
		return
	}

	watcher, err := kv.Watch(ctx, ">")
	if err != nil {
		c.logger.Error("Failed to create KV watcher", "error", err)
		return
	}
	defer func() { _ = watcher.Stop() }()

	c.logger.Debug("Watching session snapshots", "bucket", c.config.SessionBucketName)

	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-watcher.Updates():
			if entry == nil {
				continue
			}

			// Skip delete operations
			if entry.Operation() == jetstream.KeyValueDelete {
				continue
			}

			var sess session.Session
			if err := json.Unmarshal(entry.Value(), &sess); err != nil {
				c.logger.Warn("Skipping malformed session snapshot",
					"key", entry.Key(),
					"error", err)
				continue
			}

			if !shouldDrive(&sess) {
				continue
			}
			if delay := driveDelay(&sess); delay > 0 {
				go c.driveAfter(ctx, &sess, delay)
				continue
			}
			c.driveSession(ctx, &sess)
		}
	}
}

// retryPollDelay spaces out re-drives after an error outcome so repeat
// edges (validation retries, child aggregation polling) don't spin.
const retryPollDelay = 5 * time.Second

// driveDelay returns how long to wait before driving this snapshot.
func driveDelay(sess *session.Session) time.Duration {
	if last := sess.LastResult(); last != nil && last.Status == session.ResultError {
		return retryPollDelay
	}
	return 0
}

// driveAfter drives the session after the delay unless shutdown intervenes.
func (c *Component) driveAfter(ctx context.Context, sess *session.Session, delay time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(delay):
		c.driveSession(ctx, sess)
	}
}

// shouldDrive reports whether a snapshot is ready for the next auto step:
// active, auto mode, and nothing pending. Each drive persists a new snapshot,
// so chaining happens one step per watch event.
func shouldDrive(sess *session.Session) bool {
	return sess.Status == session.StatusActive &&
		sess.ExecutionMode == session.ModeAuto &&
		sess.Pending() == nil
}

// driveSession runs one next-command/execute cycle for the session. Agent
// and child-spawn commands are dispatched by Execute and resume via result
// delivery; synchronous shell commands run here through the local runner,
// with the outcome delivered straight back. Each delivery persists a fresh
// snapshot, which re-triggers the watcher for the next step.
func (c *Component) driveSession(ctx context.Context, sess *session.Session) {
	scope := session.Scope{
		UserID:    "orchestrator",
		AccountID: sess.AccountID,
		ProjectID: sess.ProjectID,
	}

	interaction, err := c.eng.Execute(ctx, scope, sess.ID)
	if err != nil {
		if isBenignDriveError(err) {
			c.logger.Debug("Session not advanceable", "session_id", sess.ID, "reason", err)
			return
		}
		c.logger.Warn("Failed to advance auto session",
			"session_id", sess.ID,
			"step", sess.StepName,
			"error", err)
		return
	}

	c.logger.Debug("Advanced auto session",
		"session_id", sess.ID,
		"step", sess.StepName,
		"interaction_id", interaction.ID)

	if interaction.Command.IsAsync() {
		return
	}

	raw, err := c.runner.Cmd(ctx, sess.Environment, interaction.Command.Command, environment.Options{
		Timeout: c.config.GetCommandTimeout(),
	})
	if err != nil {
		c.logger.Warn("Failed to execute session command",
			"session_id", sess.ID,
			"interaction_id", interaction.ID,
			"error", err)
		return
	}

	if _, err := c.eng.DeliverResult(ctx, sess.ID, interaction.ID, raw); err != nil {
		c.logger.Warn("Failed to deliver command result",
			"session_id", sess.ID,
			"interaction_id", interaction.ID,
			"error", err)
	}
}

// isBenignDriveError filters the normal end-of-workflow and racing-snapshot
// outcomes out of the warning log.
func isBenignDriveError(err error) bool {
	return err == session.ErrComplete || err == storage.ErrNotFound
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
	rulesWatcher := c.rulesWatcher
	c.rulesWatcher = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if rulesWatcher != nil {
		_ = rulesWatcher.Stop()
	}

	c.state.Store(stateStopped)

	c.logger.Info("Session orchestrator stopped")
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "session-orchestrator",
		Type:        "processor",
		Description: "Watches session snapshots and auto-advances auto-mode sessions",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "session-snapshots",
			Direction:   component.DirectionInput,
			Description: "Watch session snapshots for auto-advancement",
			Config: component.KVWatchPort{
				Bucket: c.config.SessionBucketName,
				Keys:   []string{">"},
			},
		},
	}
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return orchestratorSchema
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
