package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/c360studio/sessionflow/engine"
	"github.com/c360studio/sessionflow/environment"
	"github.com/c360studio/sessionflow/session"
	"github.com/c360studio/sessionflow/session/workflows"
	"github.com/c360studio/sessionflow/storage"
)

// runCmd drives a single session synchronously from the terminal: a local
// next-command/execute/deliver loop without the NATS service stack. Useful
// for trying workflows and for development against --offline storage.
func runCmd() *cobra.Command {
	var (
		sessionType   string
		agent         string
		environ       string
		componentID   string
		repoURL       string
		targets       []string
		workspaceRoot string
		accountID     string
		projectID     string
		maxSteps      int
		offline       bool
		logLevel      string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive one session from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := setupLogger(logLevel)
			ctx := cmd.Context()

			var store engine.Store
			var publisher engine.Publisher = engine.NopPublisher{}
			if offline {
				store = storage.NewMemoryStore()
			} else {
				cfg, err := buildDefaultConfig(workspaceRoot, "")
				if err != nil {
					return err
				}
				natsClient, err := connectToNATS(ctx, cfg, logger)
				if err != nil {
					return err
				}
				defer natsClient.Close(ctx)

				js, err := natsClient.JetStream()
				if err != nil {
					return fmt.Errorf("get jetstream: %w", err)
				}
				kvStore, err := storage.NewSessionStore(ctx, js)
				if err != nil {
					return fmt.Errorf("create session store: %w", err)
				}
				store = kvStore
				publisher = engine.NewNATSPublisher(natsClient)
			}

			registry, err := workflows.NewRegistry(workflows.Options{WorkspaceRoot: workspaceRoot})
			if err != nil {
				return fmt.Errorf("build workflow registry: %w", err)
			}

			runner := environment.NewLocal(logger)
			driver := &localDriver{runner: runner}

			eng, err := engine.New(engine.Options{
				Store:     store,
				Registry:  registry,
				Publisher: publisher,
				Launcher:  driver,
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			scope := session.Scope{
				UserID:    "cli",
				AccountID: accountID,
				ProjectID: projectID,
			}

			state := session.State{session.KeyRepoURL: repoURL}
			if len(targets) > 0 {
				state[session.KeyChildTargets] = targets
			}

			sess, err := eng.Create(ctx, scope, session.Attrs{
				Type:        session.Type(sessionType),
				Agent:       agent,
				Environment: environ,
				ComponentID: componentID,
				State:       state,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created session %s (%s)\n", sess.ID, sess.Type)

			return driveLoop(ctx, eng, driver, scope, sess.ID, maxSteps)
		},
	}

	cmd.Flags().StringVar(&sessionType, "type", "component_design", "Session type")
	cmd.Flags().StringVar(&agent, "agent", "claude", "Coding agent program")
	cmd.Flags().StringVar(&environ, "environment", "local", "Execution environment tag")
	cmd.Flags().StringVar(&componentID, "component", "", "Target component id")
	cmd.Flags().StringVar(&repoURL, "repo-url", "", "Repository URL to clone")
	cmd.Flags().StringSliceVar(&targets, "targets", nil, "Child target components (context_testing)")
	cmd.Flags().StringVar(&workspaceRoot, "workspace-root", "/tmp/sessionflow-workspaces", "Root directory for session workspaces")
	cmd.Flags().StringVar(&accountID, "account", "local", "Account id")
	cmd.Flags().StringVar(&projectID, "project", "local", "Project id")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 50, "Maximum interactions before giving up")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use in-memory storage instead of NATS")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	_ = cmd.MarkFlagRequired("repo-url")

	return cmd
}

// driveLoop advances the session one interaction at a time until it reaches
// a terminal status or the step ceiling.
func driveLoop(ctx context.Context, eng *engine.Engine, driver *localDriver, scope session.Scope, id string, maxSteps int) error {
	for i := 0; i < maxSteps; i++ {
		interaction, err := eng.Execute(ctx, scope, id)
		if errors.Is(err, session.ErrComplete) {
			sess, getErr := eng.Get(ctx, scope, id)
			if getErr != nil {
				return getErr
			}
			if sess.Status == session.StatusFailed {
				return fmt.Errorf("session failed: %s", sess.FailureReason)
			}
			fmt.Printf("Session complete after %d interactions\n", sess.CompletedCount())
			return nil
		}
		if err != nil {
			return err
		}

		cmd := interaction.Command
		fmt.Printf("[%s] %s\n", cmd.Module, commandLabel(cmd))

		// Spawn commands are delivered inline by Execute; anything still
		// pending here is ours to run.
		sess, err := eng.Get(ctx, scope, id)
		if err != nil {
			return err
		}
		pending := sess.Pending()
		if pending == nil || pending.ID != interaction.ID {
			continue
		}

		raw, err := driver.run(ctx, sess, cmd)
		if err != nil {
			return err
		}
		if _, err := eng.HandleResult(ctx, scope, id, interaction.ID, raw); err != nil {
			var stepErr *session.StepError
			if errors.As(err, &stepErr) {
				return fmt.Errorf("step interpretation failed: %w", err)
			}
			return err
		}
	}
	return fmt.Errorf("session did not terminate within %d interactions", maxSteps)
}

func commandLabel(cmd session.Command) string {
	if cmd.IsAsync() {
		return "(agent run)"
	}
	return cmd.Command
}

// localDriver executes both sync shell commands and async agent commands on
// the host. It doubles as the engine's launcher: Launch is a no-op because
// the drive loop runs the agent inline and delivers the result itself.
type localDriver struct {
	runner environment.Runner
}

// Launch implements engine.AgentLauncher.
func (d *localDriver) Launch(_ context.Context, _ session.AgentRunRequest) error {
	return nil
}

// run executes one command and returns its raw result.
func (d *localDriver) run(ctx context.Context, sess *session.Session, cmd session.Command) (session.RawResult, error) {
	if !cmd.IsAsync() {
		return d.runner.Cmd(ctx, sess.Environment, cmd.Command, environment.Options{})
	}

	// Agent run: invoke the agent program with the prompt, headless.
	shellCmd := fmt.Sprintf("%s -p %q", cmd.PipeString("agent"), cmd.PipeString("prompt"))
	raw, err := d.runner.Cmd(ctx, sess.Environment, shellCmd, environment.Options{
		Dir: cmd.PipeString("work_dir"),
	})
	if err != nil {
		return session.RawResult{}, err
	}

	raw.Data = map[string]any{"document": raw.Stdout}
	if artifact := cmd.PipeString("artifact"); artifact != "" {
		raw.Data["path"] = filepath.Join(cmd.PipeString("work_dir"), artifact)
	}
	return raw, nil
}
