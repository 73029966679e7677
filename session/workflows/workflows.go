// Package workflows assembles the built-in workflow definitions: the
// ordered step lists and transition rules for each session type.
package workflows

import (
	"github.com/c360studio/sessionflow/session"
	"github.com/c360studio/sessionflow/session/step"
	"github.com/c360studio/sessionflow/session/validation"
)

// Options configures definition assembly.
type Options struct {
	// WorkspaceRoot is where initialize steps place working directories.
	WorkspaceRoot string

	// Validator validates generated documents. Defaults to the standard
	// document schemas when nil.
	Validator *validation.Validator
}

// NewRegistry builds a registry with every built-in definition registered.
func NewRegistry(opts Options) (*session.Registry, error) {
	if opts.Validator == nil {
		opts.Validator = validation.NewValidator()
	}
	if opts.WorkspaceRoot == "" {
		opts.WorkspaceRoot = "/var/lib/sessionflow/workspaces"
	}

	reg := session.NewRegistry()
	for _, def := range []*session.Definition{
		ComponentDesign(opts),
		ContextSpec(opts),
		ComponentCoding(opts),
		ContextTesting(opts),
	} {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// ComponentDesign: initialize → generate → validate ⇄ revise → finalize.
// Validation failure routes to the revise step, whose ok outcome always
// returns to validation — a revision never advances the workflow directly.
func ComponentDesign(opts Options) *session.Definition {
	return &session.Definition{
		Type: session.TypeComponentDesign,
		Slots: []session.Slot{
			{
				Step:        step.NewInitialize(opts.WorkspaceRoot),
				OnOK:        session.Transition{Kind: session.Advance},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 3,
			},
			{
				Step:        step.NewGenerateDesign(),
				OnOK:        session.Transition{Kind: session.Advance},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 3,
			},
			{
				Step:        step.NewValidateDesign(opts.Validator),
				OnOK:        session.Transition{Kind: session.Goto, Target: step.ModuleFinalize},
				OnError:     session.Transition{Kind: session.Goto, Target: step.ModuleReviseDesign},
				RetryBudget: 5,
			},
			{
				Step:        step.NewReviseDesign(),
				OnOK:        session.Transition{Kind: session.Goto, Target: step.ModuleValidateDesign},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 3,
			},
			{
				Step:        step.NewFinalize(),
				OnOK:        session.Transition{Kind: session.Complete},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 3,
			},
		},
	}
}

// ContextSpec mirrors ComponentDesign for specification documents.
func ContextSpec(opts Options) *session.Definition {
	return &session.Definition{
		Type: session.TypeContextSpec,
		Slots: []session.Slot{
			{
				Step:        step.NewInitialize(opts.WorkspaceRoot),
				OnOK:        session.Transition{Kind: session.Advance},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 3,
			},
			{
				Step:        step.NewGenerateSpec(),
				OnOK:        session.Transition{Kind: session.Advance},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 3,
			},
			{
				Step:        step.NewValidateSpec(opts.Validator),
				OnOK:        session.Transition{Kind: session.Goto, Target: step.ModuleFinalize},
				OnError:     session.Transition{Kind: session.Goto, Target: step.ModuleReviseSpec},
				RetryBudget: 5,
			},
			{
				Step:        step.NewReviseSpec(),
				OnOK:        session.Transition{Kind: session.Goto, Target: step.ModuleValidateSpec},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 3,
			},
			{
				Step:        step.NewFinalize(),
				OnOK:        session.Transition{Kind: session.Complete},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 3,
			},
		},
	}
}

// ComponentCoding: initialize → generate code → run tests ⇄ fix → finalize.
func ComponentCoding(opts Options) *session.Definition {
	return &session.Definition{
		Type: session.TypeComponentCoding,
		Slots: []session.Slot{
			{
				Step:        step.NewInitialize(opts.WorkspaceRoot),
				OnOK:        session.Transition{Kind: session.Advance},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 3,
			},
			{
				Step:        step.NewGenerateCode(),
				OnOK:        session.Transition{Kind: session.Advance},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 3,
			},
			{
				Step:        step.NewRunTests(),
				OnOK:        session.Transition{Kind: session.Goto, Target: step.ModuleFinalize},
				OnError:     session.Transition{Kind: session.Goto, Target: step.ModuleFixTests},
				RetryBudget: 5,
			},
			{
				Step:        step.NewFixTestFailures(),
				OnOK:        session.Transition{Kind: session.Goto, Target: step.ModuleRunTests},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 3,
			},
			{
				Step:        step.NewFinalize(),
				OnOK:        session.Transition{Kind: session.Complete},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 3,
			},
		},
	}
}

// ContextTesting fans out one component_coding child per target component
// and finalizes once they all complete. The spawn step's error edge is the
// normal aggregation-pending state, retried without budget: a failed child
// blocks indefinitely until an operator resolves it, it never fails the
// parent.
func ContextTesting(opts Options) *session.Definition {
	return &session.Definition{
		Type: session.TypeContextTesting,
		Slots: []session.Slot{
			{
				Step:        step.NewInitialize(opts.WorkspaceRoot),
				OnOK:        session.Transition{Kind: session.Advance},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 3,
			},
			{
				Step:    step.NewSpawnChildren(session.TypeComponentCoding),
				OnOK:    session.Transition{Kind: session.Advance},
				OnError: session.Transition{Kind: session.Repeat},
			},
			{
				Step:        step.NewFinalize(),
				OnOK:        session.Transition{Kind: session.Complete},
				OnError:     session.Transition{Kind: session.Repeat},
				RetryBudget: 3,
			},
		},
	}
}
