package workflows

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/sessionflow/session"
	"github.com/c360studio/sessionflow/session/validation"
)

// RulesFile represents the session-rules.yaml overlay structure. Operators
// use it to re-route transition edges and tighten retry budgets per
// (type, step) without rebuilding the binary.
type RulesFile struct {
	Version   string      `yaml:"version"`
	Overrides []Override  `yaml:"overrides"`
	Retry     *RetryRules `yaml:"retry,omitempty"`
}

// Override adjusts one step's transition rule within one definition.
// OnOK/OnError accept a transition kind (advance, repeat, complete, fail)
// or a step name, which becomes a goto edge.
type Override struct {
	Type        string `yaml:"type"`
	Step        string `yaml:"step"`
	OnOK        string `yaml:"on_ok,omitempty"`
	OnError     string `yaml:"on_error,omitempty"`
	RetryBudget *int   `yaml:"retry_budget,omitempty"`
}

// RetryRules overrides the engine's retry escalation behavior.
type RetryRules struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	BackoffBase       string  `yaml:"backoff_base"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// RetryConfig converts the overlay values into a retry configuration,
// falling back to defaults for unset or malformed fields.
func (r *RetryRules) RetryConfig() validation.RetryConfig {
	config := validation.DefaultRetryConfig()
	if r == nil {
		return config
	}
	if r.MaxAttempts > 0 {
		config.MaxAttempts = r.MaxAttempts
	}
	if r.BackoffBase != "" {
		if d, err := time.ParseDuration(r.BackoffBase); err == nil {
			config.BackoffBase = d
		}
	}
	if r.BackoffMultiplier > 0 {
		config.BackoffMultiplier = r.BackoffMultiplier
	}
	return config
}

// LoadRules loads the overlay from a YAML file.
func LoadRules(path string) (*RulesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var rules RulesFile
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	return &rules, nil
}

// Apply rewrites registered definitions per the overrides. Each modified
// definition is re-validated on registration, so an override routing to an
// unknown step is rejected without touching the registry.
func (r *RulesFile) Apply(reg *session.Registry) error {
	for _, o := range r.Overrides {
		def, err := reg.Lookup(session.Type(o.Type))
		if err != nil {
			return fmt.Errorf("rules override: %w", err)
		}

		patched := &session.Definition{
			Type:  def.Type,
			Slots: make([]session.Slot, len(def.Slots)),
		}
		copy(patched.Slots, def.Slots)

		found := false
		for i := range patched.Slots {
			if patched.Slots[i].Step.Name() != o.Step {
				continue
			}
			found = true
			if o.OnOK != "" {
				patched.Slots[i].OnOK = parseTransition(o.OnOK)
			}
			if o.OnError != "" {
				patched.Slots[i].OnError = parseTransition(o.OnError)
			}
			if o.RetryBudget != nil {
				patched.Slots[i].RetryBudget = *o.RetryBudget
			}
		}
		if !found {
			return fmt.Errorf("rules override: definition %s has no step %s", o.Type, o.Step)
		}

		if err := reg.Register(patched); err != nil {
			return fmt.Errorf("rules override for %s/%s: %w", o.Type, o.Step, err)
		}
	}
	return nil
}

// parseTransition maps an overlay edge value to a transition: a known kind
// name, or a step name treated as a goto target.
func parseTransition(value string) session.Transition {
	switch session.TransitionKind(value) {
	case session.Advance, session.Repeat, session.Complete, session.Fail:
		return session.Transition{Kind: session.TransitionKind(value)}
	default:
		return session.Transition{Kind: session.Goto, Target: value}
	}
}
