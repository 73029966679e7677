package session

import (
	"fmt"
	"sync"
)

// TransitionKind says how the step pointer moves after an outcome.
type TransitionKind string

const (
	// Advance moves to the next step in the ordered list.
	Advance TransitionKind = "advance"

	// Repeat re-issues the same step.
	Repeat TransitionKind = "repeat"

	// Goto jumps to a named step (revision loops).
	Goto TransitionKind = "goto"

	// Complete terminates the workflow with StatusComplete.
	Complete TransitionKind = "complete"

	// Fail terminates the workflow with StatusFailed.
	Fail TransitionKind = "fail"
)

// Transition is one edge of a step's transition rule.
type Transition struct {
	Kind TransitionKind `json:"kind" yaml:"kind"`

	// Target is the destination step name for Goto transitions.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
}

// Slot binds a step to its transition rule within a definition.
type Slot struct {
	Step Step

	// OnOK is taken when the normalized result status is ok.
	OnOK Transition

	// OnError is taken when the normalized result status is error.
	OnError Transition

	// RetryBudget caps consecutive error outcomes for this step before the
	// engine escalates and fails the session. Zero means unlimited.
	RetryBudget int
}

// Definition is the code-level workflow table for one session type: the
// ordered step list plus per-step transition rules. Not persisted.
type Definition struct {
	Type  Type
	Slots []Slot
}

// Validate checks the definition is internally consistent: non-empty, unique
// step names, and every goto target resolving to a defined step.
func (d *Definition) Validate() error {
	if len(d.Slots) == 0 {
		return fmt.Errorf("definition %s has no steps", d.Type)
	}
	names := make(map[string]bool, len(d.Slots))
	for _, slot := range d.Slots {
		if slot.Step == nil {
			return fmt.Errorf("definition %s has a nil step", d.Type)
		}
		name := slot.Step.Name()
		if names[name] {
			return fmt.Errorf("definition %s has duplicate step %s", d.Type, name)
		}
		names[name] = true
	}
	for _, slot := range d.Slots {
		for _, tr := range []Transition{slot.OnOK, slot.OnError} {
			if tr.Kind == Goto && !names[tr.Target] {
				return fmt.Errorf("definition %s: step %s routes to unknown step %s",
					d.Type, slot.Step.Name(), tr.Target)
			}
		}
	}
	return nil
}

// First returns the entry step name.
func (d *Definition) First() string {
	return d.Slots[0].Step.Name()
}

// Slot returns the slot for a step name.
func (d *Definition) Slot(name string) (Slot, error) {
	for _, slot := range d.Slots {
		if slot.Step.Name() == name {
			return slot, nil
		}
	}
	return Slot{}, fmt.Errorf("definition %s has no step %s", d.Type, name)
}

// Next resolves the transition for (step, outcome status) into the next step
// name. ok on the last Advance edge, or an explicit Complete/Fail edge,
// terminates the workflow; terminal is reported via the bool returns.
func (d *Definition) Next(name string, status ResultStatus) (next string, complete, failed bool, err error) {
	slot, err := d.Slot(name)
	if err != nil {
		return "", false, false, err
	}

	tr := slot.OnOK
	if status == ResultError {
		tr = slot.OnError
	}

	switch tr.Kind {
	case Repeat:
		return name, false, false, nil
	case Goto:
		return tr.Target, false, false, nil
	case Complete:
		return name, true, false, nil
	case Fail:
		return name, false, true, nil
	case Advance:
		for i, slot := range d.Slots {
			if slot.Step.Name() != name {
				continue
			}
			if i+1 >= len(d.Slots) {
				// Advancing past the last step completes the workflow.
				return name, true, false, nil
			}
			return d.Slots[i+1].Step.Name(), false, false, nil
		}
		return "", false, false, fmt.Errorf("definition %s has no step %s", d.Type, name)
	default:
		return "", false, false, fmt.Errorf("definition %s: step %s has unknown transition kind %q",
			d.Type, name, tr.Kind)
	}
}

// Registry maps session types to their workflow definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[Type]*Definition
}

// NewRegistry creates an empty definition registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[Type]*Definition)}
}

// Register validates and adds a definition, replacing any previous one for
// the same type.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Type] = def
	return nil
}

// Lookup returns the definition for a session type.
func (r *Registry) Lookup(t Type) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return def, nil
}

// Types returns the registered session types.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	return types
}
