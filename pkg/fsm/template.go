// SPDX-License-Identifier: BSD-3-Clause

package fsm

import (
	"context"
	"fmt"
	"time"
)

// EntryFunc runs when a state is entered via a normal transition. It never
// runs on rehydration (restoreState).
type EntryFunc func(ctx context.Context, m *Machine) error

// ExitFunc runs when a state is exited via a normal transition.
type ExitFunc func(ctx context.Context, m *Machine) error

// StayFunc runs for an event tag that is declared as a stay action in the
// current state: no state change occurs and persistence is not forced.
type StayFunc func(ctx context.Context, m *Machine, event Event) error

// Event is the dispatch unit the engine consumes. catalog.Event satisfies
// this; fsm only depends on the tag, not on the catalog package itself, to
// keep the engine free of a dependency on event registration.
type Event interface {
	Tag() string
}

// TimeoutSpec is a state's optional armed timeout: fire after Duration,
// synthesizing a TimeoutEvent targeting Target.
type TimeoutSpec struct {
	Duration time.Duration
	Target   string
}

// StateDef is one state's full definition (spec.md §3 State Definition).
type StateDef struct {
	Name        string
	OnEntry     EntryFunc
	OnExit      ExitFunc
	Timeout     *TimeoutSpec
	Transitions map[string]string // event tag -> target state name
	StayActions map[string]StayFunc
	IsFinal     bool
	IsOffline   bool
}

// Template is an immutable named machine definition: an initial state plus
// every state's definition. Build one with Builder; do not construct
// directly.
type Template struct {
	Name         string
	InitialState string
	States       map[string]*StateDef
}

// State returns the named state's definition, or nil if undefined.
func (t *Template) State(name string) *StateDef {
	return t.States[name]
}

// Tags returns the set of event tags state accepts, either as a transition
// or a stay action, for debug-channel EVENT_METADATA_UPDATE derivation.
func (s *StateDef) Tags() []string {
	seen := make(map[string]struct{}, len(s.Transitions)+len(s.StayActions))
	for tag := range s.Transitions {
		seen[tag] = struct{}{}
	}
	for tag := range s.StayActions {
		seen[tag] = struct{}{}
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	return tags
}

// Builder assembles a Template. It is not safe for concurrent use; build a
// template once at startup and share the resulting *Template (read-only)
// across machines.
type Builder struct {
	name         string
	initialState string
	states       map[string]*StateDef
	order        []string
	err          error
}

// NewBuilder starts a template named name with the given initial state.
func NewBuilder(name, initialState string) *Builder {
	return &Builder{
		name:         name,
		initialState: initialState,
		states:       make(map[string]*StateDef),
	}
}

// StateBuilder configures a single state definition, fluent-chained from
// Builder.State.
type StateBuilder struct {
	b    *Builder
	def  *StateDef
}

// State begins (or resumes) configuring the named state.
func (b *Builder) State(name string) *StateBuilder {
	def, ok := b.states[name]
	if !ok {
		def = &StateDef{
			Name:        name,
			Transitions: make(map[string]string),
			StayActions: make(map[string]StayFunc),
		}
		b.states[name] = def
		b.order = append(b.order, name)
	}
	return &StateBuilder{b: b, def: def}
}

// OnEntry sets the state's entry action.
func (s *StateBuilder) OnEntry(fn EntryFunc) *StateBuilder {
	s.def.OnEntry = fn
	return s
}

// OnExit sets the state's exit action.
func (s *StateBuilder) OnExit(fn ExitFunc) *StateBuilder {
	s.def.OnExit = fn
	return s
}

// Timeout arms a state-scoped timeout: after duration, synthesize
// TimeoutEvent(state, target) if the machine is still in this state.
func (s *StateBuilder) Timeout(duration time.Duration, target string) *StateBuilder {
	s.def.Timeout = &TimeoutSpec{Duration: duration, Target: target}
	return s
}

// On declares a transition for tag, landing in target on fire.
func (s *StateBuilder) On(tag string, target string) *StateBuilder {
	s.def.Transitions[tag] = target
	return s
}

// Stay declares a stay action for tag: fn runs, current state is unchanged.
// A transition declared for the same tag in the same state shadows this.
func (s *StateBuilder) Stay(tag string, fn StayFunc) *StateBuilder {
	s.def.StayActions[tag] = fn
	return s
}

// FinalState marks the state as terminal: entering it completes the
// machine.
func (s *StateBuilder) FinalState() *StateBuilder {
	s.def.IsFinal = true
	return s
}

// Offline marks the state as triggering a persist-then-evict sequence on
// entry; the machine may be rehydrated later.
func (s *StateBuilder) Offline() *StateBuilder {
	s.def.IsOffline = true
	return s
}

// State returns to the parent Builder to configure another state.
func (s *StateBuilder) State(name string) *StateBuilder {
	return s.b.State(name)
}

// Build finishes the chain by delegating to the parent Builder, so a
// template can be assembled in one fluent expression without breaking out
// to hold the Builder in a separate variable.
func (s *StateBuilder) Build() (*Template, error) {
	return s.b.Build()
}

// Build validates the accumulated definitions and returns the immutable
// Template, or the first structural error encountered.
func (b *Builder) Build() (*Template, error) {
	if b.name == "" {
		return nil, fmt.Errorf("%w: template name is empty", ErrInvalidTemplate)
	}
	if b.initialState == "" {
		return nil, fmt.Errorf("%w: initial state is empty", ErrInvalidTemplate)
	}
	if _, ok := b.states[b.initialState]; !ok {
		return nil, fmt.Errorf("%w: initial state %q has no definition", ErrInvalidTemplate, b.initialState)
	}

	for _, name := range b.order {
		def := b.states[name]
		for tag, target := range def.Transitions {
			if _, ok := b.states[target]; !ok {
				return nil, fmt.Errorf("%w: state %q transition %q targets unknown state %q", ErrInvalidTemplate, name, tag, target)
			}
		}
		if def.Timeout != nil {
			if _, ok := b.states[def.Timeout.Target]; !ok {
				return nil, fmt.Errorf("%w: state %q timeout targets unknown state %q", ErrInvalidTemplate, name, def.Timeout.Target)
			}
			if def.Timeout.Duration <= 0 {
				return nil, fmt.Errorf("%w: state %q timeout duration must be positive", ErrInvalidTemplate, name)
			}
		}
		if def.IsFinal && def.Timeout != nil {
			return nil, fmt.Errorf("%w: final state %q cannot declare a timeout", ErrInvalidTemplate, name)
		}
	}

	states := make(map[string]*StateDef, len(b.states))
	for name, def := range b.states {
		states[name] = def
	}

	return &Template{
		Name:         b.name,
		InitialState: b.initialState,
		States:       states,
	}, nil
}
