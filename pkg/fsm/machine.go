// SPDX-License-Identifier: BSD-3-Clause

package fsm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsmrt/fsmrt/pkg/clock"
	"github.com/fsmrt/fsmrt/pkg/persistence"
)

// IgnoredReason classifies why an event produced no transition. The engine
// only ever emits NoTransitionAndNoStay; the remaining reasons belong to
// the registry (spec.md §4.5), which shares this type so observers see one
// unified taxonomy.
type IgnoredReason int

const (
	NoTransitionAndNoStay IgnoredReason = iota
	NoSuchMachine
	InFinalState
	MachineComplete
)

func (r IgnoredReason) String() string {
	switch r {
	case NoTransitionAndNoStay:
		return "NoTransitionAndNoStay"
	case NoSuchMachine:
		return "NoSuchMachine"
	case InFinalState:
		return "InFinalState"
	case MachineComplete:
		return "MachineComplete"
	default:
		return "Unknown"
	}
}

// ActionOutcome records what happened when an entry/exit action ran,
// replacing exception-carrying control flow (spec.md §9) with an explicit
// enum.
type ActionOutcome int

const (
	OutcomeNone ActionOutcome = iota
	OutcomeExecuted
	OutcomeFailed
)

// TimeoutEvent is the synthetic event a state-scoped timeout produces on
// fire. Source is the state the timeout was armed in; if the machine has
// since left that state the event is stale and is dropped.
type TimeoutEvent struct {
	Source string
	Target string
}

// Tag implements Event; all timeout events share one wire tag.
func (TimeoutEvent) Tag() string { return "TIMEOUT" }

// Callbacks are the explicit, non-owning hooks a Machine's owner supplies
// at construction. The machine never holds a back-reference to its
// registry (spec.md §9): everything the owner needs to know is pushed
// through these functions instead.
type Callbacks struct {
	// Save persists the machine's current PersistentContext. Required.
	Save func(ctx context.Context, pc *persistence.PersistentContext) error

	// OnTransition fires after every successful state change (including
	// stay actions that explicitly request a save are NOT reported here;
	// only actual state changes are).
	OnTransition func(ctx context.Context, id, oldState, newState string, pc *persistence.PersistentContext, vc any)

	// OnIgnored fires when fire(e) produces no transition and no stay
	// action.
	OnIgnored func(ctx context.Context, id, state, tag string, reason IgnoredReason)

	// OnFinal fires once, when the machine enters a final state.
	OnFinal func(ctx context.Context, id string)

	// OnOffline fires once, when the machine enters an offline state.
	OnOffline func(ctx context.Context, id string)

	// FireTimeout, if set, is called instead of the machine firing its own
	// timeout event directly: an owner that serializes external Fire calls
	// behind a per-machine lock (the registry's entry.mu) wires this so a
	// state-scoped timeout, which otherwise fires on the scheduler's own
	// goroutine, is serialized the same way instead of racing a concurrent
	// Fire for the single-writer domain (spec.md §5). If nil, the machine
	// fires the timeout itself, unsynchronized with any external lock.
	FireTimeout func(ctx context.Context, event TimeoutEvent)
}

// Machine is a runtime instance of a Template bound to one id, a persistent
// context, and a volatile context. An internal mutex guards the machine's
// fields, but it is released while exit, entry and stay actions run, so it
// does not serialize whole Fire/Start/RestoreState calls: the owner (the
// registry's per-machine lock, joined through Callbacks.FireTimeout) keeps
// a machine a single-writer domain.
type Machine struct {
	id        string
	template  *Template
	scheduler *clock.Scheduler
	cb        Callbacks
	logger    *slog.Logger

	mu            sync.Mutex
	currentState  string
	started       bool
	pc            *persistence.PersistentContext
	vc            any
	timeoutHandle *clock.Handle
	ignoredCount  uint64
	lastEventAt   time.Time
}

// NewMachine constructs a Machine bound to id, not yet started. Callers
// typically follow with either Start (fresh machine) or RestoreState
// (rehydration).
func NewMachine(id string, template *Template, pc *persistence.PersistentContext, vc any, scheduler *clock.Scheduler, cb Callbacks, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		id:        id,
		template:  template,
		scheduler: scheduler,
		cb:        cb,
		logger:    logger.With("machine_id", id, "template", template.Name),
		pc:        pc,
		vc:        vc,
	}
}

// ID returns the machine's id.
func (m *Machine) ID() string { return m.id }

// CurrentState returns the machine's current state name.
func (m *Machine) CurrentState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentState
}

// IsComplete reports whether the machine has reached a final state.
func (m *Machine) IsComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pc.Complete
}

// PersistentContext returns a clone of the machine's current persistent
// context, safe to hand to another goroutine.
func (m *Machine) PersistentContext() *persistence.PersistentContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pc.Clone()
}

// VolatileContext returns the machine's volatile context. The core treats
// this as opaque; callers must coordinate their own access to it from
// within actions (which already run inside the machine's single-writer
// domain) versus from outside.
func (m *Machine) VolatileContext() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vc
}

// IgnoredCount returns the number of events ignored so far.
func (m *Machine) IgnoredCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ignoredCount
}

// Persist saves the machine's current persistent context immediately. Stay
// actions call this explicitly when they want their mutation durable
// (spec.md §4.4 step 3 for the fire path: "a save is issued only if the
// stay action explicitly requests it").
func (m *Machine) Persist(ctx context.Context) error {
	m.mu.Lock()
	pc := m.pc.Clone()
	m.mu.Unlock()
	return m.cb.Save(ctx, pc)
}

// Start enters the template's initial state: runs its entry action and
// arms its timeout. Legal only once, before any Fire or RestoreState call.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	state := m.template.InitialState
	m.currentState = state
	m.pc.CurrentState = state
	m.pc.LastStateChange = m.scheduler.Now()
	m.mu.Unlock()

	m.runEntry(ctx, state)
	m.armTimeout(state)

	m.mu.Lock()
	pc := m.pc.Clone()
	m.mu.Unlock()
	if err := m.cb.Save(ctx, pc); err != nil {
		m.logger.ErrorContext(ctx, "persist on start failed", "error", err)
	}
	return nil
}

// RestoreState rehydrates the machine into stateName without running its
// entry action (P3), then performs timeout catch-up (P7): if the state
// declares a timeout and more time than its duration has already elapsed
// since pc.LastStateChange, the catch-up transition fires immediately;
// otherwise a fresh timeout is armed for the remaining duration.
func (m *Machine) RestoreState(ctx context.Context, stateName string) error {
	def := m.template.State(stateName)
	if def == nil {
		return ErrUnknownState
	}

	m.mu.Lock()
	m.started = true
	m.currentState = stateName
	m.mu.Unlock()

	if def.Timeout == nil {
		return nil
	}

	m.mu.Lock()
	elapsed := m.scheduler.Now().Sub(m.pc.LastStateChange)
	duration := def.Timeout.Duration
	target := def.Timeout.Target
	m.mu.Unlock()

	if elapsed > duration {
		m.transition(ctx, stateName, target, TimeoutEvent{Source: stateName, Target: target})
		return nil
	}

	m.armTimeoutAfter(stateName, duration-elapsed)
	return nil
}

// Fire processes one event against the machine's current state.
func (m *Machine) Fire(ctx context.Context, event Event) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if m.pc.Complete {
		m.mu.Unlock()
		return ErrComplete
	}

	s := m.currentState
	tag := event.Tag()
	m.lastEventAt = m.scheduler.Now()

	if te, ok := event.(TimeoutEvent); ok {
		if te.Source != s {
			m.mu.Unlock()
			m.logger.DebugContext(ctx, "dropping stale timeout", "source", te.Source, "current", s)
			return nil
		}
		m.mu.Unlock()
		m.transition(ctx, s, te.Target, event)
		return nil
	}

	def := m.template.State(s)
	if target, ok := def.Transitions[tag]; ok {
		m.mu.Unlock()
		m.transition(ctx, s, target, event)
		return nil
	}

	if stay, ok := def.StayActions[tag]; ok {
		m.mu.Unlock()
		if err := stay(ctx, m, event); err != nil {
			m.logger.WarnContext(ctx, "stay action failed", "state", s, "tag", tag, "error", err)
		}
		return nil
	}

	m.ignoredCount++
	m.mu.Unlock()
	if m.cb.OnIgnored != nil {
		m.cb.OnIgnored(ctx, m.id, s, tag, NoTransitionAndNoStay)
	}
	return nil
}

// transition executes the full transition procedure from s to s' (spec.md
// §4.4). It is atomic with respect to other calls into this machine only
// when the caller serializes those calls; on its own it merely drops the
// transition if the current state is no longer s when it starts.
func (m *Machine) transition(ctx context.Context, s, target string, event Event) {
	m.mu.Lock()
	if m.currentState != s {
		// Overtaken by a concurrent transition between unlock and this
		// call. With a registry in front, Callbacks.FireTimeout and the
		// registry's own entry.mu serialize every path into transition,
		// so this only fires for a Machine driven without that lock (for
		// example direct unit-test use).
		m.mu.Unlock()
		return
	}

	if m.timeoutHandle != nil {
		m.scheduler.Cancel(*m.timeoutHandle)
		m.timeoutHandle = nil
	}
	m.mu.Unlock()

	m.runExit(ctx, s)

	m.mu.Lock()
	m.currentState = target
	now := m.scheduler.Now()
	m.pc.CurrentState = target
	m.pc.LastStateChange = now
	m.mu.Unlock()

	m.runEntry(ctx, target)
	m.armTimeout(target)

	def := m.template.State(target)

	m.mu.Lock()
	if def.IsFinal {
		m.pc.Complete = true
	}
	pc := m.pc.Clone()
	vc := m.vc
	m.mu.Unlock()

	if def.IsFinal && m.cb.OnFinal != nil {
		m.cb.OnFinal(ctx, m.id)
	}
	if def.IsOffline && m.cb.OnOffline != nil {
		m.cb.OnOffline(ctx, m.id)
	}

	if err := m.cb.Save(ctx, pc); err != nil {
		m.logger.ErrorContext(ctx, "persist after transition failed", "from", s, "to", target, "error", err)
	}

	if m.cb.OnTransition != nil {
		m.cb.OnTransition(ctx, m.id, s, target, pc, vc)
	}
}

func (m *Machine) runExit(ctx context.Context, state string) {
	def := m.template.State(state)
	if def == nil || def.OnExit == nil {
		return
	}
	if err := def.OnExit(ctx, m); err != nil {
		m.logger.WarnContext(ctx, "exit action failed", "state", state, "error", err)
	}
}

func (m *Machine) runEntry(ctx context.Context, state string) ActionOutcome {
	def := m.template.State(state)
	if def == nil || def.OnEntry == nil {
		return OutcomeNone
	}
	if err := def.OnEntry(ctx, m); err != nil {
		m.logger.WarnContext(ctx, "entry action failed", "state", state, "error", err)
		return OutcomeFailed
	}
	return OutcomeExecuted
}

func (m *Machine) armTimeout(state string) {
	def := m.template.State(state)
	if def == nil || def.Timeout == nil {
		return
	}
	m.armTimeoutAfter(state, def.Timeout.Duration)
}

func (m *Machine) armTimeoutAfter(state string, delay time.Duration) {
	def := m.template.State(state)
	target := def.Timeout.Target

	handle, err := m.scheduler.ScheduleTimeout(delay, func(time.Time) {
		event := TimeoutEvent{Source: state, Target: target}
		if m.cb.FireTimeout != nil {
			m.cb.FireTimeout(context.Background(), event)
			return
		}
		m.Fire(context.Background(), event)
	})
	if err != nil {
		m.logger.WarnContext(context.Background(), "failed to arm timeout", "state", state, "error", err)
		return
	}

	m.mu.Lock()
	m.timeoutHandle = &handle
	m.mu.Unlock()
}
