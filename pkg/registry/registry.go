// SPDX-License-Identifier: BSD-3-Clause

package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsmrt/fsmrt/pkg/clock"
	"github.com/fsmrt/fsmrt/pkg/fsm"
	"github.com/fsmrt/fsmrt/pkg/observer"
	"github.com/fsmrt/fsmrt/pkg/persistence"
	"github.com/fsmrt/fsmrt/pkg/ratelimit"
)

// MachineSpec describes how to materialize a machine for an id that is not
// yet active: which template it follows, and how to build a fresh
// persistent/volatile context pair when no persisted record exists.
type MachineSpec struct {
	Template *fsm.Template
	NewPC    func(id string) *persistence.PersistentContext
	NewVC    func() any
}

// TriggerSpec is a MachineSpec registered against an event tag: receiving
// that tag for an unknown id auto-creates the machine (spec.md §4.5).
type TriggerSpec struct {
	Tag  string
	Spec MachineSpec
}

type entry struct {
	mu      sync.Mutex
	machine *fsm.Machine
}

// Registry owns the process-wide set of active machines.
type Registry struct {
	cfg       Config
	port      persistence.Port
	scheduler *clock.Scheduler
	bus       *observer.Bus
	limiter   *ratelimit.Controller
	idle      *ratelimit.IdleTracker
	logger    *slog.Logger

	mu       sync.RWMutex
	machines map[string]*entry
	triggers map[string]TriggerSpec

	shutdownOnce sync.Once
}

// New builds a Registry. port, scheduler, and bus must be already
// initialized/started by the caller.
func New(cfg Config, port persistence.Port, scheduler *clock.Scheduler, bus *observer.Bus, logger *slog.Logger) *Registry {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	capacity := cfg.MaxConcurrentMachines
	if capacity <= 0 {
		capacity = 4096
	}

	return &Registry{
		cfg:       cfg,
		port:      port,
		scheduler: scheduler,
		bus:       bus,
		limiter:   ratelimit.New(maxInt(cfg.TargetTPS, 1), maxInt(cfg.MaxEventsPerMachinePerSecond, 1)),
		idle:      ratelimit.NewIdleTracker(capacity),
		logger:    logger,
		machines:  make(map[string]*entry),
		triggers:  make(map[string]TriggerSpec),
	}
}

func maxInt(v, min int) int {
	if v <= 0 {
		return min
	}
	return v
}

// RegisterTrigger declares tag as a machine-creation trigger: sendEvent for
// an unknown id whose event tag is tag auto-creates the machine from spec.
func (r *Registry) RegisterTrigger(tag string, spec MachineSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers[tag] = TriggerSpec{Tag: tag, Spec: spec}
}

// Len returns the current active machine count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.machines)
}

// Register adds an already-constructed, started machine to the active set.
func (r *Registry) Register(ctx context.Context, id string, machine *fsm.Machine) error {
	r.mu.Lock()
	if _, exists := r.machines[id]; exists {
		r.mu.Unlock()
		return ErrAlreadyRegistered
	}
	if r.cfg.MaxConcurrentMachines > 0 && len(r.machines) >= r.cfg.MaxConcurrentMachines {
		r.mu.Unlock()
		return ErrCapacityFull
	}
	r.machines[id] = &entry{machine: machine}
	r.mu.Unlock()

	r.idle.Touch(id, r.scheduler.Now())
	r.bus.NotifyRegistryCreate(ctx, id)
	return nil
}

// callbacksFor builds the fsm.Callbacks bound to id, wiring persistence,
// observer notifications, and eviction hooks without the machine ever
// holding a pointer back to the registry.
func (r *Registry) callbacksFor(id string) fsm.Callbacks {
	return fsm.Callbacks{
		Save: r.port.Save,
		OnTransition: func(ctx context.Context, id, oldState, newState string, pc *persistence.PersistentContext, vc any) {
			r.idle.Touch(id, r.scheduler.Now())
			r.bus.NotifyStateMachineEvent(ctx, id, oldState, newState, pc, vc)
		},
		OnIgnored: func(ctx context.Context, id, state, tag string, reason fsm.IgnoredReason) {
			r.bus.NotifyEventIgnored(ctx, id, state, tag, reason, nil, nil)
		},
		OnFinal: func(ctx context.Context, id string) {
			if err := r.removeMachine(ctx, id); err != nil {
				r.logger.ErrorContext(ctx, "remove final machine", "id", id, "error", err)
			}
		},
		OnOffline: func(ctx context.Context, id string) {
			if err := r.removeMachine(ctx, id); err != nil {
				r.logger.ErrorContext(ctx, "remove offline machine", "id", id, "error", err)
			}
		},
		FireTimeout: func(ctx context.Context, event fsm.TimeoutEvent) {
			r.fireTimeout(ctx, id, event)
		},
	}
}

// fireTimeout serializes a state-scoped timeout behind the same per-machine
// entry.mu that fire uses for externally routed events, so the two can
// never run a transition procedure concurrently for the same machine
// (spec.md §5 single-writer domain). Unlike fire, it bypasses rate limiting
// and capacity checks: the timeout is internally generated, not an incoming
// event subject to shaping.
func (r *Registry) fireTimeout(ctx context.Context, id string, event fsm.TimeoutEvent) {
	r.mu.RLock()
	e, ok := r.machines[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.machine.Fire(ctx, event); err != nil && err != fsm.ErrComplete {
		r.logger.ErrorContext(ctx, "timeout fire failed", "id", id, "error", err)
	}
}

// CreateOrGet resolves id: memory, then persistence (rehydrating if
// present and not complete), then a fresh machine from spec. It returns
// ErrNotFoundFinal if the persisted context is already complete, and
// ErrCapacityFull if creating a new machine would exceed the configured
// cap.
func (r *Registry) CreateOrGet(ctx context.Context, id string, spec MachineSpec) (*fsm.Machine, error) {
	r.mu.RLock()
	if e, ok := r.machines[id]; ok {
		r.mu.RUnlock()
		return e.machine, nil
	}
	r.mu.RUnlock()

	pc, found, err := r.port.Load(ctx, id)
	if err != nil {
		r.logger.WarnContext(ctx, "load failed, treating as absent", "id", id, "error", err)
		found = false
	}

	if found && pc.Complete {
		return nil, ErrNotFoundFinal
	}

	r.mu.Lock()
	if e, ok := r.machines[id]; ok {
		r.mu.Unlock()
		return e.machine, nil
	}
	if r.cfg.MaxConcurrentMachines > 0 && len(r.machines) >= r.cfg.MaxConcurrentMachines {
		r.mu.Unlock()
		return nil, ErrCapacityFull
	}

	var machine *fsm.Machine
	rehydrated := found
	if found {
		machine = fsm.NewMachine(id, spec.Template, pc, spec.NewVC(), r.scheduler, r.callbacksFor(id), r.logger)
	} else {
		machine = fsm.NewMachine(id, spec.Template, spec.NewPC(id), spec.NewVC(), r.scheduler, r.callbacksFor(id), r.logger)
	}

	// e.mu is locked before the entry is published so a concurrent fire
	// for this same id (racing in via SendEvent/RouteEvent on another
	// goroutine) blocks until Start/RestoreState below has finished,
	// instead of overlapping it.
	e := &entry{machine: machine}
	e.mu.Lock()
	r.machines[id] = e
	r.mu.Unlock()
	defer e.mu.Unlock()

	if rehydrated {
		if err := machine.RestoreState(ctx, pc.CurrentState); err != nil {
			r.logger.ErrorContext(ctx, "restore state failed", "id", id, "error", err)
		}
		r.idle.Touch(id, r.scheduler.Now())
		r.bus.NotifyRegistryRehydrate(ctx, id)
	} else {
		if err := machine.Start(ctx); err != nil {
			r.logger.ErrorContext(ctx, "start failed", "id", id, "error", err)
		}
		r.idle.Touch(id, r.scheduler.Now())
		r.bus.NotifyRegistryCreate(ctx, id)
	}

	return machine, nil
}

// RouteEvent resolves id via CreateOrGet and then fires event against it.
func (r *Registry) RouteEvent(ctx context.Context, id string, event fsm.Event, spec MachineSpec) Outcome {
	machine, err := r.CreateOrGet(ctx, id, spec)
	switch {
	case err == ErrNotFoundFinal:
		return Outcome{Kind: NotFoundFinal}
	case err == ErrCapacityFull:
		return Outcome{Kind: CapacityFull}
	case err != nil:
		r.logger.ErrorContext(ctx, "create or get failed", "id", id, "error", err)
		return Outcome{Kind: NotFound}
	}
	return r.fire(ctx, id, machine, event)
}

// SendEvent is the primary dispatch entry point. An active id receives the
// event directly. For an id that is not active, SendEvent goes through
// CreateOrGet (rehydrating a persisted machine or creating a new one) only
// when event's tag is a registered trigger; any other event for an inactive
// id is ignored with NoSuchMachine, whether or not a persisted context
// exists for it.
func (r *Registry) SendEvent(ctx context.Context, id string, event fsm.Event) Outcome {
	r.mu.RLock()
	e, active := r.machines[id]
	r.mu.RUnlock()

	if active {
		return r.fire(ctx, id, e.machine, event)
	}

	r.mu.RLock()
	trig, isTrigger := r.triggers[event.Tag()]
	r.mu.RUnlock()

	if !isTrigger {
		r.bus.NotifyEventIgnored(ctx, id, "", event.Tag(), fsm.NoSuchMachine, nil, nil)
		return ignored(fsm.NoSuchMachine)
	}

	machine, err := r.CreateOrGet(ctx, id, trig.Spec)
	switch {
	case err == ErrNotFoundFinal:
		return Outcome{Kind: NotFoundFinal}
	case err == ErrCapacityFull:
		return Outcome{Kind: CapacityFull}
	case err != nil:
		r.logger.ErrorContext(ctx, "auto-create failed", "id", id, "error", err)
		return Outcome{Kind: NotFound}
	}

	return r.fire(ctx, id, machine, event)
}

func (r *Registry) fire(ctx context.Context, id string, machine *fsm.Machine, event fsm.Event) Outcome {
	r.mu.RLock()
	e, ok := r.machines[id]
	r.mu.RUnlock()
	if !ok {
		e = &entry{machine: machine}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if machine.IsComplete() {
		r.bus.NotifyEventIgnored(ctx, id, machine.CurrentState(), event.Tag(), fsm.MachineComplete, nil, nil)
		return ignored(fsm.MachineComplete)
	}

	if r.cfg.TargetTPS > 0 && !r.limiter.AllowSystem() {
		return Outcome{Kind: ThrottledSystem}
	}
	if r.cfg.MaxEventsPerMachinePerSecond > 0 && !r.limiter.AllowMachine(id) {
		return Outcome{Kind: ThrottledPerMachine}
	}

	if err := machine.Fire(ctx, event); err != nil {
		if err == fsm.ErrComplete {
			return ignored(fsm.MachineComplete)
		}
		r.logger.ErrorContext(ctx, "fire failed", "id", id, "error", err)
		return Outcome{Kind: NotFound}
	}

	r.maybeEvictIdle(ctx)
	return accepted()
}

// removeMachine persists the machine's last known context one more time,
// removes it from the active set, and notifies observers.
func (r *Registry) removeMachine(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.machines[id]
	if ok {
		delete(r.machines, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	r.idle.Remove(id)

	if err := e.machine.Persist(ctx); err != nil {
		r.logger.WarnContext(ctx, "persist on remove failed", "id", id, "error", err)
	}
	r.bus.NotifyRegistryRemove(ctx, id)
	return nil
}

// RemoveMachine is the public removeMachine operation (spec.md §4.5).
func (r *Registry) RemoveMachine(ctx context.Context, id string) error {
	return r.removeMachine(ctx, id)
}

// maybeEvictIdle evicts the oldest idle candidate once the active set is
// above MachineEvictionThreshold and that candidate has been idle past
// MachineIdleTimeout (spec.md §4.5 Eviction, soft cap).
func (r *Registry) maybeEvictIdle(ctx context.Context) {
	if r.cfg.MachineEvictionThreshold <= 0 || r.cfg.MachineIdleTimeout <= 0 {
		return
	}
	if r.Len() <= r.cfg.MachineEvictionThreshold {
		return
	}

	id, ok := r.idle.OldestIdleCandidate(r.scheduler.Now(), r.cfg.MachineIdleTimeout)
	if !ok {
		return
	}
	if err := r.removeMachine(ctx, id); err != nil {
		r.logger.WarnContext(ctx, "idle eviction failed", "id", id, "error", err)
	}
}

// MachineSummary is a point-in-time snapshot of one active machine,
// exposed for collaborators such as service/registry's list/state
// endpoints and service/debugbus's CURRENT_STATE response.
type MachineSummary struct {
	ID           string
	CurrentState string
	Complete     bool
}

// Snapshot returns a MachineSummary for every currently active machine.
func (r *Registry) Snapshot() []MachineSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]MachineSummary, 0, len(r.machines))
	for id, e := range r.machines {
		out = append(out, MachineSummary{
			ID:           id,
			CurrentState: e.machine.CurrentState(),
			Complete:     e.machine.IsComplete(),
		})
	}
	return out
}

// MachineState returns a MachineSummary for id, or ok=false if id is not
// in the active set.
func (r *Registry) MachineState(id string) (summary MachineSummary, ok bool) {
	r.mu.RLock()
	e, ok := r.machines[id]
	r.mu.RUnlock()
	if !ok {
		return MachineSummary{}, false
	}
	return MachineSummary{
		ID:           id,
		CurrentState: e.machine.CurrentState(),
		Complete:     e.machine.IsComplete(),
	}, true
}

// AddListener registers an observer and returns a function to remove it.
func (r *Registry) AddListener(l observer.Listener) (remove func()) {
	return r.bus.Add(l)
}

// Shutdown walks the active set and persists every machine once. It does
// not refuse later registrations or events, does not cancel armed
// timeouts, and does not stop the shared scheduler or close the
// persistence port; the caller owns those lifecycles.
func (r *Registry) Shutdown(ctx context.Context) {
	r.shutdownOnce.Do(func() {
		r.mu.RLock()
		ids := make([]string, 0, len(r.machines))
		for id := range r.machines {
			ids = append(ids, id)
		}
		entries := make(map[string]*entry, len(r.machines))
		for id, e := range r.machines {
			entries[id] = e
		}
		r.mu.RUnlock()

		for _, id := range ids {
			e := entries[id]
			if err := e.machine.Persist(ctx); err != nil {
				r.logger.WarnContext(ctx, "persist on shutdown failed", "id", id, "error", err)
			}
		}
	})
}

// shutdownTimeout is the default bound on in-flight event processing
// during Shutdown (spec.md §5 Cancellation); collaborators that drive
// Shutdown from a context may use this as their own deadline.
const shutdownTimeout = 5 * time.Second

// DefaultShutdownTimeout exposes shutdownTimeout for callers constructing
// their own shutdown contexts.
func DefaultShutdownTimeout() time.Duration { return shutdownTimeout }
