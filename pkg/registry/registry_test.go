// SPDX-License-Identifier: BSD-3-Clause

package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fsmrt/fsmrt/pkg/clock"
	"github.com/fsmrt/fsmrt/pkg/fsm"
	"github.com/fsmrt/fsmrt/pkg/observer"
	"github.com/fsmrt/fsmrt/pkg/persistence"
)

type tagEvent string

func (e tagEvent) Tag() string { return string(e) }

// callSpec builds the ring/answer/hangup template used throughout spec.md
// §8's end-to-end scenarios, wrapped as a MachineSpec for registry-level
// auto-creation tests.
func callSpec(t *testing.T, ringTimeout time.Duration) MachineSpec {
	t.Helper()
	tmpl, err := fsm.NewBuilder("call", "IDLE").
		State("IDLE").On("INCOMING_CALL", "RINGING").
		State("RINGING").
		Timeout(ringTimeout, "IDLE").
		On("ANSWER", "CONNECTED").
		State("CONNECTED").On("HANGUP", "IDLE").
		Build()
	require.NoError(t, err)

	return MachineSpec{
		Template: tmpl,
		NewPC:    func(id string) *persistence.PersistentContext { return &persistence.PersistentContext{ID: id} },
		NewVC:    func() any { return nil },
	}
}

func newTestRegistry(t *testing.T, cfg Config) (*Registry, persistence.Port) {
	t.Helper()
	port := persistence.NewMemoryPort()
	sched := clock.New()
	t.Cleanup(sched.Shutdown)
	bus := observer.New(nil)
	return New(cfg, port, sched, bus, nil), port
}

// Scenario 1, at registry level: auto-created machine rings then answers
// then hangs up back to IDLE.
func TestSendEventAutoCreatesAndDrivesScenario(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	r.RegisterTrigger("INCOMING_CALL", callSpec(t, 30*time.Second))

	ctx := context.Background()
	out := r.SendEvent(ctx, "call-1", tagEvent("INCOMING_CALL"))
	require.Equal(t, Accepted, out.Kind)

	out = r.SendEvent(ctx, "call-1", tagEvent("ANSWER"))
	require.Equal(t, Accepted, out.Kind)

	out = r.SendEvent(ctx, "call-1", tagEvent("HANGUP"))
	require.Equal(t, Accepted, out.Kind)

	require.Equal(t, 1, r.Len())
}

// Scenario 2, at registry level: the machine times out back to IDLE without
// any further event.
func TestSendEventScenarioRingThenTimeout(t *testing.T) {
	r, port := newTestRegistry(t, Config{})
	r.RegisterTrigger("INCOMING_CALL", callSpec(t, 30*time.Millisecond))

	ctx := context.Background()
	out := r.SendEvent(ctx, "call-2", tagEvent("INCOMING_CALL"))
	require.Equal(t, Accepted, out.Kind)

	require.Eventually(t, func() bool {
		pc, ok, err := port.Load(ctx, "call-2")
		return err == nil && ok && pc.CurrentState == "IDLE"
	}, time.Second, 5*time.Millisecond)
}

// Scenario 5: auto-creation only fires for registered triggers; an unknown
// id with a non-trigger tag is ignored with NoSuchMachine.
func TestSendEventUnknownIDWithoutTriggerIsIgnored(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	r.RegisterTrigger("INCOMING_CALL", callSpec(t, 30*time.Second))

	out := r.SendEvent(context.Background(), "ghost", tagEvent("ANSWER"))
	require.Equal(t, Ignored, out.Kind)
	require.Equal(t, fsm.NoSuchMachine, out.Reason)
	require.Equal(t, 0, r.Len())
}

// Scenario 6: capacity full. With MaxConcurrentMachines = 1, a second
// distinct id cannot be auto-created.
func TestCapacityFullRejectsBeyondMax(t *testing.T) {
	r, _ := newTestRegistry(t, Config{MaxConcurrentMachines: 1})
	r.RegisterTrigger("INCOMING_CALL", callSpec(t, 30*time.Second))

	ctx := context.Background()
	out := r.SendEvent(ctx, "call-a", tagEvent("INCOMING_CALL"))
	require.Equal(t, Accepted, out.Kind)

	out = r.SendEvent(ctx, "call-b", tagEvent("INCOMING_CALL"))
	require.Equal(t, CapacityFull, out.Kind)
	require.Equal(t, 1, r.Len())
}

// P8: the per-machine rate cap throttles a single machine's excess events
// without affecting the system-wide bucket's availability for others.
func TestPerMachineThrottleIsIsolatedToOneMachine(t *testing.T) {
	r, _ := newTestRegistry(t, Config{MaxEventsPerMachinePerSecond: 1})
	spec := callSpec(t, 30*time.Second)
	r.RegisterTrigger("INCOMING_CALL", spec)

	ctx := context.Background()
	require.Equal(t, Accepted, r.SendEvent(ctx, "busy", tagEvent("INCOMING_CALL")).Kind)

	out := r.RouteEvent(ctx, "busy", tagEvent("ANSWER"), spec)
	require.Equal(t, ThrottledPerMachine, out.Kind)

	out = r.RouteEvent(ctx, "quiet", tagEvent("INCOMING_CALL"), spec)
	require.Equal(t, Accepted, out.Kind)
}

// Once a machine reaches a final state, the registry evicts it and further
// events for that id are treated as unknown (unless a trigger matches).
func TestFinalStateEvictsMachine(t *testing.T) {
	r, port := newTestRegistry(t, Config{})

	tmpl, err := fsm.NewBuilder("x", "A").
		State("A").On("FINISH", "Z").
		State("Z").FinalState().
		Build()
	require.NoError(t, err)

	spec := MachineSpec{
		Template: tmpl,
		NewPC:    func(id string) *persistence.PersistentContext { return &persistence.PersistentContext{ID: id} },
		NewVC:    func() any { return nil },
	}
	r.RegisterTrigger("FINISH", spec)

	ctx := context.Background()
	out := r.RouteEvent(ctx, "job-1", tagEvent("FINISH"), spec)
	require.Equal(t, Accepted, out.Kind)

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)

	pc, ok, err := port.Load(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, pc.Complete)
}

// CreateOrGet rehydrates a persisted, incomplete machine without running
// its entry action, consistent with pkg/fsm's P3.
func TestCreateOrGetRehydratesPersistedMachine(t *testing.T) {
	r, port := newTestRegistry(t, Config{})
	spec := callSpec(t, 30*time.Second)

	ctx := context.Background()
	require.NoError(t, port.Save(ctx, &persistence.PersistentContext{
		ID:              "call-r",
		CurrentState:    "RINGING",
		LastStateChange: time.Now(),
	}))

	m, err := r.CreateOrGet(ctx, "call-r", spec)
	require.NoError(t, err)
	require.Equal(t, "RINGING", m.CurrentState())
	require.False(t, m.IsComplete())
}

// CreateOrGet refuses to rehydrate an already-complete persisted machine.
func TestCreateOrGetRejectsCompleteMachine(t *testing.T) {
	r, port := newTestRegistry(t, Config{})
	spec := callSpec(t, 30*time.Second)

	ctx := context.Background()
	require.NoError(t, port.Save(ctx, &persistence.PersistentContext{
		ID:           "call-done",
		CurrentState: "IDLE",
		Complete:     true,
	}))

	_, err := r.CreateOrGet(ctx, "call-done", spec)
	require.ErrorIs(t, err, ErrNotFoundFinal)
}

// Register rejects a duplicate id and an over-capacity registration.
func TestRegisterRejectsDuplicateAndOverCapacity(t *testing.T) {
	r, _ := newTestRegistry(t, Config{MaxConcurrentMachines: 1})
	spec := callSpec(t, 30*time.Second)
	ctx := context.Background()

	m1, err := r.CreateOrGet(ctx, "m1", spec)
	require.NoError(t, err)

	err = r.Register(ctx, "m1", m1)
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	m2 := fsm.NewMachine("m2", spec.Template, spec.NewPC("m2"), nil, clock.New(), fsm.Callbacks{
		Save: func(context.Context, *persistence.PersistentContext) error { return nil },
	}, nil)
	err = r.Register(ctx, "m2", m2)
	require.ErrorIs(t, err, ErrCapacityFull)
}

// Idle eviction removes the oldest idle machine once the active set
// exceeds MachineEvictionThreshold and the candidate has been idle past
// MachineIdleTimeout.
func TestEvictIdleRemovesOldestOverThreshold(t *testing.T) {
	r, _ := newTestRegistry(t, Config{
		MachineEvictionThreshold: 1,
		MachineIdleTimeout:       1 * time.Millisecond,
	})
	spec := callSpec(t, 30*time.Second)
	ctx := context.Background()

	_, err := r.CreateOrGet(ctx, "old", spec)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = r.CreateOrGet(ctx, "new", spec)
	require.NoError(t, err)

	require.Equal(t, 2, r.Len())
	r.maybeEvictIdle(ctx)

	require.Eventually(t, func() bool { return r.Len() == 1 }, time.Second, 5*time.Millisecond)
}

// Regression: a state-scoped timeout firing on the clock's own goroutine
// must never run concurrently with an externally routed event for the
// same machine, even when both target the same transition (spec.md §5
// single-writer domain). OnExit sleeps to widen the race window; if fire
// and the timeout callback were not serialized behind the same per-machine
// lock, both would pass transition's currentState guard before either
// advanced it, and B's exit/C's entry would each run twice.
func TestTimeoutNeverRacesConcurrentEventForSameTransition(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})

	var exitCount, entryCount int32

	tmpl, err := fsm.NewBuilder("race", "A").
		State("A").On("GO", "B").
		State("B").
		Timeout(2*time.Millisecond, "C").
		On("BUMP", "C").
		OnExit(func(ctx context.Context, m *fsm.Machine) error {
			atomic.AddInt32(&exitCount, 1)
			time.Sleep(20 * time.Millisecond)
			return nil
		}).
		State("C").
		OnEntry(func(ctx context.Context, m *fsm.Machine) error {
			atomic.AddInt32(&entryCount, 1)
			return nil
		}).
		Build()
	require.NoError(t, err)

	spec := MachineSpec{
		Template: tmpl,
		NewPC:    func(id string) *persistence.PersistentContext { return &persistence.PersistentContext{ID: id} },
		NewVC:    func() any { return nil },
	}
	r.RegisterTrigger("GO", spec)

	ctx := context.Background()
	require.Equal(t, Accepted, r.SendEvent(ctx, "race-1", tagEvent("GO")).Kind)

	// BUMP races the 2ms timeout to land on B at nearly the same instant;
	// both would drive the exact same B-to-C transition.
	time.Sleep(1 * time.Millisecond)
	r.SendEvent(ctx, "race-1", tagEvent("BUMP"))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&entryCount) >= 1
	}, time.Second, 5*time.Millisecond)

	// Give a would-be second transition time to surface before asserting.
	time.Sleep(50 * time.Millisecond)

	require.Equal(t, int32(1), atomic.LoadInt32(&exitCount))
	require.Equal(t, int32(1), atomic.LoadInt32(&entryCount))

	summary, ok := r.MachineState("race-1")
	require.True(t, ok)
	require.Equal(t, "C", summary.CurrentState)
}

// RemoveMachine persists the machine's last state one more time before
// dropping it from the active set.
func TestRemoveMachinePersistsBeforeDropping(t *testing.T) {
	r, port := newTestRegistry(t, Config{})
	spec := callSpec(t, 30*time.Second)
	ctx := context.Background()

	_, err := r.CreateOrGet(ctx, "x1", spec)
	require.NoError(t, err)

	require.NoError(t, r.RemoveMachine(ctx, "x1"))
	require.Equal(t, 0, r.Len())

	_, ok, err := port.Load(ctx, "x1")
	require.NoError(t, err)
	require.True(t, ok)
}
