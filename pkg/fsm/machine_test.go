// SPDX-License-Identifier: BSD-3-Clause

package fsm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fsmrt/fsmrt/pkg/clock"
	"github.com/fsmrt/fsmrt/pkg/persistence"
)

type tagEvent string

func (e tagEvent) Tag() string { return string(e) }

// callTemplate builds the ring/answer/hangup template used throughout
// spec.md §8's end-to-end scenarios.
func callTemplate(t *testing.T, ringTimeout time.Duration) *Template {
	t.Helper()
	tmpl, err := NewBuilder("call", "IDLE").
		State("IDLE").On("INCOMING_CALL", "RINGING").
		State("RINGING").
		Timeout(ringTimeout, "IDLE").
		On("ANSWER", "CONNECTED").
		Stay("SESSION_PROGRESS", func(ctx context.Context, m *Machine, e Event) error {
			vc := m.VolatileContext().(*callVC)
			vc.mu.Lock()
			vc.ringCount++
			vc.mu.Unlock()
			return nil
		}).
		State("CONNECTED").On("HANGUP", "IDLE").
		Build()
	require.NoError(t, err)
	return tmpl
}

type callVC struct {
	mu        sync.Mutex
	ringCount int
}

type recorder struct {
	mu          sync.Mutex
	transitions []transitionRecord
	ignored     []ignoredRecord
	finals      []string
	offlines    []string
}

type transitionRecord struct {
	ID, Old, New string
	PC           *persistence.PersistentContext
}

type ignoredRecord struct {
	ID, State, Tag string
	Reason         IgnoredReason
}

func newRecorder() *recorder { return &recorder{} }

func (r *recorder) callbacks(port persistence.Port) Callbacks {
	return Callbacks{
		Save: func(ctx context.Context, pc *persistence.PersistentContext) error {
			return port.Save(ctx, pc)
		},
		OnTransition: func(ctx context.Context, id, oldState, newState string, pc *persistence.PersistentContext, vc any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transitions = append(r.transitions, transitionRecord{ID: id, Old: oldState, New: newState, PC: pc})
		},
		OnIgnored: func(ctx context.Context, id, state, tag string, reason IgnoredReason) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ignored = append(r.ignored, ignoredRecord{ID: id, State: state, Tag: tag, Reason: reason})
		},
		OnFinal: func(ctx context.Context, id string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.finals = append(r.finals, id)
		},
		OnOffline: func(ctx context.Context, id string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.offlines = append(r.offlines, id)
		},
	}
}

func (r *recorder) trajectory() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	traj := make([]string, 0, len(r.transitions)+1)
	for i, tr := range r.transitions {
		if i == 0 {
			traj = append(traj, tr.Old)
		}
		traj = append(traj, tr.New)
	}
	return traj
}

func newTestMachine(t *testing.T, tmpl *Template, id string, sched *clock.Scheduler, rec *recorder) (*Machine, persistence.Port) {
	t.Helper()
	port := persistence.NewMemoryPort()
	pc := &persistence.PersistentContext{ID: id}
	m := NewMachine(id, tmpl, pc, &callVC{}, sched, rec.callbacks(port), nil)
	return m, port
}

// Scenario 1: ring-then-answer.
func TestScenarioRingThenAnswer(t *testing.T) {
	sched := clock.New()
	defer sched.Shutdown()
	rec := newRecorder()
	tmpl := callTemplate(t, 30*time.Second)
	m, _ := newTestMachine(t, tmpl, "c1", sched, rec)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Fire(ctx, tagEvent("INCOMING_CALL")))
	require.NoError(t, m.Fire(ctx, tagEvent("ANSWER")))
	require.NoError(t, m.Fire(ctx, tagEvent("HANGUP")))

	require.Equal(t, "IDLE", m.CurrentState())
	require.Equal(t, []string{"IDLE", "RINGING", "CONNECTED", "IDLE"}, rec.trajectory())
}

// Scenario 2: ring-then-timeout.
func TestScenarioRingThenTimeout(t *testing.T) {
	sched := clock.New()
	defer sched.Shutdown()
	rec := newRecorder()
	tmpl := callTemplate(t, 30*time.Millisecond)
	m, _ := newTestMachine(t, tmpl, "c2", sched, rec)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Fire(ctx, tagEvent("INCOMING_CALL")))

	require.Eventually(t, func() bool {
		return m.CurrentState() == "IDLE"
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, []string{"IDLE", "RINGING", "IDLE"}, rec.trajectory())
}

// Scenario 3: stay action counts progress without altering lastStateChange.
func TestScenarioStayActionCountsProgress(t *testing.T) {
	sched := clock.New()
	defer sched.Shutdown()
	rec := newRecorder()
	tmpl := callTemplate(t, 30*time.Second)
	m, _ := newTestMachine(t, tmpl, "c3", sched, rec)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Fire(ctx, tagEvent("INCOMING_CALL")))
	ringingChange := m.PersistentContext().LastStateChange

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Fire(ctx, tagEvent("SESSION_PROGRESS")))
	}
	require.NoError(t, m.Fire(ctx, tagEvent("ANSWER")))

	require.Equal(t, "CONNECTED", m.CurrentState())
	vc := m.VolatileContext().(*callVC)
	require.Equal(t, 3, vc.ringCount)

	require.Equal(t, []string{"IDLE", "RINGING", "CONNECTED"}, rec.trajectory())
	require.Equal(t, ringingChange, rec.transitions[0].PC.LastStateChange)
}

// Scenario 4: rehydrate with catch-up.
func TestScenarioRehydrateWithCatchUp(t *testing.T) {
	sched := clock.New()
	defer sched.Shutdown()
	rec := newRecorder()
	tmpl := callTemplate(t, 30*time.Second)

	port := persistence.NewMemoryPort()
	pc := &persistence.PersistentContext{
		ID:              "c4",
		CurrentState:    "RINGING",
		LastStateChange: sched.Now().Add(-45 * time.Second),
	}
	m := NewMachine("c4", tmpl, pc, &callVC{}, sched, rec.callbacks(port), nil)

	ctx := context.Background()
	require.NoError(t, m.RestoreState(ctx, "RINGING"))

	require.Equal(t, "IDLE", m.CurrentState())
	require.False(t, m.IsComplete())
}

// P3: restoreState never runs the entry action.
func TestRestoreStateDoesNotRunEntry(t *testing.T) {
	sched := clock.New()
	defer sched.Shutdown()
	rec := newRecorder()

	var entryRan bool
	tmpl, err := NewBuilder("x", "A").
		State("A").On("GO", "B").
		State("B").OnEntry(func(ctx context.Context, m *Machine) error {
		entryRan = true
		return nil
	}).
		Build()
	require.NoError(t, err)

	port := persistence.NewMemoryPort()
	pc := &persistence.PersistentContext{ID: "m1", CurrentState: "B", LastStateChange: sched.Now()}
	m := NewMachine("m1", tmpl, pc, nil, sched, rec.callbacks(port), nil)

	require.NoError(t, m.RestoreState(context.Background(), "B"))
	require.Equal(t, "B", m.CurrentState())
	require.False(t, entryRan)
}

// P4: once complete, further events are dropped and produce no transition.
func TestFinalStateFinality(t *testing.T) {
	sched := clock.New()
	defer sched.Shutdown()
	rec := newRecorder()

	tmpl, err := NewBuilder("x", "A").
		State("A").On("FINISH", "Z").
		State("Z").FinalState().
		Build()
	require.NoError(t, err)

	m, _ := newTestMachine(t, tmpl, "m2", sched, rec)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Fire(ctx, tagEvent("FINISH")))

	require.True(t, m.IsComplete())
	require.Equal(t, []string{"m2"}, rec.finals)

	err = m.Fire(ctx, tagEvent("FINISH"))
	require.ErrorIs(t, err, ErrComplete)
	require.Equal(t, "Z", m.CurrentState())
}

// P9: stay actions never change currentState or lastStateChange.
func TestStayActionsAreIdempotentOnState(t *testing.T) {
	sched := clock.New()
	defer sched.Shutdown()
	rec := newRecorder()
	tmpl := callTemplate(t, 30*time.Second)
	m, _ := newTestMachine(t, tmpl, "m3", sched, rec)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Fire(ctx, tagEvent("INCOMING_CALL")))
	before := m.PersistentContext()

	require.NoError(t, m.Fire(ctx, tagEvent("SESSION_PROGRESS")))
	after := m.PersistentContext()

	require.Equal(t, before.CurrentState, after.CurrentState)
	require.Equal(t, before.LastStateChange, after.LastStateChange)
}

// Undefined events are ignored and observed, not errors.
func TestUndefinedEventIsIgnoredNotError(t *testing.T) {
	sched := clock.New()
	defer sched.Shutdown()
	rec := newRecorder()
	tmpl := callTemplate(t, 30*time.Second)
	m, _ := newTestMachine(t, tmpl, "m4", sched, rec)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Fire(ctx, tagEvent("NONSENSE")))

	require.Equal(t, "IDLE", m.CurrentState())
	require.Len(t, rec.ignored, 1)
	require.Equal(t, NoTransitionAndNoStay, rec.ignored[0].Reason)
}

// A stale timeout (source no longer current state) is dropped silently.
func TestStaleTimeoutIsDropped(t *testing.T) {
	sched := clock.New()
	defer sched.Shutdown()
	rec := newRecorder()
	tmpl := callTemplate(t, 30*time.Second)
	m, _ := newTestMachine(t, tmpl, "m5", sched, rec)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Fire(ctx, tagEvent("INCOMING_CALL")))
	require.NoError(t, m.Fire(ctx, tagEvent("ANSWER")))

	// A timeout armed for RINGING firing after the machine has moved on
	// must not move CONNECTED back to IDLE.
	require.NoError(t, m.Fire(ctx, TimeoutEvent{Source: "RINGING", Target: "IDLE"}))
	require.Equal(t, "CONNECTED", m.CurrentState())
}

// P6: persistence round trip preserves required fields.
func TestPersistenceRoundTrip(t *testing.T) {
	port := persistence.NewMemoryPort()
	ctx := context.Background()
	pc := &persistence.PersistentContext{
		ID:              "rt-1",
		CurrentState:    "RINGING",
		LastStateChange: time.Now().Truncate(time.Millisecond),
		Complete:        false,
		Attributes:      map[string]any{"from": "+1-555-1"},
	}
	require.NoError(t, port.Save(ctx, pc))
	loaded, ok, err := port.Load(ctx, "rt-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pc.CurrentState, loaded.CurrentState)
	require.Equal(t, pc.LastStateChange, loaded.LastStateChange)
	require.Equal(t, pc.Complete, loaded.Complete)
	require.Equal(t, pc.Attributes, loaded.Attributes)
}
