// SPDX-License-Identifier: BSD-3-Clause

package observer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fsmrt/fsmrt/pkg/fsm"
	"github.com/fsmrt/fsmrt/pkg/persistence"
)

// Listener receives registry lifecycle and transition notifications. Every
// method is optional in spirit: embed NopListener to pick up no-op
// defaults and only override what you need.
type Listener interface {
	OnRegistryCreate(ctx context.Context, id string)
	OnRegistryRehydrate(ctx context.Context, id string)
	OnRegistryRemove(ctx context.Context, id string)
	OnStateMachineEvent(ctx context.Context, id, oldState, newState string, pc *persistence.PersistentContext, vc any)
	OnEventIgnored(ctx context.Context, id, state, tag string, reason fsm.IgnoredReason, pc *persistence.PersistentContext, vc any)
}

// NopListener implements Listener with no-op methods; embed it to
// implement only the callbacks a particular listener cares about.
type NopListener struct{}

func (NopListener) OnRegistryCreate(context.Context, string)                                             {}
func (NopListener) OnRegistryRehydrate(context.Context, string)                                          {}
func (NopListener) OnRegistryRemove(context.Context, string)                                             {}
func (NopListener) OnStateMachineEvent(context.Context, string, string, string, *persistence.PersistentContext, any) {
}
func (NopListener) OnEventIgnored(context.Context, string, string, string, fsm.IgnoredReason, *persistence.PersistentContext, any) {
}

// Bus is a copy-on-write listener list. Add/Remove are safe to call while
// notifications are in flight; a notification sees a consistent snapshot
// of listeners taken at its start.
type Bus struct {
	mu        sync.Mutex // serializes writers only
	listeners atomic.Pointer[[]Listener]
	logger    *slog.Logger
}

// New returns an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{logger: logger}
	empty := []Listener{}
	b.listeners.Store(&empty)
	return b
}

// Add registers a listener and returns a function that removes it.
func (b *Bus) Add(l Listener) (remove func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.listeners.Load()
	next := make([]Listener, len(current)+1)
	copy(next, current)
	next[len(current)] = l
	b.listeners.Store(&next)

	return func() { b.remove(l) }
}

func (b *Bus) remove(target Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.listeners.Load()
	next := make([]Listener, 0, len(current))
	for _, l := range current {
		if l != target {
			next = append(next, l)
		}
	}
	b.listeners.Store(&next)
}

func (b *Bus) snapshot() []Listener {
	return *b.listeners.Load()
}

// dispatch invokes fn for every current listener, isolating panics and
// converting them to log lines rather than letting them propagate to the
// caller that triggered the notification.
func (b *Bus) dispatch(name string, fn func(Listener)) {
	for _, l := range b.snapshot() {
		b.safeCall(name, l, fn)
	}
}

func (b *Bus) safeCall(name string, l Listener, fn func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("observer listener panicked", "callback", name, "panic", fmt.Sprint(r))
		}
	}()
	fn(l)
}

func (b *Bus) NotifyRegistryCreate(ctx context.Context, id string) {
	b.dispatch("OnRegistryCreate", func(l Listener) { l.OnRegistryCreate(ctx, id) })
}

func (b *Bus) NotifyRegistryRehydrate(ctx context.Context, id string) {
	b.dispatch("OnRegistryRehydrate", func(l Listener) { l.OnRegistryRehydrate(ctx, id) })
}

func (b *Bus) NotifyRegistryRemove(ctx context.Context, id string) {
	b.dispatch("OnRegistryRemove", func(l Listener) { l.OnRegistryRemove(ctx, id) })
}

func (b *Bus) NotifyStateMachineEvent(ctx context.Context, id, oldState, newState string, pc *persistence.PersistentContext, vc any) {
	b.dispatch("OnStateMachineEvent", func(l Listener) { l.OnStateMachineEvent(ctx, id, oldState, newState, pc, vc) })
}

func (b *Bus) NotifyEventIgnored(ctx context.Context, id, state, tag string, reason fsm.IgnoredReason, pc *persistence.PersistentContext, vc any) {
	b.dispatch("OnEventIgnored", func(l Listener) { l.OnEventIgnored(ctx, id, state, tag, reason, pc, vc) })
}

// Len reports the current listener count, for tests and diagnostics.
func (b *Bus) Len() int {
	return len(b.snapshot())
}
