// SPDX-License-Identifier: BSD-3-Clause

package persistence

import (
	"context"
	"time"
)

// PersistentContext is the durable per-machine record that survives
// restart (spec.md §3). The four named fields are required by the core;
// Attributes carries whatever user-defined fields the machine's template
// wants to round-trip, opaque to the core.
type PersistentContext struct {
	ID              string
	CurrentState    string
	LastStateChange time.Time
	Complete        bool
	Attributes      map[string]any
}

// Clone returns a deep-enough copy of pc safe to hand to a different
// goroutine: the Attributes map is copied one level deep.
func (pc *PersistentContext) Clone() *PersistentContext {
	if pc == nil {
		return nil
	}
	clone := *pc
	if pc.Attributes != nil {
		clone.Attributes = make(map[string]any, len(pc.Attributes))
		for k, v := range pc.Attributes {
			clone.Attributes[k] = v
		}
	}
	return &clone
}

// Port is the persistence boundary the registry and FSM engine depend on.
// Keying is by machine id; the port is otherwise schema-agnostic from the
// core's perspective (spec.md §4.2).
type Port interface {
	// Initialize performs one-time schema/setup. Safe to call multiple
	// times; implementations must make it idempotent.
	Initialize(ctx context.Context) error

	// Save upserts the persistent context for pc.ID. Implementations may
	// treat this as durable-before-return or acknowledged-queued; the core
	// only requires that saves for a single id are never reordered.
	Save(ctx context.Context, pc *PersistentContext) error

	// Load returns the persistent context for id, or ok=false if absent.
	Load(ctx context.Context, id string) (pc *PersistentContext, ok bool, err error)
}
