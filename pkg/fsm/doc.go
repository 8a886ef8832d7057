// SPDX-License-Identifier: BSD-3-Clause

// Package fsm implements the per-machine state machine engine: states with
// entry/exit/stay actions, state-scoped timeouts armed through pkg/clock,
// final and offline states, and rehydration with timeout catch-up.
//
// A Machine is built from an immutable Template (produced by Builder) plus a
// persistent context, a volatile context, and a set of Callbacks the owner
// (typically pkg/registry) supplies at construction time. The machine never
// holds a back-reference to its owner; eviction, persistence, and
// notification are all explicit callbacks, not an owning pointer, so a
// machine's lifetime is never entangled with its registry's.
//
// Dispatch is by wire-level event tag (catalog.Event.Tag), never by
// reflection over the event's Go type: the transition and stay-action
// tables are built once by Builder and read thereafter, so the tables
// themselves are the source of truth for what a state accepts — the same
// tables the debug channel's EVENT_METADATA_UPDATE messages are derived
// from.
package fsm
