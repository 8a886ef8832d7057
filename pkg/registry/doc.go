// SPDX-License-Identifier: BSD-3-Clause

// Package registry implements the process-wide owner of active machines
// (C5 in spec.md): lifecycle (register/createOrGet/removeMachine), event
// routing with auto-creation on trigger events, eviction on final or
// offline states and on soft-cap idle pressure, and the capacity/rate
// enforcement of pkg/ratelimit.
//
// A Registry never runs a machine's actions itself; it wires pkg/fsm's
// explicit Callbacks at construction time (persistence save, transition
// notice, ignored notice, final/offline hooks) and otherwise only holds
// the active-machine map and the auto-creation trigger table.
package registry
