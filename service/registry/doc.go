// SPDX-License-Identifier: BSD-3-Clause

// Package registry provides the Registry service: a long-running process
// that owns the active set of finite state machines, dispatches events
// against them, and persists their contexts.
//
// It wraps pkg/registry.Registry with a NATS micro frontend, exposing:
//
//   - registry.send_event: deliver one event to a machine id, auto-creating
//     it when the event's tag is a registered trigger (spec.md §4.5)
//   - registry.create: explicitly create a machine from a named template
//   - registry.remove: evict a machine from the active set
//   - registry.state: snapshot one machine's current state
//   - registry.list: snapshot every active machine's id and state
//
// Templates and triggers are supplied by the embedding application via
// WithMachineSpec and WithTrigger; the registry service itself has no
// built-in domain knowledge of any particular FSM.
package registry
