// SPDX-License-Identifier: BSD-3-Clause

// Package debugbus provides the live debug channel described in spec.md
// §6: an observability collaborator that publishes newline-delimited JSON
// broadcasts over NATS and accepts inbound event injection.
//
// The debug bus is bound to a running registry service (WithRegistry) and
// subscribes to its observer bus directly, in-process, rather than over
// the wire. It republishes what it observes on these NATS subjects:
//
//   - debug.event_metadata: EVENT_METADATA_UPDATE, once at start and
//     whenever a machine is created, rehydrated or removed
//   - debug.state_change: one STATE_CHANGE message per sampled transition
//     (see WithSampleLogging)
//   - debug.complete_status: a periodic COMPLETE_STATUS summary
//   - debug.current_state: CURRENT_STATE, answered on request
//
// Nothing is published on debug.timeout_countdown.
//
// It also serves debug.inject, accepting the inbound
// {action: "EVENT", machineId, eventType, payload} message and forwarding
// it to the bound registry's domain registry.
package debugbus
