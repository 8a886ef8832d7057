// SPDX-License-Identifier: BSD-3-Clause

// Package persistence defines the boundary (C2 in spec.md) between the FSM
// runtime and durable storage of a machine's persistent context: save/load
// keyed by machine id, with an "is complete" short-circuit so terminal
// machines are never rehydrated.
//
// The port itself is schema-agnostic: it dictates only the four required
// columns (spec.md §6) and round-trips everything else opaquely. Three
// backends are provided:
//
//   - MemoryPort: an in-memory map, for tests and single-process demos.
//   - SQLitePort: a modernc.org/sqlite-backed implementation with
//     pressly/goose/v3 migrations, for a standalone durable deployment.
//   - JetStreamPort: a NATS JetStream key/value bucket, for deployments
//     that already run the embedded NATS bus from service/ipc.
package persistence
