// SPDX-License-Identifier: BSD-3-Clause

package registry

import "time"

// SampleLogging controls how densely debug/snapshot records are taken,
// mirroring spec.md §6's sampleLogging config option.
type SampleLogging struct {
	// All, when true, samples every transition. Otherwise one in every N
	// transitions is sampled, where N is OneInN (minimum 1).
	All  bool
	OneInN int
}

// Config is the single registry-config record spec.md §6 describes.
type Config struct {
	// TargetTPS is the system-wide soft shaping rate, in events/sec. Zero
	// disables system-wide shaping.
	TargetTPS int

	// MaxEventsPerMachinePerSecond is the hard per-machine rate cap. Zero
	// disables per-machine shaping.
	MaxEventsPerMachinePerSecond int

	// MaxConcurrentMachines is the hard cap on the active-machine set.
	// Zero means unlimited.
	MaxConcurrentMachines int

	// MachineEvictionThreshold is the soft cap above which idle machines
	// become eviction candidates. Must be less than MaxConcurrentMachines
	// when the latter is set.
	MachineEvictionThreshold int

	// MachineIdleTimeout is how long a machine must go without an event
	// before it qualifies as an idle eviction candidate.
	MachineIdleTimeout time.Duration

	// SnapshotDebug records the snapshot-debug setting. The registry
	// persists on every transition via C2 whatever its value; nothing in
	// this repository reads the flag, and no extra replay snapshots are
	// taken.
	SnapshotDebug bool

	// LiveDebug records the live-debug setting (§6). Nothing in this
	// repository reads it; cmd/fsmrtd starts service/debugbus whatever its
	// value.
	LiveDebug bool

	// DebugPort records a port for the live debug channel. Nothing reads
	// it; service/debugbus publishes on in-process NATS subjects rather
	// than on a port.
	DebugPort int

	// SampleLogging rate-limits debug records.
	SampleLogging SampleLogging
}

func (c Config) withDefaults() Config {
	if c.SampleLogging.OneInN <= 0 {
		c.SampleLogging.OneInN = 1
	}
	return c
}
