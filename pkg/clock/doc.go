// SPDX-License-Identifier: BSD-3-Clause

// Package clock provides the runtime's single coherent time source: a
// monotonic clock and a heap-scheduled one-shot timeout scheduler shared by
// every machine the registry manages.
//
// Each machine holds at most one pending timeout at a time, so the
// scheduler multiplexes many cheap, short-lived timers over a single
// background goroutine and a binary min-heap, rather than spawning a
// goroutine (or a stdlib *time.Timer) per machine. Callbacks run on the
// scheduler's own goroutine; callers that need ordering guarantees with
// respect to their own machine's mailbox must re-enter that machine's
// single-writer domain themselves (see pkg/fsm).
package clock
