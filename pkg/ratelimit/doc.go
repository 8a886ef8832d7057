// SPDX-License-Identifier: BSD-3-Clause

// Package ratelimit implements the registry's capacity and rate control
// (C7 in spec.md): a system-wide shaping bucket and an independent
// per-machine bucket, both of which an event must clear to proceed.
//
// The system bucket is a golang.org/x/time/rate token bucket sized to
// targetTps with a 2x burst, matching the soft-shaping semantics spec.md
// §4.5 describes. The per-machine bucket is a
// github.com/joeycumines/go-catrate sliding-window limiter keyed by
// machine id as its category, which gives per-machine buckets for free
// without the registry having to manage a map of limiters and garbage
// collect it as machines come and go.
package ratelimit
