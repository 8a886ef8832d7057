// SPDX-License-Identifier: BSD-3-Clause

package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// IdleTracker records the last-event time per active machine id, ordered
// least-recently-used first, so the registry can pick eviction candidates
// once it is above machineEvictionThreshold (spec.md §4.5 Eviction).
//
// The underlying LRU only evicts on Touch once it is full; the registry is
// expected to size it generously (maxConcurrentMachines) and drive actual
// eviction decisions itself via Oldest, not via the LRU's own capacity
// eviction.
type IdleTracker struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
}

// NewIdleTracker builds a tracker sized to capacity active machines.
func NewIdleTracker(capacity int) *IdleTracker {
	if capacity <= 0 {
		capacity = 1
	}
	cache, _ := lru.New[string, time.Time](capacity)
	return &IdleTracker{cache: cache}
}

// Touch marks id as having just received an event, making it
// most-recently-used.
func (t *IdleTracker) Touch(id string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Add(id, at)
}

// Remove stops tracking id (call on eviction or removal).
func (t *IdleTracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Remove(id)
}

// OldestIdleCandidate returns the least-recently-eventful tracked id whose
// idle time exceeds idleTimeout as of now, or ok=false if none qualifies.
func (t *IdleTracker) OldestIdleCandidate(now time.Time, idleTimeout time.Duration) (id string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, key := range t.cache.Keys() {
		lastEvent, found := t.cache.Peek(key)
		if !found {
			continue
		}
		if now.Sub(lastEvent) > idleTimeout {
			return key, true
		}
	}
	return "", false
}

// Len reports the number of tracked machine ids.
func (t *IdleTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}
