// SPDX-License-Identifier: BSD-3-Clause

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestControllerAllowSystemRespectsBurst(t *testing.T) {
	c := New(1, 100)
	// burst is 2x targetTps, so the first two calls succeed immediately.
	require.True(t, c.AllowSystem())
	require.True(t, c.AllowSystem())
	require.False(t, c.AllowSystem())
}

func TestControllerAllowMachineIsPerID(t *testing.T) {
	c := New(1000, 2)
	require.True(t, c.AllowMachine("m1"))
	require.True(t, c.AllowMachine("m1"))
	require.False(t, c.AllowMachine("m1"))

	// A different machine id has its own independent bucket.
	require.True(t, c.AllowMachine("m2"))
}

func TestIdleTrackerTouchAndCandidate(t *testing.T) {
	tr := NewIdleTracker(10)
	base := time.Now()
	tr.Touch("old", base.Add(-time.Hour))
	tr.Touch("fresh", base)

	id, ok := tr.OldestIdleCandidate(base, time.Minute)
	require.True(t, ok)
	require.Equal(t, "old", id)

	_, ok = tr.OldestIdleCandidate(base, 2*time.Hour)
	require.False(t, ok)
}

func TestIdleTrackerRemove(t *testing.T) {
	tr := NewIdleTracker(10)
	tr.Touch("m1", time.Now().Add(-time.Hour))
	require.Equal(t, 1, tr.Len())
	tr.Remove("m1")
	require.Equal(t, 0, tr.Len())
}
