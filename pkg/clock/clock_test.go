// SPDX-License-Identifier: BSD-3-Clause

package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleTimeoutFires(t *testing.T) {
	s := New()
	defer s.Shutdown()

	fired := make(chan time.Time, 1)
	_, err := s.ScheduleTimeout(20*time.Millisecond, func(now time.Time) {
		fired <- now
	})
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timeout did not fire")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	s := New()
	defer s.Shutdown()

	var calls atomic.Int32
	h, err := s.ScheduleTimeout(50*time.Millisecond, func(time.Time) {
		calls.Add(1)
	})
	require.NoError(t, err)

	s.Cancel(h)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(0), calls.Load())
}

func TestCancelIsIdempotent(t *testing.T) {
	s := New()
	defer s.Shutdown()

	h, err := s.ScheduleTimeout(10*time.Millisecond, func(time.Time) {})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	require.NotPanics(t, func() {
		s.Cancel(h)
		s.Cancel(h)
	})
}

func TestNegativeDelayTreatedAsZero(t *testing.T) {
	s := New()
	defer s.Shutdown()

	fired := make(chan struct{}, 1)
	_, err := s.ScheduleTimeout(-time.Second, func(time.Time) {
		close(fired)
	})
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timeout with negative delay did not fire promptly")
	}
}

func TestShutdownRefusesNewTimeouts(t *testing.T) {
	s := New()
	s.Shutdown()

	_, err := s.ScheduleTimeout(time.Millisecond, func(time.Time) {})
	require.ErrorIs(t, err, ErrShutdown)
}

func TestShutdownDropsPendingCallbacks(t *testing.T) {
	s := New()

	var calls atomic.Int32
	_, err := s.ScheduleTimeout(100*time.Millisecond, func(time.Time) {
		calls.Add(1)
	})
	require.NoError(t, err)

	s.Shutdown()
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, int32(0), calls.Load())
}

func TestManyTimersFireInOrder(t *testing.T) {
	s := New()
	defer s.Shutdown()

	const n = 20
	order := make(chan int, n)
	for i := 0; i < n; i++ {
		i := i
		_, err := s.ScheduleTimeout(time.Duration(n-i)*time.Millisecond, func(time.Time) {
			order <- n - i
		})
		require.NoError(t, err)
	}

	var last int
	for i := 0; i < n; i++ {
		select {
		case v := <-order:
			require.GreaterOrEqual(t, v, last)
			last = v
		case <-time.After(2 * time.Second):
			t.Fatal("not all timers fired")
		}
	}
}
