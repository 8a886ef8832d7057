// SPDX-License-Identifier: BSD-3-Clause

package clock

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// Callback is invoked when a scheduled timeout fires. It receives the
// monotonic time at which the scheduler observed the timeout as due.
type Callback func(fired time.Time)

// Handle identifies a scheduled timeout so it can be cancelled.
type Handle struct {
	id uint64
}

type timerEntry struct {
	id       uint64
	when     time.Time
	callback Callback
	index    int
	state    atomic.Int32 // 0 pending, 1 fired, 2 cancelled
}

const (
	statePending int32 = iota
	stateFired
	stateCancelled
)

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler is the process's single coherent time source: a monotonic clock
// plus a heap of pending one-shot timeouts serviced by one background
// goroutine. It satisfies the "at most one pending timeout per machine"
// invariant by letting callers cancel and reschedule freely; the scheduler
// itself places no such limit; that invariant is enforced by pkg/fsm, which
// never holds more than one Handle per machine.
type Scheduler struct {
	mu       sync.Mutex
	entries  map[uint64]*timerEntry
	heap     timerHeap
	wake     chan struct{}
	shutdown chan struct{}
	done     chan struct{}
	closed   atomic.Bool
	nextID   atomic.Uint64
}

// New starts a Scheduler and its background dispatch goroutine.
func New() *Scheduler {
	s := &Scheduler{
		entries:  make(map[uint64]*timerEntry),
		wake:     make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Now returns the current monotonic time.
func (s *Scheduler) Now() time.Time {
	return time.Now()
}

// ScheduleTimeout arms a one-shot timeout. The callback is invoked at most
// once, no earlier than delay after this call, on the scheduler's own
// goroutine. A negative delay is treated as zero. Returns ErrShutdown if the
// scheduler is shutting down; the callback is never invoked in that case.
func (s *Scheduler) ScheduleTimeout(delay time.Duration, callback Callback) (Handle, error) {
	if callback == nil {
		return Handle{}, ErrNilCallback
	}
	if delay < 0 {
		delay = 0
	}
	if s.closed.Load() {
		return Handle{}, ErrShutdown
	}

	id := s.nextID.Add(1)
	e := &timerEntry{
		id:       id,
		when:     time.Now().Add(delay),
		callback: callback,
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return Handle{}, ErrShutdown
	}
	s.entries[id] = e
	heap.Push(&s.heap, e)
	s.mu.Unlock()

	s.poke()
	return Handle{id: id}, nil
}

// Cancel cancels a scheduled timeout. It is idempotent and safe to call
// after the timeout has already fired; in that case it is a no-op. If
// cancellation races a concurrent fire, the callback may already have
// started running by the time Cancel returns.
func (s *Scheduler) Cancel(h Handle) {
	if h.id == 0 {
		return
	}
	s.mu.Lock()
	e, ok := s.entries[h.id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if e.state.CompareAndSwap(statePending, stateCancelled) {
		delete(s.entries, h.id)
		if e.index >= 0 {
			heap.Remove(&s.heap, e.index)
		}
	}
	s.mu.Unlock()
}

// Shutdown stops the scheduler. Pending timeouts are dropped without
// invoking their callbacks; new scheduling attempts fail with ErrShutdown.
// It blocks until the background goroutine has exited.
func (s *Scheduler) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		<-s.done
		return
	}
	close(s.shutdown)
	<-s.done
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		s.mu.Lock()
		var sleep time.Duration
		hasNext := s.heap.Len() > 0
		if hasNext {
			sleep = time.Until(s.heap[0].when)
			if sleep < 0 {
				sleep = 0
			}
		}
		s.mu.Unlock()

		if armed {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			armed = false
		}
		if hasNext {
			timer.Reset(sleep)
			armed = true
		}

		select {
		case <-s.shutdown:
			return
		case <-s.wake:
			continue
		case <-func() <-chan time.Time {
			if hasNext {
				return timer.C
			}
			return nil
		}():
			s.fireDue()
		}
	}
}

func (s *Scheduler) fireDue() {
	now := time.Now()
	var due []*timerEntry

	s.mu.Lock()
	for s.heap.Len() > 0 && !s.heap[0].when.After(now) {
		e := heap.Pop(&s.heap).(*timerEntry)
		if e.state.CompareAndSwap(statePending, stateFired) {
			delete(s.entries, e.id)
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		e.callback(now)
	}
}
