// Package scheduler implements the "monitor" callback scheduler spec §5 and
// §9 describe: a single goroutine driving all retransmit timers, dialogue
// autodestroy timers, registration refresh/retry timers, and peer qualify
// pokes, with O(1) tombstone-based cancel so a callback that has already
// started firing can still self-clean instead of racing its canceller.
package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// Task is a single scheduled callback. Cancel is safe to call concurrently
// and any number of times.
type Task struct {
	at    time.Time
	index int // heap index, maintained by container/heap

	mu        sync.Mutex
	fn        func()
	cancelled bool
	fired     bool
}

// Cancel attempts to remove the task before it fires. It returns true if
// this call removed the task (the caller may now drop its strong
// reference to whatever the task closed over); it returns false if the task
// was already cancelled, or has already started or finished firing, in which
// last case the task's closure must check a sentinel/tombstone field itself
// (per spec §5/§9).
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.cancelled {
		return false
	}
	t.cancelled = true
	return true
}

// Fired reports whether the task has already run (or started running).
func (t *Task) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

type taskHeap []*Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x interface{}) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler is the monitor's single min-heap of pending callbacks. The zero
// value is not usable; construct with New.
type Scheduler struct {
	mu       sync.Mutex
	heap     taskHeap
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates and starts a Scheduler's driving goroutine.
func New() *Scheduler {
	s := &Scheduler{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	heap.Init(&s.heap)
	go s.run()
	return s
}

// Schedule arranges for fn to run (on the scheduler's own goroutine) at or
// after "at". The returned Task may be cancelled before it fires.
func (s *Scheduler) Schedule(at time.Time, fn func()) *Task {
	t := &Task{at: at, fn: fn}
	s.mu.Lock()
	heap.Push(&s.heap, t)
	s.mu.Unlock()
	s.nudge()
	return t
}

// After is a convenience wrapper for Schedule(time.Now().Add(d), fn).
func (s *Scheduler) After(d time.Duration, fn func()) *Task {
	return s.Schedule(time.Now().Add(d), fn)
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stop halts the scheduler's goroutine. Pending tasks are dropped without
// firing.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Scheduler) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var next time.Duration
		if s.heap.Len() == 0 {
			next = time.Hour
		} else {
			next = time.Until(s.heap[0].at)
			if next < 0 {
				next = 0
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)

		select {
		case <-s.stop:
			return
		case <-s.wake:
			continue
		case <-timer.C:
			s.fireDue()
		}
	}
}

func (s *Scheduler) fireDue() {
	now := time.Now()
	for {
		s.mu.Lock()
		if s.heap.Len() == 0 || s.heap[0].at.After(now) {
			s.mu.Unlock()
			return
		}
		t := heap.Pop(&s.heap).(*Task)
		s.mu.Unlock()

		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			continue
		}
		t.fired = true
		fn := t.fn
		t.mu.Unlock()

		if fn != nil {
			fn()
		}
	}
}
