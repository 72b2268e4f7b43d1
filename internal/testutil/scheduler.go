package testutil

import (
	"sync"
	"time"
)

// ManualScheduler is a deterministic sched.Scheduler for tests.
//
// Post queues closures until Run drains them. After records the requested
// delay and parks the closure until FireTimers releases it, so backoff
// tests never sleep.
type ManualScheduler struct {
	mu      sync.Mutex
	posted  []func()
	timers  []func()
	delays  []time.Duration
	running bool
}

// NewManualScheduler returns an empty scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Post implements sched.Scheduler.
func (s *ManualScheduler) Post(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posted = append(s.posted, fn)
}

// After implements sched.Scheduler.
func (s *ManualScheduler) After(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.timers = append(s.timers, fn)
}

// Run executes posted closures in FIFO order, including closures posted
// while it runs, until none remain. Returns the number executed.
func (s *ManualScheduler) Run() int {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return 0
	}
	s.running = true
	s.mu.Unlock()

	n := 0
	for {
		s.mu.Lock()
		if len(s.posted) == 0 {
			s.running = false
			s.mu.Unlock()
			return n
		}
		fn := s.posted[0]
		s.posted[0] = nil
		s.posted = s.posted[1:]
		s.mu.Unlock()

		fn()
		n++
	}
}

// FireTimers moves every parked timer onto the post queue and runs it.
// Returns the number of timers fired.
func (s *ManualScheduler) FireTimers() int {
	s.mu.Lock()
	timers := s.timers
	s.timers = nil
	s.posted = append(s.posted, timers...)
	s.mu.Unlock()

	s.Run()
	return len(timers)
}

// Delays returns every delay passed to After, in call order.
func (s *ManualScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

// PendingTimers returns how many timers are parked.
func (s *ManualScheduler) PendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
