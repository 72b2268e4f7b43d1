package worker

import (
	"sync"
	"time"
)

// loop is the worker goroutine's scheduler. Closures posted to it run one at
// a time in post order; timers post back to it when they fire.
type loop struct {
	box *mailbox[func()]

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
}

func newLoop() *loop {
	return &loop{
		box:    newMailbox[func()](),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Post implements sched.Scheduler. Posts after stop are dropped.
func (l *loop) Post(fn func()) {
	l.box.push(fn)
}

// After implements sched.Scheduler.
func (l *loop) After(d time.Duration, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		l.mu.Lock()
		delete(l.timers, t)
		l.mu.Unlock()
		l.Post(fn)
	})
	l.timers[t] = struct{}{}
}

// run executes closures until stop is called. It must run on exactly one
// goroutine.
func (l *loop) run() {
	for {
		fn, ok := l.box.next()
		if !ok {
			return
		}
		fn()
	}
}

// stop cancels pending timers and drops queued closures. The closure running
// when stop is called finishes first.
func (l *loop) stop() {
	l.mu.Lock()
	l.stopped = true
	for t := range l.timers {
		t.Stop()
	}
	clear(l.timers)
	l.mu.Unlock()

	l.box.discard()
}
