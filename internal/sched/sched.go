// Package sched defines how pipeline components ask for deferred work.
//
// All pipeline evaluation happens on one goroutine. Components never block
// or spawn goroutines of their own; they post closures back to that goroutine
// instead.
package sched

import "time"

// Scheduler runs closures on the pipeline goroutine.
type Scheduler interface {
	// Post queues fn to run after the currently executing closure returns.
	// Posts run in the order they were made.
	Post(fn func())

	// After queues fn once d has elapsed. It never blocks the caller.
	After(d time.Duration, fn func())
}
