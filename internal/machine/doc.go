// Package machine implements the transition controller that governs the
// pipeline.
//
// The controller is driven by a declarative table: for each state, the
// entry actions to run on entering it and the events that leave it. The
// table is written in CUE, validated against an embedded schema, and loaded
// once by Initialize. A missing or malformed table is an initialization
// error.
//
// Events are submitted from any goroutine. They are posted to the pipeline
// scheduler and evaluated one at a time, in submission order. Each evaluation
// ends at a settle point, where the state-changed listeners run. An event
// with no transition from the current state is logged and ignored.
package machine
