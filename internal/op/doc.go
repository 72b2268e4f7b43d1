// Package op defines the request and result model shared by every stage of
// the pipeline.
//
// A Request is created in the caller's goroutine, handed to the worker on
// enqueue and to the execution loop on dequeue. Once its Result has been
// emitted the request is discarded. Request ids are unique for the lifetime
// of the owning queue and are never reused.
package op
