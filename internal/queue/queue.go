// Package queue implements the FIFO of pending pipeline requests.
package queue

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/roach88/sqlpipe/internal/op"
)

// Mirror persists a best-effort copy of queue activity.
type Mirror interface {
	MirrorPending(ctx context.Context, id, opType, params string) error
	MirrorProcessing(ctx context.Context, id, opType string) error
}

// Queue is a thread-safe, unbounded FIFO of requests.
//
// Each enqueued request is returned by exactly one Dequeue or Drain. Mirror
// writes and hooks run outside the lock; mirror failures are logged and
// never reach the caller.
type Queue struct {
	mu    sync.Mutex
	items []op.Request

	mirror    Mirror
	onChange  func(size int)
	onEnqueue func(req op.Request)
	logger    zerolog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithMirror persists enqueue and dequeue events through m.
func WithMirror(m Mirror) Option {
	return func(q *Queue) { q.mirror = m }
}

// WithChangeHook calls fn with the new length after every enqueue, dequeue
// and drain.
func WithChangeHook(fn func(size int)) Option {
	return func(q *Queue) { q.onChange = fn }
}

// WithEnqueueHook calls fn after a request has been appended.
func WithEnqueueHook(fn func(req op.Request)) Option {
	return func(q *Queue) { q.onEnqueue = fn }
}

// WithLogger sets the logger used for mirror failures.
func WithLogger(l zerolog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		items:  make([]op.Request, 0, 64),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends req to the back of the queue.
// Thread-safe: may be called from any goroutine.
func (q *Queue) Enqueue(ctx context.Context, req op.Request) {
	q.mu.Lock()
	q.items = append(q.items, req)
	size := len(q.items)
	q.mu.Unlock()

	if q.mirror != nil {
		params, err := req.Params.JSON()
		if err == nil {
			err = q.mirror.MirrorPending(ctx, req.ID, string(req.Type), params)
		}
		if err != nil {
			q.logger.Warn().Err(err).Str("operation_id", req.ID).Msg("queue mirror write failed")
		}
	}

	if q.onChange != nil {
		q.onChange(size)
	}
	if q.onEnqueue != nil {
		q.onEnqueue(req)
	}
}

// Dequeue removes and returns the front request.
// Returns (op.Request{}, false) if the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (op.Request, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return op.Request{}, false
	}

	req := q.items[0]

	// Clear the slot so the backing array does not pin the params maps.
	q.items[0] = op.Request{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	size := len(q.items)
	q.mu.Unlock()

	if q.mirror != nil {
		if err := q.mirror.MirrorProcessing(ctx, req.ID, string(req.Type)); err != nil {
			q.logger.Warn().Err(err).Str("operation_id", req.ID).Msg("queue mirror update failed")
		}
	}

	if q.onChange != nil {
		q.onChange(size)
	}
	return req, true
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every queued request in FIFO order.
func (q *Queue) Drain() []op.Request {
	q.mu.Lock()
	items := q.items
	q.items = make([]op.Request, 0, 64)
	q.mu.Unlock()

	if len(items) > 0 && q.onChange != nil {
		q.onChange(0)
	}
	return items
}
