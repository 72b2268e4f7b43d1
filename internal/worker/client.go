// Package worker runs a pipeline on its own goroutine and gives the owner an
// asynchronous API for it.
//
// The owner never touches pipeline state. Requests, immediate commands,
// initialization and shutdown are posted to the worker's mailbox and
// notifications come back through an ordered outbox that a dispatcher
// goroutine turns into Events.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/sqlpipe/internal/catalog"
	"github.com/roach88/sqlpipe/internal/machine"
	"github.com/roach88/sqlpipe/internal/metrics"
	"github.com/roach88/sqlpipe/internal/op"
	"github.com/roach88/sqlpipe/internal/pipeline"
)

// DefaultJoinTimeout bounds how long Close waits for the worker.
const DefaultJoinTimeout = 5 * time.Second

var (
	// ErrShutdownTimeout is returned by Close when the worker had to be
	// terminated.
	ErrShutdownTimeout = errors.New("worker: shutdown timeout")

	// ErrNotStarted is returned for requests made before Start.
	ErrNotStarted = errors.New("worker: not started")

	// ErrClosed is returned for requests made after Close.
	ErrClosed = errors.New("worker: closed")
)

// Config holds client settings.
type Config struct {
	Pipeline pipeline.Config

	// JoinTimeout bounds Close. Zero means DefaultJoinTimeout.
	JoinTimeout time.Duration

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int
}

// Event is a pipeline notification delivered to the owner.
type Event struct {
	Kind pipeline.Kind

	State       machine.State
	OperationID string

	// Operation and Topic are set for completions of requests made through
	// the client.
	Operation string
	Topic     string

	Result    op.Result
	QueueSize int
	Error     string
}

// Client owns a worker goroutine.
type Client struct {
	cfg      Config
	ids      op.IDGenerator
	now      func() time.Time
	logger   zerolog.Logger
	stats    *metrics.Metrics
	popts    []pipeline.Option
	registry *op.Registry

	p      *pipeline.Pipeline
	loop   *loop
	outbox *mailbox[pipeline.Notification]
	events chan Event
	cancel context.CancelFunc
	done   chan struct{} // worker goroutine exited

	started atomic.Bool
	closed  atomic.Bool

	// submitMu orders owner pushes against the shutdown closure: a push
	// that passed the closed check lands ahead of it in the mailbox.
	submitMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	forceOnce sync.Once

	// Owner-side view, updated by the dispatcher.
	state     atomic.Value // machine.State
	connected atomic.Bool
	queueSize atomic.Int64
	current   atomic.Value // string
}

// Option configures a Client.
type Option func(*Client)

// WithIDGenerator replaces the UUIDv7 generator.
func WithIDGenerator(g op.IDGenerator) Option {
	return func(c *Client) { c.ids = g }
}

// WithClock sets the time source for request and result timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the logger for the client and its pipeline.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records pipeline activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.stats = m }
}

// WithPipelineOptions passes extra options to the pipeline.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(c *Client) { c.popts = append(c.popts, opts...) }
}

// New creates a client. Nothing runs until Start.
func New(cfg Config, opts ...Option) *Client {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	c := &Client{
		cfg:      cfg,
		ids:      op.UUIDv7Generator{},
		now:      time.Now,
		logger:   zerolog.Nop(),
		registry: op.NewRegistry(),
		loop:     newLoop(),
		outbox:   newMailbox[pipeline.Notification](),
		events:   make(chan Event, cfg.EventBuffer),
		done:     make(chan struct{}),
	}
	c.state.Store(machine.StateUninitialized)
	c.current.Store("")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start checks the transition table, launches the worker and returns
// without waiting for the database. A table that cannot be loaded is
// returned as an initialization error and nothing is launched.
func (c *Client) Start(ctx context.Context) error {
	src := c.cfg.Pipeline.Table
	if src == nil {
		src = machine.DefaultSource()
	}
	if _, err := src(); err != nil {
		if !op.IsInitializationError(err) {
			err = op.NewInitializationError("load transition table", err)
		}
		return err
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	ctx, c.cancel = context.WithCancel(ctx)
	popts := append([]pipeline.Option{
		pipeline.WithClock(c.now),
		pipeline.WithLogger(c.logger),
		pipeline.WithMetrics(c.stats),
		pipeline.WithNotify(func(n pipeline.Notification) { c.outbox.push(n) }),
	}, c.popts...)
	p := pipeline.New(ctx, c.loop, c.cfg.Pipeline, popts...)
	c.p = p

	go func() {
		defer close(c.done)
		defer c.outbox.close()
		c.loop.run()

		// Still on the worker goroutine: fail what is left and release the
		// session, after a graceful stop or a forced one.
		if err := p.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("close session")
		}
	}()
	go c.dispatch()

	c.loop.Post(func() {
		if err := p.Initialize(); err != nil {
			c.fail(p, err)
			return
		}
		if err := p.Start(); err != nil {
			c.fail(p, err)
		}
	})
	return nil
}

// fail reports an error raised while starting inside the worker.
func (c *Client) fail(p *pipeline.Pipeline, err error) {
	c.logger.Error().Err(err).Msg("pipeline start failed")
	c.outbox.push(pipeline.Notification{Kind: pipeline.KindError, Error: err.Error()})
	p.Shutdown()
}

// Events returns the notification channel. It is closed once the worker has
// exited and every notification has been delivered. Callers must keep
// receiving from it until then.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close shuts the pipeline down. Requests still queued complete with a
// failure. If the worker does not exit within the join timeout it is
// terminated, the statement in progress is interrupted, and Close returns
// ErrShutdownTimeout. Close is idempotent.
func (c *Client) Close() error {
	if !c.started.Load() {
		return nil
	}
	c.closeOnce.Do(func() {
		p := c.p
		c.submitMu.Lock()
		c.closed.Store(true)
		c.loop.Post(func() {
			p.Shutdown()
			c.loop.Post(c.loop.stop)
		})
		c.submitMu.Unlock()

		timer := time.NewTimer(c.cfg.JoinTimeout)
		defer timer.Stop()

		select {
		case <-c.done:
			c.cancel()
		case <-timer.C:
			c.terminate()
			c.closeErr = ErrShutdownTimeout
		}
	})
	return c.closeErr
}

// terminate forces the worker down. It runs at most once.
func (c *Client) terminate() {
	c.forceOnce.Do(func() {
		c.logger.Error().
			Dur("timeout", c.cfg.JoinTimeout).
			Str("operation_id", c.CurrentOperationID()).
			Msg("shutdown timeout, forcing exit")
		c.cancel()
		c.loop.stop()
	})
}

// CurrentState returns the last state reported by the worker.
func (c *Client) CurrentState() machine.State {
	return c.state.Load().(machine.State)
}

// IsConnected reports whether the worker last reported a usable session.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// QueueSize returns the last queue length reported by the worker.
func (c *Client) QueueSize() int {
	return int(c.queueSize.Load())
}

// CurrentOperationID returns the id of the request the worker last reported
// as started and not yet completed, or "".
func (c *Client) CurrentOperationID() string {
	return c.current.Load().(string)
}

// dispatch redelivers outbox notifications as Events, in order.
func (c *Client) dispatch() {
	defer close(c.events)
	for {
		n, ok := c.outbox.next()
		if !ok {
			return
		}
		c.events <- c.translate(n)
	}
}

func (c *Client) translate(n pipeline.Notification) Event {
	ev := Event{
		Kind:        n.Kind,
		State:       n.State,
		OperationID: n.OperationID,
		Result:      n.Result,
		QueueSize:   n.QueueSize,
		Error:       n.Error,
	}

	switch n.Kind {
	case pipeline.KindStateChanged:
		c.state.Store(n.State)
	case pipeline.KindConnected:
		c.connected.Store(true)
	case pipeline.KindDisconnected:
		c.connected.Store(false)
	case pipeline.KindQueueSize:
		c.queueSize.Store(int64(n.QueueSize))
	case pipeline.KindStarted:
		c.current.Store(n.OperationID)
	case pipeline.KindCompleted:
		c.current.CompareAndSwap(n.OperationID, "")
		ev.Operation = c.registry.Get(n.OperationID)
		ev.Topic = catalog.Topic(ev.Operation)
		c.registry.Delete(n.OperationID)
	}
	return ev
}
