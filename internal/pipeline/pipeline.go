// Package pipeline binds the transition controller to the queue, the query
// executor and the retry manager, and runs the single-flight execution loop.
//
// Everything in this package runs on the pipeline goroutine supplied by the
// scheduler. Only State, QueueSize and CurrentOperationID may be read from
// other goroutines.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/sqlpipe/internal/executor"
	"github.com/roach88/sqlpipe/internal/machine"
	"github.com/roach88/sqlpipe/internal/metrics"
	"github.com/roach88/sqlpipe/internal/op"
	"github.com/roach88/sqlpipe/internal/queue"
	"github.com/roach88/sqlpipe/internal/retry"
	"github.com/roach88/sqlpipe/internal/sched"
	"github.com/roach88/sqlpipe/internal/store"
)

// Failure messages for requests that never reach the executor.
const (
	MsgPipelineStopped    = "pipeline stopped"
	MsgUnsupportedRequest = "unsupported operation type"
)

// Executor runs requests and immediate commands against a session.
type Executor interface {
	Execute(ctx context.Context, sess executor.Session, req op.Request) (op.Result, error)
	Command(ctx context.Context, sess executor.Session, command string, params op.Params) error
}

// Connector opens the storage session.
type Connector func(ctx context.Context, path string) (*store.Store, error)

// Config holds pipeline settings.
type Config struct {
	// Database is the SQLite path handed to the connector.
	Database string

	// Retry bounds reconnect attempts.
	Retry retry.Config

	// Table is where the transition table is loaded from. Nil means the
	// embedded default.
	Table machine.Source
}

// Pipeline is the worker-side half of the system.
type Pipeline struct {
	ctx    context.Context
	cfg    Config
	sched  sched.Scheduler
	ctrl   *machine.Controller
	queue  *queue.Queue
	retry  *retry.Manager
	exec   Executor
	dial   Connector
	notify func(Notification)
	now    func() time.Time
	stats  *metrics.Metrics
	logger zerolog.Logger

	session *store.Store

	processing bool
	scheduled  bool
	current    atomic.Value // string
	connected  bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithExecutor replaces the query executor.
func WithExecutor(e Executor) Option {
	return func(p *Pipeline) { p.exec = e }
}

// WithConnector replaces store.Open.
func WithConnector(c Connector) Option {
	return func(p *Pipeline) { p.dial = c }
}

// WithNotify sets the notification sink.
func WithNotify(fn func(Notification)) Option {
	return func(p *Pipeline) { p.notify = fn }
}

// WithClock sets the time source for results.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithMetrics records pipeline activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.stats = m }
}

// WithLogger sets the pipeline logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New builds a pipeline. ctx bounds every storage call; cancelling it
// interrupts a statement that is in progress.
func New(ctx context.Context, s sched.Scheduler, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		ctx:    ctx,
		cfg:    cfg,
		sched:  s,
		dial:   store.Open,
		notify: func(Notification) {},
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	p.current.Store("")
	for _, opt := range opts {
		opt(p)
	}
	if p.exec == nil {
		p.exec = executor.New(executor.WithClock(p.now), executor.WithLogger(p.logger))
	}

	src := cfg.Table
	if src == nil {
		src = machine.DefaultSource()
	}
	p.ctrl = machine.NewController(s, machine.WithSource(src), machine.WithLogger(p.logger))
	p.ctrl.OnSettle(p.settled)

	p.queue = queue.New(
		queue.WithMirror(sessionMirror{p}),
		queue.WithLogger(p.logger),
		queue.WithChangeHook(func(n int) {
			p.stats.SetQueueDepth(n)
			p.notify(Notification{Kind: KindQueueSize, QueueSize: n})
		}),
		queue.WithEnqueueHook(func(req op.Request) {
			p.notify(Notification{Kind: KindQueued, OperationID: req.ID})
		}),
	)

	p.retry = retry.New(s, cfg.Retry, p.openSession,
		retry.WithLogger(p.logger),
		retry.OnAttempt(func(int, time.Duration) { p.stats.RetryAttempt() }),
		retry.OnSuccess(func() { p.ctrl.Submit(machine.EventDBExists, nil) }),
		retry.OnExhausted(func(err error) {
			p.notify(Notification{Kind: KindError, Error: fmt.Sprintf("retries exhausted: %v", err)})
			p.ctrl.Submit(machine.EventRetryExhausted, err.Error())
		}),
	)

	p.bind()
	return p
}

// Initialize loads the transition table.
func (p *Pipeline) Initialize() error {
	return p.ctrl.Initialize()
}

// Start enters the initial state.
func (p *Pipeline) Start() error {
	return p.ctrl.Start()
}

// Controller exposes the transition controller.
func (p *Pipeline) Controller() *machine.Controller {
	return p.ctrl
}

// State returns the controller state. Safe from any goroutine.
func (p *Pipeline) State() machine.State {
	return p.ctrl.State()
}

// QueueSize returns the number of queued requests. Safe from any goroutine.
func (p *Pipeline) QueueSize() int {
	return p.queue.Len()
}

// CurrentOperationID returns the id of the request in flight, or "".
// Safe from any goroutine.
func (p *Pipeline) CurrentOperationID() string {
	return p.current.Load().(string)
}

// Enqueue accepts req. Once the pipeline is final the request fails
// immediately; otherwise it is queued and an idle controller is started.
func (p *Pipeline) Enqueue(req op.Request) {
	if p.ctrl.State() == machine.StateFinal {
		p.logger.Debug().Str("operation_id", req.ID).Msg("request rejected: pipeline stopped")
		p.finish(op.Failed(req.ID, MsgPipelineStopped, p.now()))
		return
	}

	p.queue.Enqueue(p.ctx, req)

	if p.ctrl.State() == machine.StateIdle {
		p.ctrl.Submit(machine.EventStart, nil)
	}
}

// Exec runs command immediately, outside the queue. It reports false when
// the pipeline is not connected or the command fails.
func (p *Pipeline) Exec(command string, params op.Params) bool {
	if !p.ctrl.State().Connected() {
		p.logger.Debug().Str("command", command).Msg("immediate command rejected: not connected")
		return false
	}
	return p.exec.Command(p.ctx, p.conn(), command, params) == nil
}

// Shutdown submits the shutdown event.
func (p *Pipeline) Shutdown() {
	p.ctrl.Submit(machine.EventShutdown, nil)
}

// Close fails whatever is still queued, stops the controller and closes the
// session. It is the last call made on the pipeline goroutine.
func (p *Pipeline) Close() error {
	p.retry.Stop()
	p.failPending()
	p.ctrl.Stop()
	return p.closeSession()
}

// processNext is one iteration of the execution loop.
func (p *Pipeline) processNext() {
	p.scheduled = false

	if p.processing {
		return
	}
	// Stop only prevents the next item from starting.
	if p.ctrl.State() != machine.StateRunning {
		return
	}

	req, ok := p.queue.Dequeue(p.ctx)
	if !ok {
		p.ctrl.Submit(machine.EventStop, nil)
		return
	}

	p.processing = true
	p.current.Store(req.ID)
	p.notify(Notification{Kind: KindStarted, OperationID: req.ID})

	var (
		res op.Result
		err error
	)
	switch req.Type {
	case op.TypeQuery:
		res, err = p.exec.Execute(p.ctx, p.conn(), req)
	default:
		res = op.Failed(req.ID, fmt.Sprintf("%s: %s", MsgUnsupportedRequest, req.Type), p.now())
	}

	// The error transition is queued ahead of the next iteration.
	if err != nil {
		p.ctrl.Submit(machine.EventTaskError, err.Error())
	}
	p.complete(res)
}

func (p *Pipeline) complete(res op.Result) {
	p.processing = false
	p.current.Store("")
	p.finish(res)
	p.scheduleNext()
}

func (p *Pipeline) finish(res op.Result) {
	p.stats.OperationCompleted(res.Success)
	p.notify(Notification{Kind: KindCompleted, OperationID: res.OperationID, Result: res})
}

// scheduleNext posts one loop iteration unless one is already pending.
func (p *Pipeline) scheduleNext() {
	if p.scheduled {
		return
	}
	p.scheduled = true
	p.sched.Post(p.processNext)
}

func (p *Pipeline) failPending() {
	for _, req := range p.queue.Drain() {
		p.finish(op.Failed(req.ID, MsgPipelineStopped, p.now()))
	}
}

func (p *Pipeline) settled(from, to machine.State, _ machine.Event) {
	p.stats.Transition(string(from), string(to))
	p.notify(Notification{Kind: KindStateChanged, State: to})

	switch {
	case to.Connected() && !p.connected:
		p.connected = true
		p.notify(Notification{Kind: KindConnected})
	case (to == machine.StateError || to == machine.StateFinal) && p.connected:
		p.connected = false
		p.notify(Notification{Kind: KindDisconnected})
	}
}

// openSession connects if there is no session yet.
func (p *Pipeline) openSession() error {
	if p.session != nil {
		return nil
	}
	s, err := p.dial(p.ctx, p.cfg.Database)
	if err != nil {
		return op.NewConnectionError("open session", err)
	}
	p.session = s
	p.logger.Info().Str("database", p.cfg.Database).Bool("existed", s.Existed()).Msg("session opened")
	return nil
}

func (p *Pipeline) closeSession() error {
	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	return err
}

// conn returns the session connection, or a nil interface when there is
// none.
func (p *Pipeline) conn() executor.Session {
	if p.session == nil {
		return nil
	}
	c := p.session.Conn()
	if c == nil {
		return nil
	}
	return c
}

// sessionMirror forwards queue mirror writes to the current session. Writes
// made while there is no session are skipped.
type sessionMirror struct{ p *Pipeline }

func (m sessionMirror) MirrorPending(ctx context.Context, id, opType, params string) error {
	if m.p.session == nil {
		return nil
	}
	return m.p.session.MirrorPending(ctx, id, opType, params)
}

func (m sessionMirror) MirrorProcessing(ctx context.Context, id, opType string) error {
	if m.p.session == nil {
		return nil
	}
	return m.p.session.MirrorProcessing(ctx, id, opType)
}
