package machine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/roach88/sqlpipe/internal/op"
	"github.com/roach88/sqlpipe/internal/sched"
)

// ActionContext is passed to an entry action.
type ActionContext struct {
	// State is the state being entered.
	State State

	// Event is the event that caused the transition. Empty for the initial
	// state.
	Event Event

	// Payload is the value submitted with Event.
	Payload any
}

// ActionFunc implements an entry action.
type ActionFunc func(ActionContext)

// Listener observes settle points.
type Listener func(from, to State, ev Event)

// Controller evaluates a transition table.
//
// Initialize, Start, Stop and Bind must be called on the pipeline goroutine.
// Submit may be called from anywhere. State and Running are safe to read
// from any goroutine.
type Controller struct {
	sched  sched.Scheduler
	source Source
	logger zerolog.Logger

	table     *Table
	actions   map[Action]ActionFunc
	listeners []Listener

	state   atomic.Value // State
	running atomic.Bool

	mu sync.Mutex // guards listeners and actions during setup
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithSource sets where Initialize loads the table from. The default is the
// embedded table.
func WithSource(src Source) Option {
	return func(c *Controller) { c.source = src }
}

// NewController creates a controller in StateUninitialized.
func NewController(s sched.Scheduler, opts ...Option) *Controller {
	c := &Controller{
		sched:   s,
		source:  DefaultSource(),
		logger:  zerolog.Nop(),
		actions: make(map[Action]ActionFunc),
	}
	c.state.Store(StateUninitialized)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind attaches fn to action. Binding twice replaces the earlier function.
func (c *Controller) Bind(action Action, fn ActionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions[action] = fn
}

// OnSettle registers a listener for settle points.
func (c *Controller) OnSettle(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Initialize loads the table. It is idempotent: once a table is loaded
// further calls return nil without reloading.
func (c *Controller) Initialize() error {
	if c.table != nil {
		return nil
	}
	t, err := c.source()
	if err != nil {
		if !op.IsInitializationError(err) {
			err = op.NewInitializationError("load transition table", err)
		}
		return err
	}
	c.table = t
	c.logger.Debug().Str("source", t.Source).Int("states", len(t.states)).Msg("transition table loaded")
	return nil
}

// Table returns the loaded table, or nil before Initialize.
func (c *Controller) Table() *Table {
	return c.table
}

// Start enters the initial state and runs its entry actions. Every action
// named by the table must be bound. Calling Start while running is a no-op.
func (c *Controller) Start() error {
	if c.table == nil {
		return op.NewInitializationError("controller not initialized", nil)
	}
	if c.running.Load() {
		return nil
	}

	c.mu.Lock()
	for _, def := range c.table.states {
		for _, a := range def.Entry {
			if c.actions[a] == nil {
				c.mu.Unlock()
				return op.NewInitializationError(fmt.Sprintf("action %q used by state %q is not bound", a, def.Name), nil)
			}
		}
	}
	c.mu.Unlock()

	c.running.Store(true)
	c.logger.Info().Str("state", string(c.table.Initial)).Msg("controller started")
	c.enter(c.table.Initial, "", nil)
	return nil
}

// Stop halts evaluation. Events submitted afterwards are ignored.
func (c *Controller) Stop() {
	if c.running.Swap(false) {
		c.logger.Info().Str("state", string(c.State())).Msg("controller stopped")
	}
}

// Running reports whether the controller is evaluating events.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// State returns the active state.
func (c *Controller) State() State {
	return c.state.Load().(State)
}

// Submit queues ev for evaluation on the pipeline goroutine.
// Thread-safe and non-blocking.
func (c *Controller) Submit(ev Event, payload any) {
	c.sched.Post(func() { c.process(ev, payload) })
}

func (c *Controller) process(ev Event, payload any) {
	log := c.logger.With().Str("event", string(ev)).Str("state", string(c.State())).Logger()

	if !c.running.Load() {
		log.Debug().Msg("event ignored: controller not running")
		return
	}

	next, ok := c.table.Next(c.State(), ev)
	if !ok {
		log.Debug().Msg("event ignored: no transition")
		return
	}

	log.Debug().Str("target", string(next)).Msg("transition")
	c.enter(next, ev, payload)
}

func (c *Controller) enter(s State, ev Event, payload any) {
	from := c.State()
	c.state.Store(s)

	def, _ := c.table.State(s)
	actx := ActionContext{State: s, Event: ev, Payload: payload}

	c.mu.Lock()
	actions := make([]ActionFunc, 0, len(def.Entry))
	for _, a := range def.Entry {
		actions = append(actions, c.actions[a])
	}
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, fn := range actions {
		fn(actx)
	}

	if def.Final {
		c.running.Store(false)
	}

	// Settle point.
	for _, l := range listeners {
		l(from, s, ev)
	}
}
