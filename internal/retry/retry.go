// Package retry reconnects the storage session with bounded exponential
// backoff.
package retry

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/sqlpipe/internal/sched"
)

// Default retry configuration values.
const (
	DefaultMaxRetries = 3
	DefaultBase       = time.Second
)

// Config bounds the retry schedule.
type Config struct {
	// MaxRetries is the number of reconnect attempts before giving up.
	MaxRetries int

	// Base is the delay before the first attempt. Attempt n waits
	// Base << (n-1).
	Base time.Duration
}

// DefaultConfig returns three attempts starting at one second.
func DefaultConfig() Config {
	return Config{MaxRetries: DefaultMaxRetries, Base: DefaultBase}
}

// Manager schedules reconnect attempts after connection failures.
//
// Attempts are chained: a failed attempt schedules the next one, so at most
// one attempt is pending at a time. Once MaxRetries attempts have failed the
// manager is exhausted; it reports that exactly once and ignores further
// failures until Reset.
//
// Thread-safety: a Manager is owned by the pipeline goroutine. Its timers
// post back through the scheduler, so no locking is needed.
type Manager struct {
	sched   sched.Scheduler
	cfg     Config
	connect func() error

	attempts  int
	pending   bool
	exhausted bool
	stopped   bool

	onSuccess   func()
	onExhausted func(err error)
	onAttempt   func(attempt int, delay time.Duration)
	logger      zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// OnSuccess is called after an attempt reconnects.
func OnSuccess(fn func()) Option {
	return func(m *Manager) { m.onSuccess = fn }
}

// OnExhausted is called once, with the last failure, when retries run out.
func OnExhausted(fn func(err error)) Option {
	return func(m *Manager) { m.onExhausted = fn }
}

// OnAttempt is called each time an attempt is scheduled.
func OnAttempt(fn func(attempt int, delay time.Duration)) Option {
	return func(m *Manager) { m.onAttempt = fn }
}

// WithLogger sets the manager logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager that calls connect for every attempt. Non-positive
// config values fall back to the defaults.
func New(s sched.Scheduler, cfg Config, connect func() error, opts ...Option) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Base <= 0 {
		cfg.Base = DefaultBase
	}
	m := &Manager{
		sched:   s,
		cfg:     cfg,
		connect: connect,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandleFailure reacts to a connection failure by scheduling the next
// attempt, or by reporting exhaustion when none are left.
func (m *Manager) HandleFailure(err error) {
	if m.stopped {
		m.logger.Debug().Err(err).Msg("connection failure after stop")
		return
	}
	if m.exhausted {
		m.logger.Warn().Err(err).Msg("connection failure after retries exhausted")
		return
	}
	if m.pending {
		m.logger.Debug().Err(err).Msg("reconnect already scheduled")
		return
	}

	if m.attempts >= m.cfg.MaxRetries {
		m.exhausted = true
		m.logger.Error().Err(err).Int("attempts", m.attempts).Msg("retries exhausted")
		if m.onExhausted != nil {
			m.onExhausted(err)
		}
		return
	}

	m.attempts++
	attempt := m.attempts
	delay := m.Delay(attempt)
	m.pending = true

	m.logger.Info().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")
	if m.onAttempt != nil {
		m.onAttempt(attempt, delay)
	}

	m.sched.After(delay, func() { m.run(attempt) })
}

func (m *Manager) run(attempt int) {
	m.pending = false
	if m.exhausted || m.stopped {
		return
	}

	if err := m.connect(); err != nil {
		m.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
		m.HandleFailure(err)
		return
	}

	m.logger.Info().Int("attempt", attempt).Msg("reconnected")
	m.Reset()
	if m.onSuccess != nil {
		m.onSuccess()
	}
}

// Delay returns the wait before attempt n (1-based).
func (m *Manager) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return m.cfg.Base << (attempt - 1)
}

// Reset clears the attempt counter and the exhausted flag.
func (m *Manager) Reset() {
	m.attempts = 0
	m.exhausted = false
}

// Stop makes a pending attempt a no-op and refuses further failures. It is
// permanent; Reset does not undo it.
func (m *Manager) Stop() {
	m.stopped = true
}

// Attempts returns the number of attempts scheduled since the last Reset.
func (m *Manager) Attempts() int {
	return m.attempts
}

// Exhausted reports whether retries have run out.
func (m *Manager) Exhausted() bool {
	return m.exhausted
}
