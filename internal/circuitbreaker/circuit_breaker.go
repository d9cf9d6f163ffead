package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the admission mode of a breaker
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests in half-open state")
)

// Config tunes one breaker
type Config struct {
	MaxRequests      uint32        // trial calls admitted while half-open
	Interval         time.Duration // closed-state counter window, 0 keeps counters forever
	Timeout          time.Duration // how long the breaker stays open
	FailureThreshold uint32        // consecutive failures that trip a closed breaker
	SuccessThreshold uint32        // consecutive trial successes that close it again
	OnStateChange    func(name string, from State, to State)
	// IsSuccessful marks errors that say nothing about the dependency's
	// health (not found, validation). Nil counts every error as a failure.
	IsSuccessful func(err error) bool
}

func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// Counts are reset at every state change and at each closed-state window
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// CircuitBreaker guards calls to one dependency: the model API, the
// database, the cache or an auxiliary HTTP service.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger
	clock  func() time.Time

	mu     sync.Mutex
	state  State
	window uint64    // bumped on every reset so late results from an old window are dropped
	until  time.Time // end of the closed window or of the open period
	counts Counts
}

func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	cb := &CircuitBreaker{name: name, config: config, logger: logger, clock: time.Now}
	cb.resetWindow(cb.clock())
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn when the breaker admits it. A context that is already done
// short-circuits without touching the counters.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	window, err := cb.admit()
	if err != nil {
		return err
	}

	settled := false
	defer func() {
		if !settled {
			cb.settle(window, false)
		}
	}()
	err = fn()
	settled = true
	cb.settle(window, cb.neutral(ctx, err))
	return err
}

// Call wraps Execute for functions returning a value
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

// neutral reports whether err should count as a success
func (cb *CircuitBreaker) neutral(ctx context.Context, err error) bool {
	switch {
	case err == nil:
		return true
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		return true
	case cb.config.IsSuccessful != nil:
		return cb.config.IsSuccessful(err)
	}
	return false
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance(cb.clock())
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset forces the breaker closed with fresh counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(StateClosed, cb.clock())
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(cb.clock())
	switch {
	case cb.state == StateOpen:
		return cb.window, ErrCircuitBreakerOpen
	case cb.state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests:
		return cb.window, ErrTooManyRequests
	}
	cb.counts.Requests++
	return cb.window, nil
}

func (cb *CircuitBreaker) settle(window uint64, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock()
	cb.advance(now)
	if window != cb.window {
		return
	}
	if ok {
		cb.counts.success()
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.moveTo(StateClosed, now)
		}
		return
	}
	cb.counts.failure()
	switch cb.state {
	case StateHalfOpen:
		cb.moveTo(StateOpen, now)
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.moveTo(StateOpen, now)
		}
	}
}

// advance applies time-based transitions: closed windows roll over and an
// expired open period becomes half-open.
func (cb *CircuitBreaker) advance(now time.Time) {
	if cb.until.IsZero() || now.Before(cb.until) {
		return
	}
	switch cb.state {
	case StateClosed:
		cb.resetWindow(now)
	case StateOpen:
		cb.moveTo(StateHalfOpen, now)
	}
}

func (cb *CircuitBreaker) moveTo(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.resetWindow(now)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
	log := cb.logger.Info
	if to == StateOpen {
		log = cb.logger.Warn
	}
	log("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func (cb *CircuitBreaker) resetWindow(now time.Time) {
	cb.window++
	cb.counts = Counts{}
	cb.until = time.Time{}
	switch cb.state {
	case StateClosed:
		if cb.config.Interval > 0 {
			cb.until = now.Add(cb.config.Interval)
		}
	case StateOpen:
		cb.until = now.Add(cb.config.Timeout)
	}
}
