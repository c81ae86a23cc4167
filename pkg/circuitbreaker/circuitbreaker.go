// Package circuitbreaker guards calls to an unreliable dependency. After a
// run of failures the breaker opens and rejects calls; once the cooldown
// has passed it lets probe calls through and closes again when they succeed.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State uint8

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	return [...]string{"closed", "open", "half-open", "unknown"}[min(int(s), 3)]
}

var (
	// ErrCircuitOpen rejects calls while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests rejects calls beyond the half-open probe budget.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type settings struct {
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	probes           int
	isFailure        func(error) bool
	onStateChange    func(name string, from, to State)
	now              func() time.Time
}

// Option configures a breaker.
type Option func(*settings)

// WithFailureThreshold opens the breaker after n consecutive failures.
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.failureThreshold = n
		}
	}
}

// WithSuccessThreshold closes a half-open breaker after n consecutive successes.
func WithSuccessThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.successThreshold = n
		}
	}
}

// WithTimeout sets how long the breaker stays open before probing.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithMaxHalfOpenRequests sets the number of concurrent probes.
func WithMaxHalfOpenRequests(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.probes = n
		}
	}
}

// WithIsFailure selects which errors count against the breaker.
// Errors it rejects are returned to the caller but treated as successes.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) { s.isFailure = fn }
}

// WithOnStateChange registers a transition callback. It runs under the
// breaker lock and must not call back into the breaker.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) { s.onStateChange = fn }
}

func withClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// Counts are lifetime totals plus the current streaks.
type Counts struct {
	Requests             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name string
	cfg  settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	inFlight int
}

// New creates a closed breaker. Defaults: 5 failures to open, 30s
// cooldown, 1 probe, 2 successes to close.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{
		failureThreshold: 5,
		successThreshold: 2,
		cooldown:         30 * time.Second,
		probes:           1,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{name: name, cfg: cfg}
}

// Name of the breaker.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn unless the breaker rejects the call.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(probe, err)
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.now().Sub(cb.openedAt) < cb.cfg.cooldown {
			return false, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.inFlight >= cb.cfg.probes {
			return false, ErrTooManyRequests
		}
		cb.inFlight++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe && cb.state == StateHalfOpen {
		cb.inFlight--
	}
	cb.counts.Requests++

	failed := err != nil && (cb.cfg.isFailure == nil || cb.cfg.isFailure(err))
	if !failed {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.successThreshold {
			cb.transition(StateClosed)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	switch {
	case cb.state == StateHalfOpen,
		cb.state == StateClosed && cb.counts.ConsecutiveFailures >= cb.cfg.failureThreshold:
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.counts.ConsecutiveFailures = 0
	cb.counts.ConsecutiveSuccesses = 0
	cb.inFlight = 0
	if to == StateOpen {
		cb.openedAt = cb.cfg.now()
	}
	if cb.cfg.onStateChange != nil {
		cb.cfg.onStateChange(cb.name, from, to)
	}
}

// State returns the current state. An open breaker whose cooldown has
// passed still reports open until the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns a snapshot of the counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker and clears the counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.counts = Counts{}
}

// WebhookBreaker guards the mentor webhook. isFailure decides which
// delivery errors count; onStateChange may be nil.
func WebhookBreaker(isFailure func(error) bool, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("mentor-webhook",
		WithFailureThreshold(5),
		WithTimeout(30*time.Second),
		WithIsFailure(isFailure),
		WithOnStateChange(onStateChange),
	)
}
