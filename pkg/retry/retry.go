// Package retry runs an operation until it succeeds, fails permanently or
// runs out of attempts, sleeping with capped exponential backoff between
// attempts. Operations mark their errors with Retryable or Permanent.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

type class uint8

const (
	classRetryable class = iota + 1
	classPermanent
)

// marked carries the retry class of the wrapped error.
type marked struct {
	err   error
	class class
}

func (m *marked) Error() string { return m.err.Error() }
func (m *marked) Unwrap() error { return m.err }

// Retryable marks err as transient. Nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, class: classRetryable}
}

// Permanent marks err as final: Do returns it at once. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, class: classPermanent}
}

func classOf(err error) class {
	var m *marked
	if errors.As(err, &m) {
		return m.class
	}
	return 0
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool { return classOf(err) == classRetryable }

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool { return classOf(err) == classPermanent }

// unmark strips the outermost marker so callers see the original error.
func unmark(err error) error {
	if m, ok := err.(*marked); ok {
		return m.err
	}
	return err
}

// Policy describes how a Retrier backs off.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter spreads each delay by up to ±Jitter of its value.
	Jitter float64

	// RetryIf decides which errors are retried. Nil means IsRetryable.
	RetryIf func(error) bool
	// OnRetry runs before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Option adjusts a Policy.
type Option func(*Policy)

func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.MaxAttempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.InitialDelay = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.MaxDelay = d
		}
	}
}

func WithMultiplier(m float64) Option {
	return func(p *Policy) {
		if m >= 1 {
			p.Multiplier = m
		}
	}
}

func WithJitter(j float64) Option {
	return func(p *Policy) {
		if j >= 0 && j <= 1 {
			p.Jitter = j
		}
	}
}

func WithRetryIf(fn func(error) bool) Option {
	return func(p *Policy) { p.RetryIf = fn }
}

func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *Policy) { p.OnRetry = fn }
}

// Retrier applies one Policy. It is safe for concurrent use.
type Retrier struct {
	policy Policy
}

// New starts from 3 attempts, 100ms doubling up to 30s with 10% jitter.
func New(opts ...Option) *Retrier {
	p := Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return &Retrier{policy: p}
}

// Policy returns a copy of the effective policy.
func (r *Retrier) Policy() Policy { return r.policy }

// Do calls op until it succeeds or the policy gives up. The returned error
// has its Retryable/Permanent marker removed. Cancelling ctx stops the
// loop; the last operation error wins over ctx.Err().
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	retryIf := r.policy.RetryIf
	if retryIf == nil {
		retryIf = IsRetryable
	}

	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return unmark(last)
			}
			return err
		}

		err := op(ctx)
		switch {
		case err == nil:
			return nil
		case IsPermanent(err), !retryIf(err), attempt >= r.policy.MaxAttempts:
			return unmark(err)
		}
		last = err

		delay := r.Backoff(attempt)
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return unmark(last)
		case <-timer.C:
		}
	}
}

// Backoff returns the sleep after the given failed attempt (1-based).
func (r *Retrier) Backoff(attempt int) time.Duration {
	p := r.policy
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	d = math.Min(d, float64(p.MaxDelay))
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(math.Max(d, 0))
}

// WebhookRetrier is the policy of mentor webhook deliveries.
func WebhookRetrier() *Retrier {
	return New(
		WithMaxAttempts(4),
		WithInitialDelay(250*time.Millisecond),
		WithMaxDelay(5*time.Second),
		WithJitter(0.1),
	)
}

// DatabaseRetrier is the policy of connection probes to Postgres and Redis.
func DatabaseRetrier() *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.05),
	)
}
