package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/pkg/retry"
)

// RetryConfig is the per-handler retry policy of a Dispatcher.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Timeout bounds a single handler attempt.
	Timeout time.Duration
}

// DefaultRetryConfig: 3 retries, 200ms..5s backoff, 30s per attempt.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Timeout:        30 * time.Second,
	}
}

// DispatcherConfig configures NewDispatcher.
type DispatcherConfig struct {
	EventBus    shared.EventSubscriber
	RetryConfig RetryConfig
	// DeadLetterQueueSize bounds the dead letter queue; 0 disables it.
	DeadLetterQueueSize int
	Logger              *slog.Logger
}

// DefaultDispatcherConfig keeps up to 1000 dead letters.
func DefaultDispatcherConfig(bus shared.EventSubscriber) DispatcherConfig {
	return DispatcherConfig{EventBus: bus, RetryConfig: DefaultRetryConfig(), DeadLetterQueueSize: 1000}
}

// HandlerRegistration is a named handler with its own retry budget.
type HandlerRegistration struct {
	Name       string
	Handler    shared.EventHandler
	MaxRetries int
	Timeout    time.Duration
}

// Middleware decorates a handler.
type Middleware func(shared.EventHandler) shared.EventHandler

// Dispatcher subscribes to a bus and runs named handlers per event type.
// Each handler attempt is bounded by a timeout and retried with backoff.
// Handlers that return retry.Permanent errors are not retried. Events that
// exhaust a handler's retries go to the dead letter queue.
type Dispatcher struct {
	bus   shared.EventSubscriber
	retry RetryConfig
	dlq   *DeadLetterQueue
	log   *slog.Logger
	ctx   context.Context
	stop  context.CancelFunc

	mu         sync.RWMutex
	routes     map[shared.EventType][]HandlerRegistration
	middleware []Middleware
}

// NewDispatcher creates a dispatcher. Call Start to subscribe it.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		bus:    cfg.EventBus,
		retry:  cfg.RetryConfig,
		log:    cfg.Logger.With("component", "dispatcher"),
		ctx:    ctx,
		stop:   cancel,
		routes: make(map[shared.EventType][]HandlerRegistration),
	}
	if cfg.DeadLetterQueueSize > 0 {
		d.dlq = NewDeadLetterQueue(cfg.DeadLetterQueueSize)
	}
	return d
}

// RegisterHandler adds reg for eventType. A zero Timeout takes the
// dispatcher default.
func (d *Dispatcher) RegisterHandler(eventType shared.EventType, reg HandlerRegistration) error {
	switch {
	case reg.Handler == nil:
		return errNilHandler
	case reg.Name == "":
		return errors.New("handler name is required")
	}
	if reg.Timeout <= 0 {
		reg.Timeout = d.retry.Timeout
	}

	d.mu.Lock()
	d.routes[eventType] = append(d.routes[eventType], reg)
	d.mu.Unlock()

	d.log.Debug("registered handler", "event_type", eventType, "handler", reg.Name)
	return nil
}

// Register adds a handler with the dispatcher's retry budget.
func (d *Dispatcher) Register(eventType shared.EventType, name string, h shared.EventHandler) error {
	return d.RegisterHandler(eventType, HandlerRegistration{Name: name, Handler: h, MaxRetries: d.retry.MaxRetries})
}

// Use appends middleware. The first registered middleware is outermost.
func (d *Dispatcher) Use(m Middleware) {
	d.mu.Lock()
	d.middleware = append(d.middleware, m)
	d.mu.Unlock()
}

// Start subscribes Dispatch to every event on the bus.
func (d *Dispatcher) Start() error {
	if d.bus == nil {
		return errors.New("dispatcher has no event bus")
	}
	return d.bus.SubscribeAll(d.Dispatch)
}

// Stop cancels pending retries and in-flight attempts.
func (d *Dispatcher) Stop() error {
	d.stop()
	d.log.Info("dispatcher stopped")
	return nil
}

// DeadLetterQueue is nil when disabled.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.dlq
}

// Dispatch runs the handlers registered for the event's type in order and
// joins the errors of those that gave up.
func (d *Dispatcher) Dispatch(event shared.Event) error {
	d.mu.RLock()
	regs := d.routes[event.EventType()]
	chain := d.middleware
	d.mu.RUnlock()

	var errs []error
	for _, reg := range regs {
		h := reg.Handler
		for i := len(chain) - 1; i >= 0; i-- {
			h = chain[i](h)
		}
		if err := d.runWithRetries(event, reg, h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) runWithRetries(event shared.Event, reg HandlerRegistration, h shared.EventHandler) error {
	attempts := 0
	err := retry.New(
		retry.WithMaxAttempts(reg.MaxRetries+1),
		retry.WithInitialDelay(d.retry.InitialBackoff),
		retry.WithMaxDelay(d.retry.MaxBackoff),
		retry.WithRetryIf(func(err error) bool { return !retry.IsPermanent(err) }),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			d.log.Debug("retrying handler", "handler", reg.Name, "attempt", attempt, "backoff", delay, "error", err)
		}),
	).Do(d.ctx, func(ctx context.Context) error {
		attempts++
		return attempt(ctx, h, event, reg.Timeout)
	})
	if err == nil {
		return nil
	}

	if d.dlq != nil {
		d.dlq.Add(DeadLetterEntry{
			Event:       event,
			HandlerName: reg.Name,
			Error:       err,
			Attempts:    attempts,
			FailedAt:    time.Now().UTC(),
		})
	}
	return fmt.Errorf("handler %s failed after %d attempts: %w", reg.Name, attempts, err)
}

// attempt runs h once. A timed-out handler keeps running in the background;
// its result is discarded.
func attempt(ctx context.Context, h shared.EventHandler, event shared.Event, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h(event) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("handler timeout after %v", timeout)
		}
		return retry.Permanent(ctx.Err())
	}
}

// RecoveryMiddleware turns a handler panic into a permanent error.
func RecoveryMiddleware(log *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic recovered", "event_type", event.EventType(),
						"panic", r, "stack", string(debug.Stack()))
					err = retry.Permanent(fmt.Errorf("handler panic: %v", r))
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware logs every handler attempt with its duration.
func LoggingMiddleware(log *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			attrs := []any{"event_type", event.EventType(), "aggregate_id", event.AggregateID(),
				"duration", time.Since(start)}
			if err != nil {
				log.Warn("handler failed", append(attrs, "error", err)...)
			} else {
				log.Debug("handler completed", attrs...)
			}
			return err
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is an event a handler gave up on.
type DeadLetterEntry struct {
	Event       shared.Event
	HandlerName string
	Error       error
	Attempts    int
	FailedAt    time.Time
}

// DeadLetterQueue is a bounded FIFO; at capacity the oldest entry is dropped.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	limit   int
}

// NewDeadLetterQueue creates a queue holding at most limit entries.
func NewDeadLetterQueue(limit int) *DeadLetterQueue {
	if limit <= 0 {
		limit = 1000
	}
	return &DeadLetterQueue{limit: limit}
}

func (q *DeadLetterQueue) Add(e DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == q.limit {
		q.entries = append(q.entries[:0], q.entries[1:]...)
	}
	q.entries = append(q.entries, e)
}

func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetterEntry(nil), q.entries...)
}

func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pop removes the oldest entry.
func (q *DeadLetterQueue) Pop() (DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return DeadLetterEntry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}
