// Package messaging carries domain events from committed evaluation cycles
// to their handlers. The in-memory bus serves a single worker; the Redis
// bus fans events out to every worker instance over Pub/Sub.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/metrics"
)

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures NewInMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers in goroutines, at most WorkerPoolSize at a time.
	// Otherwise Publish runs them inline.
	AsyncMode      bool
	WorkerPoolSize int
	Logger         *slog.Logger
}

// DefaultInMemoryEventBusConfig is async with 10 workers.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 10}
}

// subscription with an empty eventType receives every event.
type subscription struct {
	eventType shared.EventType
	handler   shared.EventHandler
}

// InMemoryEventBus implements shared.EventBus inside one process.
// Handler errors and panics are logged and never reach the publisher.
type InMemoryEventBus struct {
	async   bool
	slots   *semaphore.Weighted
	log     *slog.Logger
	pending sync.WaitGroup
	stop    context.CancelFunc
	stopped context.Context

	mu     sync.RWMutex
	subs   []subscription
	closed bool
}

// NewInMemoryEventBus creates an open bus.
func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryEventBus{
		async:   cfg.AsyncMode,
		slots:   semaphore.NewWeighted(int64(cfg.WorkerPoolSize)),
		log:     cfg.Logger,
		stop:    cancel,
		stopped: ctx,
	}
}

func (b *InMemoryEventBus) add(s subscription) error {
	if s.handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.subs = append(b.subs, s)
	return nil
}

// Subscribe registers handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.add(subscription{eventType: eventType, handler: handler})
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.add(subscription{handler: handler})
}

// Publish hands event to every matching subscriber in registration order.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	var targets []shared.EventHandler
	for _, s := range b.subs {
		if s.eventType == "" || s.eventType == event.EventType() {
			targets = append(targets, s.handler)
		}
	}
	if b.async {
		b.pending.Add(len(targets))
	}
	b.mu.RUnlock()

	metrics.EventPublished(string(event.EventType()))

	for _, h := range targets {
		if !b.async {
			b.deliver(event, h)
			continue
		}
		go func() {
			defer b.pending.Done()
			if err := b.slots.Acquire(b.stopped, 1); err != nil {
				return
			}
			defer b.slots.Release(1)
			b.deliver(event, h)
		}()
	}
	return nil
}

func (b *InMemoryEventBus) deliver(event shared.Event, h shared.EventHandler) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return h(event)
	}()
	metrics.EventHandled(string(event.EventType()), time.Since(start), err == nil)
	if err != nil {
		b.log.Error("event handler failed", "event_type", event.EventType(),
			"aggregate_id", event.AggregateID(), "error", err)
	}
}

func (b *InMemoryEventBus) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Close rejects new events and waits for in-flight handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.pending.Wait()
	b.stop()
	b.log.Info("event bus closed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisEventBusConfig configures NewRedisEventBus.
type RedisEventBusConfig struct {
	Client *redis.Client
	// ChannelName defaults to "risk-monitor:events".
	ChannelName string
	// InstanceID tags published envelopes so the instance ignores its own
	// messages. Defaults to a random UUID.
	InstanceID     string
	LocalBusConfig InMemoryEventBusConfig
	Logger         *slog.Logger
}

// RedisEventBus publishes every event to a Redis channel and to its local
// subscribers, and replays events from other instances locally.
type RedisEventBus struct {
	*InMemoryEventBus

	client   *redis.Client
	sub      *redis.PubSub
	channel  string
	instance string
	log      *slog.Logger
	done     chan struct{}
	once     sync.Once
}

// NewRedisEventBus subscribes to the channel before returning, so events
// published afterwards by other instances are not missed.
func NewRedisEventBus(ctx context.Context, cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = "risk-monitor:events"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LocalBusConfig.Logger == nil {
		cfg.LocalBusConfig.Logger = cfg.Logger
	}

	sub := cfg.Client.Subscribe(ctx, cfg.ChannelName)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.ChannelName, err)
	}

	b := &RedisEventBus{
		InMemoryEventBus: NewInMemoryEventBus(cfg.LocalBusConfig),
		client:           cfg.Client,
		sub:              sub,
		channel:          cfg.ChannelName,
		instance:         cfg.InstanceID,
		log:              cfg.Logger.With("component", "redis_event_bus"),
		done:             make(chan struct{}),
	}
	go b.receive(sub.Channel())
	return b, nil
}

// Publish sends event to Redis, then to local subscribers. A Redis failure
// is logged and local delivery still happens.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	if b.isClosed() {
		return ErrEventBusClosed
	}
	data, err := shared.EncodeEvent(b.instance, event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.log.Error("failed to publish to redis", "event_type", event.EventType(), "error", err)
	}
	return b.InMemoryEventBus.Publish(event)
}

func (b *RedisEventBus) receive(messages <-chan *redis.Message) {
	defer close(b.done)
	for msg := range messages {
		source, event, err := shared.DecodeEvent([]byte(msg.Payload))
		switch {
		case err != nil:
			b.log.Error("failed to decode event", "error", err)
		case source == b.instance:
		default:
			if err := b.InMemoryEventBus.Publish(event); err != nil {
				b.log.Warn("remote event dropped", "event_type", event.EventType(), "error", err)
			}
		}
	}
}

// Close unsubscribes, waits for the receive loop and closes the local bus.
func (b *RedisEventBus) Close() error {
	var err error
	b.once.Do(func() {
		if cerr := b.sub.Close(); cerr != nil {
			b.log.Warn("failed to close redis subscription", "error", cerr)
		}
		<-b.done
		err = b.InMemoryEventBus.Close()
	})
	return err
}
