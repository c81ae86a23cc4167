package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/dashboard"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// KeyedLocker serializes work per student inside one process.
type KeyedLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewKeyedLocker creates a locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{
		held: make(map[string]chan struct{}),
	}
}

// Lock blocks until the key is free or ctx is done. The returned function
// releases the lock and is safe to call more than once.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()

			var once sync.Once
			return func(context.Context) error {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
				return nil
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, shared.ErrLockNotAcquired
		case <-wait:
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DASHBOARD STORE
// ══════════════════════════════════════════════════════════════════════════════

// DashboardStore keeps the latest metrics with an optional TTL.
type DashboardStore struct {
	mu      sync.RWMutex
	metrics *dashboard.Metrics
	savedAt time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewDashboardStore creates a store. A zero ttl keeps metrics until replaced.
func NewDashboardStore(ttl time.Duration) *DashboardStore {
	return &DashboardStore{ttl: ttl, now: time.Now}
}

// Get implements dashboard.Store.
func (s *DashboardStore) Get(ctx context.Context) (*dashboard.Metrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.metrics == nil {
		return nil, shared.ErrMetricsNotFound
	}
	if s.ttl > 0 && s.now().Sub(s.savedAt) > s.ttl {
		return nil, shared.ErrMetricsNotFound
	}
	m := *s.metrics
	return &m, nil
}

// Save implements dashboard.Store.
func (s *DashboardStore) Save(ctx context.Context, m dashboard.Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = &m
	s.savedAt = s.now()
	return nil
}

// Invalidate implements dashboard.Store.
func (s *DashboardStore) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = nil
	return nil
}
