package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/dashboard"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

const dashboardKey = "dashboard:metrics"

// DashboardCache implements dashboard.Store on top of Redis.
type DashboardCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewDashboardCache creates a dashboard store. Zero ttl keeps metrics until invalidated.
func NewDashboardCache(cache *Cache, ttl time.Duration) *DashboardCache {
	return &DashboardCache{cache: cache, ttl: ttl}
}

// Get returns the cached metrics or shared.ErrMetricsNotFound.
func (d *DashboardCache) Get(ctx context.Context) (*dashboard.Metrics, error) {
	var m dashboard.Metrics
	if err := d.cache.Get(ctx, dashboardKey, &m); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.ErrMetricsNotFound
		}
		return nil, err
	}
	m.AsOf = m.AsOf.UTC()
	return &m, nil
}

// Save replaces the cached metrics.
func (d *DashboardCache) Save(ctx context.Context, m dashboard.Metrics) error {
	return d.cache.Set(ctx, dashboardKey, m, d.ttl)
}

// Invalidate drops the cached metrics.
func (d *DashboardCache) Invalidate(ctx context.Context) error {
	return d.cache.Delete(ctx, dashboardKey)
}
