// Package handlers contains the gin handlers and middleware of the risk
// monitor HTTP API.
package handlers

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheckFunc checks one dependency.
type HealthCheckFunc func(ctx context.Context) error

// Pinger is satisfied by the Postgres connection and the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

func PingCheck(p Pinger) HealthCheckFunc { return p.Ping }

// HealthStatus is the body of GET /ready.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message"`
	Duration string `json:"duration"`
}

// HealthChecker runs its named checks in parallel, each under its own timeout.
type HealthChecker struct {
	version string
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]HealthCheckFunc
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version: version,
		started: time.Now(),
		timeout: 3 * time.Second,
		checks:  make(map[string]HealthCheckFunc),
	}
}

// AddCheck registers check under name, replacing any previous one.
func (h *HealthChecker) AddCheck(name string, check HealthCheckFunc) {
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

func (h *HealthChecker) uptime() string {
	return time.Since(h.started).Round(time.Second).String()
}

func (h *HealthChecker) runCheck(ctx context.Context, check HealthCheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	res := CheckResult{Healthy: err == nil, Message: "OK", Duration: time.Since(start).Round(time.Millisecond).String()}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// Check runs every registered check and reports failures in name order.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	funcs := make([]HealthCheckFunc, len(names))
	for i, name := range names {
		funcs[i] = h.checks[name]
	}
	h.mu.RUnlock()

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i := range funcs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.runCheck(ctx, funcs[i])
		}()
	}
	wg.Wait()

	status := HealthStatus{
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(names)),
		Uptime:    h.uptime(),
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
	var failed []string
	for i, name := range names {
		status.Checks[name] = results[i]
		if !results[i].Healthy {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		status.Healthy = false
		status.Message = "failed checks: " + strings.Join(failed, ", ")
	}
	return status
}

// Health is the liveness probe. It never touches dependencies.
func (h *HealthChecker) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime": h.uptime(), "version": h.version})
}

// Ready is the readiness probe: 503 while any dependency check fails.
func (h *HealthChecker) Ready(c *gin.Context) {
	status := h.Check(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
