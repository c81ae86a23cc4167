// Package http exposes the risk monitor over a gin REST API: dashboard
// metrics, per-student assessments, alert management, manual evaluation
// runs, health probes and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alem-hub/student-risk-monitor/internal/interface/http/handlers"
	"github.com/alem-hub/student-risk-monitor/pkg/logger"
)

// Config is the listener and routing setup of the API.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// EnableMetrics exposes GET /metrics.
	EnableMetrics bool

	// APIKeyHeader and APIKeys guard the POST routes. No keys disables the check.
	APIKeyHeader string
	APIKeys      []string

	// TrustedProxies for X-Forwarded-For. Nil trusts none.
	TrustedProxies []string
}

// DefaultConfig listens on :8080 with metrics on and no API keys.
func DefaultConfig() Config {
	return Config{
		Host:          "0.0.0.0",
		Port:          8080,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  2 * time.Minute,
		IdleTimeout:   60 * time.Second,
		EnableMetrics: true,
		APIKeyHeader:  "X-API-Key",
	}
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Dependencies are the route handlers; Health and Logger have defaults.
type Dependencies struct {
	Risk   *handlers.RiskHandler
	Health *handlers.HealthChecker
	Logger *logger.Logger
}

// Server owns the gin engine and its listener.
type Server struct {
	config     Config
	engine     *gin.Engine
	httpServer *http.Server
	logger     *logger.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer builds the router and the underlying http.Server.
func NewServer(config Config, deps Dependencies) (*Server, error) {
	if deps.Risk == nil {
		return nil, errors.New("http: risk handler is required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if deps.Health == nil {
		deps.Health = handlers.NewHealthChecker("")
	}
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = "X-API-Key"
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(config.TrustedProxies); err != nil {
		return nil, fmt.Errorf("http: trusted proxies: %w", err)
	}
	engine.Use(
		handlers.RequestID(),
		handlers.Logging(deps.Logger),
		handlers.Recovery(deps.Logger),
		handlers.Metrics(),
	)
	registerRoutes(engine, config, deps)

	s := &Server{
		config: config,
		engine: engine,
		logger: deps.Logger.With(logger.Component("http")),
	}
	s.httpServer = &http.Server{
		Addr:         config.Address(),
		Handler:      engine,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

func registerRoutes(r *gin.Engine, config Config, deps Dependencies) {
	r.GET("/health", deps.Health.Health)
	r.GET("/ready", deps.Health.Ready)
	if config.EnableMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/api/v1")
	v1.GET("/dashboard", deps.Risk.GetDashboard)
	v1.GET("/students/:id/assessment", deps.Risk.GetAssessment)
	v1.GET("/assessments", deps.Risk.ListAssessments)
	v1.GET("/alerts", deps.Risk.ListAlerts)

	write := v1.Group("", handlers.APIKeyAuth(config.APIKeyHeader, config.APIKeys))
	write.POST("/alerts/read-all", deps.Risk.MarkAllAlertsRead)
	write.POST("/alerts/:id/read", deps.Risk.MarkAlertRead)
	write.POST("/alerts/:id/resolve", deps.Risk.ResolveAlert)
	write.POST("/evaluations", deps.Risk.RunEvaluation)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Listen binds the configured address. Bind errors surface here rather than
// from Serve.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("http: server already listening")
	}
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("http: listen %s: %w", s.config.Address(), err)
	}
	s.listener = ln
	return nil
}

// Addr is the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address()
}

// Serve accepts connections on the listener in the background. The channel
// yields at most one error and is closed when serving stops.
func (s *Server) Serve() <-chan error {
	errCh := make(chan error, 1)
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	go func() {
		defer close(errCh)
		if ln == nil {
			errCh <- errors.New("http: Serve called before Listen")
			return
		}
		s.logger.Info("serving HTTP", logger.String("address", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	return errCh
}

// Shutdown drains in-flight requests. It is a no-op before Listen.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
