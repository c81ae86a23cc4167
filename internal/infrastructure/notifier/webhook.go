// Package notifier implements notification.Channel: delivery of alerts to
// mentors through the structured log or an HTTP webhook.
package notifier

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/time/rate"

	"github.com/alem-hub/student-risk-monitor/internal/domain/notification"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/metrics"
	"github.com/alem-hub/student-risk-monitor/pkg/circuitbreaker"
	"github.com/alem-hub/student-risk-monitor/pkg/retry"
)

// SignatureHeader carries the keyed BLAKE2b-256 MAC of the request body.
const SignatureHeader = "X-Risk-Signature"

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// WebhookConfig contains configuration for the webhook channel.
type WebhookConfig struct {
	// URL receives a POST per alert.
	URL string

	// Secret signs the body when set. Must be at most 64 bytes.
	Secret string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RequestsPerSecond and Burst pace outgoing calls.
	RequestsPerSecond float64
	Burst             int

	// Retrier and Breaker default to the webhook presets.
	Retrier *retry.Retrier
	Breaker *circuitbreaker.CircuitBreaker

	Logger *slog.Logger
}

// DefaultWebhookConfig returns sensible defaults.
func DefaultWebhookConfig(url string) WebhookConfig {
	return WebhookConfig{
		URL:               url,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
		Burst:             10,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// StatusError is a non-2xx webhook response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook responded %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the receiver may accept the alert later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout
}

// RateLimitError is a 429 response.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("webhook rate limited, retry after %s", e.RetryAfter)
}

// ══════════════════════════════════════════════════════════════════════════════
// CHANNEL
// ══════════════════════════════════════════════════════════════════════════════

// WebhookChannel posts alerts as JSON. Calls are paced by a token bucket,
// retried with backoff and guarded by a circuit breaker.
type WebhookChannel struct {
	config     WebhookConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
	logger     *slog.Logger
	now        func() time.Time
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(config WebhookConfig) (*WebhookChannel, error) {
	if config.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	if len(config.Secret) > blake2b.Size {
		return nil, fmt.Errorf("webhook secret must be at most %d bytes", blake2b.Size)
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 5
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "webhook_channel")

	if config.Retrier == nil {
		config.Retrier = retry.WebhookRetrier()
	}
	if config.Breaker == nil {
		config.Breaker = circuitbreaker.WebhookBreaker(isDeliveryFailure, func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		})
	}

	return &WebhookChannel{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		breaker:    config.Breaker,
		retrier:    config.Retrier,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Type implements notification.Channel.
func (c *WebhookChannel) Type() notification.ChannelType {
	return notification.ChannelTypeWebhook
}

// webhookPayload is the JSON body posted per alert.
type webhookPayload struct {
	Event  string              `json:"event"`
	SentAt time.Time           `json:"sent_at"`
	Alert  *notification.Alert `json:"alert"`
}

// Deliver implements notification.Channel.
func (c *WebhookChannel) Deliver(ctx context.Context, alert *notification.Alert) notification.DeliveryResult {
	body, err := json.Marshal(webhookPayload{
		Event:  string(shared.EventAlertRaised),
		SentAt: c.now(),
		Alert:  alert,
	})
	if err != nil {
		return c.result(notification.NewFailureResult(c.Type(), fmt.Errorf("marshal alert: %w", err), false))
	}

	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
			return c.post(ctx, body)
		})
	})
	if err == nil {
		c.logger.Debug("alert posted", "alert_id", alert.ID, "student_id", alert.StudentID)
		return c.result(notification.NewSuccessResult(c.Type(), c.now()))
	}

	var rateErr *RateLimitError
	var statusErr *StatusError
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return c.result(notification.NewFailureResult(c.Type(),
			fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err), true))
	case errors.As(err, &rateErr):
		return c.result(notification.NewRateLimitedResult(c.Type(), rateErr.RetryAfter))
	case errors.As(err, &statusErr):
		return c.result(notification.NewFailureResult(c.Type(), err, statusErr.Temporary()))
	default:
		return c.result(notification.NewFailureResult(c.Type(), err, ctx.Err() == nil))
	}
}

func (c *WebhookChannel) result(r notification.DeliveryResult) notification.DeliveryResult {
	metrics.AlertDelivered(string(r.Channel), r.Success)
	return r
}

// post performs one request. Transient failures come back wrapped in
// retry.Retryable.
func (c *WebhookChannel) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.Secret != "" {
		req.Header.Set(SignatureHeader, Sign([]byte(c.config.Secret), body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 30 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return retry.Retryable(&RateLimitError{RetryAfter: retryAfter})
	case resp.StatusCode >= 300:
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if statusErr.Temporary() {
			return retry.Retryable(statusErr)
		}
		return statusErr
	}
	return nil
}

// isDeliveryFailure counts only receiver-side problems toward opening the breaker.
func isDeliveryFailure(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

// Sign returns the hex keyed BLAKE2b-256 MAC of body.
func Sign(secret, body []byte) string {
	mac, err := blake2b.New256(secret)
	if err != nil {
		// secret length is checked in NewWebhookChannel
		panic(err)
	}
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
