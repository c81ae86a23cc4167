package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/student-risk-monitor/internal/domain/notification"
	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/pkg/circuitbreaker"
	"github.com/alem-hub/student-risk-monitor/pkg/retry"
)

func testAlert() *notification.Alert {
	at := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	return &notification.Alert{
		ID:             "alert-1",
		StudentID:      "STU001",
		MentorID:       "MENTOR01",
		Type:           notification.AlertTypeAcademic,
		Priority:       notification.PriorityCritical,
		Title:          "Critical Risk Alert",
		Message:        "GPA 5.2 is below the academic threshold",
		Rules:          []risk.Rule{risk.RuleGPABelowThreshold},
		Impact:         9,
		Timestamp:      at,
		LastSeenAt:     at,
		Occurrences:    1,
		ActionRequired: true,
	}
}

func fastRetrier() *retry.Retrier {
	return retry.New(
		retry.WithMaxAttempts(3),
		retry.WithInitialDelay(time.Millisecond),
		retry.WithMaxDelay(2*time.Millisecond),
	)
}

func newTestWebhook(t *testing.T, url string, opts ...func(*WebhookConfig)) *WebhookChannel {
	t.Helper()
	cfg := DefaultWebhookConfig(url)
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 100
	cfg.Retrier = fastRetrier()
	for _, opt := range opts {
		opt(&cfg)
	}
	ch, err := NewWebhookChannel(cfg)
	require.NoError(t, err)
	return ch
}

func TestWebhookChannel_DeliversSignedPayload(t *testing.T) {
	secret := "mentor-hook-secret"
	var gotSignature string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := newTestWebhook(t, srv.URL, func(c *WebhookConfig) { c.Secret = secret })

	result := ch.Deliver(context.Background(), testAlert())

	require.True(t, result.Success, "delivery error: %v", result.Error)
	assert.Equal(t, notification.ChannelTypeWebhook, result.Channel)
	assert.Equal(t, Sign([]byte(secret), gotBody), gotSignature)

	var payload struct {
		Event string              `json:"event"`
		Alert *notification.Alert `json:"alert"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, string(shared.EventAlertRaised), payload.Event)
	assert.Equal(t, "STU001", payload.Alert.StudentID)
	assert.Equal(t, notification.PriorityCritical, payload.Alert.Priority)
}

func TestWebhookChannel_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := newTestWebhook(t, srv.URL).Deliver(context.Background(), testAlert())

	assert.True(t, result.Success)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhookChannel_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	result := newTestWebhook(t, srv.URL).Deliver(context.Background(), testAlert())

	assert.False(t, result.Success)
	assert.False(t, result.Retryable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var statusErr *StatusError
	require.ErrorAs(t, result.Error, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
}

func TestWebhookChannel_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	result := newTestWebhook(t, srv.URL).Deliver(context.Background(), testAlert())

	assert.False(t, result.Success)
	assert.True(t, result.Retryable)
	assert.Equal(t, 7*time.Second, result.RetryAfter)
	assert.ErrorIs(t, result.Error, shared.ErrRateLimited)
}

func TestWebhookChannel_OpenBreakerShortCircuits(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	breaker := circuitbreaker.New("test-webhook",
		circuitbreaker.WithFailureThreshold(1),
		circuitbreaker.WithTimeout(time.Hour),
	)
	ch := newTestWebhook(t, srv.URL, func(c *WebhookConfig) {
		c.Breaker = breaker
		c.Retrier = retry.New(retry.WithMaxAttempts(1))
	})

	first := ch.Deliver(context.Background(), testAlert())
	second := ch.Deliver(context.Background(), testAlert())

	assert.False(t, first.Success)
	assert.False(t, second.Success)
	assert.True(t, second.Retryable)
	assert.ErrorIs(t, second.Error, shared.ErrServiceUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.True(t, breaker.IsOpen())
}

func TestNewWebhookChannel_Validation(t *testing.T) {
	_, err := NewWebhookChannel(WebhookConfig{})
	assert.Error(t, err)

	long := make([]byte, 65)
	for i := range long {
		long[i] = 'k'
	}
	_, err = NewWebhookChannel(WebhookConfig{URL: "http://example.test", Secret: string(long)})
	assert.Error(t, err)
}

func TestLogChannel_Deliver(t *testing.T) {
	ch := NewLogChannel(nil)

	result := ch.Deliver(context.Background(), testAlert())
	assert.True(t, result.Success)
	assert.Equal(t, notification.ChannelTypeLog, result.Channel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result = ch.Deliver(ctx, testAlert())
	assert.False(t, result.Success)
	assert.True(t, result.Retryable)
}
