package notification

import (
	"context"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// ChannelType - способ доставки алерта наставнику.
type ChannelType string

const (
	ChannelTypeLog     ChannelType = "log"
	ChannelTypeWebhook ChannelType = "webhook"
)

// Channel доставляет алерт наставнику. Вызывается после коммита цикла;
// исход доставки не меняет сохранённый алерт.
type Channel interface {
	Type() ChannelType
	Deliver(ctx context.Context, alert *Alert) DeliveryResult
}

// DeliveryResult - исход одной попытки доставки.
// При Success == false заполнен Error; RetryAfter > 0 только при rate limit.
type DeliveryResult struct {
	Channel     ChannelType
	Success     bool
	DeliveredAt time.Time
	Error       error
	Retryable   bool
	RetryAfter  time.Duration
}

func NewSuccessResult(ch ChannelType, at time.Time) DeliveryResult {
	return DeliveryResult{Channel: ch, Success: true, DeliveredAt: at}
}

func NewFailureResult(ch ChannelType, err error, retryable bool) DeliveryResult {
	return DeliveryResult{Channel: ch, Error: err, Retryable: retryable}
}

// NewRateLimitedResult - получатель попросил подождать retryAfter.
func NewRateLimitedResult(ch ChannelType, retryAfter time.Duration) DeliveryResult {
	return DeliveryResult{Channel: ch, Error: shared.ErrRateLimited, Retryable: true, RetryAfter: retryAfter}
}
