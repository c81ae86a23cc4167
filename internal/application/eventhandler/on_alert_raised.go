// Package eventhandler содержит обработчики доменных событий.
// Обработчики запускают побочные эффекты после коммита цикла оценки:
// доставку алертов наставникам и обновление кеша метрик.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/dashboard"
	"github.com/alem-hub/student-risk-monitor/internal/domain/notification"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ALERT RAISED HANDLER
// Доставляет новый алерт наставнику и сбрасывает кеш метрик.
// ═══════════════════════════════════════════════════════════════════════════

// OnAlertRaisedHandler обрабатывает событие alert.raised.
type OnAlertRaisedHandler struct {
	alerts  notification.AlertRepository
	channel notification.Channel
	cache   dashboard.Store
	logger  *slog.Logger
	config  AlertRaisedConfig
}

// AlertRaisedConfig содержит конфигурацию обработчика.
type AlertRaisedConfig struct {
	// DeliveryTimeout - таймаут одной доставки.
	DeliveryTimeout time.Duration

	// MinPriority - алерты ниже этого приоритета не доставляются, только хранятся.
	MinPriority notification.Priority
}

// DefaultAlertRaisedConfig возвращает конфигурацию по умолчанию.
func DefaultAlertRaisedConfig() AlertRaisedConfig {
	return AlertRaisedConfig{
		DeliveryTimeout: 10 * time.Second,
		MinPriority:     notification.PriorityMedium,
	}
}

// NewOnAlertRaisedHandler создаёт обработчик события alert.raised.
// channel и cache могут быть nil: тогда соответствующий шаг пропускается.
func NewOnAlertRaisedHandler(
	alerts notification.AlertRepository,
	channel notification.Channel,
	cache dashboard.Store,
	logger *slog.Logger,
	config AlertRaisedConfig,
) *OnAlertRaisedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = DefaultAlertRaisedConfig().DeliveryTimeout
	}
	return &OnAlertRaisedHandler{
		alerts:  alerts,
		channel: channel,
		cache:   cache,
		logger:  logger.With("handler", "on_alert_raised"),
		config:  config,
	}
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
func (h *OnAlertRaisedHandler) Handle(event shared.Event) error {
	alertEvent, ok := event.(shared.AlertEvent)
	if !ok {
		h.logger.Warn("received non-AlertEvent", "event_type", event.EventType())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.DeliveryTimeout)
	defer cancel()

	if h.cache != nil {
		if err := h.cache.Invalidate(ctx); err != nil {
			h.logger.Warn("failed to invalidate dashboard cache", "error", err)
		}
	}

	if h.channel == nil {
		return nil
	}

	alert, err := h.resolveAlert(ctx, alertEvent)
	if err != nil {
		return err
	}
	if alert.Priority < h.config.MinPriority {
		h.logger.Debug("skipping delivery", "alert_id", alert.ID, "priority", alert.Priority.String())
		return nil
	}

	result := h.channel.Deliver(ctx, alert)
	if !result.Success {
		h.logger.Error("alert delivery failed",
			"alert_id", alert.ID,
			"student_id", alert.StudentID,
			"channel", result.Channel.String(),
			"retryable", result.Retryable,
			"retry_after", result.RetryAfter.String(),
			"error", result.Error,
		)
		return fmt.Errorf("deliver alert %s: %w", alert.ID, shared.ErrDeliveryFailed)
	}

	h.logger.Info("alert delivered",
		"alert_id", alert.ID,
		"student_id", alert.StudentID,
		"mentor_id", alert.MentorID,
		"priority", alert.Priority.String(),
		"channel", result.Channel.String(),
	)
	return nil
}

// resolveAlert загружает актуальный алерт; если его нет в хранилище,
// собирает алерт из данных события.
func (h *OnAlertRaisedHandler) resolveAlert(ctx context.Context, ev shared.AlertEvent) (*notification.Alert, error) {
	if h.alerts != nil {
		alert, err := h.alerts.GetByID(ctx, ev.AlertID)
		if err == nil {
			return alert, nil
		}
		if !shared.IsNotFound(err) {
			return nil, fmt.Errorf("get alert %s: %w", ev.AlertID, err)
		}
	}

	priority, err := notification.ParsePriority(ev.Priority)
	if err != nil {
		return nil, fmt.Errorf("alert event %s: %w", ev.AlertID, err)
	}
	return &notification.Alert{
		ID:             ev.AlertID,
		StudentID:      ev.StudentID,
		MentorID:       ev.MentorID,
		Type:           notification.AlertType(ev.AlertType),
		Priority:       priority,
		Title:          ev.Title,
		Message:        ev.Message,
		Timestamp:      ev.OccurredAt(),
		LastSeenAt:     ev.OccurredAt(),
		Occurrences:    1,
		ActionRequired: ev.ActionRequired,
	}, nil
}
