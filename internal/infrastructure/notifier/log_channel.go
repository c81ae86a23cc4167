package notifier

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/notification"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/metrics"
)

// LogChannel writes alerts to the structured log. It is the default channel
// when no webhook is configured.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a log channel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger.With("component", "log_channel")}
}

// Type implements notification.Channel.
func (c *LogChannel) Type() notification.ChannelType {
	return notification.ChannelTypeLog
}

// Deliver implements notification.Channel.
func (c *LogChannel) Deliver(ctx context.Context, alert *notification.Alert) notification.DeliveryResult {
	if err := ctx.Err(); err != nil {
		metrics.AlertDelivered(string(c.Type()), false)
		return notification.NewFailureResult(c.Type(), err, true)
	}

	rules := make([]string, 0, len(alert.Rules))
	for _, r := range alert.Rules {
		rules = append(rules, string(r))
	}

	level := slog.LevelInfo
	if alert.Priority.RequiresAction() {
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "mentor alert",
		"alert_id", alert.ID,
		"student_id", alert.StudentID,
		"mentor_id", alert.MentorID,
		"type", string(alert.Type),
		"priority", alert.Priority.String(),
		"title", alert.Title,
		"message", alert.Message,
		"rules", strings.Join(rules, ","),
		"occurrences", alert.Occurrences,
		"action_required", alert.ActionRequired,
	)

	metrics.AlertDelivered(string(c.Type()), true)
	return notification.NewSuccessResult(c.Type(), time.Now().UTC())
}
