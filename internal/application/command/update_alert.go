package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/notification"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MARK ALERT READ / MARK ALL READ / RESOLVE ALERT COMMANDS
// Alert flags only move one way: unread → read, action required → resolved.
// ══════════════════════════════════════════════════════════════════════════════

// MarkAlertReadCommand marks an alert as read.
type MarkAlertReadCommand struct {
	AlertID string
}

// MarkAllAlertsReadCommand marks every unread alert matching the filter as
// read. Empty fields do not restrict.
type MarkAllAlertsReadCommand struct {
	StudentID string
	MentorID  string
	Type      string
}

// ResolveAlertCommand clears the action-required flag of an alert.
type ResolveAlertCommand struct {
	AlertID    string
	ResolvedBy string
}

// Validate validates the command.
func (c ResolveAlertCommand) Validate() error {
	if strings.TrimSpace(c.AlertID) == "" {
		return errors.New("resolve_alert: alert_id is required")
	}
	if strings.TrimSpace(c.ResolvedBy) == "" {
		return errors.New("resolve_alert: resolved_by is required")
	}
	return nil
}

// AlertFlagsHandler handles MarkAlertReadCommand and ResolveAlertCommand.
type AlertFlagsHandler struct {
	alerts    notification.AlertRepository
	publisher shared.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewAlertFlagsHandler creates a new AlertFlagsHandler.
func NewAlertFlagsHandler(alerts notification.AlertRepository, publisher shared.EventPublisher, logger *slog.Logger) *AlertFlagsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertFlagsHandler{
		alerts:    alerts,
		publisher: publisher,
		logger:    logger.With("command", "alert_flags"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// MarkRead marks the alert as read. Marking an already read alert is a no-op.
func (h *AlertFlagsHandler) MarkRead(ctx context.Context, cmd MarkAlertReadCommand) (*notification.Alert, error) {
	if strings.TrimSpace(cmd.AlertID) == "" {
		return nil, shared.NewDomainError("notification", "MarkRead", shared.ErrInvalidInput, "alert_id is required")
	}

	alert, err := h.alerts.MarkRead(ctx, cmd.AlertID)
	if err != nil {
		return nil, fmt.Errorf("mark_alert_read: %w", err)
	}
	return alert, nil
}

// MarkAllRead marks the matching alerts as read and returns how many changed.
func (h *AlertFlagsHandler) MarkAllRead(ctx context.Context, cmd MarkAllAlertsReadCommand) (int, error) {
	filter := notification.Filter{StudentID: cmd.StudentID, MentorID: cmd.MentorID}
	if cmd.Type != "" {
		t := notification.AlertType(cmd.Type)
		if !t.IsValid() {
			return 0, shared.NewDomainError("notification", "MarkAllRead", shared.ErrInvalidInput,
				fmt.Sprintf("unknown alert type %q", cmd.Type))
		}
		filter.Type = t
	}

	n, err := h.alerts.MarkAllRead(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("mark_all_alerts_read: %w", err)
	}

	h.logger.Info("alerts marked read",
		"student_id", cmd.StudentID,
		"mentor_id", cmd.MentorID,
		"type", cmd.Type,
		"count", n,
	)
	return n, nil
}

// Resolve resolves the alert and publishes alert.resolved.
func (h *AlertFlagsHandler) Resolve(ctx context.Context, cmd ResolveAlertCommand) (*notification.Alert, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("notification", "Resolve", shared.ErrInvalidInput, "invalid command", err)
	}

	alert, err := h.alerts.Resolve(ctx, cmd.AlertID, cmd.ResolvedBy, h.now())
	if err != nil {
		return nil, fmt.Errorf("resolve_alert: %w", err)
	}

	h.logger.Info("alert resolved",
		"alert_id", alert.ID,
		"student_id", alert.StudentID,
		"resolved_by", cmd.ResolvedBy,
	)

	if h.publisher != nil {
		ev := alertEvent(shared.EventAlertResolved, alert, "")
		if err := h.publisher.Publish(ev); err != nil {
			h.logger.Warn("failed to publish alert resolved event", "alert_id", alert.ID, "error", err)
		}
	}

	return alert, nil
}
