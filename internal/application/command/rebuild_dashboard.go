package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/dashboard"
	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD DASHBOARD COMMAND
// Folds the stored assessments into dashboard metrics and caches them.
// ══════════════════════════════════════════════════════════════════════════════

// RebuildDashboardHandler recomputes dashboard metrics.
type RebuildDashboardHandler struct {
	assessments risk.AssessmentRepository
	store       dashboard.Store
	windowDays  int
	logger      *slog.Logger
	now         func() time.Time
}

// NewRebuildDashboardHandler creates a new RebuildDashboardHandler.
func NewRebuildDashboardHandler(
	assessments risk.AssessmentRepository,
	store dashboard.Store,
	dropoutWindowDays int,
	logger *slog.Logger,
) *RebuildDashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RebuildDashboardHandler{
		assessments: assessments,
		store:       store,
		windowDays:  dropoutWindowDays,
		logger:      logger.With("command", "rebuild_dashboard"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Handle computes metrics as of now and saves them to the store.
// A store failure is logged: the computed metrics are still returned.
func (h *RebuildDashboardHandler) Handle(ctx context.Context) (dashboard.Metrics, error) {
	all, err := h.assessments.ListAll(ctx)
	if err != nil {
		return dashboard.Metrics{}, fmt.Errorf("rebuild_dashboard: failed to list assessments: %w", err)
	}

	metrics := dashboard.Aggregate(all, h.now(), h.windowDays)

	if h.store != nil {
		if err := h.store.Save(ctx, metrics); err != nil {
			h.logger.Warn("failed to cache dashboard metrics", "error", err)
		}
	}

	h.logger.Debug("dashboard rebuilt",
		"total_students", metrics.TotalStudents,
		"high_risk", metrics.HighRisk,
		"invalid_records", metrics.InvalidRecords,
	)
	return metrics, nil
}
