package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/dashboard"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON EVALUATION COMPLETED HANDLER
// После коммита цикла пересчитывает метрики дашборда.
// ═══════════════════════════════════════════════════════════════════════════

// DashboardRebuilder пересчитывает и кеширует метрики.
type DashboardRebuilder interface {
	Handle(ctx context.Context) (dashboard.Metrics, error)
}

// OnEvaluationCompletedHandler обрабатывает событие evaluation.completed.
type OnEvaluationCompletedHandler struct {
	rebuilder DashboardRebuilder
	logger    *slog.Logger
	timeout   time.Duration
}

// NewOnEvaluationCompletedHandler создаёт обработчик.
func NewOnEvaluationCompletedHandler(rebuilder DashboardRebuilder, logger *slog.Logger) *OnEvaluationCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnEvaluationCompletedHandler{
		rebuilder: rebuilder,
		logger:    logger.With("handler", "on_evaluation_completed"),
		timeout:   30 * time.Second,
	}
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
func (h *OnEvaluationCompletedHandler) Handle(event shared.Event) error {
	completed, ok := event.(shared.EvaluationCompletedEvent)
	if !ok {
		h.logger.Warn("received non-EvaluationCompletedEvent", "event_type", event.EventType())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	metrics, err := h.rebuilder.Handle(ctx)
	if err != nil {
		return fmt.Errorf("rebuild dashboard after cycle %s: %w", completed.CycleID, err)
	}

	h.logger.Info("dashboard refreshed after cycle",
		"cycle_id", completed.CycleID,
		"evaluated", completed.Evaluated,
		"total_students", metrics.TotalStudents,
		"high_risk", metrics.HighRisk,
	)
	return nil
}
