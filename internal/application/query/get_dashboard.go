// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/dashboard"
	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DASHBOARD QUERY
// Возвращает сводные метрики популяции: из кеша, а при его отсутствии
// или устаревании пересчитывает по сохранённым оценкам.
// ══════════════════════════════════════════════════════════════════════════════

// GetDashboardQuery содержит параметры запроса метрик.
type GetDashboardQuery struct {
	// Fresh - игнорировать кеш и пересчитать метрики.
	Fresh bool
}

// DashboardDTO - метрики с долями уровней риска.
type DashboardDTO struct {
	dashboard.Metrics

	HighRiskShare   float64 `json:"high_risk_share"`
	MediumRiskShare float64 `json:"medium_risk_share"`
	LowRiskShare    float64 `json:"low_risk_share"`

	// FromCache - метрики взяты из кеша.
	FromCache bool `json:"from_cache"`
}

// GetDashboardHandler обрабатывает GetDashboardQuery.
type GetDashboardHandler struct {
	assessments risk.AssessmentRepository
	store       dashboard.Store
	windowDays  int
	maxAge      time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewGetDashboardHandler создаёт обработчик запроса метрик.
// maxAge - после этого возраста кешированные метрики пересчитываются.
func NewGetDashboardHandler(
	assessments risk.AssessmentRepository,
	store dashboard.Store,
	dropoutWindowDays int,
	maxAge time.Duration,
	logger *slog.Logger,
) *GetDashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetDashboardHandler{
		assessments: assessments,
		store:       store,
		windowDays:  dropoutWindowDays,
		maxAge:      maxAge,
		logger:      logger.With("query", "get_dashboard"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Handle выполняет запрос.
func (h *GetDashboardHandler) Handle(ctx context.Context, q GetDashboardQuery) (*DashboardDTO, error) {
	now := h.now()

	if !q.Fresh && h.store != nil {
		cached, err := h.store.Get(ctx)
		switch {
		case err == nil && (h.maxAge <= 0 || now.Sub(cached.AsOf) <= h.maxAge):
			return toDashboardDTO(*cached, true), nil
		case err != nil && !shared.IsNotFound(err):
			// Кеш недоступен: считаем напрямую.
			h.logger.Warn("dashboard cache unavailable", "error", err)
		}
	}

	all, err := h.assessments.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_dashboard: failed to list assessments: %w", err)
	}
	metrics := dashboard.Aggregate(all, now, h.windowDays)

	if h.store != nil {
		if err := h.store.Save(ctx, metrics); err != nil {
			h.logger.Warn("failed to cache dashboard metrics", "error", err)
		}
	}

	return toDashboardDTO(metrics, false), nil
}

func toDashboardDTO(m dashboard.Metrics, fromCache bool) *DashboardDTO {
	return &DashboardDTO{
		Metrics:         m,
		HighRiskShare:   m.RiskShare(risk.LevelHigh),
		MediumRiskShare: m.RiskShare(risk.LevelMedium),
		LowRiskShare:    m.RiskShare(risk.LevelLow),
		FromCache:       fromCache,
	}
}
