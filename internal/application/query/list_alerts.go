package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/student-risk-monitor/internal/domain/notification"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST ALERTS QUERY
// Лента алертов для наставника: фильтр по студенту, типу, приоритету
// и флагам прочтения.
// ══════════════════════════════════════════════════════════════════════════════

// ListAlertsQuery содержит параметры выборки алертов.
type ListAlertsQuery struct {
	StudentID   string
	MentorID    string
	Type        string
	MinPriority string
	OnlyOpen    bool

	// ActionRequired оставляет только алерты, ждущие действия наставника.
	Unread         bool
	ActionRequired bool

	Page     int
	PageSize int
}

// filter проверяет параметры и строит фильтр репозитория.
func (q ListAlertsQuery) filter() (notification.Filter, shared.Pagination, error) {
	f := notification.Filter{
		StudentID:      q.StudentID,
		MentorID:       q.MentorID,
		OnlyOpen:       q.OnlyOpen,
		Unread:         q.Unread,
		ActionRequired: q.ActionRequired,
	}

	if q.Type != "" {
		t := notification.AlertType(q.Type)
		if !t.IsValid() {
			return f, shared.Pagination{}, shared.NewDomainError("notification", "ListAlerts", shared.ErrInvalidInput,
				fmt.Sprintf("unknown alert type %q", q.Type))
		}
		f.Type = t
	}

	if q.MinPriority != "" {
		p, err := notification.ParsePriority(q.MinPriority)
		if err != nil {
			return f, shared.Pagination{}, shared.WrapError("notification", "ListAlerts", shared.ErrInvalidInput,
				fmt.Sprintf("unknown priority %q", q.MinPriority), err)
		}
		f.MinPriority = p
	}

	page := shared.NewPagination(q.Page, q.PageSize)
	f.Offset = page.Offset()
	// Лишняя запись показывает, есть ли следующая страница.
	f.Limit = page.Limit() + 1
	return f, page, nil
}

// AlertsPageDTO - страница алертов.
type AlertsPageDTO struct {
	Alerts   []*notification.Alert `json:"alerts"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	HasMore  bool                  `json:"has_more"`
}

// ListAlertsHandler обрабатывает ListAlertsQuery.
type ListAlertsHandler struct {
	alerts notification.AlertRepository
}

// NewListAlertsHandler создаёт обработчик выборки алертов.
func NewListAlertsHandler(alerts notification.AlertRepository) *ListAlertsHandler {
	return &ListAlertsHandler{alerts: alerts}
}

// Handle выполняет запрос.
func (h *ListAlertsHandler) Handle(ctx context.Context, q ListAlertsQuery) (*AlertsPageDTO, error) {
	f, page, err := q.filter()
	if err != nil {
		return nil, err
	}

	alerts, err := h.alerts.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list_alerts: %w", err)
	}
	hasMore := len(alerts) > page.Limit()
	if hasMore {
		alerts = alerts[:page.Limit()]
	}
	if alerts == nil {
		alerts = []*notification.Alert{}
	}

	return &AlertsPageDTO{
		Alerts:   alerts,
		Page:     page.Page,
		PageSize: page.Limit(),
		HasMore:  hasMore,
	}, nil
}
