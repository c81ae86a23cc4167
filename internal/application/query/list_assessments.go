package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST ASSESSMENTS QUERY
// Таблица студентов с фильтром по уровню риска, программе и наставнику.
// ══════════════════════════════════════════════════════════════════════════════

// ListAssessmentsQuery содержит параметры выборки оценок.
type ListAssessmentsQuery struct {
	Risk     string
	Course   string
	MentorID string
	Page     int
	PageSize int
}

func (q ListAssessmentsQuery) filter() (risk.Filter, shared.Pagination, error) {
	f := risk.Filter{
		Course:   strings.TrimSpace(q.Course),
		MentorID: q.MentorID,
	}
	if q.Risk != "" {
		level, err := risk.ParseLevel(q.Risk)
		if err != nil {
			return f, shared.Pagination{}, fmt.Errorf("list_assessments: %w", err)
		}
		f.OverallRisk = &level
	}

	page := shared.NewPagination(q.Page, q.PageSize)
	f.Offset = page.Offset()
	f.Limit = page.Limit() + 1
	return f, page, nil
}

// AssessmentsPageDTO - страница оценок.
type AssessmentsPageDTO struct {
	Assessments []*AssessmentDTO `json:"assessments"`
	Page        int              `json:"page"`
	PageSize    int              `json:"page_size"`
	HasMore     bool             `json:"has_more"`
}

// ListAssessmentsHandler обрабатывает ListAssessmentsQuery.
type ListAssessmentsHandler struct {
	assessments risk.AssessmentRepository
}

// NewListAssessmentsHandler создаёт обработчик выборки оценок.
func NewListAssessmentsHandler(assessments risk.AssessmentRepository) *ListAssessmentsHandler {
	return &ListAssessmentsHandler{assessments: assessments}
}

// Handle выполняет запрос.
func (h *ListAssessmentsHandler) Handle(ctx context.Context, q ListAssessmentsQuery) (*AssessmentsPageDTO, error) {
	f, page, err := q.filter()
	if err != nil {
		return nil, err
	}

	list, err := h.assessments.ListMatching(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list_assessments: %w", err)
	}
	hasMore := len(list) > page.Limit()
	if hasMore {
		list = list[:page.Limit()]
	}

	out := make([]*AssessmentDTO, 0, len(list))
	for _, a := range list {
		out = append(out, toAssessmentDTO(a))
	}
	return &AssessmentsPageDTO{
		Assessments: out,
		Page:        page.Page,
		PageSize:    page.Limit(),
		HasMore:     hasMore,
	}, nil
}
