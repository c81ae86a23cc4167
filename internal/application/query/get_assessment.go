package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ASSESSMENT QUERY
// Возвращает последнюю оценку риска студента вместе с его карточкой.
// ══════════════════════════════════════════════════════════════════════════════

// GetAssessmentQuery содержит параметры запроса оценки.
type GetAssessmentQuery struct {
	StudentID string
}

// Validate проверяет корректность параметров запроса.
func (q GetAssessmentQuery) Validate() error {
	if _, err := shared.NewStudentID(q.StudentID); err != nil {
		return err
	}
	return nil
}

// AssessmentDTO - оценка риска для API.
type AssessmentDTO struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Студент
	// ─────────────────────────────────────────────────────────────────────────

	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name,omitempty"`
	Course      string `json:"course,omitempty"`
	MentorID    string `json:"mentor_id,omitempty"`

	// ─────────────────────────────────────────────────────────────────────────
	// Уровни риска
	// ─────────────────────────────────────────────────────────────────────────

	AcademicRisk   risk.Level `json:"academic_risk"`
	AttendanceRisk risk.Level `json:"attendance_risk"`
	FinancialRisk  risk.Level `json:"financial_risk"`
	OverallRisk    risk.Level `json:"overall_risk"`

	// ─────────────────────────────────────────────────────────────────────────
	// Детали
	// ─────────────────────────────────────────────────────────────────────────

	Factors         []risk.Factor `json:"factors"`
	Recommendations []string      `json:"recommendations"`
	IntegrityIssues []string      `json:"integrity_issues,omitempty"`
	Snapshot        risk.Snapshot `json:"snapshot"`
	LastUpdated     time.Time     `json:"last_updated"`
}

// GetAssessmentHandler обрабатывает GetAssessmentQuery.
type GetAssessmentHandler struct {
	assessments risk.AssessmentRepository
	records     student.RecordRepository
}

// NewGetAssessmentHandler создаёт обработчик запроса оценки.
func NewGetAssessmentHandler(assessments risk.AssessmentRepository, records student.RecordRepository) *GetAssessmentHandler {
	return &GetAssessmentHandler{assessments: assessments, records: records}
}

// Handle выполняет запрос. Возвращает ошибку NotFound, если студент не оценивался.
func (h *GetAssessmentHandler) Handle(ctx context.Context, q GetAssessmentQuery) (*AssessmentDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	a, err := h.assessments.GetByStudent(ctx, q.StudentID)
	if err != nil {
		return nil, fmt.Errorf("get_assessment: %w", err)
	}

	dto := toAssessmentDTO(*a)

	if h.records != nil {
		s, err := h.records.GetStudent(ctx, q.StudentID)
		switch {
		case err == nil:
			dto.StudentName = s.Name
			dto.Course = s.Course
		case errors.Is(err, shared.ErrNotFound):
			// оценка есть, а карточка удалена: отдаём без имени
		default:
			return nil, fmt.Errorf("get_assessment: failed to get student: %w", err)
		}
	}

	return dto, nil
}

func toAssessmentDTO(a risk.Assessment) *AssessmentDTO {
	dto := &AssessmentDTO{
		StudentID:       a.StudentID,
		Course:          a.Snapshot.Course,
		MentorID:        a.MentorID,
		AcademicRisk:    a.AcademicRisk,
		AttendanceRisk:  a.AttendanceRisk,
		FinancialRisk:   a.FinancialRisk,
		OverallRisk:     a.OverallRisk,
		Factors:         a.Factors,
		Recommendations: a.Recommendations,
		Snapshot:        a.Snapshot,
		LastUpdated:     a.LastUpdated,
	}
	for _, issue := range a.Issues {
		dto.IntegrityIssues = append(dto.IntegrityIssues, issue.Error())
	}
	if dto.Factors == nil {
		dto.Factors = []risk.Factor{}
	}
	if dto.Recommendations == nil {
		dto.Recommendations = []string{}
	}
	return dto
}
