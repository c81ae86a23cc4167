package risk

import (
	"context"
	"strings"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/student"
)

// Snapshot - очищенные входные значения, на которых построена оценка.
// Используется агрегатором и для сравнения GPA между оценками.
type Snapshot struct {
	AttendancePercentage *float64                 `json:"attendance_percentage,omitempty"`
	GPA                  *float64                 `json:"gpa,omitempty"`
	HasFinancial         bool                     `json:"has_financial"`
	TotalFees            int64                    `json:"total_fees"`
	PendingFees          int64                    `json:"pending_fees"`
	DaysOverdue          int                      `json:"days_overdue"`
	Enrollment           student.EnrollmentStatus `json:"enrollment"`
	DroppedOutAt         *time.Time               `json:"dropped_out_at,omitempty"`
	Course               string                   `json:"course,omitempty"`
}

// Assessment - производный снимок риска одного студента.
// Пересчитывается целиком в каждом цикле оценки.
type Assessment struct {
	StudentID       string           `json:"student_id"`
	MentorID        string           `json:"mentor_id,omitempty"`
	AcademicRisk    Level            `json:"academic_risk"`
	AttendanceRisk  Level            `json:"attendance_risk"`
	FinancialRisk   Level            `json:"financial_risk"`
	OverallRisk     Level            `json:"overall_risk"`
	Factors         []Factor         `json:"factors"`
	Recommendations []string         `json:"recommendations"`
	Issues          []IntegrityIssue `json:"integrity_issues,omitempty"`
	Snapshot        Snapshot         `json:"snapshot"`
	Fingerprint     string           `json:"fingerprint,omitempty"`
	LastUpdated     time.Time        `json:"last_updated"`
}

// Categories возвращает множество категорий активных факторов.
func (a Assessment) Categories() map[Category]bool {
	set := make(map[Category]bool, len(a.Factors))
	for _, f := range a.Factors {
		set[f.Category] = true
	}
	return set
}

// FactorByRule возвращает фактор по коду правила.
func (a Assessment) FactorByRule(rule Rule) (Factor, bool) {
	for _, f := range a.Factors {
		if f.Rule == rule {
			return f, true
		}
	}
	return Factor{}, false
}

// HasRule проверяет, сработало ли правило.
func (a Assessment) HasRule(rule Rule) bool {
	_, ok := a.FactorByRule(rule)
	return ok
}

// MaxImpact возвращает наибольшее влияние среди факторов (0 без факторов).
func (a Assessment) MaxImpact() int {
	max := 0
	for _, f := range a.Factors {
		if f.Impact > max {
			max = f.Impact
		}
	}
	return max
}

// HasIntegrityIssues возвращает true, если входные данные нарушали инварианты.
func (a Assessment) HasIntegrityIssues() bool {
	return len(a.Issues) > 0
}

// Clone создаёт независимую копию оценки.
func (a Assessment) Clone() Assessment {
	clone := a
	if a.Factors != nil {
		clone.Factors = make([]Factor, len(a.Factors))
		copy(clone.Factors, a.Factors)
	}
	if a.Recommendations != nil {
		clone.Recommendations = make([]string, len(a.Recommendations))
		copy(clone.Recommendations, a.Recommendations)
	}
	if a.Issues != nil {
		clone.Issues = make([]IntegrityIssue, len(a.Issues))
		copy(clone.Issues, a.Issues)
	}
	if a.Snapshot.AttendancePercentage != nil {
		v := *a.Snapshot.AttendancePercentage
		clone.Snapshot.AttendancePercentage = &v
	}
	if a.Snapshot.GPA != nil {
		v := *a.Snapshot.GPA
		clone.Snapshot.GPA = &v
	}
	if a.Snapshot.DroppedOutAt != nil {
		v := *a.Snapshot.DroppedOutAt
		clone.Snapshot.DroppedOutAt = &v
	}
	return clone
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// AssessmentRepository - чтение сохранённых оценок.
// Запись идёт только пакетно, через коммит цикла оценки.
type AssessmentRepository interface {
	// GetByStudent возвращает последнюю оценку студента.
	// Возвращает shared.ErrAssessmentNotFound, если студент ещё не оценивался.
	GetByStudent(ctx context.Context, studentID string) (*Assessment, error)

	// ListAll возвращает все текущие оценки.
	ListAll(ctx context.Context) ([]Assessment, error)

	// ListMatching возвращает оценки по фильтру, упорядоченные по StudentID.
	ListMatching(ctx context.Context, filter Filter) ([]Assessment, error)
}

// Filter - условия выборки оценок. Нулевые поля не ограничивают.
// OverallRisk - указатель, потому что LevelLow равен нулю.
type Filter struct {
	OverallRisk *Level
	Course      string
	MentorID    string
	Offset      int
	Limit       int
}

// Matches применяет условия фильтра к одной оценке; Offset и Limit не учитываются.
func (f Filter) Matches(a Assessment) bool {
	switch {
	case f.OverallRisk != nil && a.OverallRisk != *f.OverallRisk,
		f.Course != "" && !strings.EqualFold(a.Snapshot.Course, f.Course),
		f.MentorID != "" && a.MentorID != f.MentorID:
		return false
	}
	return true
}
