package risk

import (
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/student"
)

// Evaluator - контракт оценки одного студента.
// Правиловый Engine - основная реализация; внешний скорер может встать за тот же интерфейс.
// prior - предыдущая сохранённая оценка студента или nil.
type Evaluator interface {
	Evaluate(records student.Records, prior *Assessment, asOf time.Time) Assessment
}

// Engine - конвейер очистка → классификация → факторы → рекомендации.
// Не хранит изменяемого состояния и безопасен для параллельного вызова.
type Engine struct {
	policy     Policy
	classifier Classifier
	detector   Detector
}

// NewEngine создаёт движок после проверки политики.
func NewEngine(policy Policy) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		policy:     policy,
		classifier: NewClassifier(policy),
		detector:   NewDetector(policy),
	}, nil
}

// Policy возвращает действующую политику.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Evaluate строит оценку риска. Одинаковые records, prior и asOf дают одинаковую оценку.
//
// GPA из prior служит точкой отсчёта для gpa_decline и заменяет PriorGPA из
// записей. Факторы, сработавшие и в prior, сохраняют исходный DetectedAt.
func (e *Engine) Evaluate(records student.Records, prior *Assessment, asOf time.Time) Assessment {
	records = withPriorGPA(records, prior)
	in, issues := Sanitize(records, asOf, e.policy)
	cls := e.classifier.Classify(in)
	factors := e.detector.Detect(in, cls, asOf)
	keepDetectedAt(factors, prior)

	return Assessment{
		StudentID:       in.StudentID,
		MentorID:        in.MentorID,
		AcademicRisk:    cls.Academic,
		AttendanceRisk:  cls.Attendance,
		FinancialRisk:   cls.Financial,
		OverallRisk:     cls.Overall,
		Factors:         factors,
		Recommendations: Recommend(factors, in),
		Issues:          issues,
		Snapshot:        snapshotOf(in),
		LastUpdated:     asOf,
	}
}

func snapshotOf(in Inputs) Snapshot {
	return Snapshot{
		AttendancePercentage: in.AttendancePercentage,
		GPA:                  in.GPA,
		HasFinancial:         in.HasFinancial,
		TotalFees:            in.TotalFees,
		PendingFees:          in.PendingFees,
		DaysOverdue:          in.DaysOverdue,
		Enrollment:           in.Enrollment,
		DroppedOutAt:         in.DroppedOutAt,
		Course:               in.Course,
	}
}

// withPriorGPA не меняет записи вызывающего: академическая запись копируется.
func withPriorGPA(records student.Records, prior *Assessment) student.Records {
	if prior == nil || prior.Snapshot.GPA == nil || records.Academic == nil {
		return records
	}
	academic := *records.Academic
	g := *prior.Snapshot.GPA
	academic.PriorGPA = &g
	records.Academic = &academic
	return records
}

func keepDetectedAt(factors []Factor, prior *Assessment) {
	if prior == nil {
		return
	}
	since := make(map[Rule]time.Time, len(prior.Factors))
	for _, f := range prior.Factors {
		since[f.Rule] = f.DetectedAt
	}
	for i := range factors {
		if t, ok := since[factors[i].Rule]; ok && !t.IsZero() && t.Before(factors[i].DetectedAt) {
			factors[i].DetectedAt = t
		}
	}
}
