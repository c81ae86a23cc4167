package student

import (
	"math"
	"sort"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE
// ══════════════════════════════════════════════════════════════════════════════

// AttendanceRecord - посещаемость по предмету за окно наблюдения.
type AttendanceRecord struct {
	Subject         string    `json:"subject" yaml:"subject"`
	Date            time.Time `json:"date" yaml:"date"`
	TotalClasses    int       `json:"total_classes" yaml:"total_classes"`
	AttendedClasses int       `json:"attended_classes" yaml:"attended_classes"`
}

// Percentage возвращает attended/total*100, либо 0 при total = 0.
func (a AttendanceRecord) Percentage() float64 {
	if a.TotalClasses <= 0 {
		return 0
	}
	return float64(a.AttendedClasses) / float64(a.TotalClasses) * 100
}

// ══════════════════════════════════════════════════════════════════════════════
// ACADEMIC
// ══════════════════════════════════════════════════════════════════════════════

// TestScore - результат одной контрольной.
type TestScore struct {
	Subject       string    `json:"subject" yaml:"subject"`
	MarksObtained float64   `json:"marks_obtained" yaml:"marks_obtained" validate:"gte=0"`
	TotalMarks    float64   `json:"total_marks" yaml:"total_marks" validate:"gt=0"`
	Date          time.Time `json:"date" yaml:"date"`
	Attempts      int       `json:"attempts" yaml:"attempts" validate:"gte=0"`
	Passed        bool      `json:"passed" yaml:"passed"`
}

// AssignmentStatus - статус задания.
type AssignmentStatus string

const (
	AssignmentSubmitted AssignmentStatus = "submitted"
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentOverdue   AssignmentStatus = "overdue"
)

// Assignment - домашнее задание с дедлайном.
type Assignment struct {
	Title          string           `json:"title" yaml:"title"`
	Subject        string           `json:"subject" yaml:"subject"`
	DueDate        time.Time        `json:"due_date" yaml:"due_date"`
	SubmissionDate *time.Time       `json:"submission_date,omitempty" yaml:"submission_date"`
	Status         AssignmentStatus `json:"status" yaml:"status" validate:"omitempty,oneof=submitted pending overdue"`
	Marks          *float64         `json:"marks,omitempty" yaml:"marks"`
}

// IsOverdue возвращает true, если задание просрочено на момент asOf.
func (a Assignment) IsOverdue(asOf time.Time) bool {
	switch a.Status {
	case AssignmentOverdue:
		return true
	case AssignmentPending:
		return !a.DueDate.IsZero() && a.DueDate.Before(asOf)
	default:
		return false
	}
}

// AcademicRecord - успеваемость студента за семестр.
type AcademicRecord struct {
	Semester    int          `json:"semester" yaml:"semester"`
	GPA         *float64     `json:"gpa" yaml:"gpa"`
	PriorGPA    *float64     `json:"prior_gpa,omitempty" yaml:"prior_gpa"`
	TestScores  []TestScore  `json:"test_scores,omitempty" yaml:"test_scores" validate:"dive"`
	Assignments []Assignment `json:"assignments,omitempty" yaml:"assignments" validate:"dive"`
}

// HasGPA возвращает true, если GPA известен и является числом.
func (a *AcademicRecord) HasGPA() bool {
	return a != nil && a.GPA != nil && !math.IsNaN(*a.GPA)
}

// ConsecutiveFailures считает подряд проваленные контрольные, начиная с последней.
func (a *AcademicRecord) ConsecutiveFailures() int {
	if a == nil || len(a.TestScores) == 0 {
		return 0
	}
	tests := make([]TestScore, len(a.TestScores))
	copy(tests, a.TestScores)
	sort.SliceStable(tests, func(i, j int) bool {
		if tests[i].Date.Equal(tests[j].Date) {
			return tests[i].Subject < tests[j].Subject
		}
		return tests[i].Date.After(tests[j].Date)
	})

	count := 0
	for _, t := range tests {
		if t.Passed {
			break
		}
		count++
	}
	return count
}

// OverdueAssignments считает просроченные задания на момент asOf.
func (a *AcademicRecord) OverdueAssignments(asOf time.Time) int {
	if a == nil {
		return 0
	}
	count := 0
	for _, as := range a.Assignments {
		if as.IsOverdue(asOf) {
			count++
		}
	}
	return count
}

// ══════════════════════════════════════════════════════════════════════════════
// FINANCIAL
// ══════════════════════════════════════════════════════════════════════════════

// PaymentStatus - статус платежа.
type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentPending   PaymentStatus = "pending"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment - запись истории платежей.
type Payment struct {
	Amount   int64         `json:"amount" yaml:"amount"`
	Date     time.Time     `json:"date" yaml:"date"`
	Method   string        `json:"method,omitempty" yaml:"method"`
	Status   PaymentStatus `json:"status" yaml:"status" validate:"omitempty,oneof=completed pending failed"`
	Semester int           `json:"semester,omitempty" yaml:"semester"`
}

// ScholarshipStatus - статус стипендии.
type ScholarshipStatus string

const (
	ScholarshipActive  ScholarshipStatus = "active"
	ScholarshipExpired ScholarshipStatus = "expired"
)

// Scholarship - стипендия или грант.
type Scholarship struct {
	Name      string            `json:"name" yaml:"name"`
	Amount    int64             `json:"amount" yaml:"amount"`
	StartDate time.Time         `json:"start_date" yaml:"start_date"`
	EndDate   time.Time         `json:"end_date" yaml:"end_date"`
	Status    ScholarshipStatus `json:"status" yaml:"status" validate:"omitempty,oneof=active expired"`
}

// IsActiveAt возвращает true, если стипендия действует на момент asOf.
func (s Scholarship) IsActiveAt(asOf time.Time) bool {
	if s.Status != ScholarshipActive {
		return false
	}
	if !s.EndDate.IsZero() && s.EndDate.Before(asOf) {
		return false
	}
	return true
}

// FinancialRecord - финансовое состояние студента.
// Суммы в целых единицах валюты. Инвариант: PendingFees = TotalFees - PaidFees >= 0.
type FinancialRecord struct {
	TotalFees      int64         `json:"total_fees" yaml:"total_fees"`
	PaidFees       int64         `json:"paid_fees" yaml:"paid_fees"`
	PendingFees    int64         `json:"pending_fees" yaml:"pending_fees"`
	DueDate        *time.Time    `json:"due_date,omitempty" yaml:"due_date"`
	PaymentHistory []Payment     `json:"payment_history,omitempty" yaml:"payment_history" validate:"dive"`
	Scholarships   []Scholarship `json:"scholarships,omitempty" yaml:"scholarships" validate:"dive"`
}

// EffectiveDueDate возвращает срок оплаты: явный DueDate, иначе дату
// самого старого незавершённого платежа.
func (f *FinancialRecord) EffectiveDueDate() (time.Time, bool) {
	if f == nil {
		return time.Time{}, false
	}
	if f.DueDate != nil && !f.DueDate.IsZero() {
		return *f.DueDate, true
	}

	var oldest time.Time
	found := false
	for _, p := range f.PaymentHistory {
		if p.Status != PaymentPending && p.Status != PaymentFailed {
			continue
		}
		if !found || p.Date.Before(oldest) {
			oldest = p.Date
			found = true
		}
	}
	return oldest, found
}

// HasActiveScholarship возвращает true, если есть действующая стипендия.
func (f *FinancialRecord) HasActiveScholarship(asOf time.Time) bool {
	if f == nil {
		return false
	}
	for _, s := range f.Scholarships {
		if s.IsActiveAt(asOf) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// BEHAVIOR
// ══════════════════════════════════════════════════════════════════════════════

// BehaviorNoteType - характер заметки о поведении.
type BehaviorNoteType string

const (
	BehaviorPositive BehaviorNoteType = "positive"
	BehaviorNegative BehaviorNoteType = "negative"
	BehaviorNeutral  BehaviorNoteType = "neutral"
)

// BehaviorNote - заметка куратора о поведении студента.
type BehaviorNote struct {
	Date        time.Time        `json:"date" yaml:"date"`
	Type        BehaviorNoteType `json:"type" yaml:"type" validate:"oneof=positive negative neutral"`
	Points      int              `json:"points" yaml:"points"`
	Description string           `json:"description,omitempty" yaml:"description"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORDS BUNDLE
// ══════════════════════════════════════════════════════════════════════════════

// Records - всё, что известно о студенте на момент оценки.
// Academic и Financial могут отсутствовать - это не ошибка, а сигнал нехватки данных.
type Records struct {
	Student    Student            `json:"student" yaml:"student" validate:"required"`
	Academic   *AcademicRecord    `json:"academic,omitempty" yaml:"academic"`
	Attendance []AttendanceRecord `json:"attendance,omitempty" yaml:"attendance"`
	Financial  *FinancialRecord   `json:"financial,omitempty" yaml:"financial"`
	Behavior   []BehaviorNote     `json:"behavior,omitempty" yaml:"behavior" validate:"dive"`
}

// NegativeNotesSince считает негативные заметки в окне [from, asOf].
func (r Records) NegativeNotesSince(from, asOf time.Time) int {
	count := 0
	for _, n := range r.Behavior {
		if n.Type != BehaviorNegative {
			continue
		}
		if n.Date.Before(from) || n.Date.After(asOf) {
			continue
		}
		count++
	}
	return count
}
