package risk

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/internal/domain/student"
	"github.com/alem-hub/student-risk-monitor/pkg/timeutil"
)

// IntegrityIssue - нарушение инварианта во входных записях.
// Не прерывает оценку: студент оценивается по исправленным значениям,
// а проблема прикладывается к оценке.
type IntegrityIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error реализует интерфейс error.
func (i IntegrityIssue) Error() string {
	return fmt.Sprintf("data integrity: %s: %s", i.Field, i.Message)
}

// Unwrap позволяет errors.Is(issue, shared.ErrIntegrity).
func (i IntegrityIssue) Unwrap() error {
	return shared.ErrIntegrity
}

// Inputs - очищенные значения, с которыми работают классификатор и детектор.
type Inputs struct {
	StudentID    string
	MentorID     string
	Course       string
	Enrollment   student.EnrollmentStatus
	DroppedOutAt *time.Time

	// AttendancePercentage - nil, если записей о посещаемости нет.
	AttendancePercentage *float64

	// GPA - nil, если GPA отсутствует или NaN.
	GPA      *float64
	PriorGPA *float64

	HasFinancial      bool
	TotalFees         int64
	PaidFees          int64
	PendingFees       int64
	HasDueDate        bool
	DaysOverdue       int
	ActiveScholarship bool

	ConsecutiveFailures int
	OverdueAssignments  int
	NegativeNotes       int
}

// Sanitize приводит записи к Inputs, зажимая значения, нарушающие инварианты.
func Sanitize(records student.Records, asOf time.Time, policy Policy) (Inputs, []IntegrityIssue) {
	var issues []IntegrityIssue
	report := func(field, format string, args ...interface{}) {
		issues = append(issues, IntegrityIssue{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	in := Inputs{
		StudentID:    records.Student.ID,
		MentorID:     records.Student.MentorID,
		Course:       records.Student.Course,
		Enrollment:   records.Student.EnrollmentStatus(),
		DroppedOutAt: records.Student.DroppedOutAt,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Attendance: самая свежая дата; записи за одну дату суммируются
	// ─────────────────────────────────────────────────────────────────────────

	type cleaned struct {
		date     time.Time
		total    int
		attended int
	}
	rows := make([]cleaned, 0, len(records.Attendance))
	for _, rec := range records.Attendance {
		total, attended := rec.TotalClasses, rec.AttendedClasses
		if total < 0 {
			report("attendance.total_classes", "%s: total classes %d is negative", rec.Subject, total)
			total = 0
		}
		if attended < 0 {
			report("attendance.attended_classes", "%s: attended classes %d is negative", rec.Subject, attended)
			attended = 0
		}
		if attended > total {
			report("attendance.attended_classes", "%s: attended classes %d exceed total %d", rec.Subject, attended, total)
			attended = total
		}
		rows = append(rows, cleaned{date: rec.Date, total: total, attended: attended})
	}
	if len(rows) > 0 {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].date.After(rows[j].date) })
		latest := rows[0].date
		total, attended := 0, 0
		for _, r := range rows {
			if !timeutil.IsSameDay(r.date, latest) {
				break
			}
			total += r.total
			attended += r.attended
		}
		pct := shared.Ratio(float64(attended), float64(total))
		in.AttendancePercentage = &pct
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Academic
	// ─────────────────────────────────────────────────────────────────────────

	if records.Academic != nil {
		if records.Academic.HasGPA() {
			g := clampGPA(*records.Academic.GPA, "academic.gpa", report)
			in.GPA = &g
		}
		if p := records.Academic.PriorGPA; p != nil && !math.IsNaN(*p) {
			g := clampGPA(*p, "academic.prior_gpa", report)
			in.PriorGPA = &g
		}
		in.ConsecutiveFailures = records.Academic.ConsecutiveFailures()
		in.OverdueAssignments = records.Academic.OverdueAssignments(asOf)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Financial: pending = total - paid >= 0
	// ─────────────────────────────────────────────────────────────────────────

	if fin := records.Financial; fin != nil {
		in.HasFinancial = true
		total, paid, pending := fin.TotalFees, fin.PaidFees, fin.PendingFees
		if total < 0 {
			report("financial.total_fees", "total fees %d is negative", total)
			total = 0
		}
		if paid < 0 {
			report("financial.paid_fees", "paid fees %d is negative", paid)
			paid = 0
		}
		if pending < 0 {
			report("financial.pending_fees", "pending fees %d is negative", pending)
			pending = 0
		}
		expected := total - paid
		if expected < 0 {
			expected = 0
		}
		if pending != expected {
			report("financial.pending_fees", "pending fees %d do not equal total %d minus paid %d", pending, total, paid)
		}
		in.TotalFees, in.PaidFees, in.PendingFees = total, paid, pending

		if due, ok := fin.EffectiveDueDate(); ok {
			in.HasDueDate = true
			if pending > 0 {
				in.DaysOverdue = timeutil.ElapsedDays(due, asOf)
			}
		}
		in.ActiveScholarship = fin.HasActiveScholarship(asOf)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Behavior
	// ─────────────────────────────────────────────────────────────────────────

	window := shared.DaysBefore(asOf, policy.Behavior.WindowDays)
	in.NegativeNotes = records.NegativeNotesSince(window.From, window.To)

	return in, issues
}

func clampGPA(g float64, field string, report func(field, format string, args ...interface{})) float64 {
	if g < 0 {
		report(field, "GPA %.2f is below 0", g)
		return 0
	}
	if g > 10 {
		report(field, "GPA %.2f is above 10", g)
		return 10
	}
	return g
}
