package risk

import (
	"fmt"
	"strconv"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// Detector строит факторы риска, объясняющие классификацию.
// Влияние фактора растёт с удалением метрики от порога и ограничено 10.
type Detector struct {
	policy Policy
}

// NewDetector создаёт детектор с заданной политикой.
func NewDetector(policy Policy) Detector {
	return Detector{policy: policy}
}

// Detect возвращает текущий объясняющий набор факторов.
// Порядок факторов фиксирован порядком правил.
func (d Detector) Detect(in Inputs, cls Classification, asOf time.Time) []Factor {
	factors := make([]Factor, 0, 4)
	add := func(rule Rule, category Category, severity Level, impact int, description string) {
		factors = append(factors, Factor{
			ID:          factorID(in.StudentID, rule),
			Rule:        rule,
			Category:    category,
			Description: description,
			Severity:    severity,
			Impact:      shared.ClampInt(impact, MinImpact, MaxImpact),
			DetectedAt:  asOf,
		})
	}

	d.academic(in, cls, add)
	d.attendance(in, cls, add)
	d.financial(in, cls, add)
	d.behavioral(in, add)

	return factors
}

type addFunc func(rule Rule, category Category, severity Level, impact int, description string)

// ─────────────────────────────────────────────────────────────────────────────
// Academic
// ─────────────────────────────────────────────────────────────────────────────

func (d Detector) academic(in Inputs, cls Classification, add addFunc) {
	p := d.policy.Academic

	switch {
	case in.GPA == nil:
		add(RuleAcademicNoData, CategoryAcademic, LevelHigh, 5,
			"GPA missing or invalid; academic standing cannot be verified")
	case cls.Academic == LevelHigh:
		g := *in.GPA
		add(RuleGPABelowThreshold, CategoryAcademic, LevelHigh,
			5+shared.CeilSteps(p.HighBelow-g, 0.2),
			fmt.Sprintf("GPA %s is below the %s threshold", num(g), num(p.HighBelow)))
	case cls.Academic == LevelMedium:
		g := *in.GPA
		add(RuleGPABelowTarget, CategoryAcademic, LevelMedium,
			1+shared.CeilSteps(p.MediumBelow-g, 0.5),
			fmt.Sprintf("GPA %s is below the %s target", num(g), num(p.MediumBelow)))
	}

	if d.policy.Rules.GPADecline && in.GPA != nil && in.PriorGPA != nil {
		drop := *in.PriorGPA - *in.GPA
		if drop > p.DeclineDelta {
			add(RuleGPADecline, CategoryAcademic, LevelMedium,
				5+shared.CeilSteps(drop-p.DeclineDelta, 0.25),
				fmt.Sprintf("GPA dropped from %s to %s", num(*in.PriorGPA), num(*in.GPA)))
		}
	}

	if d.policy.Rules.TestFailures && in.ConsecutiveFailures >= p.ConsecutiveFailures {
		add(RuleConsecutiveTestFailures, CategoryAcademic, LevelHigh,
			3+3*in.ConsecutiveFailures,
			fmt.Sprintf("Failed %d consecutive tests", in.ConsecutiveFailures))
	}

	if d.policy.Rules.Assignments && in.OverdueAssignments >= p.OverdueAssignments {
		add(RuleAssignmentsOverdue, CategoryAcademic, LevelMedium,
			2+2*in.OverdueAssignments,
			fmt.Sprintf("%d assignments overdue", in.OverdueAssignments))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Attendance
// ─────────────────────────────────────────────────────────────────────────────

func (d Detector) attendance(in Inputs, cls Classification, add addFunc) {
	p := d.policy.Attendance

	switch {
	case in.AttendancePercentage == nil:
		add(RuleAttendanceNoData, CategoryAttendance, LevelHigh, 5,
			"No attendance records on file")
	case cls.Attendance == LevelHigh:
		pct := *in.AttendancePercentage
		add(RuleAttendanceBelowThreshold, CategoryAttendance, LevelHigh,
			3+shared.CeilSteps(p.HighBelow-pct, 2),
			fmt.Sprintf("Attendance dropped to %s%% (below %s%% threshold)", num(pct), num(p.HighBelow)))
	case cls.Attendance == LevelMedium:
		pct := *in.AttendancePercentage
		add(RuleAttendanceBelowTarget, CategoryAttendance, LevelMedium,
			1+shared.CeilSteps(p.MediumBelow-pct, 4),
			fmt.Sprintf("Attendance at %s%% (below %s%% target)", num(pct), num(p.MediumBelow)))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Financial
// ─────────────────────────────────────────────────────────────────────────────

func (d Detector) financial(in Inputs, cls Classification, add addFunc) {
	p := d.policy.Financial

	if !in.HasFinancial {
		add(RuleFinancialNoData, CategoryFinancial, LevelMedium, 3,
			"No financial record on file")
		return
	}
	if in.PendingFees <= 0 {
		return
	}

	fraction := pendingFraction(in)
	aboveLimit := fraction > p.OverdueFraction
	overdue := in.DaysOverdue > p.GraceDays

	if aboveLimit {
		add(RuleFeesAboveLimit, CategoryFinancial, LevelHigh,
			5+shared.CeilSteps(fraction-p.OverdueFraction, 0.05),
			fmt.Sprintf("Pending fees at %.1f%% of total (above %s%% limit)", fraction*100, num(p.OverdueFraction*100)))
	}
	if overdue {
		add(RuleFeesOverdue, CategoryFinancial, LevelHigh,
			5+shared.CeilSteps(float64(in.DaysOverdue-p.GraceDays), 7),
			fmt.Sprintf("Fee payment overdue by %d days", in.DaysOverdue))
	}
	if !aboveLimit && !overdue && cls.Financial == LevelMedium {
		add(RuleFeesPending, CategoryFinancial, LevelMedium,
			1+shared.CeilSteps(fraction, p.OverdueFraction/4),
			fmt.Sprintf("Pending fees of %d (%.1f%% of total)", in.PendingFees, fraction*100))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Behavioral
// ─────────────────────────────────────────────────────────────────────────────

func (d Detector) behavioral(in Inputs, add addFunc) {
	if !d.policy.Rules.Behavior || in.NegativeNotes < d.policy.Behavior.NegativeNotes {
		return
	}
	add(RuleNegativeBehavior, CategoryBehavioral, LevelMedium,
		2*in.NegativeNotes,
		fmt.Sprintf("%d negative behavior notes in the last %d days", in.NegativeNotes, d.policy.Behavior.WindowDays))
}

// num форматирует число без лишних нулей: 65, 72.5, 5.2.
func num(v float64) string {
	return strconv.FormatFloat(shared.Round2(v), 'f', -1, 64)
}
