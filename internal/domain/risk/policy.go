package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// Пороговые значения - это политика, а не механизм.
// Они загружаются из конфигурации и проверяются при старте.
// ══════════════════════════════════════════════════════════════════════════════

// AttendanceBands - границы уровней по посещаемости (проценты).
// pct < HighBelow → high, HighBelow <= pct < MediumBelow → medium, иначе low.
type AttendanceBands struct {
	HighBelow   float64 `yaml:"high_below" json:"high_below" validate:"gt=0,lte=100"`
	MediumBelow float64 `yaml:"medium_below" json:"medium_below" validate:"gt=0,lte=100"`
}

// AcademicRules - границы по GPA (шкала 0-10) и правила по контрольным и заданиям.
type AcademicRules struct {
	HighBelow           float64 `yaml:"high_below" json:"high_below" validate:"gt=0,lte=10"`
	MediumBelow         float64 `yaml:"medium_below" json:"medium_below" validate:"gt=0,lte=10"`
	DeclineDelta        float64 `yaml:"decline_delta" json:"decline_delta" validate:"gt=0,lte=10"`
	ConsecutiveFailures int     `yaml:"consecutive_failures" json:"consecutive_failures" validate:"gte=1,lte=20"`
	OverdueAssignments  int     `yaml:"overdue_assignments" json:"overdue_assignments" validate:"gte=1,lte=50"`
}

// FinancialRules - правила эскалации по задолженности.
type FinancialRules struct {
	// OverdueFraction - доля pending/total, выше которой риск high.
	OverdueFraction float64 `yaml:"overdue_fraction" json:"overdue_fraction" validate:"gt=0,lte=1"`
	// GraceDays - сколько дней после срока оплаты долг ещё не считается просроченным.
	GraceDays int `yaml:"grace_days" json:"grace_days" validate:"gte=0,lte=365"`
}

// BehaviorRules - правило по негативным заметкам.
type BehaviorRules struct {
	WindowDays    int `yaml:"window_days" json:"window_days" validate:"gte=1,lte=365"`
	NegativeNotes int `yaml:"negative_notes" json:"negative_notes" validate:"gte=1,lte=100"`
}

// RuleToggles включает дополнительные правила детектора.
type RuleToggles struct {
	TestFailures bool `yaml:"test_failures" json:"test_failures"`
	Assignments  bool `yaml:"assignments" json:"assignments"`
	GPADecline   bool `yaml:"gpa_decline" json:"gpa_decline"`
	Behavior     bool `yaml:"behavior" json:"behavior"`
}

// Policy - полный набор порогов для классификатора и детектора.
type Policy struct {
	Attendance AttendanceBands `yaml:"attendance" json:"attendance"`
	Academic   AcademicRules   `yaml:"academic" json:"academic"`
	Financial  FinancialRules  `yaml:"financial" json:"financial"`
	Behavior   BehaviorRules   `yaml:"behavior" json:"behavior"`
	Rules      RuleToggles     `yaml:"rules" json:"rules"`
}

// DefaultPolicy возвращает пороги по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		Attendance: AttendanceBands{
			HighBelow:   75, // below 75% is high
			MediumBelow: 85, // 75-85% is medium
		},
		Academic: AcademicRules{
			HighBelow:           6.0,
			MediumBelow:         7.5,
			DeclineDelta:        1.0,
			ConsecutiveFailures: 2,
			OverdueAssignments:  2,
		},
		Financial: FinancialRules{
			OverdueFraction: 0.20,
			GraceDays:       14,
		},
		Behavior: BehaviorRules{
			WindowDays:    30,
			NegativeNotes: 3,
		},
		Rules: RuleToggles{
			TestFailures: true,
			Assignments:  true,
			GPADecline:   true,
			Behavior:     true,
		},
	}
}

// Validate проверяет упорядоченность и диапазоны порогов.
// Возвращает все найденные проблемы одной ошибкой.
func (p Policy) Validate() error {
	var errs []string

	// NaN проходит любое сравнение, поэтому проверяется отдельно.
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"attendance.high_below", p.Attendance.HighBelow},
		{"attendance.medium_below", p.Attendance.MediumBelow},
		{"academic.high_below", p.Academic.HighBelow},
		{"academic.medium_below", p.Academic.MediumBelow},
		{"academic.decline_delta", p.Academic.DeclineDelta},
		{"financial.overdue_fraction", p.Financial.OverdueFraction},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			errs = append(errs, fmt.Sprintf("%s must be a finite number (got %v)", f.name, f.value))
		}
	}

	if p.Attendance.HighBelow <= 0 || p.Attendance.HighBelow > 100 {
		errs = append(errs, fmt.Sprintf("attendance.high_below must be in (0, 100] (got %v)", p.Attendance.HighBelow))
	}
	if p.Attendance.MediumBelow <= 0 || p.Attendance.MediumBelow > 100 {
		errs = append(errs, fmt.Sprintf("attendance.medium_below must be in (0, 100] (got %v)", p.Attendance.MediumBelow))
	}
	if p.Attendance.HighBelow >= p.Attendance.MediumBelow {
		errs = append(errs, fmt.Sprintf("attendance.high_below (%v) must be lower than attendance.medium_below (%v)",
			p.Attendance.HighBelow, p.Attendance.MediumBelow))
	}

	if p.Academic.HighBelow <= 0 || p.Academic.HighBelow > 10 {
		errs = append(errs, fmt.Sprintf("academic.high_below must be in (0, 10] (got %v)", p.Academic.HighBelow))
	}
	if p.Academic.MediumBelow <= 0 || p.Academic.MediumBelow > 10 {
		errs = append(errs, fmt.Sprintf("academic.medium_below must be in (0, 10] (got %v)", p.Academic.MediumBelow))
	}
	if p.Academic.HighBelow >= p.Academic.MediumBelow {
		errs = append(errs, fmt.Sprintf("academic.high_below (%v) must be lower than academic.medium_below (%v)",
			p.Academic.HighBelow, p.Academic.MediumBelow))
	}
	if p.Academic.DeclineDelta <= 0 {
		errs = append(errs, fmt.Sprintf("academic.decline_delta must be positive (got %v)", p.Academic.DeclineDelta))
	}
	if p.Academic.ConsecutiveFailures < 1 {
		errs = append(errs, fmt.Sprintf("academic.consecutive_failures must be at least 1 (got %d)", p.Academic.ConsecutiveFailures))
	}
	if p.Academic.OverdueAssignments < 1 {
		errs = append(errs, fmt.Sprintf("academic.overdue_assignments must be at least 1 (got %d)", p.Academic.OverdueAssignments))
	}

	if p.Financial.OverdueFraction <= 0 || p.Financial.OverdueFraction > 1 {
		errs = append(errs, fmt.Sprintf("financial.overdue_fraction must be in (0, 1] (got %v)", p.Financial.OverdueFraction))
	}
	if p.Financial.GraceDays < 0 {
		errs = append(errs, fmt.Sprintf("financial.grace_days cannot be negative (got %d)", p.Financial.GraceDays))
	}

	if p.Behavior.WindowDays < 1 {
		errs = append(errs, fmt.Sprintf("behavior.window_days must be at least 1 (got %d)", p.Behavior.WindowDays))
	}
	if p.Behavior.NegativeNotes < 1 {
		errs = append(errs, fmt.Sprintf("behavior.negative_notes must be at least 1 (got %d)", p.Behavior.NegativeNotes))
	}

	if len(errs) > 0 {
		return shared.WrapError("risk", "ValidatePolicy", shared.ErrValidation,
			"invalid risk policy", fmt.Errorf("%s", strings.Join(errs, "; ")))
	}
	return nil
}
