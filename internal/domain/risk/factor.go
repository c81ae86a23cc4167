package risk

import (
	"fmt"
	"time"
)

// Category - измерение, к которому относится фактор риска.
type Category string

const (
	CategoryAcademic   Category = "academic"
	CategoryAttendance Category = "attendance"
	CategoryFinancial  Category = "financial"
	CategoryBehavioral Category = "behavioral"
)

// AllCategories перечисляет категории в каноническом порядке.
var AllCategories = []Category{CategoryAcademic, CategoryAttendance, CategoryFinancial, CategoryBehavioral}

// IsValid проверяет, что категория известна.
func (c Category) IsValid() bool {
	switch c {
	case CategoryAcademic, CategoryAttendance, CategoryFinancial, CategoryBehavioral:
		return true
	default:
		return false
	}
}

// Rule - код правила детектора, породившего фактор.
type Rule string

const (
	RuleAttendanceBelowThreshold Rule = "attendance_below_threshold"
	RuleAttendanceBelowTarget    Rule = "attendance_below_target"
	RuleAttendanceNoData         Rule = "attendance_no_data"
	RuleGPABelowThreshold        Rule = "gpa_below_threshold"
	RuleGPABelowTarget           Rule = "gpa_below_target"
	RuleGPADecline               Rule = "gpa_decline"
	RuleAcademicNoData           Rule = "academic_no_data"
	RuleConsecutiveTestFailures  Rule = "consecutive_test_failures"
	RuleAssignmentsOverdue       Rule = "assignments_overdue"
	RuleFeesPending              Rule = "fees_pending"
	RuleFeesAboveLimit           Rule = "fees_above_limit"
	RuleFeesOverdue              Rule = "fees_overdue"
	RuleFinancialNoData          Rule = "financial_no_data"
	RuleNegativeBehavior         Rule = "negative_behavior"
)

// IsDataQuality возвращает true для правил, сигнализирующих о нехватке данных.
func (r Rule) IsDataQuality() bool {
	return r == RuleAttendanceNoData || r == RuleAcademicNoData || r == RuleFinancialNoData
}

const (
	// MinImpact и MaxImpact ограничивают шкалу влияния фактора.
	MinImpact = 1
	MaxImpact = 10
)

// Factor - одно обнаруженное условие риска.
// Факторы не изменяются после создания: при следующей оценке список строится заново.
type Factor struct {
	ID          string    `json:"id"`
	Rule        Rule      `json:"rule"`
	Category    Category  `json:"category"`
	Description string    `json:"description"`
	Severity    Level     `json:"severity"`
	Impact      int       `json:"impact"`
	DetectedAt  time.Time `json:"detected_at"`
}

// String возвращает краткое описание фактора.
func (f Factor) String() string {
	return fmt.Sprintf("%s[%s/%s impact=%d]: %s", f.Rule, f.Category, f.Severity, f.Impact, f.Description)
}

// factorID строит детерминированный ID фактора: студент + правило.
func factorID(studentID string, rule Rule) string {
	return studentID + "/" + string(rule)
}
