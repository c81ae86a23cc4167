package risk

// Тексты рекомендаций.
const (
	RecCounselorIntervention = "Immediate counselor intervention required"
	RecContactGuardian       = "Contact guardian for discussion"
	RecAcademicSupport       = "Provide additional academic support"
	RecAcademicCounseling    = "Academic counseling recommended"
	RecAttendanceReview      = "Schedule attendance review with mentor"
	RecMonitorStudyPatterns  = "Monitor study patterns"
	RecFeeFollowUp           = "Follow up on fee payment"
	RecFinancialAid          = "Check for financial aid eligibility"
	RecWelfareReferral       = "Refer to student welfare officer"
	RecVerifyRecords         = "Verify missing student records"
)

// recommendationRule срабатывает, когда все категории Requires присутствуют,
// а ни одной из Excludes нет.
type recommendationRule struct {
	Requires []Category
	Excludes []Category
	Texts    []string
}

var recommendationRules = []recommendationRule{
	{
		Requires: []Category{CategoryAcademic, CategoryAttendance},
		Texts:    []string{RecCounselorIntervention, RecContactGuardian},
	},
	{
		Requires: []Category{CategoryAcademic},
		Excludes: []Category{CategoryAttendance},
		Texts:    []string{RecAcademicSupport, RecAcademicCounseling},
	},
	{
		Requires: []Category{CategoryAttendance},
		Excludes: []Category{CategoryAcademic},
		Texts:    []string{RecAttendanceReview, RecMonitorStudyPatterns},
	},
	{
		Requires: []Category{CategoryFinancial},
		Texts:    []string{RecFeeFollowUp},
	},
	{
		Requires: []Category{CategoryBehavioral},
		Texts:    []string{RecWelfareReferral},
	},
}

// Recommend строит рекомендации по множеству категорий активных факторов.
// Результат зависит только от множества, а не от порядка факторов.
func Recommend(factors []Factor, in Inputs) []string {
	present := make(map[Category]bool, len(factors))
	dataGap := false
	for _, f := range factors {
		present[f.Category] = true
		if f.Rule.IsDataQuality() {
			dataGap = true
		}
	}

	result := make([]string, 0, 4)
	for _, rule := range recommendationRules {
		if !rule.matches(present) {
			continue
		}
		result = append(result, rule.Texts...)
	}

	if present[CategoryFinancial] && in.HasFinancial && !in.ActiveScholarship {
		result = append(result, RecFinancialAid)
	}
	if dataGap {
		result = append(result, RecVerifyRecords)
	}
	return result
}

func (r recommendationRule) matches(present map[Category]bool) bool {
	for _, c := range r.Requires {
		if !present[c] {
			return false
		}
	}
	for _, c := range r.Excludes {
		if present[c] {
			return false
		}
	}
	return true
}
