package notification

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

var cycleAt = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

func sequentialIDs() IDFunc {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("alert-%d", n)
	}
}

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	g, err := NewGenerator(DefaultPolicy(), sequentialIDs())
	require.NoError(t, err)
	return g
}

func factor(rule risk.Rule, category risk.Category, severity risk.Level, impact int, desc string) risk.Factor {
	return risk.Factor{
		ID:          "STU001/" + string(rule),
		Rule:        rule,
		Category:    category,
		Description: desc,
		Severity:    severity,
		Impact:      impact,
		DetectedAt:  cycleAt,
	}
}

func assessment(overall risk.Level, factors ...risk.Factor) risk.Assessment {
	return risk.Assessment{
		StudentID:   "STU001",
		MentorID:    "MENTOR01",
		OverallRisk: overall,
		Factors:     factors,
		LastUpdated: cycleAt,
	}
}

func criticalAssessment() risk.Assessment {
	return assessment(risk.LevelHigh,
		factor(risk.RuleGPABelowThreshold, risk.CategoryAcademic, risk.LevelHigh, 9, "GPA 5.2 below 6 threshold"),
		factor(risk.RuleAttendanceBelowThreshold, risk.CategoryAttendance, risk.LevelHigh, 8, "Attendance dropped to 65% (below 75% threshold)"),
	)
}

func TestGenerator_FirstEvaluationRaisesCriticalAlerts(t *testing.T) {
	g := newTestGenerator(t)

	res := g.Reconcile(nil, criticalAssessment(), nil)

	require.Len(t, res.Raised, 2)
	assert.Empty(t, res.Refreshed)

	academic := res.Raised[0]
	assert.Equal(t, AlertTypeAcademic, academic.Type)
	assert.Equal(t, PriorityCritical, academic.Priority)
	assert.Equal(t, "Critical Risk Alert", academic.Title)
	assert.True(t, academic.ActionRequired)
	assert.False(t, academic.Read)
	assert.Equal(t, 9, academic.Impact)
	assert.Equal(t, "MENTOR01", academic.MentorID)
	assert.Equal(t, cycleAt, academic.Timestamp)
	assert.Equal(t, 1, academic.Occurrences)

	attendance := res.Raised[1]
	assert.Equal(t, AlertTypeAttendance, attendance.Type)
	assert.Equal(t, "Attendance dropped to 65% (below 75% threshold)", attendance.Message)
	assert.Equal(t, []risk.Rule{risk.RuleAttendanceBelowThreshold}, attendance.Rules)
}

func TestGenerator_PriorityMapping(t *testing.T) {
	g := newTestGenerator(t)

	tests := []struct {
		name   string
		a      risk.Assessment
		want   Priority
		wantOK bool
	}{
		{"low", assessment(risk.LevelLow), 0, false},
		{"medium", assessment(risk.LevelMedium, factor(risk.RuleAttendanceBelowTarget, risk.CategoryAttendance, risk.LevelMedium, 3, "")), PriorityMedium, true},
		{"high", assessment(risk.LevelHigh, factor(risk.RuleFeesAboveLimit, risk.CategoryFinancial, risk.LevelHigh, 6, "")), PriorityHigh, true},
		{"critical", criticalAssessment(), PriorityCritical, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := g.PriorityFor(tt.a)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerator_RepeatedTransitionRefreshesInsteadOfDuplicating(t *testing.T) {
	g := newTestGenerator(t)
	cur := criticalAssessment()

	first := g.Reconcile(nil, cur, nil)
	require.Len(t, first.Raised, 2)

	later := cur.Clone()
	later.LastUpdated = cycleAt.Add(time.Hour)
	second := g.Reconcile(nil, later, first.Raised)

	assert.Empty(t, second.Raised)
	require.Len(t, second.Refreshed, 2)
	for i, a := range second.Refreshed {
		assert.Equal(t, first.Raised[i].ID, a.ID)
		assert.Equal(t, 2, a.Occurrences)
		assert.Equal(t, cycleAt.Add(time.Hour), a.LastSeenAt)
		assert.Equal(t, cycleAt, a.Timestamp)
	}

	// исходные алерты не изменены
	assert.Equal(t, 1, first.Raised[0].Occurrences)
}

func TestGenerator_UnchangedRiskIsSilent(t *testing.T) {
	g := newTestGenerator(t)
	cur := criticalAssessment()
	prev := cur.Clone()

	res := g.Reconcile(&prev, cur, nil)
	assert.True(t, res.IsEmpty())
}

func TestGenerator_DeescalationIsSilent(t *testing.T) {
	g := newTestGenerator(t)
	prev := criticalAssessment()

	medium := assessment(risk.LevelMedium,
		factor(risk.RuleGPABelowTarget, risk.CategoryAcademic, risk.LevelMedium, 2, "GPA 7 below 7.5 target"),
	)
	assert.True(t, g.Reconcile(&prev, medium, nil).IsEmpty())

	low := assessment(risk.LevelLow)
	assert.True(t, g.Reconcile(&prev, low, nil).IsEmpty())
}

func TestGenerator_ClosedAlertsDoNotAbsorbNewTransitions(t *testing.T) {
	g := newTestGenerator(t)
	first := g.Reconcile(nil, criticalAssessment(), nil)
	for _, a := range first.Raised {
		require.NoError(t, a.Resolve("mentor", cycleAt))
	}

	second := g.Reconcile(nil, criticalAssessment(), first.Raised)
	assert.Len(t, second.Raised, 2)
	assert.Empty(t, second.Refreshed)
}

func TestGenerator_FeesOverdueRequiresAction(t *testing.T) {
	g := newTestGenerator(t)
	prev := assessment(risk.LevelMedium,
		factor(risk.RuleFeesPending, risk.CategoryFinancial, risk.LevelMedium, 2, "Pending fees at 10% of total"),
	)
	cur := assessment(risk.LevelHigh,
		factor(risk.RuleFeesOverdue, risk.CategoryFinancial, risk.LevelHigh, 7, "Fee payment overdue by 30 days"),
	)

	res := g.Reconcile(&prev, cur, nil)
	require.Len(t, res.Raised, 1)

	a := res.Raised[0]
	assert.Equal(t, AlertTypeFinancial, a.Type)
	assert.Equal(t, PriorityHigh, a.Priority)
	assert.Equal(t, "Fee Payment Overdue", a.Title)
	assert.True(t, a.ActionRequired)
}

func TestGenerator_NewCategoryAtSameLevel(t *testing.T) {
	g := newTestGenerator(t)
	prev := assessment(risk.LevelMedium,
		factor(risk.RuleAttendanceBelowTarget, risk.CategoryAttendance, risk.LevelMedium, 3, "Attendance at 80%"),
	)
	cur := assessment(risk.LevelMedium,
		factor(risk.RuleAttendanceBelowTarget, risk.CategoryAttendance, risk.LevelMedium, 3, "Attendance at 80%"),
		factor(risk.RuleNegativeBehavior, risk.CategoryBehavioral, risk.LevelMedium, 6, "3 negative behavior notes in the last 30 days"),
	)

	res := g.Reconcile(&prev, cur, nil)
	require.Len(t, res.Raised, 1)

	a := res.Raised[0]
	assert.Equal(t, AlertTypeGeneral, a.Type)
	assert.Equal(t, PriorityMedium, a.Priority)
	assert.Equal(t, "Behavior Concern", a.Title)
	assert.False(t, a.ActionRequired)
	assert.True(t, a.IsOpen())
}

func TestGenerator_ImpactDeltaReAlert(t *testing.T) {
	prev := assessment(risk.LevelHigh,
		factor(risk.RuleAttendanceBelowThreshold, risk.CategoryAttendance, risk.LevelHigh, 5, "Attendance dropped to 70%"),
	)

	tests := []struct {
		name      string
		impact    int
		wantAlert bool
	}{
		{"below delta", 6, false},
		{"at delta", 7, true},
		{"above delta", 8, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGenerator(t)
			cur := assessment(risk.LevelHigh,
				factor(risk.RuleAttendanceBelowThreshold, risk.CategoryAttendance, risk.LevelHigh, tt.impact, "Attendance dropped"),
			)
			res := g.Reconcile(&prev, cur, nil)
			assert.Equal(t, tt.wantAlert, !res.IsEmpty())
		})
	}
}

func TestGenerator_GPADeclineTitle(t *testing.T) {
	g := newTestGenerator(t)
	cur := assessment(risk.LevelHigh,
		factor(risk.RuleGPADecline, risk.CategoryAcademic, risk.LevelHigh, 6, "GPA dropped from 8.2 to 6.8"),
		factor(risk.RuleGPABelowTarget, risk.CategoryAcademic, risk.LevelMedium, 2, "GPA 6.8 below 7.5 target"),
	)

	res := g.Reconcile(nil, cur, nil)
	require.Len(t, res.Raised, 1)
	assert.Equal(t, "GPA Decline Detected", res.Raised[0].Title)
	assert.Equal(t, "GPA dropped from 8.2 to 6.8; GPA 6.8 below 7.5 target", res.Raised[0].Message)
}

func TestGenerator_IgnoresOtherStudentsAlerts(t *testing.T) {
	g := newTestGenerator(t)
	other := g.Reconcile(nil, criticalAssessment(), nil).Raised
	for _, a := range other {
		a.StudentID = "STU999"
	}

	res := g.Reconcile(nil, criticalAssessment(), other)
	assert.Len(t, res.Raised, 2)
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	err := Policy{ReAlertImpactDelta: 0, CriticalImpact: 11}.Validate()
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Contains(t, err.Error(), "realert_impact_delta")

	_, err = NewGenerator(DefaultPolicy(), nil)
	assert.Error(t, err)
}
