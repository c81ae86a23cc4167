package risk

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/internal/domain/student"
)

var testAsOf = time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultPolicy())
	require.NoError(t, err)
	return engine
}

func healthyRecords(id string) student.Records {
	return student.Records{
		Student: student.Student{ID: id, Name: "Test Student", MentorID: "M01", Status: student.EnrollmentActive},
		Academic: &student.AcademicRecord{
			GPA: ptr(8.4),
		},
		Attendance: []student.AttendanceRecord{
			{Subject: "Mathematics", Date: testAsOf.AddDate(0, 0, -1), TotalClasses: 100, AttendedClasses: 92},
		},
		Financial: &student.FinancialRecord{TotalFees: 140000, PaidFees: 140000},
	}
}

func factorRules(a Assessment) []Rule {
	rules := make([]Rule, 0, len(a.Factors))
	for _, f := range a.Factors {
		rules = append(rules, f.Rule)
	}
	return rules
}

func TestEngine_HealthyStudentIsLow(t *testing.T) {
	a := newTestEngine(t).Evaluate(healthyRecords("ST002"), nil, testAsOf)

	assert.Equal(t, LevelLow, a.OverallRisk)
	assert.Empty(t, a.Factors)
	assert.Empty(t, a.Recommendations)
	assert.Empty(t, a.Issues)
	assert.Equal(t, "M01", a.MentorID)
	assert.Equal(t, testAsOf, a.LastUpdated)
}

func TestEngine_AttendanceAndGPAScenario(t *testing.T) {
	records := healthyRecords("ST001")
	records.Attendance = []student.AttendanceRecord{
		{Subject: "Mathematics", Date: testAsOf, TotalClasses: 120, AttendedClasses: 78},
	}
	records.Academic.GPA = ptr(5.2)

	a := newTestEngine(t).Evaluate(records, nil, testAsOf)

	require.NotNil(t, a.Snapshot.AttendancePercentage)
	assert.InDelta(t, 65.0, *a.Snapshot.AttendancePercentage, 1e-9)
	assert.Equal(t, LevelHigh, a.AttendanceRisk)
	assert.Equal(t, LevelHigh, a.AcademicRisk)
	assert.Equal(t, LevelLow, a.FinancialRisk)
	assert.Equal(t, LevelHigh, a.OverallRisk)

	gpaFactor, ok := a.FactorByRule(RuleGPABelowThreshold)
	require.True(t, ok)
	assert.Equal(t, 9, gpaFactor.Impact)
	assert.Equal(t, CategoryAcademic, gpaFactor.Category)

	attFactor, ok := a.FactorByRule(RuleAttendanceBelowThreshold)
	require.True(t, ok)
	assert.Equal(t, 8, attFactor.Impact)
	assert.Equal(t, "Attendance dropped to 65% (below 75% threshold)", attFactor.Description)

	assert.Contains(t, a.Recommendations, RecCounselorIntervention)
	assert.NotContains(t, a.Recommendations, RecAcademicSupport)
	assert.Equal(t, 9, a.MaxImpact())
}

func TestEngine_FinancialScenario(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("pending above fraction escalates to high", func(t *testing.T) {
		records := healthyRecords("ST003")
		records.Financial = &student.FinancialRecord{TotalFees: 140000, PaidFees: 110000, PendingFees: 30000}

		a := engine.Evaluate(records, nil, testAsOf)
		assert.Equal(t, LevelHigh, a.FinancialRisk)
		assert.Equal(t, LevelHigh, a.OverallRisk)

		f, ok := a.FactorByRule(RuleFeesAboveLimit)
		require.True(t, ok)
		assert.Equal(t, 6, f.Impact)
		assert.Equal(t, "Pending fees at 21.4% of total (above 20% limit)", f.Description)
		assert.Contains(t, a.Recommendations, RecFeeFollowUp)
		assert.Contains(t, a.Recommendations, RecFinancialAid)
	})

	t.Run("nothing pending is low", func(t *testing.T) {
		records := healthyRecords("ST003")
		records.Financial = &student.FinancialRecord{TotalFees: 140000, PaidFees: 140000, PendingFees: 0}

		a := engine.Evaluate(records, nil, testAsOf)
		assert.Equal(t, LevelLow, a.FinancialRisk)
		assert.False(t, a.Categories()[CategoryFinancial])
	})

	t.Run("overdue past grace period", func(t *testing.T) {
		due := testAsOf.AddDate(0, 0, -20)
		records := healthyRecords("ST003")
		records.Financial = &student.FinancialRecord{TotalFees: 100000, PaidFees: 90000, PendingFees: 10000, DueDate: &due}

		a := engine.Evaluate(records, nil, testAsOf)
		assert.Equal(t, LevelHigh, a.FinancialRisk)
		assert.Equal(t, 20, a.Snapshot.DaysOverdue)

		f, ok := a.FactorByRule(RuleFeesOverdue)
		require.True(t, ok)
		assert.Equal(t, 6, f.Impact)
		assert.False(t, a.HasRule(RuleFeesPending))
	})

	t.Run("overdue within grace period stays medium", func(t *testing.T) {
		due := testAsOf.AddDate(0, 0, -10)
		records := healthyRecords("ST003")
		records.Financial = &student.FinancialRecord{TotalFees: 100000, PaidFees: 90000, PendingFees: 10000, DueDate: &due}

		a := engine.Evaluate(records, nil, testAsOf)
		assert.Equal(t, LevelMedium, a.FinancialRisk)
		assert.True(t, a.HasRule(RuleFeesPending))
	})

	t.Run("due date falls back to oldest unpaid payment", func(t *testing.T) {
		records := healthyRecords("ST003")
		records.Financial = &student.FinancialRecord{
			TotalFees: 100000, PaidFees: 90000, PendingFees: 10000,
			PaymentHistory: []student.Payment{
				{Amount: 90000, Date: testAsOf.AddDate(0, -3, 0), Status: student.PaymentCompleted},
				{Amount: 10000, Date: testAsOf.AddDate(0, 0, -30), Status: student.PaymentFailed},
			},
			Scholarships: []student.Scholarship{
				{Name: "Merit", Amount: 20000, Status: student.ScholarshipActive, EndDate: testAsOf.AddDate(1, 0, 0)},
			},
		}

		a := engine.Evaluate(records, nil, testAsOf)
		assert.Equal(t, 30, a.Snapshot.DaysOverdue)
		assert.True(t, a.HasRule(RuleFeesOverdue))
		assert.Contains(t, a.Recommendations, RecFeeFollowUp)
		assert.NotContains(t, a.Recommendations, RecFinancialAid, "active scholarship suppresses aid check")
	})
}

func TestEngine_MissingDataFailsSafe(t *testing.T) {
	records := student.Records{
		Student:  student.Student{ID: "ST004", Name: "No Data"},
		Academic: &student.AcademicRecord{GPA: ptr(math.NaN())},
	}

	a := newTestEngine(t).Evaluate(records, nil, testAsOf)

	assert.Equal(t, LevelHigh, a.AttendanceRisk)
	assert.Equal(t, LevelHigh, a.AcademicRisk)
	assert.Equal(t, LevelMedium, a.FinancialRisk)
	assert.Equal(t, LevelHigh, a.OverallRisk)
	assert.Equal(t, []Rule{RuleAcademicNoData, RuleAttendanceNoData, RuleFinancialNoData}, factorRules(a))
	assert.Contains(t, a.Recommendations, RecVerifyRecords)
	assert.Nil(t, a.Snapshot.GPA)
	assert.Nil(t, a.Snapshot.AttendancePercentage)
}

func TestEngine_IntegrityViolationsAreAttached(t *testing.T) {
	records := healthyRecords("ST005")
	records.Attendance = []student.AttendanceRecord{
		{Subject: "Physics", Date: testAsOf, TotalClasses: 120, AttendedClasses: 130},
	}
	records.Financial = &student.FinancialRecord{TotalFees: 1000, PaidFees: 1000, PendingFees: -500}

	a := newTestEngine(t).Evaluate(records, nil, testAsOf)

	require.Len(t, a.Issues, 2)
	for _, issue := range a.Issues {
		assert.True(t, errors.Is(issue, shared.ErrIntegrity))
	}
	assert.Equal(t, "attendance.attended_classes", a.Issues[0].Field)
	assert.Equal(t, "financial.pending_fees", a.Issues[1].Field)

	assert.InDelta(t, 100.0, *a.Snapshot.AttendancePercentage, 1e-9)
	assert.Equal(t, int64(0), a.Snapshot.PendingFees)
	assert.Equal(t, LevelLow, a.OverallRisk)
}

func TestEngine_LatestAttendanceWins(t *testing.T) {
	engine := newTestEngine(t)

	records := healthyRecords("ST006")
	records.Attendance = []student.AttendanceRecord{
		{Subject: "Mathematics", Date: testAsOf.AddDate(0, 0, -7), TotalClasses: 100, AttendedClasses: 50},
		{Subject: "Mathematics", Date: testAsOf, TotalClasses: 100, AttendedClasses: 90},
	}
	a := engine.Evaluate(records, nil, testAsOf)
	assert.InDelta(t, 90.0, *a.Snapshot.AttendancePercentage, 1e-9)
	assert.Equal(t, LevelLow, a.AttendanceRisk)

	records.Attendance = []student.AttendanceRecord{
		{Subject: "Mathematics", Date: testAsOf, TotalClasses: 50, AttendedClasses: 40},
		{Subject: "Physics", Date: testAsOf, TotalClasses: 50, AttendedClasses: 50},
	}
	a = engine.Evaluate(records, nil, testAsOf)
	assert.InDelta(t, 90.0, *a.Snapshot.AttendancePercentage, 1e-9)

	records.Attendance = []student.AttendanceRecord{
		{Subject: "Mathematics", Date: testAsOf, TotalClasses: 0, AttendedClasses: 0},
	}
	a = engine.Evaluate(records, nil, testAsOf)
	assert.Equal(t, 0.0, *a.Snapshot.AttendancePercentage)
	assert.Equal(t, LevelHigh, a.AttendanceRisk)
}

func TestEngine_SupplementalRules(t *testing.T) {
	records := healthyRecords("ST007")
	records.Academic = &student.AcademicRecord{
		GPA:      ptr(6.8),
		PriorGPA: ptr(8.2),
		TestScores: []student.TestScore{
			{Subject: "Physics", Date: testAsOf.AddDate(0, 0, -30), Passed: true, MarksObtained: 70, TotalMarks: 100},
			{Subject: "Physics", Date: testAsOf.AddDate(0, 0, -14), Passed: false, MarksObtained: 30, TotalMarks: 100},
			{Subject: "Chemistry", Date: testAsOf.AddDate(0, 0, -3), Passed: false, MarksObtained: 25, TotalMarks: 100},
		},
		Assignments: []student.Assignment{
			{Title: "Lab 1", DueDate: testAsOf.AddDate(0, 0, -5), Status: student.AssignmentPending},
			{Title: "Lab 2", DueDate: testAsOf.AddDate(0, 0, -2), Status: student.AssignmentOverdue},
			{Title: "Lab 3", DueDate: testAsOf.AddDate(0, 0, 5), Status: student.AssignmentPending},
		},
	}
	records.Behavior = []student.BehaviorNote{
		{Date: testAsOf.AddDate(0, 0, -40), Type: student.BehaviorNegative},
		{Date: testAsOf.AddDate(0, 0, -20), Type: student.BehaviorNegative},
		{Date: testAsOf.AddDate(0, 0, -10), Type: student.BehaviorNegative},
		{Date: testAsOf.AddDate(0, 0, -5), Type: student.BehaviorNegative},
		{Date: testAsOf.AddDate(0, 0, -1), Type: student.BehaviorPositive},
	}

	a := newTestEngine(t).Evaluate(records, nil, testAsOf)

	assert.Equal(t, LevelMedium, a.AcademicRisk)
	assert.Equal(t, []Rule{
		RuleGPABelowTarget,
		RuleGPADecline,
		RuleConsecutiveTestFailures,
		RuleAssignmentsOverdue,
		RuleNegativeBehavior,
	}, factorRules(a))

	decline, _ := a.FactorByRule(RuleGPADecline)
	assert.Equal(t, "GPA dropped from 8.2 to 6.8", decline.Description)
	assert.Equal(t, 7, decline.Impact)

	failures, _ := a.FactorByRule(RuleConsecutiveTestFailures)
	assert.Equal(t, "Failed 2 consecutive tests", failures.Description)
	assert.Equal(t, 9, failures.Impact)

	overdue, _ := a.FactorByRule(RuleAssignmentsOverdue)
	assert.Equal(t, 6, overdue.Impact)

	behavior, _ := a.FactorByRule(RuleNegativeBehavior)
	assert.Equal(t, CategoryBehavioral, behavior.Category)
	assert.Equal(t, 6, behavior.Impact)

	assert.Contains(t, a.Recommendations, RecAcademicSupport)
	assert.Contains(t, a.Recommendations, RecWelfareReferral)
}

func TestEngine_RuleTogglesDisableSupplementalRules(t *testing.T) {
	policy := DefaultPolicy()
	policy.Rules = RuleToggles{}
	engine, err := NewEngine(policy)
	require.NoError(t, err)

	records := healthyRecords("ST008")
	records.Academic.PriorGPA = ptr(9.9)
	records.Behavior = []student.BehaviorNote{
		{Date: testAsOf, Type: student.BehaviorNegative},
		{Date: testAsOf, Type: student.BehaviorNegative},
		{Date: testAsOf, Type: student.BehaviorNegative},
	}

	a := engine.Evaluate(records, nil, testAsOf)
	assert.Empty(t, a.Factors)
}

func TestEngine_Idempotent(t *testing.T) {
	engine := newTestEngine(t)
	records := healthyRecords("ST009")
	records.Academic.GPA = ptr(6.1)
	records.Financial = &student.FinancialRecord{TotalFees: 140000, PaidFees: 110000, PendingFees: 30000}

	first := engine.Evaluate(records, nil, testAsOf)
	second := engine.Evaluate(records, nil, testAsOf)
	assert.Equal(t, first, second)

	later := engine.Evaluate(records, nil, testAsOf.Add(time.Minute))
	assert.Equal(t, first.OverallRisk, later.OverallRisk)
	assert.Equal(t, factorRules(first), factorRules(later))
	assert.Equal(t, first.Recommendations, later.Recommendations)
}

func TestNewEngine_RejectsInvalidPolicy(t *testing.T) {
	policy := DefaultPolicy()
	policy.Attendance.HighBelow = 90

	_, err := NewEngine(policy)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

func TestNewEngine_RejectsNaNThresholds(t *testing.T) {
	for name, mutate := range map[string]func(*Policy){
		"attendance": func(p *Policy) { p.Attendance.HighBelow = math.NaN() },
		"academic":   func(p *Policy) { p.Academic.MediumBelow = math.NaN() },
		"decline":    func(p *Policy) { p.Academic.DeclineDelta = math.NaN() },
		"financial":  func(p *Policy) { p.Financial.OverdueFraction = math.Inf(1) },
	} {
		t.Run(name, func(t *testing.T) {
			policy := DefaultPolicy()
			mutate(&policy)

			_, err := NewEngine(policy)
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err))
			assert.Contains(t, err.Error(), "finite")
		})
	}
}

func TestEngine_PriorAssessmentIsDeclineBaseline(t *testing.T) {
	engine := newTestEngine(t)
	records := healthyRecords("ST010")
	records.Attendance[0].AttendedClasses = 80
	records.Academic.GPA = ptr(8.5)

	first := engine.Evaluate(records, nil, testAsOf)
	require.True(t, first.HasRule(RuleAttendanceBelowTarget))
	require.False(t, first.HasRule(RuleGPADecline))

	records.Academic.GPA = ptr(6.8)
	nextDay := testAsOf.AddDate(0, 0, 1)
	second := engine.Evaluate(records, &first, nextDay)

	decline, ok := second.FactorByRule(RuleGPADecline)
	require.True(t, ok)
	assert.Equal(t, "GPA dropped from 8.5 to 6.8", decline.Description)
	assert.Equal(t, nextDay, decline.DetectedAt)

	attendance, ok := second.FactorByRule(RuleAttendanceBelowTarget)
	require.True(t, ok)
	assert.Equal(t, testAsOf, attendance.DetectedAt, "persisting factor keeps its first detection")
	assert.Nil(t, records.Academic.PriorGPA)
}

func TestEngine_PriorAssessmentOverridesRecordedPriorGPA(t *testing.T) {
	engine := newTestEngine(t)
	records := healthyRecords("ST011")
	records.Academic.GPA = ptr(8.0)
	prior := engine.Evaluate(records, nil, testAsOf)

	records.Academic.PriorGPA = ptr(9.9)
	a := engine.Evaluate(records, &prior, testAsOf.AddDate(0, 0, 1))
	assert.False(t, a.HasRule(RuleGPADecline))
}
