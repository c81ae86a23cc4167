package dashboard

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
	"github.com/alem-hub/student-risk-monitor/internal/domain/student"
)

var asOf = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func assessed(id string, overall risk.Level, att, gpa *float64, pending int64) risk.Assessment {
	return risk.Assessment{
		StudentID:   id,
		OverallRisk: overall,
		Snapshot: risk.Snapshot{
			AttendancePercentage: att,
			GPA:                  gpa,
			HasFinancial:         true,
			PendingFees:          pending,
			Enrollment:           student.EnrollmentActive,
		},
		LastUpdated: asOf,
	}
}

func dropped(id string, at time.Time) risk.Assessment {
	return risk.Assessment{
		StudentID:   id,
		OverallRisk: risk.LevelHigh,
		Snapshot: risk.Snapshot{
			Enrollment:   student.EnrollmentDroppedOut,
			DroppedOutAt: &at,
		},
	}
}

func population() []risk.Assessment {
	withIssues := assessed("STU004", risk.LevelMedium, f(80), f(7.1), 0)
	withIssues.Issues = []risk.IntegrityIssue{{Field: "attendance", Message: "attended exceeds total"}}

	return []risk.Assessment{
		assessed("STU001", risk.LevelHigh, f(65), f(5.2), 30000),
		assessed("STU002", risk.LevelLow, f(92.5), f(8.4), 0),
		assessed("STU003", risk.LevelMedium, nil, f(7.1), 14000),
		withIssues,
		assessed("STU005", risk.LevelHigh, f(70.3), nil, 0),
		dropped("STU006", asOf.AddDate(0, 0, -10)),
		dropped("STU007", asOf.AddDate(0, 0, -45)),
	}
}

func TestAggregate_Population(t *testing.T) {
	m := Aggregate(population(), asOf, 30)

	assert.Equal(t, 7, m.TotalStudents)
	assert.Equal(t, 4, m.HighRisk)
	assert.Equal(t, 2, m.MediumRisk)
	assert.Equal(t, 1, m.LowRisk)
	assert.Equal(t, m.TotalStudents, m.HighRisk+m.MediumRisk+m.LowRisk)

	assert.InDelta(t, 76.95, m.AverageAttendance, 0.001)
	assert.InDelta(t, 6.95, m.OverallGPA, 0.001)
	assert.Equal(t, int64(44000), m.PendingFees)

	assert.Equal(t, 1, m.AttendanceExcluded)
	assert.Equal(t, 1, m.GPAExcluded)
	assert.Equal(t, 1, m.InvalidRecords)
	assert.Equal(t, 1, m.RecentDropouts)
	assert.Equal(t, 2, m.DroppedOut)
	assert.Equal(t, asOf, m.AsOf)

	assert.Equal(t, 0.57, m.RiskShare(risk.LevelHigh))
}

func TestAggregate_Empty(t *testing.T) {
	m := Aggregate(nil, asOf, 30)

	assert.Equal(t, Metrics{AsOf: asOf}, m)
	assert.Equal(t, 0.0, m.RiskShare(risk.LevelHigh))
}

func TestAggregate_OrderIndependent(t *testing.T) {
	base := population()
	want := Aggregate(base, asOf, 30)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]risk.Assessment, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		assert.Equal(t, want, Aggregate(shuffled, asOf, 30))
	}
}

func TestAccumulator_MergeIsCommutative(t *testing.T) {
	all := population()
	left, right := all[:3], all[3:]

	build := func(items []risk.Assessment) *Accumulator {
		acc := NewAccumulator(asOf, 30)
		for _, a := range items {
			acc.Add(a)
		}
		return acc
	}

	lr := build(left)
	lr.Merge(build(right))

	rl := build(right)
	rl.Merge(build(left))

	require.Equal(t, lr.Result(), rl.Result())
	assert.Equal(t, Aggregate(all, asOf, 30), lr.Result())

	lr.Merge(nil)
	assert.Equal(t, rl.Result(), lr.Result())
}

func TestAccumulator_DropoutWindowBounds(t *testing.T) {
	items := []risk.Assessment{
		dropped("A", asOf),                    // в окне (правая граница включительно)
		dropped("B", asOf.AddDate(0, 0, -30)), // левая граница исключается
		dropped("C", asOf.Add(time.Hour)),     // после asOf
		dropped("D", asOf.AddDate(0, 0, -29)), // в окне
	}

	assert.Equal(t, 2, Aggregate(items, asOf, 30).RecentDropouts)
	assert.Equal(t, 4, Aggregate(items, asOf, 30).TotalStudents)

	// окно по умолчанию
	assert.Equal(t, 2, Aggregate(items, asOf, 0).RecentDropouts)
}

func TestAggregate_DropoutsCountInTotalsAndPendingFees(t *testing.T) {
	gone := dropped("STU009", asOf.AddDate(0, 0, -3))
	gone.Snapshot.AttendancePercentage = f(40)
	gone.Snapshot.GPA = f(4.1)
	gone.Snapshot.HasFinancial = true
	gone.Snapshot.PendingFees = 50000

	m := Aggregate([]risk.Assessment{
		assessed("STU008", risk.LevelLow, f(90), f(8), 1000),
		gone,
	}, asOf, 30)

	assert.Equal(t, 2, m.TotalStudents)
	assert.Equal(t, 1, m.HighRisk)
	assert.Equal(t, 1, m.LowRisk)
	assert.Equal(t, int64(51000), m.PendingFees)
	assert.Equal(t, 1, m.RecentDropouts)
	assert.Equal(t, 1, m.DroppedOut)

	assert.Equal(t, 90.0, m.AverageAttendance)
	assert.Equal(t, 8.0, m.OverallGPA)
	assert.Zero(t, m.AttendanceExcluded)
	assert.Zero(t, m.GPAExcluded)
}
