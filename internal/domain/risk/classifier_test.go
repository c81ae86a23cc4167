package risk

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestClassifier_AttendanceBands(t *testing.T) {
	c := NewClassifier(DefaultPolicy())

	tests := []struct {
		pct  float64
		want Level
	}{
		{0, LevelHigh},
		{65, LevelHigh},
		{74.99, LevelHigh},
		{75, LevelMedium},
		{80, LevelMedium},
		{84.99, LevelMedium},
		{85, LevelLow},
		{100, LevelLow},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f", tt.pct), func(t *testing.T) {
			assert.Equal(t, tt.want, c.AttendanceLevel(ptr(tt.pct)))
		})
	}

	assert.Equal(t, LevelHigh, c.AttendanceLevel(nil), "missing attendance fails safe to high")
}

func TestClassifier_AcademicBands(t *testing.T) {
	c := NewClassifier(DefaultPolicy())

	tests := []struct {
		gpa  float64
		want Level
	}{
		{0, LevelHigh},
		{5.2, LevelHigh},
		{5.99, LevelHigh},
		{6, LevelMedium},
		{7.49, LevelMedium},
		{7.5, LevelLow},
		{10, LevelLow},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f", tt.gpa), func(t *testing.T) {
			assert.Equal(t, tt.want, c.AcademicLevel(ptr(tt.gpa)))
		})
	}

	assert.Equal(t, LevelHigh, c.AcademicLevel(nil), "missing GPA fails safe to high")
}

func TestClassifier_FinancialLevel(t *testing.T) {
	c := NewClassifier(DefaultPolicy())

	tests := []struct {
		name string
		in   Inputs
		want Level
	}{
		{
			name: "no financial record",
			in:   Inputs{},
			want: LevelMedium,
		},
		{
			name: "fully paid",
			in:   Inputs{HasFinancial: true, TotalFees: 140000, PaidFees: 140000},
			want: LevelLow,
		},
		{
			name: "pending within fraction",
			in:   Inputs{HasFinancial: true, TotalFees: 140000, PaidFees: 126000, PendingFees: 14000},
			want: LevelMedium,
		},
		{
			name: "pending exactly at fraction",
			in:   Inputs{HasFinancial: true, TotalFees: 100000, PaidFees: 80000, PendingFees: 20000},
			want: LevelMedium,
		},
		{
			name: "pending above fraction",
			in:   Inputs{HasFinancial: true, TotalFees: 140000, PaidFees: 110000, PendingFees: 30000},
			want: LevelHigh,
		},
		{
			name: "overdue within grace",
			in:   Inputs{HasFinancial: true, TotalFees: 100000, PaidFees: 90000, PendingFees: 10000, HasDueDate: true, DaysOverdue: 14},
			want: LevelMedium,
		},
		{
			name: "overdue past grace",
			in:   Inputs{HasFinancial: true, TotalFees: 100000, PaidFees: 90000, PendingFees: 10000, HasDueDate: true, DaysOverdue: 15},
			want: LevelHigh,
		},
		{
			name: "pending with zero total",
			in:   Inputs{HasFinancial: true, PendingFees: 500},
			want: LevelHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.FinancialLevel(tt.in))
		})
	}
}

func TestClassifier_OverallIsMaximum(t *testing.T) {
	c := NewClassifier(DefaultPolicy())

	attendance := map[Level]float64{LevelLow: 92, LevelMedium: 80, LevelHigh: 60}
	gpa := map[Level]float64{LevelLow: 8.4, LevelMedium: 7, LevelHigh: 5}
	financial := map[Level]Inputs{
		LevelLow:    {HasFinancial: true, TotalFees: 100, PaidFees: 100},
		LevelMedium: {HasFinancial: true, TotalFees: 100, PaidFees: 90, PendingFees: 10},
		LevelHigh:   {HasFinancial: true, TotalFees: 100, PaidFees: 50, PendingFees: 50},
	}

	for _, a := range AllLevels {
		for _, g := range AllLevels {
			for _, f := range AllLevels {
				in := financial[f]
				in.AttendancePercentage = ptr(attendance[a])
				in.GPA = ptr(gpa[g])

				cls := c.Classify(in)
				assert.Equal(t, a, cls.Attendance)
				assert.Equal(t, g, cls.Academic)
				assert.Equal(t, f, cls.Financial)
				assert.Equal(t, MaxLevel(a, g, f), cls.Overall, "attendance=%s academic=%s financial=%s", a, g, f)
			}
		}
	}
}
