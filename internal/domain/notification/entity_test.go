package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
)

func validParams() NewAlertParams {
	return NewAlertParams{
		ID:             "alert-1",
		StudentID:      "STU001",
		Type:           AlertTypeFinancial,
		Priority:       PriorityHigh,
		Title:          "Fee Payment Overdue",
		Message:        "Fee payment overdue by 30 days",
		Rules:          []risk.Rule{risk.RuleFeesOverdue},
		Impact:         7,
		ActionRequired: true,
		At:             cycleAt,
	}
}

func TestNewAlert_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*NewAlertParams)
		wantErr error
	}{
		{"valid", func(*NewAlertParams) {}, nil},
		{"empty id", func(p *NewAlertParams) { p.ID = "" }, ErrEmptyAlertID},
		{"empty student", func(p *NewAlertParams) { p.StudentID = "" }, ErrEmptyStudentID},
		{"bad type", func(p *NewAlertParams) { p.Type = "sms" }, ErrInvalidAlertType},
		{"bad priority", func(p *NewAlertParams) { p.Priority = 9 }, ErrInvalidPriority},
		{"empty title", func(p *NewAlertParams) { p.Title = "" }, ErrEmptyTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			tt.mutate(&params)
			a, err := NewAlert(params)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, a.Occurrences)
			assert.Equal(t, cycleAt, a.LastSeenAt)
		})
	}
}

func TestAlert_MarkReadIsOneWay(t *testing.T) {
	params := validParams()
	params.ActionRequired = false
	params.Priority = PriorityMedium
	a, err := NewAlert(params)
	require.NoError(t, err)

	assert.True(t, a.IsOpen())
	a.MarkRead()
	a.MarkRead()
	assert.True(t, a.Read)
	assert.False(t, a.IsOpen())
}

func TestAlert_ResolveIsOneWay(t *testing.T) {
	a, err := NewAlert(validParams())
	require.NoError(t, err)

	a.MarkRead()
	assert.True(t, a.IsOpen(), "read alert still open while action is required")

	require.NoError(t, a.Resolve("mentor-7", cycleAt))
	assert.False(t, a.ActionRequired)
	assert.True(t, a.Read)
	assert.Equal(t, "mentor-7", a.ResolvedBy)
	require.NotNil(t, a.ResolvedAt)
	assert.False(t, a.IsOpen())

	assert.ErrorIs(t, a.Resolve("mentor-7", cycleAt), ErrAlreadyResolved)
}

func TestAlert_RefreshNeverClearsActionRequired(t *testing.T) {
	a, err := NewAlert(validParams())
	require.NoError(t, err)

	draft := a.Clone()
	draft.ActionRequired = false
	draft.Impact = 5
	a.refresh(draft)

	assert.True(t, a.ActionRequired)
	assert.Equal(t, 7, a.Impact)
	assert.Equal(t, 2, a.Occurrences)
}

func TestPriority_Text(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical} {
		text, err := p.MarshalText()
		require.NoError(t, err)

		var parsed Priority
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, p, parsed)
	}

	_, err := ParsePriority("urgent")
	assert.ErrorIs(t, err, ErrInvalidPriority)
}
