package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndEndOfDay(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)
	// 02:00 in Almaty is still the previous day in UTC.
	tm := time.Date(2024, 3, 15, 2, 0, 0, 0, almaty)

	assert.Equal(t, Date(2024, 3, 14), StartOfDay(tm))
	assert.Equal(t, Date(2024, 3, 15).Add(-time.Nanosecond), EndOfDay(tm))
}

func TestIsSameDay(t *testing.T) {
	assert.True(t, IsSameDay(Date(2024, 3, 1), Date(2024, 3, 1).Add(23*time.Hour)))
	assert.False(t, IsSameDay(Date(2024, 3, 1), Date(2024, 3, 2)))
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 0, DaysBetween(Date(2024, 3, 1), Date(2024, 3, 1).Add(20*time.Hour)))
	assert.Equal(t, 1, DaysBetween(Date(2024, 3, 1).Add(23*time.Hour), Date(2024, 3, 2)))
	assert.Equal(t, 29, DaysBetween(Date(2024, 3, 1), Date(2024, 2, 1)))
}

func TestElapsedDays(t *testing.T) {
	due := Date(2024, 3, 1)
	assert.Equal(t, 14, ElapsedDays(due, Date(2024, 3, 15).Add(10*time.Hour)))
	assert.Equal(t, 0, ElapsedDays(due, due.Add(23*time.Hour)))
	assert.Equal(t, 0, ElapsedDays(due, Date(2024, 2, 1)))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, Date(2024, 3, 15), d)

	ts, err := ParseDate("2024-03-15T10:30:00+05:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 5, 30, 0, 0, time.UTC), ts)

	_, err = ParseDate("15.03.2024")
	assert.Error(t, err)
}
