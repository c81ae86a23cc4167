// Package timeutil holds the calendar helpers used for record dates.
// Record dates and evaluation times are compared in UTC.
package timeutil

import (
	"fmt"
	"time"
)

// Date formats.
const (
	FormatDate     = "2006-01-02"
	FormatDateTime = "2006-01-02 15:04:05"
)

// Date creates a UTC midnight time for the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns 00:00:00 UTC of the day t falls on.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last nanosecond of the UTC day t falls on.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// IsSameDay reports whether t1 and t2 fall on the same UTC day.
func IsSameDay(t1, t2 time.Time) bool {
	return StartOfDay(t1).Equal(StartOfDay(t2))
}

// DaysBetween returns the number of calendar days between t1 and t2.
func DaysBetween(t1, t2 time.Time) int {
	days := int(StartOfDay(t2).Sub(StartOfDay(t1)).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// ElapsedDays returns the number of whole 24h periods from since to until,
// or 0 when until is not after since.
func ElapsedDays(since, until time.Time) int {
	if !until.After(since) {
		return 0
	}
	return int(until.Sub(since).Hours() / 24)
}

// ParseDate parses "YYYY-MM-DD" as UTC midnight, or an RFC 3339 timestamp
// converted to UTC.
func ParseDate(value string) (time.Time, error) {
	if t, err := time.ParseInLocation(FormatDate, value, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", value)
	}
	return t.UTC(), nil
}
