package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// IntervalSchedule fires a fixed duration after the previous check.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule clamps non-positive intervals to one minute.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	if interval <= 0 {
		interval = time.Minute
	}
	return &IntervalSchedule{Interval: interval}
}

func (s *IntervalSchedule) Next(t time.Time) time.Time { return t.Add(s.Interval) }

func (s *IntervalSchedule) String() string { return "@every " + s.Interval.String() }

// ParseSchedule reads "@every <duration>" or anything ParseCronExpression accepts.
func ParseSchedule(expr string) (Schedule, error) {
	every, ok := strings.CutPrefix(strings.TrimSpace(expr), "@every ")
	if !ok {
		return ParseCronExpression(expr)
	}
	d, err := time.ParseDuration(strings.TrimSpace(every))
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", expr, err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("schedule %q: interval must be positive (got %s)", expr, d)
	}
	return &IntervalSchedule{Interval: d}, nil
}
