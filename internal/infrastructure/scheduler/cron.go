package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// bitset holds the allowed values of one cron field; bit i is value i.
type bitset uint64

func (b bitset) has(v int) bool { return b&(1<<uint(v)) != 0 }

// CronExpression is a 5-field cron schedule:
// minute hour day-of-month month day-of-week.
//
// When both day fields are restricted a day matches either of them, as in
// Vixie cron. Weekday 7 is Sunday.
type CronExpression struct {
	raw     string
	minute  bitset
	hour    bitset
	dom     bitset
	month   bitset
	dow     bitset
	anyDay  bool // day-of-month is "*"
	anyWeek bool // day-of-week is "*"
}

var descriptors = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
}

type fieldRange struct {
	name     string
	min, max int
}

var cronFields = [5]fieldRange{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// ParseCronExpression parses "*/15 * * * *", "0 6 * * 1-5", lists like
// "0,30" and the descriptors @hourly, @daily, @weekly and @monthly.
func ParseCronExpression(expr string) (*CronExpression, error) {
	spec := strings.TrimSpace(expr)
	if d, ok := descriptors[spec]; ok {
		spec = d
	}
	fields := strings.Fields(spec)
	if len(fields) != len(cronFields) {
		return nil, fmt.Errorf("cron %q: want %d fields, got %d", expr, len(cronFields), len(fields))
	}

	var sets [5]bitset
	for i, f := range fields {
		set, err := parseCronField(f, cronFields[i])
		if err != nil {
			return nil, fmt.Errorf("cron %q: %s: %w", expr, cronFields[i].name, err)
		}
		sets[i] = set
	}
	if sets[4].has(7) {
		sets[4] = sets[4]&^(1<<7) | 1
	}

	return &CronExpression{
		raw:     expr,
		minute:  sets[0],
		hour:    sets[1],
		dom:     sets[2],
		month:   sets[3],
		dow:     sets[4],
		anyDay:  fields[2] == "*",
		anyWeek: fields[4] == "*",
	}, nil
}

func parseCronField(field string, r fieldRange) (bitset, error) {
	var set bitset
	for _, term := range strings.Split(field, ",") {
		lo, hi, step, err := parseCronTerm(term, r)
		if err != nil {
			return 0, err
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

// parseCronTerm reads one of "*", "n", "n-m", each optionally followed by "/step".
// "n/step" runs from n to the field maximum.
func parseCronTerm(term string, r fieldRange) (lo, hi, step int, err error) {
	step = 1
	rng, stepStr, hasStep := strings.Cut(term, "/")
	if hasStep {
		if step, err = strconv.Atoi(stepStr); err != nil || step < 1 {
			return 0, 0, 0, fmt.Errorf("bad step %q", stepStr)
		}
	}

	switch from, to, isRange := strings.Cut(rng, "-"); {
	case rng == "*":
		lo, hi = r.min, r.max
	case isRange:
		if lo, err = strconv.Atoi(from); err != nil {
			return 0, 0, 0, fmt.Errorf("bad range start %q", from)
		}
		if hi, err = strconv.Atoi(to); err != nil {
			return 0, 0, 0, fmt.Errorf("bad range end %q", to)
		}
	default:
		if lo, err = strconv.Atoi(rng); err != nil {
			return 0, 0, 0, fmt.Errorf("bad value %q", rng)
		}
		hi = lo
		if hasStep {
			hi = r.max
		}
	}

	if lo < r.min || hi > r.max || lo > hi {
		return 0, 0, 0, fmt.Errorf("%q outside %d-%d", term, r.min, r.max)
	}
	return lo, hi, step, nil
}

func (ce *CronExpression) String() string { return ce.raw }

// Next returns the first matching minute strictly after t, in t's location.
// An expression that never fires (e.g. "0 0 31 2 *") yields the zero time.
func (ce *CronExpression) Next(t time.Time) time.Time {
	next := t.Truncate(time.Minute).Add(time.Minute)
	limit := next.AddDate(5, 0, 0)
	loc := next.Location()

	for next.Before(limit) {
		switch {
		case !ce.month.has(int(next.Month())):
			next = time.Date(next.Year(), next.Month()+1, 1, 0, 0, 0, 0, loc)
		case !ce.dayMatches(next):
			next = time.Date(next.Year(), next.Month(), next.Day()+1, 0, 0, 0, 0, loc)
		case !ce.hour.has(next.Hour()):
			next = time.Date(next.Year(), next.Month(), next.Day(), next.Hour()+1, 0, 0, 0, loc)
		case !ce.minute.has(next.Minute()):
			next = next.Add(time.Minute)
		default:
			return next
		}
	}
	return time.Time{}
}

func (ce *CronExpression) dayMatches(t time.Time) bool {
	dom := ce.dom.has(t.Day())
	dow := ce.dow.has(int(t.Weekday()))
	switch {
	case ce.anyDay && ce.anyWeek:
		return true
	case ce.anyDay:
		return dow
	case ce.anyWeek:
		return dom
	default:
		return dom || dow
	}
}

