package scheduler

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// Resolved expressions for the fixed frequencies.
const (
	HourlyCron = "0 * * * *"
	DailyCron  = "0 0 * * *"
	WeeklyCron = "0 0 * * 0"
)

type fieldSpec struct {
	name     string
	min, max int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// CronExpr is a parsed five-field cron expression. Every field must match
// for a time to match, including day-of-month and day-of-week together.
type CronExpr struct {
	raw    string
	fields [5]uint64
}

// ParseCron parses "minute hour day-of-month month day-of-week". Each field
// accepts *, n, lists (a,b), ranges (a-b) and steps (*/n, a-b/n, a/n).
// A bare */n matches values divisible by n; a stepped range starts at its
// lower bound. Day-of-week 0 and 7 both mean Sunday.
func ParseCron(expr string) (*CronExpr, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: %q: expected 5 fields, got %d", ErrInvalidCron, expr, len(parts))
	}
	c := &CronExpr{raw: strings.Join(parts, " ")}
	for i, part := range parts {
		set, err := parseField(part, fieldSpecs[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
		}
		c.fields[i] = set
	}
	// fold Sunday=7 onto 0
	if c.fields[4]&(1<<7) != 0 {
		c.fields[4] = (c.fields[4] &^ (1 << 7)) | 1
	}
	return c, nil
}

func parseField(field string, spec fieldSpec) (uint64, error) {
	var set uint64
	for _, item := range strings.Split(field, ",") {
		bitsFor, err := parseItem(item, spec)
		if err != nil {
			return 0, err
		}
		set |= bitsFor
	}
	return set, nil
}

func parseItem(item string, spec fieldSpec) (uint64, error) {
	if item == "" {
		return 0, fmt.Errorf("%s: empty list item", spec.name)
	}
	rangePart, stepPart, hasStep := strings.Cut(item, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepPart)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("%s: invalid step %q", spec.name, stepPart)
		}
		step = n
	}

	var set uint64
	if rangePart == "*" {
		for v := spec.min; v <= spec.max; v++ {
			if v%step == 0 {
				set |= 1 << uint(v)
			}
		}
		return set, nil
	}

	lo, hi := 0, 0
	if a, b, isRange := strings.Cut(rangePart, "-"); isRange {
		var err error
		if lo, err = parseValue(a, spec); err != nil {
			return 0, err
		}
		if hi, err = parseValue(b, spec); err != nil {
			return 0, err
		}
		if lo > hi {
			return 0, fmt.Errorf("%s: range %q is reversed", spec.name, rangePart)
		}
	} else {
		v, err := parseValue(rangePart, spec)
		if err != nil {
			return 0, err
		}
		lo, hi = v, v
		if hasStep {
			hi = spec.max
		}
	}
	for v := lo; v <= hi; v += step {
		set |= 1 << uint(v)
	}
	return set, nil
}

func parseValue(s string, spec fieldSpec) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid value %q", spec.name, s)
	}
	if v < spec.min || v > spec.max {
		return 0, fmt.Errorf("%s: value %d out of range %d-%d", spec.name, v, spec.min, spec.max)
	}
	return v, nil
}

// String returns the normalised expression.
func (c *CronExpr) String() string { return c.raw }

// Match reports whether t, at minute granularity, satisfies all five fields.
func (c *CronExpr) Match(t time.Time) bool {
	return has(c.fields[0], t.Minute()) &&
		has(c.fields[1], t.Hour()) &&
		has(c.fields[2], t.Day()) &&
		has(c.fields[3], int(t.Month())) &&
		has(c.fields[4], int(t.Weekday()))
}

func has(set uint64, v int) bool { return set&(1<<uint(v)) != 0 }

// maxSearch bounds Next; expressions such as "0 0 31 2 *" never match.
const maxSearch = 5 * 366 * 24 * time.Hour

// Next returns the first matching minute strictly after after.
func (c *CronExpr) Next(after time.Time) (time.Time, bool) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(maxSearch)
	loc := t.Location()
	for t.Before(limit) {
		if !has(c.fields[3], int(t.Month())) {
			t = forward(t, time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc))
			continue
		}
		if !has(c.fields[2], t.Day()) || !has(c.fields[4], int(t.Weekday())) {
			t = forward(t, time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc))
			continue
		}
		if !has(c.fields[1], t.Hour()) {
			t = forward(t, time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc))
			continue
		}
		if !has(c.fields[0], t.Minute()) {
			next := firstFrom(c.fields[0], t.Minute()+1)
			if next < 0 {
				t = forward(t, time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc))
			} else {
				t = forward(t, time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), next, 0, 0, loc))
			}
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

// forward guards against wall-clock candidates that land at or before t
// around daylight-saving transitions.
func forward(t, candidate time.Time) time.Time {
	if candidate.After(t) {
		return candidate
	}
	return t.Add(time.Minute)
}

// firstFrom returns the smallest minute >= from present in set, or -1.
func firstFrom(set uint64, from int) int {
	if from > 59 {
		return -1
	}
	rest := set >> uint(from)
	if rest == 0 {
		return -1
	}
	v := from + bits.TrailingZeros64(rest)
	if v > 59 {
		return -1
	}
	return v
}
