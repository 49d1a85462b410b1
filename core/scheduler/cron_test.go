package scheduler

import (
	"errors"
	"testing"
	"time"
)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestEveryFifteenMinutes(t *testing.T) {
	c, err := ParseCron("*/15 * * * *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	base := at(2026, time.March, 4, 10, 0)
	for m := 0; m < 60; m++ {
		ts := base.Add(time.Duration(m) * time.Minute)
		if got, want := c.Match(ts), m%15 == 0; got != want {
			t.Fatalf("minute %d: match=%v want %v", m, got, want)
		}
	}
}

func TestWeekdayNineOClock(t *testing.T) {
	c, err := ParseCron("0 9 * * 1-5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// 2026-03-02 is a Monday.
	for d := 0; d < 7; d++ {
		day := at(2026, time.March, 2+d, 9, 0)
		weekday := day.Weekday() >= time.Monday && day.Weekday() <= time.Friday
		if c.Match(day) != weekday {
			t.Fatalf("%s 09:00: match=%v", day.Weekday(), c.Match(day))
		}
		if c.Match(day.Add(time.Minute)) || c.Match(day.Add(time.Hour)) {
			t.Fatalf("%s: matched outside 09:00", day.Weekday())
		}
	}
}

func TestCronFieldForms(t *testing.T) {
	cases := []struct {
		expr  string
		ts    time.Time
		match bool
	}{
		{"5,10,15 * * * *", at(2026, 1, 1, 0, 10), true},
		{"5,10,15 * * * *", at(2026, 1, 1, 0, 11), false},
		{"10-20/5 * * * *", at(2026, 1, 1, 0, 15), true},
		{"10-20/5 * * * *", at(2026, 1, 1, 0, 25), false},
		{"12-20/5 * * * *", at(2026, 1, 1, 0, 17), true},
		{"12-20/5 * * * *", at(2026, 1, 1, 0, 15), false},
		{"30/10 * * * *", at(2026, 1, 1, 0, 50), true},
		{"30/10 * * * *", at(2026, 1, 1, 0, 20), false},
		{"0 0 1 1 *", at(2026, 1, 1, 0, 0), true},
		{"0 0 * * 0", at(2026, 3, 1, 0, 0), true},
		{"0 0 * * 7", at(2026, 3, 1, 0, 0), true},
		{"0 0 * 2-3 *", at(2026, 4, 1, 0, 0), false},
		// day-of-month and day-of-week must both match: 2026-03-13 is a Friday.
		{"0 0 13 * 5", at(2026, 3, 13, 0, 0), true},
		{"0 0 13 * 1", at(2026, 3, 13, 0, 0), false},
	}
	for _, c := range cases {
		expr, err := ParseCron(c.expr)
		if err != nil {
			t.Fatalf("%q: %v", c.expr, err)
		}
		if got := expr.Match(c.ts); got != c.match {
			t.Fatalf("%q at %s: match=%v want %v", c.expr, c.ts, got, c.match)
		}
	}
}

func TestParseCronRejects(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 8",
		"*/0 * * * *",
		"a * * * *",
		"5-1 * * * *",
		"1,,2 * * * *",
		"*/x * * * *",
	} {
		if _, err := ParseCron(expr); !errors.Is(err, ErrInvalidCron) {
			t.Fatalf("%q: expected ErrInvalidCron, got %v", expr, err)
		}
	}
}

func TestParseCronNormalises(t *testing.T) {
	c, err := ParseCron("  0   9 *  * 1-5 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.String() != "0 9 * * 1-5" {
		t.Fatalf("unexpected normalised form %q", c.String())
	}
}

func TestNext(t *testing.T) {
	cases := []struct {
		expr  string
		after time.Time
		want  time.Time
	}{
		{"*/15 * * * *", at(2026, 3, 4, 10, 7), at(2026, 3, 4, 10, 15)},
		{"*/15 * * * *", at(2026, 3, 4, 10, 15), at(2026, 3, 4, 10, 30)},
		{"*/15 * * * *", at(2026, 3, 4, 10, 50), at(2026, 3, 4, 11, 0)},
		{"0 9 * * 1-5", at(2026, 3, 6, 9, 30), at(2026, 3, 9, 9, 0)},
		{"0 0 1 * *", at(2026, 12, 15, 0, 0), at(2027, 1, 1, 0, 0)},
		{"0 0 29 2 *", at(2026, 3, 1, 0, 0), at(2028, 2, 29, 0, 0)},
	}
	for _, c := range cases {
		expr, err := ParseCron(c.expr)
		if err != nil {
			t.Fatalf("%q: %v", c.expr, err)
		}
		got, ok := expr.Next(c.after)
		if !ok || !got.Equal(c.want) {
			t.Fatalf("%q after %s: got %s (%v) want %s", c.expr, c.after, got, ok, c.want)
		}
		if !expr.Match(got) {
			t.Fatalf("%q: Next returned non-matching %s", c.expr, got)
		}
	}
}

func TestNextNeverMatches(t *testing.T) {
	c, err := ParseCron("0 0 31 2 *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := c.Next(at(2026, 1, 1, 0, 0)); ok {
		t.Fatalf("February 31st should never match")
	}
}

func TestNextAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	c, err := ParseCron("30 2 * * *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// 02:30 does not exist on 2026-03-08 in New York.
	got, ok := c.Next(time.Date(2026, 3, 8, 0, 0, 0, 0, loc))
	if !ok || !c.Match(got) || !got.After(time.Date(2026, 3, 8, 0, 0, 0, 0, loc)) {
		t.Fatalf("unexpected next across DST: %s %v", got, ok)
	}
}
