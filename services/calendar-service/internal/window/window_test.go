package window

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestWeekWindow(t *testing.T) {
	ref := time.Date(2023, time.June, 15, 14, 30, 0, 0, time.UTC)
	w := For(Week, ref)
	if !w.StartDate.Equal(date(2023, time.June, 11)) || !w.EndDate.Equal(date(2023, time.June, 17)) {
		t.Fatalf("unexpected week window %s..%s", w.StartDate, w.EndDate)
	}
	if w.StartDate.Weekday() != time.Sunday {
		t.Fatalf("week must start on Sunday, got %s", w.StartDate.Weekday())
	}
	if !w.ReferenceDate.Equal(ref) {
		t.Fatal("reference date must be kept as given")
	}
}

func TestMonthWindow(t *testing.T) {
	w := For(Month, date(2023, time.June, 15))
	if !w.StartDate.Equal(date(2023, time.June, 1)) || !w.EndDate.Equal(date(2023, time.June, 30)) {
		t.Fatalf("unexpected month window %s..%s", w.StartDate, w.EndDate)
	}
	leap := For(Month, date(2024, time.February, 10))
	if leap.EndDate.Day() != 29 {
		t.Fatalf("expected Feb 29 in 2024, got %s", leap.EndDate)
	}
}

func TestDayWindowZeroesTime(t *testing.T) {
	ref := time.Date(2023, time.June, 15, 23, 59, 59, 0, time.UTC)
	w := For(Day, ref)
	if !w.StartDate.Equal(date(2023, time.June, 15)) || !w.EndDate.Equal(w.StartDate) {
		t.Fatalf("unexpected day window %s..%s", w.StartDate, w.EndDate)
	}
}

func TestWindowKeepsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	ref := time.Date(2023, time.June, 11, 1, 0, 0, 0, loc)
	w := For(Week, ref)
	if w.StartDate.Location() != loc {
		t.Fatalf("location lost: %s", w.StartDate.Location())
	}
	if w.StartDate.Day() != 11 {
		t.Fatalf("Sunday Jun 11 in UTC+9 starts its own week, got %s", w.StartDate)
	}
}

func TestWeeksInMonthJune2023(t *testing.T) {
	weeks := WeeksInMonth(2023, time.June, time.UTC)
	if len(weeks) != 5 {
		t.Fatalf("expected 5 weeks, got %d", len(weeks))
	}
	if !weeks[0][0].Equal(date(2023, time.May, 28)) {
		t.Fatalf("grid must start May 28, got %s", weeks[0][0])
	}
	if !weeks[4][6].Equal(date(2023, time.July, 1)) {
		t.Fatalf("grid must end Jul 1, got %s", weeks[4][6])
	}
	for i, w := range weeks {
		if len(w) != 7 {
			t.Fatalf("week %d has %d days", i, len(w))
		}
	}
}

func TestWeeksInMonthRowCounts(t *testing.T) {
	// Feb 2015 starts on Sunday and has 28 days.
	if got := len(WeeksInMonth(2015, time.February, time.UTC)); got != 4 {
		t.Fatalf("expected 4 rows for Feb 2015, got %d", got)
	}
	// Dec 2023 starts on Friday and has 31 days.
	if got := len(WeeksInMonth(2023, time.December, time.UTC)); got != 6 {
		t.Fatalf("expected 6 rows for Dec 2023, got %d", got)
	}
}

func TestShiftClampsMonthEnd(t *testing.T) {
	got := Shift(Month, date(2023, time.January, 31), 1)
	if !got.Equal(date(2023, time.February, 28)) {
		t.Fatalf("expected Feb 28, got %s", got)
	}
	if got := Shift(Week, date(2023, time.June, 15), -1); !got.Equal(date(2023, time.June, 8)) {
		t.Fatalf("expected Jun 8, got %s", got)
	}
}

func TestBoundsIsHalfOpen(t *testing.T) {
	start, end := Bounds(For(Day, date(2023, time.June, 15)))
	if end.Sub(start) != 24*time.Hour {
		t.Fatalf("expected one day, got %s", end.Sub(start))
	}
}

func TestParseView(t *testing.T) {
	if v, err := ParseView("MONTH"); err != nil || v != Month {
		t.Fatalf("expected month, got %q %v", v, err)
	}
	if v, _ := ParseView(""); v != Week {
		t.Fatalf("empty view defaults to week, got %q", v)
	}
	if _, err := ParseView("year"); err == nil {
		t.Fatal("expected error for unknown view")
	}
}
