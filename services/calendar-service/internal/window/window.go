// Package window computes the canonical date ranges shown by day, week and month views.
//
// All functions are pure. Results keep the location of their input and have the time of day
// zeroed. Weeks start on Sunday.
package window

import (
	"fmt"
	"strings"
	"time"
)

type View string

const (
	Day   View = "day"
	Week  View = "week"
	Month View = "month"
)

func ParseView(raw string) (View, error) {
	switch v := View(strings.ToLower(strings.TrimSpace(raw))); v {
	case Day, Week, Month:
		return v, nil
	case "":
		return Week, nil
	default:
		return "", fmt.Errorf("unknown view %q (want day, week or month)", raw)
	}
}

// CalendarWindow is the inclusive date range [StartDate, EndDate] a view displays.
type CalendarWindow struct {
	View          View      `json:"view"`
	ReferenceDate time.Time `json:"reference_date"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func StartOfWeek(d time.Time) time.Time {
	day := midnight(d)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

func EndOfWeek(d time.Time) time.Time {
	return StartOfWeek(d).AddDate(0, 0, 6)
}

func StartOfMonth(d time.Time) time.Time {
	y, m, _ := d.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, d.Location())
}

func EndOfMonth(d time.Time) time.Time {
	return StartOfMonth(d).AddDate(0, 1, -1)
}

// WeeksInMonth returns the month grid: consecutive Sunday-started weeks from the week holding
// the 1st through the week holding the last day. Always 4 to 6 rows of 7 days.
func WeeksInMonth(year int, month time.Month, loc *time.Location) [][]time.Time {
	if loc == nil {
		loc = time.UTC
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := EndOfMonth(first)
	var weeks [][]time.Time
	for start := StartOfWeek(first); !start.After(last); start = start.AddDate(0, 0, 7) {
		week := make([]time.Time, 7)
		for i := range week {
			week[i] = start.AddDate(0, 0, i)
		}
		weeks = append(weeks, week)
	}
	return weeks
}

// For computes the window of view around ref. Unknown views fall back to Week.
func For(view View, ref time.Time) CalendarWindow {
	w := CalendarWindow{View: view, ReferenceDate: ref}
	switch view {
	case Day:
		w.StartDate = midnight(ref)
		w.EndDate = w.StartDate
	case Month:
		w.StartDate = StartOfMonth(ref)
		w.EndDate = EndOfMonth(ref)
	default:
		w.View = Week
		w.StartDate = StartOfWeek(ref)
		w.EndDate = EndOfWeek(ref)
	}
	return w
}

// Shift moves ref by n views, used for previous/next navigation. Month shifts clamp to the
// last day of the target month so Jan 31 + 1 month is Feb 28/29, not Mar 2/3.
func Shift(view View, ref time.Time, n int) time.Time {
	switch view {
	case Day:
		return ref.AddDate(0, 0, n)
	case Month:
		y, m, d := ref.Date()
		target := time.Date(y, m+time.Month(n), 1, ref.Hour(), ref.Minute(), ref.Second(), ref.Nanosecond(), ref.Location())
		if last := EndOfMonth(target).Day(); d > last {
			d = last
		}
		return target.AddDate(0, 0, d-1)
	default:
		return ref.AddDate(0, 0, 7*n)
	}
}

// Bounds returns the half-open instant range covered by w: [StartDate, EndDate + 1 day).
func Bounds(w CalendarWindow) (time.Time, time.Time) {
	return w.StartDate, w.EndDate.AddDate(0, 0, 1)
}
