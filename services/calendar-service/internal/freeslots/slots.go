package freeslots

import (
	"time"

	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/conflict"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
)

type Request struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Duration    time.Duration
	Step        time.Duration
	// Busy holds the owner's time blocks; a slot may not overlap any of them.
	Busy []model.Interval
	// Open, when non-empty, holds availability windows; a slot must fit inside one of them.
	Open []model.Interval
	// Now drops slots that start in the past. Zero keeps them.
	Now time.Time
}

// Slots returns slot start times within [WindowStart, WindowEnd) where a block of length
// Duration fits without overlapping Busy.
func Slots(req Request) []time.Time {
	if req.Duration <= 0 || req.Step <= 0 {
		return nil
	}
	if !req.WindowEnd.After(req.WindowStart) {
		return nil
	}
	if req.WindowStart.Add(req.Duration).After(req.WindowEnd) {
		return nil
	}

	slots := []time.Time{}
	for t := req.WindowStart; !t.Add(req.Duration).After(req.WindowEnd); t = t.Add(req.Step) {
		if !req.Now.IsZero() && t.Before(req.Now) {
			continue
		}
		end := t.Add(req.Duration)
		if overlapsAny(t, end, req.Busy) {
			continue
		}
		if len(req.Open) > 0 && !insideAny(t, end, req.Open) {
			continue
		}
		slots = append(slots, t)
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []model.Interval) bool {
	for _, b := range busy {
		if conflict.Overlaps(start, end, b.StartTime, b.EndTime) {
			return true
		}
	}
	return false
}

func insideAny(start, end time.Time, open []model.Interval) bool {
	for _, o := range open {
		if !start.Before(o.StartTime) && !end.After(o.EndTime) {
			return true
		}
	}
	return false
}
