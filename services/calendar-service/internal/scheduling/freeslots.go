package scheduling

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/planner/libs/retry"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/freeslots"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/storage"
)

type FreeSlotsRequest struct {
	// Day is read as a calendar date in the owner's timezone.
	Day          time.Time
	WorkdayStart time.Duration
	WorkdayEnd   time.Duration
	Duration     time.Duration
	Step         time.Duration
}

const (
	DefaultWorkdayStart = 9 * time.Hour
	DefaultWorkdayEnd   = 17 * time.Hour
)

// FreeSlots lists start times on req.Day where a block of req.Duration fits between the owner's
// time blocks. When the owner has availability windows that day, slots must also fit inside one.
func (s *Service) FreeSlots(ctx context.Context, ownerID string, req FreeSlotsRequest) ([]time.Time, error) {
	if req.WorkdayStart == 0 && req.WorkdayEnd == 0 {
		req.WorkdayStart, req.WorkdayEnd = DefaultWorkdayStart, DefaultWorkdayEnd
	}
	if req.Step <= 0 {
		req.Step = req.Duration
	}
	if req.Duration <= 0 {
		return nil, model.InvalidRange("slot duration must be positive")
	}
	if req.WorkdayEnd <= req.WorkdayStart || req.WorkdayEnd > 24*time.Hour {
		return nil, model.InvalidRange("workday must end after it starts and within the day")
	}

	user, err := storage.LookupUser(ctx, s.store, s.cfg.Retry, ownerID)
	if err != nil {
		return nil, err
	}
	loc := user.Location()
	windowStart := wallClock(req.Day, req.WorkdayStart, loc)
	windowEnd := wallClock(req.Day, req.WorkdayEnd, loc)

	busy, err := s.listRange(ctx, model.KindTimeBlock, ownerID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	open, err := s.listRange(ctx, model.KindAvailability, ownerID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	slots := freeslots.Slots(freeslots.Request{
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Duration:    req.Duration,
		Step:        req.Step,
		Busy:        busy,
		Open:        open,
		Now:         s.clock.Now(),
	})
	for i := range slots {
		slots[i] = slots[i].In(loc)
	}
	return slots, nil
}

func (s *Service) listRange(ctx context.Context, kind model.IntervalKind, ownerID string, start, end time.Time) ([]model.Interval, error) {
	return retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) ([]model.Interval, error) {
		return s.store.ListIntervals(ctx, kind, []string{ownerID}, &start, &end)
	})
}

// wallClock returns the instant the clock on the wall in loc reads offset on day's date.
// Adding offset to midnight would drift by an hour across a DST change; 24:00 normalizes to
// the next midnight.
func wallClock(day time.Time, offset time.Duration, loc *time.Location) time.Time {
	y, m, d := day.Date()
	h := int(offset / time.Hour)
	mins := int((offset % time.Hour) / time.Minute)
	return time.Date(y, m, d, h, mins, 0, 0, loc)
}
