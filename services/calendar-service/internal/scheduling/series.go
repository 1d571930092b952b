package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/conflict"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/outbox"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/storage"
	"github.com/teambition/rrule-go"
)

const (
	DefaultMaxSeriesOccurrences = 200
	defaultSeriesHorizon        = 90 * 24 * time.Hour
)

// SeriesRequest describes a recurring time block. RRule is an RFC 5545 rule body such as
// "FREQ=WEEKLY;BYDAY=MO,WE;COUNT=10"; Start is the first occurrence and fixes the time of day
// and the location the rule is evaluated in.
type SeriesRequest struct {
	RRule    string
	Start    time.Time
	Duration time.Duration
	// Until bounds open-ended rules. Defaults to 90 days after Start.
	Until   time.Time
	ExDates []time.Time
	Meta    model.Metadata
}

// Occurrences expands req into concrete block ranges, failing with InvalidRange when the rule
// does not parse or yields more than limit occurrences.
func Occurrences(req SeriesRequest, limit int) ([][2]time.Time, error) {
	if req.Duration <= 0 {
		return nil, model.InvalidRange("series duration must be positive")
	}
	if req.Start.IsZero() {
		return nil, model.InvalidRange("series start is required")
	}
	body := strings.TrimPrefix(strings.TrimSpace(req.RRule), "RRULE:")
	r, err := rrule.StrToRRule(body)
	if err != nil {
		return nil, model.InvalidRange("invalid recurrence rule %q: %v", req.RRule, err)
	}
	r.DTStart(req.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range req.ExDates {
		set.ExDate(ex.In(req.Start.Location()))
	}

	until := req.Until
	if until.IsZero() {
		until = req.Start.Add(defaultSeriesHorizon)
	}
	if until.Before(req.Start) {
		return nil, model.InvalidRange("series until %s is before start %s", until.Format(time.RFC3339), req.Start.Format(time.RFC3339))
	}
	until = until.In(req.Start.Location())

	// Walk lazily so a dense rule is rejected after limit+1 steps instead of being expanded.
	var starts []time.Time
	next := set.Iterator()
	for st, ok := next(); ok && !st.After(until); st, ok = next() {
		if st.Before(req.Start) {
			continue
		}
		if len(starts) == limit {
			return nil, model.InvalidRange("recurrence rule yields more than %d occurrences", limit)
		}
		starts = append(starts, st)
	}
	if len(starts) == 0 {
		return nil, model.InvalidRange("recurrence rule %q yields no occurrences", req.RRule)
	}
	out := make([][2]time.Time, len(starts))
	for i, st := range starts {
		out[i] = [2]time.Time{st.UTC(), st.Add(req.Duration).UTC()}
	}
	return out, nil
}

// CreateTimeBlockSeries stores every occurrence of a recurring block or none of them. The
// returned conflict lists every stored block any occurrence collides with, and occurrences
// that collide with each other.
func (s *Service) CreateTimeBlockSeries(ctx context.Context, ownerID string, req SeriesRequest) (created []model.Interval, err error) {
	ctx, span := s.startSpan(ctx, "create_series", model.KindTimeBlock, ownerID)
	defer func() { s.endSpan(span, err) }()

	ranges, err := Occurrences(req, s.cfg.MaxSeriesOccurrences)
	if err != nil {
		return nil, err
	}
	if err := storage.CheckOwners(ctx, s.store, s.cfg.Retry, []string{ownerID}); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		detector := conflict.NewDetector(tx)
		pending := make([]model.Interval, 0, len(ranges))
		var conflicts []model.Interval
		seen := map[string]bool{}
		for i, rg := range ranges {
			iv := model.Interval{
				ID:        fmt.Sprintf("occurrence-%d", i),
				Kind:      model.KindTimeBlock,
				OwnerID:   ownerID,
				StartTime: rg[0],
				EndTime:   rg[1],
				Title:     req.Meta.Title,
				Status:    req.Meta.Status,
				Note:      req.Meta.Note,
				Color:     req.Meta.Color,
				CreatedAt: now,
				UpdatedAt: now,
			}
			stored, err := detector.FindConflicts(ctx, ownerID, iv.StartTime, iv.EndTime, "")
			if err != nil {
				return err
			}
			for _, c := range append(stored, conflict.Among(pending, iv)...) {
				if !seen[c.ID] {
					seen[c.ID] = true
					conflicts = append(conflicts, c)
				}
			}
			pending = append(pending, iv)
		}
		if len(conflicts) > 0 {
			return model.SchedulingConflict(conflicts)
		}

		for i := range pending {
			pending[i].ID = ""
			if err := tx.Insert(ctx, &pending[i]); err != nil {
				return err
			}
			if err := s.appendEvent(ctx, tx, outbox.EventCreated, pending[i]); err != nil {
				return err
			}
		}
		created = pending
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, ownerID)
	return created, nil
}
