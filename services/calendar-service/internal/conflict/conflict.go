package conflict

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
)

// Overlaps reports whether the half-open ranges [aStart,aEnd) and [bStart,bEnd) intersect.
// Ranges that only touch at an endpoint do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func IntervalsOverlap(a, b model.Interval) bool {
	return Overlaps(a.StartTime, a.EndTime, b.StartTime, b.EndTime)
}

func ValidateRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return model.InvalidRange("start and end are required")
	}
	if !start.Before(end) {
		return model.InvalidRange("start %s must be before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return nil
}

// Among returns the members of existing that overlap candidate, skipping candidate itself
// (matched by ID) and blocks of other owners. Used for sets that are not persisted yet.
func Among(existing []model.Interval, candidate model.Interval) []model.Interval {
	var out []model.Interval
	for _, iv := range existing {
		if candidate.ID != "" && iv.ID == candidate.ID {
			continue
		}
		if iv.OwnerID != candidate.OwnerID {
			continue
		}
		if IntervalsOverlap(iv, candidate) {
			out = append(out, iv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Source is the subset of the interval store the detector reads.
type Source interface {
	FindOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID string) ([]model.Interval, error)
}

type Detector struct {
	src Source
}

func NewDetector(src Source) *Detector {
	return &Detector{src: src}
}

// FindConflicts returns the owner's time blocks overlapping [start, end), excluding excludeID.
// Only the owner's blocks are considered.
func (d *Detector) FindConflicts(ctx context.Context, ownerID string, start, end time.Time, excludeID string) ([]model.Interval, error) {
	if err := ValidateRange(start, end); err != nil {
		return nil, err
	}
	found, err := d.src.FindOverlapping(ctx, ownerID, start, end, excludeID)
	if err != nil {
		return nil, fmt.Errorf("find overlapping blocks: %w", err)
	}
	// Re-check in memory; a store is free to over-select.
	out := make([]model.Interval, 0, len(found))
	for _, iv := range found {
		if iv.ID == excludeID || iv.OwnerID != ownerID {
			continue
		}
		if Overlaps(iv.StartTime, iv.EndTime, start, end) {
			out = append(out, iv)
		}
	}
	return out, nil
}

// Check is FindConflicts turned into an error: SchedulingConflict when anything overlaps.
func (d *Detector) Check(ctx context.Context, ownerID string, start, end time.Time, excludeID string) error {
	conflicts, err := d.FindConflicts(ctx, ownerID, start, end, excludeID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return model.SchedulingConflict(conflicts)
	}
	return nil
}
