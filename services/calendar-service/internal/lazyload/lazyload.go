// Package lazyload turns a loaded interval set into viewport-first batches and zoom-dependent
// projections. Nothing here touches storage, and inputs are never modified.
package lazyload

import (
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/conflict"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/window"
)

const DefaultBatchSize = 20

// DetailThreshold is the zoom level under which month views collapse to day summaries.
const DetailThreshold = 0.5

// Batches is a finite, single-pass sequence of batches. Stopping early needs no cleanup.
type Batches struct {
	items []model.Interval
	size  int
	pos   int
}

// LoadIncrementally orders items so that those touching the closed viewport [vpStart, vpEnd]
// come first, each group ascending by start time, and hands them out batchSize at a time.
func LoadIncrementally(items []model.Interval, vpStart, vpEnd time.Time, batchSize int) *Batches {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	ordered := slices.Clone(items)
	rank := func(iv model.Interval) int {
		if !iv.StartTime.After(vpEnd) && !iv.EndTime.Before(vpStart) {
			return 0
		}
		return 1
	}
	slices.SortStableFunc(ordered, func(a, b model.Interval) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		return a.StartTime.Compare(b.StartTime)
	})
	return &Batches{items: ordered, size: batchSize}
}

// Next returns the next batch, or false once the sequence is exhausted.
func (b *Batches) Next() ([]model.Interval, bool) {
	if b.pos >= len(b.items) {
		return nil, false
	}
	end := min(b.pos+b.size, len(b.items))
	batch := b.items[b.pos:end:end]
	b.pos = end
	return batch, true
}

func (b *Batches) Remaining() int {
	return len(b.items) - b.pos
}

// All ranges over the batches not consumed yet. The sequence is not restartable: a second
// range over All sees only what the first one left behind.
func (b *Batches) All() iter.Seq[[]model.Interval] {
	return func(yield func([]model.Interval) bool) {
		for {
			batch, ok := b.Next()
			if !ok || !yield(batch) {
				return
			}
		}
	}
}

// SplitByViewport partitions items into those overlapping [vpStart, vpEnd) and the rest,
// keeping input order within each side.
func SplitByViewport(items []model.Interval, vpStart, vpEnd time.Time) (primary, secondary []model.Interval) {
	primary = []model.Interval{}
	secondary = []model.Interval{}
	for _, iv := range items {
		if conflict.Overlaps(iv.StartTime, iv.EndTime, vpStart, vpEnd) {
			primary = append(primary, iv)
		} else {
			secondary = append(secondary, iv)
		}
	}
	return primary, secondary
}

// WithLevelOfDetail collapses a zoomed-out month into one synthetic summary per day that has
// items. Summaries are display-only and ordered by day. Any other view or zoom returns items.
func WithLevelOfDetail(items []model.Interval, view window.View, zoom float64) []model.Interval {
	if view != window.Month || zoom >= DetailThreshold {
		return items
	}
	counts := map[time.Time]int{}
	var days []time.Time
	for _, iv := range items {
		y, m, d := iv.StartTime.Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, iv.StartTime.Location())
		if counts[day] == 0 {
			days = append(days, day)
		}
		counts[day]++
	}
	slices.SortFunc(days, func(a, b time.Time) int { return a.Compare(b) })

	out := make([]model.Interval, 0, len(days))
	for _, day := range days {
		out = append(out, model.Interval{
			ID:        "summary-" + day.Format(time.DateOnly),
			Kind:      model.KindTimeBlock,
			StartTime: day,
			EndTime:   day,
			Title:     fmt.Sprintf("%d events", counts[day]),
			Status:    "summary",
		})
	}
	return out
}
