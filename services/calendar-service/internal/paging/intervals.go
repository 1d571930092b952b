package paging

import (
	"time"

	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
)

const (
	SortStartTime = "start_time"
	SortEndTime   = "end_time"
	SortTitle     = "title"
	SortCreatedAt = "created_at"
)

// IntervalFields searches title and note and sorts by start_time unless told otherwise.
var IntervalFields = Fields[model.Interval]{
	Text: func(iv model.Interval) string { return iv.Title + "\n" + iv.Note },
	Sort: map[string]func(a, b model.Interval) int{
		SortStartTime: ByTime(func(iv model.Interval) time.Time { return iv.StartTime }),
		SortEndTime:   ByTime(func(iv model.Interval) time.Time { return iv.EndTime }),
		SortTitle:     ByString(func(iv model.Interval) string { return iv.Title }),
		SortCreatedAt: ByTime(func(iv model.Interval) time.Time { return iv.CreatedAt }),
	},
	DefaultSort: SortStartTime,
}

func ValidSortKey(key string) bool {
	_, ok := IntervalFields.Sort[key]
	return key == "" || ok
}

func Intervals(items []model.Interval, opts Options) PageResult[model.Interval] {
	return Paginate(items, opts, IntervalFields)
}

func FilterIntervals(items []model.Interval, opts Options) []model.Interval {
	return Filter(items, opts, IntervalFields)
}
