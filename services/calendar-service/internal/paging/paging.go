// Package paging filters, sorts and slices in-memory result sets.
package paging

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

type Options struct {
	Page      int
	Limit     int
	Search    string
	SortBy    string
	SortOrder SortOrder
}

// Normalize floors Page at 1, defaults Limit to 20 when unset and clamps it to [1, 100].
func (o Options) Normalize() Options {
	if o.Page < 1 {
		o.Page = 1
	}
	switch {
	case o.Limit == 0:
		o.Limit = DefaultLimit
	case o.Limit < 1:
		o.Limit = 1
	case o.Limit > MaxLimit:
		o.Limit = MaxLimit
	}
	if o.SortOrder != Desc {
		o.SortOrder = Asc
	}
	o.Search = strings.TrimSpace(o.Search)
	return o
}

type PageResult[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
}

// Fields tells Paginate how to read T. Text returns the searchable text; Sort maps a sort key
// to a comparison, and DefaultSort names the key used when SortBy is empty or unknown.
type Fields[T any] struct {
	Text        func(T) string
	Sort        map[string]func(a, b T) int
	DefaultSort string
}

// Filter searches and sorts (stable) items without slicing them into pages. The input slice is
// not modified.
func Filter[T any](items []T, opts Options, f Fields[T]) []T {
	opts = opts.Normalize()

	filtered := make([]T, 0, len(items))
	needle := strings.ToLower(opts.Search)
	for _, it := range items {
		if needle != "" && f.Text != nil && !strings.Contains(strings.ToLower(f.Text(it)), needle) {
			continue
		}
		filtered = append(filtered, it)
	}

	less, ok := f.Sort[opts.SortBy]
	if !ok {
		less = f.Sort[f.DefaultSort]
	}
	if less != nil {
		if opts.SortOrder == Desc {
			asc := less
			less = func(a, b T) int { return asc(b, a) }
		}
		slices.SortStableFunc(filtered, less)
	}
	return filtered
}

// Paginate searches, sorts and slices items. The input slice is not modified.
func Paginate[T any](items []T, opts Options, f Fields[T]) PageResult[T] {
	opts = opts.Normalize()
	filtered := Filter(items, opts, f)

	total := len(filtered)
	res := PageResult[T]{
		Items:      []T{},
		Total:      total,
		Page:       opts.Page,
		Limit:      opts.Limit,
		TotalPages: (total + opts.Limit - 1) / opts.Limit,
	}
	from := (opts.Page - 1) * opts.Limit
	if from >= total {
		return res
	}
	to := min(from+opts.Limit, total)
	res.Items = filtered[from:to]
	return res
}

// ByTime builds a comparison on a time field.
func ByTime[T any](get func(T) time.Time) func(a, b T) int {
	return func(a, b T) int { return get(a).Compare(get(b)) }
}

// ByString builds a case-insensitive comparison on a string field.
func ByString[T any](get func(T) string) func(a, b T) int {
	return func(a, b T) int { return cmp.Compare(strings.ToLower(get(a)), strings.ToLower(get(b))) }
}
