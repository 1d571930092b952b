package paging

import (
	"fmt"
	"testing"
	"time"

	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
)

func blocks(n int) []model.Interval {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	out := make([]model.Interval, n)
	for i := range out {
		// Reverse chronological on purpose.
		start := base.Add(time.Duration(n-i) * time.Hour)
		out[i] = model.Interval{
			ID:        fmt.Sprintf("b%02d", i),
			Title:     fmt.Sprintf("Block %d", i),
			StartTime: start,
			EndTime:   start.Add(30 * time.Minute),
		}
	}
	return out
}

func TestPaginationInvariants(t *testing.T) {
	items := blocks(45)
	for _, limit := range []int{1, 7, 20, 45, 100} {
		res := Intervals(items, Options{Page: 1, Limit: limit})
		wantPages := (45 + limit - 1) / limit
		if res.TotalPages != wantPages {
			t.Fatalf("limit %d: expected %d pages, got %d", limit, wantPages, res.TotalPages)
		}
		seen := 0
		for page := 1; page <= res.TotalPages; page++ {
			p := Intervals(items, Options{Page: page, Limit: limit})
			if len(p.Items) > limit {
				t.Fatalf("page %d exceeds limit %d", page, limit)
			}
			if p.Total != 45 {
				t.Fatalf("total must be the filtered count, got %d", p.Total)
			}
			seen += len(p.Items)
		}
		if seen != 45 {
			t.Fatalf("limit %d: pages cover %d items, want 45", limit, seen)
		}
	}
}

func TestDefaultSortIsStartAscending(t *testing.T) {
	items := blocks(5)
	res := Intervals(items, Options{})
	for i := 1; i < len(res.Items); i++ {
		if res.Items[i].StartTime.Before(res.Items[i-1].StartTime) {
			t.Fatalf("items not ascending at %d", i)
		}
	}
	if items[0].ID != "b00" {
		t.Fatal("input slice must not be reordered")
	}
}

func TestDescendingByTitle(t *testing.T) {
	res := Intervals(blocks(3), Options{SortBy: SortTitle, SortOrder: Desc})
	if res.Items[0].Title != "Block 2" || res.Items[2].Title != "Block 0" {
		t.Fatalf("unexpected order %v", res.Items)
	}
}

func TestSearchIsCaseInsensitiveAndCoversNote(t *testing.T) {
	items := []model.Interval{
		{ID: "a", Title: "Standup"},
		{ID: "b", Title: "Review", Note: "with the STANDUP crew"},
		{ID: "c", Title: "Lunch"},
	}
	res := Intervals(items, Options{Search: "standup"})
	if res.Total != 2 {
		t.Fatalf("expected 2 matches, got %d", res.Total)
	}
}

func TestLimitClampAndPageFloor(t *testing.T) {
	res := Intervals(blocks(3), Options{Page: -4, Limit: 500})
	if res.Page != 1 || res.Limit != MaxLimit {
		t.Fatalf("expected page 1 limit 100, got page %d limit %d", res.Page, res.Limit)
	}
	if res := Intervals(blocks(3), Options{Limit: -1}); res.Limit != 1 {
		t.Fatalf("negative limit clamps to 1, got %d", res.Limit)
	}
	if res := Intervals(blocks(3), Options{}); res.Limit != DefaultLimit {
		t.Fatalf("unset limit defaults to %d, got %d", DefaultLimit, res.Limit)
	}
}

func TestPageBeyondEndIsEmpty(t *testing.T) {
	res := Intervals(blocks(3), Options{Page: 9, Limit: 2})
	if len(res.Items) != 0 || res.Total != 3 || res.TotalPages != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Items == nil {
		t.Fatal("items must encode as an empty list")
	}
}

func TestStableSortKeepsInputOrderForTies(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	items := []model.Interval{
		{ID: "x", StartTime: start},
		{ID: "y", StartTime: start},
		{ID: "z", StartTime: start},
	}
	res := Intervals(items, Options{})
	if res.Items[0].ID != "x" || res.Items[1].ID != "y" || res.Items[2].ID != "z" {
		t.Fatalf("ties reordered: %v", res.Items)
	}
}

func TestFilterKeepsEveryMatchBeyondMaxLimit(t *testing.T) {
	items := blocks(150)
	all := FilterIntervals(items, Options{Limit: 5})
	if len(all) != 150 {
		t.Fatalf("expected 150 items, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].StartTime.Before(all[i-1].StartTime) {
			t.Fatalf("items %d and %d out of order", i-1, i)
		}
	}
	if got := FilterIntervals(items, Options{Search: "block 14"}); len(got) != 11 {
		t.Fatalf("expected 11 matches for 'block 14', got %d", len(got))
	}
}
