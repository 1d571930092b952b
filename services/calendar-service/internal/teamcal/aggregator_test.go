package teamcal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/planner/libs/retry"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/calcache"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/paging"
)

type fakeSource struct {
	mu        sync.Mutex
	users     map[string]model.User
	intervals []model.Interval
	// failures[kind] transient failures are returned before the kind's queries succeed.
	failures map[model.IntervalKind]int
	calls    map[model.IntervalKind]int
}

func newFakeSource(users ...string) *fakeSource {
	f := &fakeSource{
		users:    map[string]model.User{},
		failures: map[model.IntervalKind]int{},
		calls:    map[model.IntervalKind]int{},
	}
	for _, u := range users {
		f.users[u] = model.User{ID: u, DisplayName: u, Timezone: "UTC"}
	}
	return f
}

func (f *fakeSource) MissingUsers(_ context.Context, ids []string) ([]string, error) {
	var missing []string
	for _, id := range ids {
		if _, ok := f.users[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (f *fakeSource) GetUser(_ context.Context, id string) (model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return model.User{}, model.NotFound("user", id)
	}
	return u, nil
}

func (f *fakeSource) ListIntervals(_ context.Context, kind model.IntervalKind, owners []string, start, end *time.Time) ([]model.Interval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[kind]++
	if f.failures[kind] > 0 {
		f.failures[kind]--
		return nil, model.Transient("list", errors.New("connection reset"))
	}
	want := map[string]bool{}
	for _, o := range owners {
		want[o] = true
	}
	var out []model.Interval
	for _, iv := range f.intervals {
		if iv.Kind != kind || !want[iv.OwnerID] {
			continue
		}
		if start != nil && iv.EndTime.Before(*start) {
			continue
		}
		if end != nil && iv.StartTime.After(*end) {
			continue
		}
		out = append(out, iv)
	}
	return out, nil
}

func (f *fakeSource) add(kind model.IntervalKind, id, owner string, start time.Time, d time.Duration) {
	f.intervals = append(f.intervals, model.Interval{ID: id, Kind: kind, OwnerID: owner, StartTime: start, EndTime: start.Add(d), Title: id, Version: 1})
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func ptr(t time.Time) *time.Time { return &t }

var noWait = retry.Policy{MaxAttempts: 3}

func TestSingleUserWeek(t *testing.T) {
	src := newFakeSource("U")
	src.add(model.KindTimeBlock, "late", "U", time.Date(2023, 6, 16, 14, 0, 0, 0, time.UTC), time.Hour)
	src.add(model.KindTimeBlock, "early", "U", time.Date(2023, 6, 15, 9, 0, 0, 0, time.UTC), time.Hour)
	src.add(model.KindTimeBlock, "outside", "U", time.Date(2023, 6, 20, 9, 0, 0, 0, time.UTC), time.Hour)

	agg := NewAggregator(src, nil, noWait, discard())
	cal, err := agg.GetCalendar(context.Background(), Query{
		OwnerIDs: []string{"U"},
		Start:    ptr(time.Date(2023, 6, 11, 0, 0, 0, 0, time.UTC)),
		End:      ptr(time.Date(2023, 6, 17, 23, 59, 59, 0, time.UTC)),
		Paging:   paging.Options{Page: 1, Limit: 50},
	})
	if err != nil {
		t.Fatalf("get calendar: %v", err)
	}
	tb := cal.TimeBlocks
	if tb.Total != 2 || tb.TotalPages != 1 || len(tb.Items) != 2 {
		t.Fatalf("unexpected page %+v", tb)
	}
	if tb.Items[0].ID != "early" || tb.Items[1].ID != "late" {
		t.Fatalf("blocks must be ascending by start, got %s, %s", tb.Items[0].ID, tb.Items[1].ID)
	}
	if cal.User == nil || cal.User.ID != "U" {
		t.Fatalf("single-user calendar must carry the user, got %+v", cal.User)
	}
}

func TestTeamCalendarMergesOwners(t *testing.T) {
	src := newFakeSource("U", "V")
	day := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
	src.add(model.KindTimeBlock, "u-block", "U", day.Add(9*time.Hour), time.Hour)
	src.add(model.KindTimeBlock, "v-block", "V", day.Add(8*time.Hour), time.Hour)
	src.add(model.KindAvailability, "v-avail", "V", day.Add(12*time.Hour), 4*time.Hour)
	src.add(model.KindAvailability, "u-avail", "U", day.Add(7*time.Hour), 4*time.Hour)

	cal, err := NewAggregator(src, nil, noWait, discard()).GetCalendar(context.Background(), Query{OwnerIDs: []string{"U", "V", "U"}})
	if err != nil {
		t.Fatalf("get calendar: %v", err)
	}
	if cal.User != nil {
		t.Fatal("team calendars carry no single user")
	}
	if cal.TimeBlocks.Total != 2 || cal.TimeBlocks.Items[0].ID != "v-block" {
		t.Fatalf("unexpected blocks %+v", cal.TimeBlocks)
	}
	if len(cal.Availability) != 2 || cal.Availability[0].ID != "u-avail" {
		t.Fatalf("availability must be ascending by start, got %+v", cal.Availability)
	}
}

func TestMissingOwnersAreNamed(t *testing.T) {
	src := newFakeSource("U")
	_, err := NewAggregator(src, nil, noWait, discard()).GetCalendar(context.Background(), Query{OwnerIDs: []string{"U", "X", "Y"}})
	var e *model.Error
	if !errors.As(err, &e) || e.Kind != model.KindNotFound || len(e.MissingIDs) != 2 {
		t.Fatalf("expected not found naming X and Y, got %v", err)
	}
	if src.calls[model.KindTimeBlock] != 0 {
		t.Fatal("no interval query may run when owners are missing")
	}
}

func TestInvalidQueries(t *testing.T) {
	agg := NewAggregator(newFakeSource("U"), nil, noWait, discard())
	if _, err := agg.GetCalendar(context.Background(), Query{}); model.KindOf(err) != model.KindInvalidRange {
		t.Fatalf("expected invalid range without owners, got %v", err)
	}
	start := time.Date(2023, 6, 17, 0, 0, 0, 0, time.UTC)
	_, err := agg.GetCalendar(context.Background(), Query{OwnerIDs: []string{"U"}, Start: &start, End: ptr(start.Add(-time.Hour))})
	if model.KindOf(err) != model.KindInvalidRange {
		t.Fatalf("expected invalid range for reversed bounds, got %v", err)
	}
}

func TestTransientFailureIsRetriedPerQuery(t *testing.T) {
	src := newFakeSource("U")
	src.failures[model.KindAvailability] = 2
	_, err := NewAggregator(src, nil, noWait, discard()).GetCalendar(context.Background(), Query{OwnerIDs: []string{"U"}})
	if err != nil {
		t.Fatalf("two failures fit in three attempts: %v", err)
	}
	if src.calls[model.KindAvailability] != 3 || src.calls[model.KindTimeBlock] != 1 {
		t.Fatalf("unexpected call counts %v", src.calls)
	}
}

func TestExhaustedRetriesFailTheCall(t *testing.T) {
	src := newFakeSource("U")
	src.failures[model.KindTimeBlock] = 10
	_, err := NewAggregator(src, nil, noWait, discard()).GetCalendar(context.Background(), Query{OwnerIDs: []string{"U"}})
	if model.KindOf(err) != model.KindTransientStore {
		t.Fatalf("expected transient failure, got %v", err)
	}
	if src.calls[model.KindTimeBlock] != 3 {
		t.Fatalf("expected 3 attempts, got %d", src.calls[model.KindTimeBlock])
	}
	// The other query is not cancelled by the failing one.
	if src.calls[model.KindAvailability] != 1 {
		t.Fatalf("availability query must still run, got %d calls", src.calls[model.KindAvailability])
	}
}

func TestCacheServesAndInvalidates(t *testing.T) {
	src := newFakeSource("U")
	day := time.Date(2023, 6, 15, 9, 0, 0, 0, time.UTC)
	src.add(model.KindTimeBlock, "a", "U", day, time.Hour)
	cache := calcache.NewMemory(time.Minute)
	agg := NewAggregator(src, cache, noWait, discard())
	ctx := context.Background()
	q := Query{OwnerIDs: []string{"U"}, Paging: paging.Options{Limit: 10}}

	first, err := agg.GetCalendar(ctx, q)
	if err != nil || first.Cached {
		t.Fatalf("first call must miss: %v", err)
	}
	second, err := agg.GetCalendar(ctx, q)
	if err != nil || !second.Cached || second.TimeBlocks.Total != 1 {
		t.Fatalf("second call must hit: %+v %v", second, err)
	}
	if src.calls[model.KindTimeBlock] != 1 {
		t.Fatalf("cache hit must not query the store, got %d queries", src.calls[model.KindTimeBlock])
	}

	src.add(model.KindTimeBlock, "b", "U", day.Add(2*time.Hour), time.Hour)
	_ = cache.InvalidateOwner(ctx, "U")
	third, err := agg.GetCalendar(ctx, q)
	if err != nil || third.Cached || third.TimeBlocks.Total != 2 {
		t.Fatalf("after invalidation the new block must show: %+v %v", third, err)
	}
}

func TestTimeBlocksReturnsEveryMatch(t *testing.T) {
	src := newFakeSource("U")
	base := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 130; i++ {
		src.add(model.KindTimeBlock, fmt.Sprintf("b%03d", i), "U", base.Add(time.Duration(129-i)*time.Hour), 30*time.Minute)
	}
	src.add(model.KindAvailability, "avail", "U", base, 24*time.Hour)

	blocks, err := NewAggregator(src, nil, noWait, discard()).TimeBlocks(context.Background(), Query{
		OwnerIDs: []string{"U"},
		Paging:   paging.Options{Limit: 10},
	})
	if err != nil {
		t.Fatalf("time blocks: %v", err)
	}
	if len(blocks) != 130 {
		t.Fatalf("expected all 130 blocks, got %d", len(blocks))
	}
	if blocks[0].ID != "b129" {
		t.Fatalf("expected earliest block first, got %s", blocks[0].ID)
	}
	if src.calls[model.KindAvailability] != 0 {
		t.Fatal("availability is not read for block listings")
	}
	if _, err := NewAggregator(src, nil, noWait, discard()).TimeBlocks(context.Background(), Query{OwnerIDs: []string{"nobody"}}); model.KindOf(err) != model.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
