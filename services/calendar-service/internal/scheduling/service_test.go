package scheduling

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/md-rashed-zaman/planner/libs/retry"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/calcache"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/clock"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/outbox"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/storage"
)

type harness struct {
	svc   *Service
	store *storage.SQLiteStore
	cache *calcache.Memory
	clock *clock.Fixed
}

func newHarness(t *testing.T, users ...string) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "scheduling.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	for _, id := range users {
		if _, err := store.CreateUser(ctx, model.User{ID: id, DisplayName: id}); err != nil {
			t.Fatalf("create user %s: %v", id, err)
		}
	}
	cache := calcache.NewMemory(time.Minute)
	clk := clock.NewFixed(time.Date(2023, time.June, 1, 8, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, cache, clk, logger, Config{Origin: "test", Retry: retry.Policy{MaxAttempts: 1}})
	return &harness{svc: svc, store: store, cache: cache, clock: clk}
}

func june15(h, m int) time.Time {
	return time.Date(2023, time.June, 15, h, m, 0, 0, time.UTC)
}

func TestCreateConflictScenario(t *testing.T) {
	h := newHarness(t, "U", "V")
	ctx := context.Background()

	first, err := h.svc.CreateTimeBlock(ctx, "U", june15(9, 0), june15(10, 0), model.Metadata{Title: "Focus"})
	if err != nil {
		t.Fatalf("create first block: %v", err)
	}
	if first.Version != 1 || first.ID == "" {
		t.Fatalf("unexpected block %+v", first)
	}

	_, err = h.svc.CreateTimeBlock(ctx, "U", june15(9, 30), june15(10, 30), model.Metadata{})
	if model.KindOf(err) != model.KindSchedulingConflict {
		t.Fatalf("expected scheduling conflict, got %v", err)
	}
	if c := model.ConflictsOf(err); len(c) != 1 || c[0].ID != first.ID {
		t.Fatalf("conflict must list the first block, got %v", c)
	}

	if _, err := h.svc.CreateTimeBlock(ctx, "V", june15(9, 30), june15(10, 30), model.Metadata{}); err != nil {
		t.Fatalf("other owner must not conflict: %v", err)
	}
}

func TestCreateAdjacentBlock(t *testing.T) {
	h := newHarness(t, "U")
	ctx := context.Background()
	if _, err := h.svc.CreateTimeBlock(ctx, "U", june15(9, 0), june15(10, 0), model.Metadata{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.svc.CreateTimeBlock(ctx, "U", june15(10, 0), june15(11, 0), model.Metadata{}); err != nil {
		t.Fatalf("adjacent block must be accepted: %v", err)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	h := newHarness(t, "U")
	ctx := context.Background()
	if _, err := h.svc.CreateTimeBlock(ctx, "U", june15(10, 0), june15(10, 0), model.Metadata{}); model.KindOf(err) != model.KindInvalidRange {
		t.Fatalf("expected invalid range, got %v", err)
	}
	if _, err := h.svc.CreateTimeBlock(ctx, "nobody", june15(9, 0), june15(10, 0), model.Metadata{}); model.KindOf(err) != model.KindNotFound {
		t.Fatalf("expected not found owner, got %v", err)
	}
}

func TestUpdateTimeBlock(t *testing.T) {
	h := newHarness(t, "U")
	ctx := context.Background()
	a, _ := h.svc.CreateTimeBlock(ctx, "U", june15(9, 0), june15(10, 0), model.Metadata{Title: "a"})
	b, _ := h.svc.CreateTimeBlock(ctx, "U", june15(11, 0), june15(12, 0), model.Metadata{Title: "b"})

	// Growing within its own range never conflicts with itself.
	newEnd := june15(10, 30)
	moved, err := h.svc.UpdateTimeBlock(ctx, a.ID, "U", model.Patch{EndTime: &newEnd, Version: 1})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if moved.Version != 2 || !moved.EndTime.Equal(newEnd) || moved.Title != "a" {
		t.Fatalf("unexpected updated block %+v", moved)
	}

	stale := "stale"
	if _, err := h.svc.UpdateTimeBlock(ctx, a.ID, "U", model.Patch{Title: &stale, Version: 1}); model.KindOf(err) != model.KindConcurrencyConflict {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}

	into := june15(11, 30)
	_, err = h.svc.UpdateTimeBlock(ctx, a.ID, "U", model.Patch{EndTime: &into})
	if model.KindOf(err) != model.KindSchedulingConflict {
		t.Fatalf("expected scheduling conflict, got %v", err)
	}
	if c := model.ConflictsOf(err); len(c) != 1 || c[0].ID != b.ID {
		t.Fatalf("conflict must list b, got %v", c)
	}

	backwards := june15(8, 0)
	if _, err := h.svc.UpdateTimeBlock(ctx, a.ID, "U", model.Patch{EndTime: &backwards}); model.KindOf(err) != model.KindInvalidRange {
		t.Fatalf("expected invalid range, got %v", err)
	}

	if _, err := h.svc.UpdateTimeBlock(ctx, a.ID, "V", model.Patch{Title: &stale}); model.KindOf(err) != model.KindNotFound {
		t.Fatalf("foreign owner must see not found, got %v", err)
	}
}

func TestDeleteTimeBlock(t *testing.T) {
	h := newHarness(t, "U")
	ctx := context.Background()
	a, _ := h.svc.CreateTimeBlock(ctx, "U", june15(9, 0), june15(10, 0), model.Metadata{})

	if err := h.svc.DeleteTimeBlock(ctx, a.ID, "U", 7); model.KindOf(err) != model.KindConcurrencyConflict {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	if err := h.svc.DeleteTimeBlock(ctx, a.ID, "U", 0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := h.svc.DeleteTimeBlock(ctx, a.ID, "U", 0); model.KindOf(err) != model.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	// The freed range can be booked again.
	if _, err := h.svc.CreateTimeBlock(ctx, "U", june15(9, 0), june15(10, 0), model.Metadata{}); err != nil {
		t.Fatalf("re-create after delete: %v", err)
	}
}

func TestAvailabilityMayOverlap(t *testing.T) {
	h := newHarness(t, "U")
	ctx := context.Background()
	if _, err := h.svc.CreateAvailability(ctx, "U", june15(8, 0), june15(12, 0), model.Metadata{}); err != nil {
		t.Fatalf("create availability: %v", err)
	}
	w, err := h.svc.CreateAvailability(ctx, "U", june15(10, 0), june15(14, 0), model.Metadata{})
	if err != nil {
		t.Fatalf("overlapping availability must be accepted: %v", err)
	}
	note := "remote"
	if _, err := h.svc.UpdateAvailability(ctx, w.ID, "U", model.Patch{Note: &note}); err != nil {
		t.Fatalf("update availability: %v", err)
	}
	if err := h.svc.DeleteAvailability(ctx, w.ID, "U", 2); err != nil {
		t.Fatalf("delete availability: %v", err)
	}
}

func TestMutationsInvalidateOwnerCache(t *testing.T) {
	h := newHarness(t, "U", "V")
	ctx := context.Background()
	keyU, _ := h.cache.Key(ctx, []string{"U"}, "q")
	keyV, _ := h.cache.Key(ctx, []string{"V"}, "q")
	_ = h.cache.Set(ctx, keyU, []byte("u"))
	_ = h.cache.Set(ctx, keyV, []byte("v"))

	if _, err := h.svc.CreateTimeBlock(ctx, "U", june15(9, 0), june15(10, 0), model.Metadata{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok, _ := h.cache.Get(ctx, keyU); ok {
		t.Fatal("U's cached calendar must be invalidated")
	}
	if _, ok, _ := h.cache.Get(ctx, keyV); !ok {
		t.Fatal("V's cached calendar must survive")
	}
}

func TestMutationsWriteOutboxEvents(t *testing.T) {
	h := newHarness(t, "U")
	ctx := context.Background()
	a, _ := h.svc.CreateTimeBlock(ctx, "U", june15(9, 0), june15(10, 0), model.Metadata{})
	_ = h.svc.DeleteTimeBlock(ctx, a.ID, "U", 0)

	var types []string
	_, err := h.store.PublishPending(ctx, 10, func(_ context.Context, recs []outbox.Record) error {
		for _, r := range recs {
			types = append(types, r.EventType)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("publish pending: %v", err)
	}
	if len(types) != 2 || types[0] != outbox.EventCreated || types[1] != outbox.EventDeleted {
		t.Fatalf("unexpected events %v", types)
	}
}
