// Package storetest is a compliance suite shared by the storage backends.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/outbox"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/storage"
)

var day = time.Date(2023, time.June, 15, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

// Run exercises a storage.Store implementation. makeStore may hand back a shared database;
// every case works on freshly generated user ids.
func Run(t *testing.T, makeStore func(t *testing.T) storage.Store) {
	t.Helper()

	t.Run("users", func(t *testing.T) { testUsers(t, makeStore(t)) })
	t.Run("list intervals", func(t *testing.T) { testListIntervals(t, makeStore(t)) })
	t.Run("find overlapping", func(t *testing.T) { testFindOverlapping(t, makeStore(t)) })
	t.Run("optimistic versions", func(t *testing.T) { testVersions(t, makeStore(t)) })
	t.Run("unknown owner", func(t *testing.T) { testUnknownOwner(t, makeStore(t)) })
	t.Run("outbox", func(t *testing.T) { testOutbox(t, makeStore(t)) })
	t.Run("cascade", func(t *testing.T) { testCascade(t, makeStore(t)) })
}

func newUser(t *testing.T, s storage.Store) model.User {
	t.Helper()
	id := "u-" + uuid.NewString()
	u, err := s.CreateUser(context.Background(), model.User{ID: id, DisplayName: "Test " + id[:6], Timezone: "Europe/Berlin"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func insert(t *testing.T, s storage.Store, iv model.Interval) model.Interval {
	t.Helper()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.Insert(ctx, &iv)
	})
	if err != nil {
		t.Fatalf("Insert %s..%s: %v", iv.StartTime, iv.EndTime, err)
	}
	return iv
}

func block(owner string, start, end time.Time, title string) model.Interval {
	return model.Interval{Kind: model.KindTimeBlock, OwnerID: owner, StartTime: start, EndTime: end, Title: title}
}

func testUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := newUser(t, s)

	got, err := s.GetUser(ctx, u.ID)
	if err != nil || got.ID != u.ID || got.Timezone != "Europe/Berlin" {
		t.Fatalf("GetUser: got=%+v err=%v", got, err)
	}
	if _, err := s.GetUser(ctx, "nobody-"+uuid.NewString()); model.KindOf(err) != model.KindNotFound {
		t.Fatalf("GetUser unknown: expected not found, got %v", err)
	}

	ghost := "ghost-" + uuid.NewString()
	missing, err := s.MissingUsers(ctx, []string{u.ID, ghost, ghost})
	if err != nil {
		t.Fatalf("MissingUsers: %v", err)
	}
	if len(missing) != 1 || missing[0] != ghost {
		t.Fatalf("MissingUsers: expected [%s], got %v", ghost, missing)
	}
}

func testListIntervals(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u1, u2 := newUser(t, s), newUser(t, s)
	insert(t, s, block(u1.ID, at(13, 0), at(14, 0), "afternoon"))
	insert(t, s, block(u1.ID, at(9, 0), at(10, 0), "morning"))
	insert(t, s, block(u2.ID, at(9, 0), at(10, 0), "other owner"))
	insert(t, s, model.Interval{Kind: model.KindAvailability, OwnerID: u1.ID, StartTime: at(8, 0), EndTime: at(17, 0)})

	all, err := s.ListIntervals(ctx, model.KindTimeBlock, []string{u1.ID, u2.ID}, nil, nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListIntervals all: n=%d err=%v", len(all), err)
	}
	if all[0].StartTime.After(all[2].StartTime) {
		t.Fatal("ListIntervals must order by start time")
	}

	// end >= start AND start <= end: a block ending exactly at the range start is included.
	start, end := at(10, 0), at(12, 0)
	got, err := s.ListIntervals(ctx, model.KindTimeBlock, []string{u1.ID}, &start, &end)
	if err != nil {
		t.Fatalf("ListIntervals range: %v", err)
	}
	if len(got) != 1 || got[0].Title != "morning" {
		t.Fatalf("ListIntervals range: unexpected %v", got)
	}
	if got[0].Version != 1 || got[0].Kind != model.KindTimeBlock || got[0].OwnerID != u1.ID {
		t.Fatalf("ListIntervals: unexpected row %+v", got[0])
	}
	if !got[0].StartTime.Equal(at(9, 0)) {
		t.Fatalf("times must round trip, got %s", got[0].StartTime)
	}

	avail, err := s.ListIntervals(ctx, model.KindAvailability, []string{u1.ID}, nil, nil)
	if err != nil || len(avail) != 1 || avail[0].Kind != model.KindAvailability {
		t.Fatalf("ListIntervals availability: %v %v", avail, err)
	}
}

func testFindOverlapping(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	first := insert(t, s, block(u.ID, at(9, 0), at(10, 0), "first"))

	got, err := s.FindOverlapping(ctx, u.ID, at(9, 30), at(10, 30), "")
	if err != nil || len(got) != 1 || got[0].ID != first.ID {
		t.Fatalf("FindOverlapping partial: %v %v", got, err)
	}
	if got, _ := s.FindOverlapping(ctx, u.ID, at(10, 0), at(11, 0), ""); len(got) != 0 {
		t.Fatalf("adjacent range must not overlap: %v", got)
	}
	if got, _ := s.FindOverlapping(ctx, u.ID, at(9, 0), at(10, 0), first.ID); len(got) != 0 {
		t.Fatalf("excluded id returned: %v", got)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		found, err := tx.FindOverlapping(ctx, u.ID, at(8, 0), at(12, 0), "")
		if err != nil {
			return err
		}
		if len(found) != 1 {
			t.Errorf("tx FindOverlapping: expected 1, got %d", len(found))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
}

func testVersions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	iv := insert(t, s, block(u.ID, at(9, 0), at(10, 0), "v1"))

	err := s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		cur, err := tx.GetForUpdate(ctx, model.KindTimeBlock, iv.ID)
		if err != nil {
			return err
		}
		cur.Title = "v2"
		cur.EndTime = at(11, 0)
		return tx.Update(ctx, &cur, cur.Version)
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := s.GetInterval(ctx, model.KindTimeBlock, iv.ID)
	if err != nil || got.Version != 2 || got.Title != "v2" || !got.EndTime.Equal(at(11, 0)) {
		t.Fatalf("after update: %+v %v", got, err)
	}

	stale := got
	stale.Title = "stale"
	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Update(ctx, &stale, 1)
	})
	if model.KindOf(err) != model.KindConcurrencyConflict {
		t.Fatalf("stale update: expected concurrency conflict, got %v", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Delete(ctx, model.KindTimeBlock, iv.ID, 1)
	})
	if model.KindOf(err) != model.KindConcurrencyConflict {
		t.Fatalf("stale delete: expected concurrency conflict, got %v", err)
	}
	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Delete(ctx, model.KindTimeBlock, iv.ID, 2)
	})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.GetInterval(ctx, model.KindTimeBlock, iv.ID); model.KindOf(err) != model.KindNotFound {
		t.Fatalf("deleted row: expected not found, got %v", err)
	}
	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Delete(ctx, model.KindTimeBlock, iv.ID, 2)
	})
	if model.KindOf(err) != model.KindNotFound {
		t.Fatalf("second delete: expected not found, got %v", err)
	}
}

func testUnknownOwner(t *testing.T, s storage.Store) {
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		iv := block("ghost-"+uuid.NewString(), at(9, 0), at(10, 0), "orphan")
		return tx.Insert(ctx, &iv)
	})
	if model.KindOf(err) != model.KindNotFound {
		t.Fatalf("insert for unknown owner: expected not found, got %v", err)
	}
}

func testOutbox(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	var evtID string
	err := s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		iv := block(u.ID, at(9, 0), at(10, 0), "evented")
		if err := tx.Insert(ctx, &iv); err != nil {
			return err
		}
		evt, err := outbox.NewIntervalEvent(ctx, outbox.EventCreated, "suite", iv, at(8, 0))
		if err != nil {
			return err
		}
		evtID = evt.EventID
		return tx.AppendEvent(ctx, evt)
	})
	if err != nil {
		t.Fatalf("insert with event: %v", err)
	}

	found := false
	for i := 0; i < 100 && !found; i++ {
		n, err := s.PublishPending(ctx, 100, func(_ context.Context, recs []outbox.Record) error {
			for _, r := range recs {
				if r.EventID == evtID {
					found = true
					if r.OwnerID != u.ID || r.EventType != outbox.EventCreated {
						t.Errorf("unexpected record %+v", r)
					}
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("PublishPending: %v", err)
		}
		if n == 0 {
			break
		}
	}
	if !found {
		t.Fatal("event never published")
	}

	_, err = s.PublishPending(ctx, 100, func(_ context.Context, recs []outbox.Record) error {
		for _, r := range recs {
			if r.EventID == evtID {
				t.Errorf("event %s published twice", evtID)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("PublishPending again: %v", err)
	}
}

func testCascade(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := newUser(t, s)
	iv := insert(t, s, block(u.ID, at(9, 0), at(10, 0), "doomed"))

	if err := s.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := s.GetInterval(ctx, model.KindTimeBlock, iv.ID); model.KindOf(err) != model.KindNotFound {
		t.Fatalf("intervals must be removed with their owner, got %v", err)
	}
	if err := s.DeleteUser(ctx, u.ID); model.KindOf(err) != model.KindNotFound {
		t.Fatalf("second DeleteUser: expected not found, got %v", err)
	}
}
