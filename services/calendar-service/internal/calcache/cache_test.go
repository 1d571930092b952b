package calcache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	key, _ := c.Key(ctx, []string{"u2", "u1", "u1"}, "p=1")
	if key != "calendar:u1@0,u2@0:p=1" {
		t.Fatalf("unexpected key %q", key)
	}
	if err := c.Set(ctx, key, []byte("payload")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok || string(got) != "payload" {
		t.Fatalf("get: %q %v %v", got, ok, err)
	}
}

func TestMemoryInvalidateOwnerDropsTeamEntries(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	team, _ := c.Key(ctx, []string{"u1", "u2"}, "q")
	solo, _ := c.Key(ctx, []string{"u2"}, "q")
	other, _ := c.Key(ctx, []string{"u3"}, "q")
	for _, k := range []string{team, solo, other} {
		_ = c.Set(ctx, k, []byte(k))
	}

	if err := c.InvalidateOwner(ctx, "u2"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, team); ok {
		t.Fatal("team entry containing u2 must be dropped")
	}
	if _, ok, _ := c.Get(ctx, solo); ok {
		t.Fatal("u2 entry must be dropped")
	}
	if _, ok, _ := c.Get(ctx, other); !ok {
		t.Fatal("u3 entry must survive")
	}
	fresh, _ := c.Key(ctx, []string{"u1", "u2"}, "q")
	if fresh == team {
		t.Fatal("key must change after invalidation")
	}
}

// A response computed from reads made before an invalidation is written under the old
// generation and is never served afterwards.
func TestMemoryLateWriteAfterInvalidationIsUnreachable(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	key, _ := c.Key(ctx, []string{"u1"}, "q")
	_ = c.InvalidateOwner(ctx, "u1")
	_ = c.Set(ctx, key, []byte("stale"))

	next, _ := c.Key(ctx, []string{"u1"}, "q")
	if _, ok, _ := c.Get(ctx, next); ok {
		t.Fatal("stale write served after invalidation")
	}
}

func TestMemoryExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	_ = c.Set(ctx, "calendar:u1@0:q", []byte("x"))
	now = now.Add(time.Minute)
	if _, ok, _ := c.Get(ctx, "calendar:u1@0:q"); ok {
		t.Fatal("entry must expire after the TTL")
	}
}

func TestKeyCoversOwnerMatchesWholeIDs(t *testing.T) {
	if keyCoversOwner("calendar:u10@0:q", "u1") {
		t.Fatal("u1 must not match u10")
	}
	if !keyCoversOwner("calendar:u1@3,u10@0:q", "u10") {
		t.Fatal("u10 must match")
	}
}

func TestKeysEscapeDelimitersInOwnerIDs(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	team, _ := c.Key(ctx, []string{"a", "b"}, "q")
	forged, _ := c.Key(ctx, []string{"a@0,b"}, "q")
	if team == forged {
		t.Fatalf("distinct owner sets share key %q", team)
	}
	if err := c.Set(ctx, team, []byte("team")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := c.Get(ctx, forged); ok {
		t.Fatal("forged owner set must not read the team entry")
	}
	if err := c.InvalidateOwner(ctx, "a@0,b"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, team); !ok {
		t.Fatal("invalidating another owner must keep the team entry")
	}
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("CALENDAR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CALENDAR_TEST_REDIS_ADDR not set; skipping redis cache test")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	c := NewRedis(rdb, time.Minute, "calendar-test-"+uuid.NewString()[:8])
	owner := uuid.NewString()

	key, err := c.Key(ctx, []string{owner}, "q")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if err := c.Set(ctx, key, []byte("x")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := c.Get(ctx, key); err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if err := c.InvalidateOwner(ctx, owner); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Fatal("entry must be gone after invalidation")
	}
	next, _ := c.Key(ctx, []string{owner}, "q")
	if next == key {
		t.Fatal("generation must change")
	}
}
