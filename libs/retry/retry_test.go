package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errStoreDown = errors.New("store: connection reset")

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}, func(context.Context) (int, error) {
		calls++
		return 0, errStoreDown
	})
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if err != errStoreDown {
		t.Fatalf("expected the original error back unchanged, got %v", err)
	}
}

func TestDoReturnsFirstSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}, func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errStoreDown
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("expected ok, got %q (%v)", got, err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoUsesLinearDelays(t *testing.T) {
	var delays []time.Duration
	var attempts []int
	p := Policy{
		MaxAttempts: 4,
		BaseDelay:   5 * time.Millisecond,
		OnRetry: func(attempt int, _ error, d time.Duration) {
			attempts = append(attempts, attempt)
			delays = append(delays, d)
		},
	}
	_, _ = Do(context.Background(), p, func(context.Context) (struct{}, error) {
		return struct{}{}, errStoreDown
	})

	want := []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 15 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("expected %d sleeps (none after the last attempt), got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay %d: expected %s, got %s", i, want[i], delays[i])
		}
		if attempts[i] != i+1 {
			t.Fatalf("delay %d reported attempt %d", i, attempts[i])
		}
	}
}

func TestDoSingleAttemptNeverSleeps(t *testing.T) {
	slept := false
	p := Policy{MaxAttempts: 1, BaseDelay: time.Hour, OnRetry: func(int, error, time.Duration) { slept = true }}
	start := time.Now()
	_, err := Do(context.Background(), p, func(context.Context) (int, error) { return 0, errStoreDown })
	if err != errStoreDown || slept || time.Since(start) > time.Second {
		t.Fatalf("single attempt must fail fast without sleeping (err=%v slept=%v)", err, slept)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{MaxAttempts: 10, BaseDelay: time.Hour}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errStoreDown
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
