package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	clock := newFakeClock()
	rl := newRateLimiterAt(RateLimiterConfig{Name: "api", Rate: 2, Burst: 3}, clock.Now)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("request %d should fit the burst", i+1)
		}
	}
	if rl.Allow() {
		t.Fatal("burst exhausted, request should be limited")
	}

	clock.Advance(500 * time.Millisecond)
	if !rl.Allow() {
		t.Error("one token should have refilled")
	}
	if rl.Allow() {
		t.Error("only one token should have refilled")
	}

	clock.Advance(time.Hour)
	if got := rl.Tokens(); got != 3 {
		t.Errorf("tokens should cap at burst, got %v", got)
	}
}

func TestRateLimiter_ExecuteAndOnLimit(t *testing.T) {
	limited := 0
	rl := NewRateLimiter(RateLimiterConfig{Name: "x", Rate: 0.001, Burst: 1, OnLimit: func(string) { limited++ }})
	ctx := context.Background()

	if err := rl.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	if err := rl.Execute(ctx, func(context.Context) error { return nil }); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if limited != 1 {
		t.Errorf("expected OnLimit once, got %d", limited)
	}
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.01, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first wait should not block: %v", err)
	}
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestKeyedRateLimiter(t *testing.T) {
	clock := newFakeClock()
	k := NewKeyedRateLimiter(RateLimiterConfig{Name: "enqueue", Rate: 1, Burst: 1}, time.Minute)
	k.now = clock.Now

	if !k.Allow("10.0.0.1") {
		t.Fatal("first request from a client should pass")
	}
	if k.Allow("10.0.0.1") {
		t.Error("second immediate request should be limited")
	}
	if !k.Allow("10.0.0.2") {
		t.Error("clients must have independent buckets")
	}
	if k.Len() != 2 {
		t.Errorf("expected 2 buckets, got %d", k.Len())
	}

	clock.Advance(2 * time.Minute)
	if removed := k.Sweep(); removed != 2 {
		t.Errorf("expected idle buckets swept, removed %d", removed)
	}
}
