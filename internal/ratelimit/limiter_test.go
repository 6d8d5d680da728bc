package ratelimit

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func TestBurstDoesNotBlock(t *testing.T) {
	rl := NewRateLimiter(1000, 3, nil)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed >= 500*time.Millisecond {
		t.Errorf("burst of 3 took %v", elapsed)
	}
	if tokens := rl.Tokens(); tokens > 3.0 {
		t.Errorf("Tokens() = %f, exceeds burst", tokens)
	}
}

func TestReserveWithFakeClock(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRateLimiter(2, 1, nil)
	rl.now = func() time.Time { return now }
	rl.lastRefill = now

	if wait := rl.reserve(); wait != 0 {
		t.Errorf("first reserve waited %v", wait)
	}
	if wait := rl.reserve(); wait != 500*time.Millisecond {
		t.Errorf("second reserve = %v, want 500ms", wait)
	}

	now = now.Add(500 * time.Millisecond)
	if wait := rl.reserve(); wait != 0 {
		t.Errorf("reserve after refill waited %v", wait)
	}

	// refills never exceed the burst size
	now = now.Add(time.Hour)
	if tokens := rl.Tokens(); math.Abs(tokens-1.0) > 1e-9 {
		t.Errorf("Tokens() = %f, want 1", tokens)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, nil)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestNilLimiterNeverBlocks(t *testing.T) {
	var rl *RateLimiter
	if err := rl.Wait(context.Background()); err != nil {
		t.Errorf("nil Wait() error = %v", err)
	}
}
