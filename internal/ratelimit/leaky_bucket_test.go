package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestLeakyBucketPacing(t *testing.T) {
	t.Parallel()

	epoch := time.Unix(0, 0)
	at := func(ms int64) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

	clock := &fakeClock{now: epoch}
	b := NewLeakyBucket(10, 12, WithClock(clock))

	wait := func(wantMs int64) {
		t.Helper()
		if _, err := b.WaitForPermit(context.Background()); err != nil {
			t.Fatalf("WaitForPermit: %v", err)
		}
		if got := clock.Now(); !got.Equal(at(wantMs)) {
			t.Fatalf("clock = %v, want %dms", got.Sub(epoch), wantMs)
		}
	}

	wait(100)
	wait(200)

	// 800ms idle: eight permits accumulated.
	clock.Set(at(1000))
	for i := 0; i < 8; i++ {
		wait(1000)
	}
	wait(1100)

	// Long idle: accumulation is capped at 12.
	clock.Set(at(10000))
	for i := 0; i < 12; i++ {
		wait(10000)
	}
	wait(10100)
}

func TestLeakyBucketSeed(t *testing.T) {
	t.Parallel()

	epoch := time.Unix(1000, 0)
	clock := &fakeClock{now: epoch}
	b := NewLeakyBucket(2, 0, WithClock(clock))

	b.SetLastPermit(epoch.Add(3 * time.Second))
	b.SetLastPermit(epoch)
	if got := b.LastPermit(); !got.Equal(epoch.Add(3 * time.Second)) {
		t.Fatalf("seed moved backwards: %v", got)
	}

	waited, err := b.WaitForPermit(context.Background())
	if err != nil {
		t.Fatalf("WaitForPermit: %v", err)
	}
	if want := 3500 * time.Millisecond; waited != want {
		t.Fatalf("waited %v, want %v", waited, want)
	}
}

func TestLeakyBucketCancel(t *testing.T) {
	t.Parallel()

	b := NewLeakyBucket(0.001, 0)
	before := b.LastPermit()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.WaitForPermit(ctx); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if !b.LastPermit().Before(before.Add(b.Interval())) {
		t.Fatalf("cancelled wait consumed a permit")
	}
}
