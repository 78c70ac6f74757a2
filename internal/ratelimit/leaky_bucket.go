// Package ratelimit paces outgoing backend requests.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "github.com/plesner/jetnewt/pkg/logx"
)

// Clock is the time source used by LeakyBucket.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WallClock returns the real clock.
func WallClock() Clock { return wallClock{} }

// LeakyBucket hands out permits at a fixed rate while allowing up to
// maxAccumulation unused permits to be spent in a burst.
//
// Callers are serialised on one mutex, including while they sleep, so
// permits are granted in arrival order.
type LeakyBucket struct {
	mu         sync.Mutex
	lastPermit time.Time

	interval time.Duration
	maxAccum float64

	clock   Clock
	log     logx.Logger
	waitLog rate.Sometimes
}

type Option func(*LeakyBucket)

func WithClock(c Clock) Option {
	return func(b *LeakyBucket) {
		if c != nil {
			b.clock = c
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(b *LeakyBucket) { b.log = log }
}

// NewLeakyBucket returns a bucket granting permitsPerSec permits per second.
// The bucket starts empty: the first permit is one interval from now.
func NewLeakyBucket(permitsPerSec, maxAccumulation float64, opts ...Option) *LeakyBucket {
	if permitsPerSec <= 0 {
		permitsPerSec = 1
	}
	if maxAccumulation < 0 {
		maxAccumulation = 0
	}
	b := &LeakyBucket{
		interval: time.Duration(float64(time.Second) / permitsPerSec),
		maxAccum: maxAccumulation,
		clock:    wallClock{},
		log:      logx.Nop(),
		waitLog:  rate.Sometimes{Interval: 10 * time.Second},
	}
	for _, o := range opts {
		o(b)
	}
	if b.log.IsZero() {
		b.log = logx.Nop()
	}
	b.lastPermit = b.clock.Now()
	return b
}

// Interval is the spacing between two permits.
func (b *LeakyBucket) Interval() time.Duration { return b.interval }

// SetLastPermit seeds the bucket, typically with the timestamp of the last
// request a previous process made. Moving backwards is ignored.
func (b *LeakyBucket) SetLastPermit(t time.Time) {
	b.mu.Lock()
	if t.After(b.lastPermit) {
		b.lastPermit = t
	}
	b.mu.Unlock()
}

// LastPermit returns the time the most recent permit was granted for.
func (b *LeakyBucket) LastPermit() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastPermit
}

// WaitForPermit blocks until the next permit is available and returns how
// long it waited. If ctx ends while waiting the permit is not consumed.
func (b *LeakyBucket) WaitForPermit(ctx context.Context) (time.Duration, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	earliest := now.Add(-time.Duration(b.maxAccum * float64(b.interval)))
	if b.lastPermit.Before(earliest) {
		b.lastPermit = earliest
	}
	next := b.lastPermit.Add(b.interval)
	wait := next.Sub(now)
	if wait > 0 {
		b.waitLog.Do(func() {
			b.log.Debug("waiting for permit", logx.Duration("wait", wait))
		})
		if err := b.clock.Sleep(ctx, wait); err != nil {
			return 0, err
		}
	} else {
		wait = 0
	}
	b.lastPermit = next
	return wait, nil
}
