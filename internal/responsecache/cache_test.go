package responsecache

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "github.com/plesner/jetnewt/pkg/logx"
)

func openTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	c, err := Open(context.Background(), cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", cfg.Driver, err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestCacheDrivers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  func(t *testing.T) Config
	}{
		{name: "memory", cfg: func(*testing.T) Config { return Config{Driver: "memory"} }},
		{name: "sqlite", cfg: func(t *testing.T) Config {
			return Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "cache", "requests.db")}
		}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			c := openTestCache(t, tc.cfg(t))

			if _, ok, err := c.Get(ctx, "http://x/a"); err != nil || ok {
				t.Fatalf("empty cache: ok=%v err=%v", ok, err)
			}
			if _, ok, err := c.LatestTimestamp(ctx); err != nil || ok {
				t.Fatalf("empty latest: ok=%v err=%v", ok, err)
			}

			t0 := time.UnixMilli(1_700_000_000_000)
			big := strings.Repeat("<Arrival name=\"Bus 1A\"/>", 500)
			if err := c.Put(ctx, t0, "http://x/a", "old"); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := c.Put(ctx, t0.Add(time.Second), "http://x/a", big); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := c.Put(ctx, t0.Add(2*time.Second), "http://x/b", "b"); err != nil {
				t.Fatalf("Put: %v", err)
			}

			got, ok, err := c.Get(ctx, "http://x/a")
			if err != nil || !ok || got != big {
				t.Fatalf("Get newest: ok=%v err=%v len=%d", ok, err, len(got))
			}
			latest, ok, err := c.LatestTimestamp(ctx)
			if err != nil || !ok || !latest.Equal(t0.Add(2*time.Second)) {
				t.Fatalf("latest = %v ok=%v err=%v", latest, ok, err)
			}

			if err := c.Drop(ctx, "http://x/a"); err != nil {
				t.Fatalf("Drop: %v", err)
			}
			if _, ok, _ := c.Get(ctx, "http://x/a"); ok {
				t.Fatalf("dropped url still cached")
			}
			if v, ok, _ := c.Get(ctx, "http://x/b"); !ok || v != "b" {
				t.Fatalf("unrelated url lost: %q %v", v, ok)
			}

			s := c.Stats()
			if s.Writes != 3 || s.BytesCompressed >= s.BytesRaw {
				t.Fatalf("stats = %+v", s)
			}
		})
	}
}

func TestSQLiteCacheSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "requests.db")}

	c, err := Open(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	at := time.UnixMilli(1_700_000_123_000)
	if err := c.Put(ctx, at, "u", "body"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2 := openTestCache(t, cfg)
	if v, ok, err := c2.Get(ctx, "u"); err != nil || !ok || v != "body" {
		t.Fatalf("after reopen: %q ok=%v err=%v", v, ok, err)
	}
	if latest, _, _ := c2.LatestTimestamp(ctx); !latest.Equal(at) {
		t.Fatalf("latest after reopen = %v", latest)
	}
}

func TestClosedCache(t *testing.T) {
	t.Parallel()
	c := New(context.Background(), NewMemoryBackend(), logx.Nop())
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err := c.Get(context.Background(), "u"); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func TestUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := OpenBackend(context.Background(), Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
