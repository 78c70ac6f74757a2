package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/plesner/jetnewt/internal/task/engine"
	logx "github.com/plesner/jetnewt/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		kind    SpecKind
		cron    string
		every   time.Duration
		wantErr bool
	}{
		{in: "0 3 * * *", kind: SpecCron, cron: "0 3 * * *"},
		{in: "@daily", kind: SpecCron, cron: "@daily"},
		{in: "cron:@hourly", kind: SpecCron, cron: "@hourly"},
		{in: "6h", kind: SpecInterval, every: 6 * time.Hour},
		{in: "06:30", kind: SpecInterval, every: 6*time.Hour + 30*time.Minute},
		{in: "every: 90m", kind: SpecInterval, every: 90 * time.Minute},
		{in: "interval:00:15", kind: SpecInterval, every: 15 * time.Minute},
		{in: "", wantErr: true},
		{in: "cron:", wantErr: true},
		{in: "00:00", wantErr: true},
		{in: "01:75", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseSchedule(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseSchedule(%q): expected error, got %+v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tc.in, err)
		}
		if got.Kind != tc.kind || got.Cron != tc.cron || got.Every != tc.every {
			t.Fatalf("ParseSchedule(%q) = %+v", tc.in, got)
		}
	}
}

// recordingPool holds tasks until the test runs them.
type recordingPool struct {
	mu    sync.Mutex
	tasks []engine.Task
	err   error
}

func (p *recordingPool) Enqueue(t engine.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, t)
	return nil
}

func (p *recordingPool) take() []engine.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.tasks
	p.tasks = nil
	return out
}

func TestTriggerSkipsOverlap(t *testing.T) {
	t.Parallel()
	pool := &recordingPool{}
	s := New(Config{}, pool, logx.Nop())
	runs := 0
	if err := s.AddSchedule("harvest", "6h", func(context.Context) error {
		runs++
		return nil
	}); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}

	if err := s.Trigger("harvest"); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if err := s.Trigger("harvest"); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second trigger: got %v, want ErrOverlapSkip", err)
	}
	for _, task := range pool.take() {
		if err := task.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
	if err := s.Trigger("harvest"); err != nil {
		t.Fatalf("trigger after completion: %v", err)
	}
	if err := s.Trigger("missing"); err == nil {
		t.Fatalf("unknown schedule should fail")
	}
}

func TestTriggerReleasesOnEnqueueError(t *testing.T) {
	t.Parallel()
	pool := &recordingPool{err: engine.ErrQueueFull}
	s := New(Config{}, pool, logx.Nop())
	if err := s.AddSchedule("harvest", "1h", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if err := s.Trigger("harvest"); !errors.Is(err, engine.ErrQueueFull) {
		t.Fatalf("got %v, want ErrQueueFull", err)
	}
	pool.mu.Lock()
	pool.err = nil
	pool.mu.Unlock()
	if err := s.Trigger("harvest"); err != nil {
		t.Fatalf("retry after failed enqueue: %v", err)
	}
}

func TestAddScheduleRejectsBadCron(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &recordingPool{}, logx.Nop())
	if err := s.AddSchedule("x", "61 * * * *", func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected invalid cron error")
	}
	if err := s.AddSchedule("", "1h", func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected name error")
	}
	if len(s.Snapshot().Schedules) != 0 {
		t.Fatalf("rejected schedules must not be stored")
	}
}

func TestSnapshotNextInTimezone(t *testing.T) {
	t.Parallel()
	if _, err := time.LoadLocation("Europe/Copenhagen"); err != nil {
		t.Skip("tzdata unavailable")
	}
	s := New(Config{Timezone: "UTC"}, &recordingPool{}, logx.Nop())
	if err := s.AddSchedule("nightly", "0 3 * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if s.Snapshot().Started {
		t.Fatalf("not started yet")
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	if !snap.Started || len(snap.Schedules) != 1 {
		t.Fatalf("snapshot: %+v", snap)
	}
	next := snap.Schedules[0].Next
	if next.IsZero() || next.UTC().Hour() != 3 {
		t.Fatalf("next run %v, want 03:00 UTC", next)
	}

	s.Apply(Config{Timezone: "Europe/Copenhagen"})
	loc, _ := time.LoadLocation("Europe/Copenhagen")
	next = s.Snapshot().Schedules[0].Next
	if next.In(loc).Hour() != 3 {
		t.Fatalf("next run %v after tz change, want 03:00 Copenhagen", next)
	}

	if !s.Remove("nightly") || s.Remove("nightly") {
		t.Fatalf("remove should succeed exactly once")
	}
}

func TestIntervalSpreadDelaysFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sched, jitter := makeIntervalScheduleWithSpread(time.Hour, now, "harvest")
	if jitter < 0 || jitter >= maxStartupSpread {
		t.Fatalf("jitter %v out of range", jitter)
	}
	first := sched.Next(now)
	if !first.Equal(now.Add(time.Hour + jitter)) {
		t.Fatalf("first = %v", first)
	}
	// cron.Every rounds to whole seconds.
	if gap := sched.Next(first).Sub(first); gap <= time.Hour-time.Second || gap > time.Hour {
		t.Fatalf("gap to second run = %v, want about 1h", gap)
	}
}
