package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "github.com/plesner/jetnewt/pkg/logx"
)

func startPool(t *testing.T, cfg Config, opts ...Option) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), opts...)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestSubmitRunsAllTasks(t *testing.T) {
	t.Parallel()
	s := startPool(t, Config{Workers: 3, QueueSize: 4})

	var wg sync.WaitGroup
	var ran int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := s.Submit(context.Background(), Task{Name: "count", Run: func(context.Context) error {
			defer wg.Done()
			atomic.AddInt32(&ran, 1)
			return nil
		}})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()
	if got := atomic.LoadInt32(&ran); got != 20 {
		t.Fatalf("ran = %d, want 20", got)
	}
}

func TestPanickingTaskKeepsWorker(t *testing.T) {
	t.Parallel()
	items := make(chan HistoryItem, 2)
	s := startPool(t, Config{Workers: 1, QueueSize: 2}, WithObserver(func(h HistoryItem) { items <- h }))

	_ = s.Submit(context.Background(), Task{Name: "panic", Run: func(context.Context) error { panic("boom") }})
	_ = s.Submit(context.Background(), Task{Name: "fail", Run: func(context.Context) error { return errors.New("bad") }})

	for i := 0; i < 2; i++ {
		select {
		case h := <-items:
			if h.Error == "" {
				t.Fatalf("task %s recorded no error", h.Name)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for task %d", i)
		}
	}
	if snap := s.Snapshot(); snap.Failed != 2 || len(snap.History) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	t.Parallel()
	s := startPool(t, Config{Workers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	block := Task{Name: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	if err := s.Enqueue(block); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started
	noop := Task{Name: "noop", Run: func(context.Context) error { return nil }}
	if err := s.Enqueue(noop); err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if err := s.Enqueue(noop); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("got %v, want ErrQueueFull", err)
	}
	close(release)
}

func TestSubmitAfterStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1}, logx.Nop())
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("got %v, want ErrStopped", err)
	}
}

func TestLongQueuedTaskStillRuns(t *testing.T) {
	t.Parallel()
	items := make(chan HistoryItem, 2)
	s := startPool(t, Config{Workers: 1, QueueSize: 2}, WithObserver(func(h HistoryItem) { items <- h }))

	if err := s.Enqueue(Task{Name: "busy", Run: func(context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue busy: %v", err)
	}
	var ran atomic.Bool
	if err := s.Enqueue(Task{Name: "waiting", Run: func(context.Context) error {
		ran.Store(true)
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue waiting: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case h := <-items:
			if h.Error != "" {
				t.Fatalf("task %s failed: %s", h.Name, h.Error)
			}
			if h.Name == "waiting" && h.QueueDelay < 40*time.Millisecond {
				t.Fatalf("queue delay = %s, want the wait behind busy", h.QueueDelay)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for task %d", i)
		}
	}
	if !ran.Load() {
		t.Fatalf("queued task never ran")
	}
	if snap := s.Snapshot(); snap.Completed != 2 || snap.Dropped != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
