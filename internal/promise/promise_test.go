package promise

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	logx "github.com/plesner/jetnewt/pkg/logx"
)

func newTestScheduler() *Scheduler {
	return NewScheduler(logx.Nop(), WithPollInterval(5*time.Millisecond))
}

func TestThenChain(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	p := NewPending[int](s)
	q := Then(p, func(v int) (int, error) { return v + 4, nil })
	r := Then(q, func(v int) (int, error) { return v * 3, nil })
	out := Then(r, func(v int) (int, error) { return v - 1, nil })

	p.Fulfill(8)
	if out.IsResolved() {
		t.Fatalf("continuations must not run inline")
	}
	s.RunAllTasks()
	got, err := out.Get()
	if err != nil || got != 35 {
		t.Fatalf("got (%d, %v), want 35", got, err)
	}
}

func TestValueAndDelay(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	v := Value(s, "x")
	if got, err := v.Get(); err != nil || got != "x" {
		t.Fatalf("Value: got (%q, %v)", got, err)
	}

	calls := 0
	d := Delay(s, func() (int, error) {
		calls++
		return 7, nil
	})
	if d.IsResolved() || calls != 0 {
		t.Fatalf("Delay ran eagerly")
	}
	if _, err := d.Get(); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("pending Get: got %v, want ErrUnresolved", err)
	}
	s.RunAllTasks()
	if got, err := d.Get(); err != nil || got != 7 || calls != 1 {
		t.Fatalf("Delay: got (%d, %v) calls=%d", got, err, calls)
	}
}

func TestDelayFailure(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	boom := errors.New("boom")
	d := Delay(s, func() (int, error) { return 0, boom })
	after := Then(d, func(v int) (int, error) { return v + 1, nil })
	s.RunAllTasks()

	if !errors.Is(d.Err(), boom) {
		t.Fatalf("Delay error: got %v", d.Err())
	}
	if !errors.Is(after.Err(), boom) {
		t.Fatalf("dependent error: got %v", after.Err())
	}
	if after.Trace() == "" {
		t.Fatalf("failure should carry a trace")
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	out := Then(Value(s, 1), func(int) (int, error) { panic("kaboom") })
	s.RunAllTasks()
	err := out.Err()
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("got %v, want panic failure", err)
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	a, b, c := NewPending[int](s), NewPending[int](s), NewPending[int](s)
	j := Join(s, []*Future[int]{a, b, c})

	c.Fulfill(3)
	a.Fulfill(1)
	s.RunAllTasks()
	if j.IsResolved() {
		t.Fatalf("join resolved before all inputs")
	}
	b.Fulfill(2)
	s.RunAllTasks()
	got, err := j.Get()
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("join[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestJoinEmpty(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	j := Join[int](s, nil)
	got, err := j.Get()
	if err != nil || len(got) != 0 {
		t.Fatalf("empty join: got (%v, %v)", got, err)
	}
}

func TestJoinFailureKeepsInputsQueryable(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	boom := errors.New("boom")
	ok1 := Delay(s, func() (int, error) { return 1, nil })
	bad := Delay(s, func() (int, error) { return 0, boom })
	ok2 := Delay(s, func() (int, error) { return 2, nil })
	j := Join(s, []*Future[int]{ok1, bad, ok2})
	s.RunAllTasks()

	if !errors.Is(j.Err(), boom) {
		t.Fatalf("join error: got %v", j.Err())
	}
	if v, err := ok1.Get(); err != nil || v != 1 {
		t.Fatalf("ok1: got (%d, %v)", v, err)
	}
	if v, err := ok2.Get(); err != nil || v != 2 {
		t.Fatalf("ok2: got (%d, %v)", v, err)
	}
}

func TestMapWithInnerFutures(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	in := Value(s, []int{1, 2, 3})
	out := Map(in, func(v int) *Future[int] {
		return Delay(s, func() (int, error) { return v * 10, nil })
	})
	s.RunAllTasks()
	got, err := out.Get()
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(got) != 3 || got[0] != 10 || got[1] != 20 || got[2] != 30 {
		t.Fatalf("map: got %v", got)
	}
}

func TestMapEntriesKeepsOrder(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	late := NewPending[int](s)
	entries := []Entry[string, *Future[int]]{
		{Key: "b", Value: late},
		{Key: "a", Value: Value(s, 1)},
	}
	out := MapEntries(Value(s, entries), func(k string, v int) (string, error) {
		return strings.Repeat(k, v), nil
	})
	s.RunAllTasks()
	late.Fulfill(3)
	s.RunAllTasks()

	got, err := out.Get()
	if err != nil {
		t.Fatalf("map entries: %v", err)
	}
	if len(got) != 2 || got[0].Key != "b" || got[0].Value != "bbb" || got[1].Key != "a" || got[1].Value != "a" {
		t.Fatalf("map entries: got %+v", got)
	}
}

func TestRescueAndForward(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	failed := Failure[int](s, errors.New("nope"))
	rescued := Rescue(failed, func(err error, trace string) *Future[int] {
		if trace == "" {
			t.Errorf("rescue saw empty trace")
		}
		return Value(s, -1)
	})
	passed := Rescue(Value(s, 5), func(error, string) *Future[int] {
		t.Errorf("rescue called on success")
		return Value(s, 0)
	})

	target := NewPending[int](s)
	src := NewPending[int](s)
	target.Forward(src)
	src.Fulfill(9)
	s.RunAllTasks()

	if v, err := rescued.Get(); err != nil || v != -1 {
		t.Fatalf("rescued: got (%d, %v)", v, err)
	}
	if v, err := passed.Get(); err != nil || v != 5 {
		t.Fatalf("passed: got (%d, %v)", v, err)
	}
	if v, err := target.Get(); err != nil || v != 9 {
		t.Fatalf("forwarded: got (%d, %v)", v, err)
	}
}

func TestJoin2(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	out := ThenApply2(Join2(Value(s, 2), Value(s, "ab")), func(n int, str string) (string, error) {
		return strings.Repeat(str, n), nil
	})
	s.RunAllTasks()
	if v, err := out.Get(); err != nil || v != "abab" {
		t.Fatalf("join2: got (%q, %v)", v, err)
	}
}

func TestFirstResolutionWins(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	f := NewPending[int](s)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				f.Fulfill(i)
			} else {
				f.Fail(errors.New("odd"), "")
			}
		}(i)
	}
	wg.Wait()

	first := f.String()
	f.Fulfill(1000)
	f.Fail(errors.New("late"), "")
	if f.String() != first {
		t.Fatalf("resolution changed from %s to %s", first, f.String())
	}
}

func TestRunUntilExternalResolution(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	f := NewPending[int](s)
	out := Then(f, func(v int) (int, error) { return v * 2, nil })

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Fulfill(21)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.RunUntil(ctx, out); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}
	if v, err := out.Get(); err != nil || v != 42 {
		t.Fatalf("got (%d, %v), want 42", v, err)
	}
}

func TestRunUntilContextDone(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	never := NewPending[int](s)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.RunUntil(ctx, never); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}
