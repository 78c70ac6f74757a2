package promise

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// ErrUnresolved is returned when a future's value is read before it has been
// resolved. Seeing it in steady state means a missing dependency edge.
var ErrUnresolved = errors.New("promise: read before resolution")

type state int

const (
	statePending state = iota
	stateFulfilled
	stateFailed
)

// Future is the eventual result of a computation scheduled on a Scheduler.
type Future[T any] struct {
	sched *Scheduler

	mu      sync.Mutex
	state   state
	value   T
	err     error
	trace   string
	waiters []func()
}

// NewPending returns an unresolved future owned by s.
func NewPending[T any](s *Scheduler) *Future[T] {
	return &Future[T]{sched: s}
}

// Value returns a future already fulfilled with v.
func Value[T any](s *Scheduler, v T) *Future[T] {
	f := NewPending[T](s)
	f.Fulfill(v)
	return f
}

// Failure returns a future already failed with err.
func Failure[T any](s *Scheduler, err error) *Future[T] {
	f := NewPending[T](s)
	f.Fail(err, "")
	return f
}

// Delay schedules fn on s and returns a future for its result.
func Delay[T any](s *Scheduler, fn func() (T, error)) *Future[T] {
	out := NewPending[T](s)
	s.enqueue(func() {
		var v T
		if guard(out, func() (err error) {
			v, err = fn()
			return err
		}) {
			out.Fulfill(v)
		}
	})
	return out
}

// Scheduler returns the scheduler that runs this future's continuations.
func (f *Future[T]) Scheduler() *Scheduler { return f.sched }

// Fulfill resolves f with v. It is a no-op if f is already resolved.
func (f *Future[T]) Fulfill(v T) {
	f.resolve(stateFulfilled, v, nil, "")
}

// Fail resolves f with err. An empty trace records the current stack.
// It is a no-op if f is already resolved.
func (f *Future[T]) Fail(err error, trace string) {
	if err == nil {
		err = errors.New("promise: failed with nil error")
	}
	if trace == "" {
		trace = string(debug.Stack())
	}
	var zero T
	f.resolve(stateFailed, zero, err, trace)
}

// Forward resolves f the same way as src once src resolves. Until then f
// stays pending and can still be resolved directly.
func (f *Future[T]) Forward(src *Future[T]) {
	if src == nil {
		f.Fail(errors.New("promise: forward from nil future"), "")
		return
	}
	src.whenResolved(func() { f.copyFrom(src) })
}

func (f *Future[T]) copyFrom(src *Future[T]) {
	st, v, err, trace := src.snapshot()
	switch st {
	case stateFulfilled:
		f.Fulfill(v)
	case stateFailed:
		f.Fail(err, trace)
	}
}

func (f *Future[T]) resolve(st state, v T, err error, trace string) bool {
	f.mu.Lock()
	if f.state != statePending {
		f.mu.Unlock()
		return false
	}
	f.state = st
	f.value = v
	f.err = err
	f.trace = trace
	waiters := f.waiters
	f.waiters = nil
	f.mu.Unlock()

	for _, w := range waiters {
		f.sched.enqueue(w)
	}
	return true
}

// whenResolved schedules fn to run after f resolves. fn is never invoked
// inline, even when f is already resolved.
func (f *Future[T]) whenResolved(fn func()) {
	f.mu.Lock()
	if f.state == statePending {
		f.waiters = append(f.waiters, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.sched.enqueue(fn)
}

func (f *Future[T]) snapshot() (state, T, error, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.value, f.err, f.trace
}

// IsResolved reports whether f has been fulfilled or failed.
func (f *Future[T]) IsResolved() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state != statePending
}

// Get returns the value of a fulfilled future, the error of a failed one,
// and ErrUnresolved for a pending one.
func (f *Future[T]) Get() (T, error) {
	st, v, err, _ := f.snapshot()
	switch st {
	case stateFulfilled:
		return v, nil
	case stateFailed:
		var zero T
		return zero, err
	default:
		var zero T
		return zero, ErrUnresolved
	}
}

// Err returns nil for a fulfilled future, the failure for a failed one and
// ErrUnresolved for a pending one.
func (f *Future[T]) Err() error {
	_, err := f.Get()
	return err
}

// Trace returns the trace recorded with a failure, or "" otherwise.
func (f *Future[T]) Trace() string {
	st, _, _, trace := f.snapshot()
	if st != stateFailed {
		return ""
	}
	return trace
}

func (f *Future[T]) String() string {
	st, v, err, _ := f.snapshot()
	switch st {
	case stateFulfilled:
		return fmt.Sprintf("fulfilled(%v)", v)
	case stateFailed:
		return fmt.Sprintf("failed(%v)", err)
	default:
		return "pending"
	}
}

// guard runs fn, failing out if fn returns an error or panics. It reports
// whether fn completed successfully.
func guard[U any](out *Future[U], fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			out.Fail(fmt.Errorf("promise: panic in continuation: %v", r), string(debug.Stack()))
			ok = false
		}
	}()
	if err := fn(); err != nil {
		out.Fail(err, "")
		return false
	}
	return true
}
