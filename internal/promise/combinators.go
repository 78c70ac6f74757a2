package promise

import (
	"errors"
)

var errNilFuture = errors.New("promise: continuation returned nil future")

// Then returns a future for onOK applied to f's value. A failure of f, an
// error from onOK or a panic inside onOK fails the result.
func Then[T, U any](f *Future[T], onOK func(T) (U, error)) *Future[U] {
	return Chain(f, onOK, nil)
}

// Chain is Then with an additional failure observer. onErr runs for its side
// effects; the result still fails with f's error.
func Chain[T, U any](f *Future[T], onOK func(T) (U, error), onErr func(err error, trace string)) *Future[U] {
	out := NewPending[U](f.sched)
	f.whenResolved(func() {
		st, v, err, trace := f.snapshot()
		if st == stateFailed {
			if onErr != nil {
				guard(out, func() error {
					onErr(err, trace)
					return nil
				})
			}
			out.Fail(err, trace)
			return
		}
		var res U
		if guard(out, func() (e error) {
			res, e = onOK(v)
			return e
		}) {
			out.Fulfill(res)
		}
	})
	return out
}

// ThenFuture continues f with a function that itself returns a future; the
// result is resolved from that future (one level of flattening).
func ThenFuture[T, U any](f *Future[T], fn func(T) *Future[U]) *Future[U] {
	out := NewPending[U](f.sched)
	f.whenResolved(func() {
		st, v, err, trace := f.snapshot()
		if st == stateFailed {
			out.Fail(err, trace)
			return
		}
		var next *Future[U]
		if !guard(out, func() error {
			next = fn(v)
			if next == nil {
				return errNilFuture
			}
			return nil
		}) {
			return
		}
		out.Forward(next)
	})
	return out
}

// Rescue passes f's value through unchanged, or replaces f's failure with
// the future returned by fn.
func Rescue[T any](f *Future[T], fn func(err error, trace string) *Future[T]) *Future[T] {
	out := NewPending[T](f.sched)
	f.whenResolved(func() {
		st, v, err, trace := f.snapshot()
		if st == stateFulfilled {
			out.Fulfill(v)
			return
		}
		var next *Future[T]
		if !guard(out, func() error {
			next = fn(err, trace)
			if next == nil {
				return errNilFuture
			}
			return nil
		}) {
			return
		}
		out.Forward(next)
	})
	return out
}

// Join resolves to the values of fs, in order, once all of them succeed.
// It fails with the first failure the scheduler delivers; the remaining
// futures keep running and stay individually queryable.
func Join[T any](s *Scheduler, fs []*Future[T]) *Future[[]T] {
	out := NewPending[[]T](s)
	values := make([]T, len(fs))
	if len(fs) == 0 {
		out.Fulfill(values)
		return out
	}
	j := &joiner[T]{out: out, values: values, remaining: len(fs)}
	for i, f := range fs {
		if f == nil {
			out.Fail(errors.New("promise: join of nil future"), "")
			return out
		}
		f.whenResolved(j.collector(i, f))
	}
	return out
}

// joiner accumulates results. Its fields are only touched from scheduled
// actions, which never run concurrently.
type joiner[T any] struct {
	out       *Future[[]T]
	values    []T
	remaining int
}

func (j *joiner[T]) collector(index int, f *Future[T]) func() {
	return func() {
		st, v, err, trace := f.snapshot()
		if st == stateFailed {
			j.out.Fail(err, trace)
			return
		}
		j.values[index] = v
		j.remaining--
		if j.remaining == 0 {
			j.out.Fulfill(j.values)
		}
	}
}

// Pair carries two values through a single future.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Join2 is Join for two futures of different types.
func Join2[A, B any](a *Future[A], b *Future[B]) *Future[Pair[A, B]] {
	out := NewPending[Pair[A, B]](a.sched)
	var p Pair[A, B]
	remaining := 2
	done := func() {
		remaining--
		if remaining == 0 {
			out.Fulfill(p)
		}
	}
	a.whenResolved(func() {
		st, v, err, trace := a.snapshot()
		if st == stateFailed {
			out.Fail(err, trace)
			return
		}
		p.First = v
		done()
	})
	b.whenResolved(func() {
		st, v, err, trace := b.snapshot()
		if st == stateFailed {
			out.Fail(err, trace)
			return
		}
		p.Second = v
		done()
	})
	return out
}

// ThenApply2 unpacks a Pair into a two-argument continuation.
func ThenApply2[A, B, U any](f *Future[Pair[A, B]], fn func(A, B) (U, error)) *Future[U] {
	return Then(f, func(p Pair[A, B]) (U, error) {
		return fn(p.First, p.Second)
	})
}

// Map applies fn to each element of the slice f resolves to. Each
// application is scheduled independently; the results are joined in order.
func Map[T, U any](f *Future[[]T], fn func(T) *Future[U]) *Future[[]U] {
	return ThenFuture(f, func(vs []T) *Future[[]U] {
		mapped := make([]*Future[U], len(vs))
		for i, v := range vs {
			mapped[i] = ThenFuture(Value(f.sched, v), fn)
		}
		return Join(f.sched, mapped)
	})
}

// Entry is one key/value pair of an ordered mapping.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// MapEntries resolves an ordered key -> future mapping, applying fn to each
// key and resolved value. The result keeps the input key order.
func MapEntries[K comparable, V, U any](f *Future[[]Entry[K, *Future[V]]], fn func(K, V) (U, error)) *Future[[]Entry[K, U]] {
	return ThenFuture(f, func(entries []Entry[K, *Future[V]]) *Future[[]Entry[K, U]] {
		keys := make([]K, len(entries))
		mapped := make([]*Future[U], len(entries))
		for i, e := range entries {
			keys[i] = e.Key
			mapped[i] = applyEntry(f.sched, e.Key, e.Value, fn)
		}
		return Then(Join(f.sched, mapped), func(vs []U) ([]Entry[K, U], error) {
			out := make([]Entry[K, U], len(vs))
			for i, v := range vs {
				out[i] = Entry[K, U]{Key: keys[i], Value: v}
			}
			return out, nil
		})
	})
}

func applyEntry[K comparable, V, U any](s *Scheduler, key K, v *Future[V], fn func(K, V) (U, error)) *Future[U] {
	if v == nil {
		return Failure[U](s, errors.New("promise: nil future in mapping"))
	}
	return Then(v, func(x V) (U, error) {
		return fn(key, x)
	})
}
