package promise

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	logx "github.com/plesner/jetnewt/pkg/logx"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	progressLogEvery    = 1000
)

// Resolvable is anything RunUntil can wait for.
type Resolvable interface {
	IsResolved() bool
}

// Scheduler is a FIFO queue of deferred actions.
//
// Enqueueing is safe from any goroutine. Draining (RunNextTask, RunAllTasks,
// RunUntil) must only ever happen on one goroutine.
type Scheduler struct {
	mu    sync.Mutex
	queue []func()

	// wake is signalled (non-blocking, capacity 1) whenever work is enqueued.
	wake chan struct{}

	log          logx.Logger
	pollInterval time.Duration

	// ran is only touched by the draining goroutine.
	ran uint64
}

type Option func(*Scheduler)

// WithPollInterval bounds how long RunUntil sleeps between drains when no
// wake-up arrives.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func NewScheduler(log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		wake:         make(chan struct{}, 1),
		log:          log,
		pollInterval: defaultPollInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scheduler) enqueue(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) pop() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	fn := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return fn, true
}

// HasMoreTasks reports whether the queue is non-empty.
func (s *Scheduler) HasMoreTasks() bool {
	return s.Pending() > 0
}

// Pending returns the number of queued actions.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	n := len(s.queue)
	s.mu.Unlock()
	return n
}

// RunNextTask runs the oldest queued action. It returns false if the queue
// was empty.
func (s *Scheduler) RunNextTask() bool {
	fn, ok := s.pop()
	if !ok {
		return false
	}
	s.run(fn)
	s.ran++
	if s.ran%progressLogEvery == 0 {
		s.log.Debug("scheduler progress", logx.Uint64("ran", s.ran), logx.Int("pending", s.Pending()))
	}
	return true
}

// run executes one action. Continuations convert their own panics into
// failures; this only catches what escapes a raw action.
func (s *Scheduler) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler task panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	fn()
}

// RunAllTasks drains the queue until it is empty, including work enqueued by
// the actions it runs. It returns the number of actions executed.
//
// Work completed later by other goroutines enqueues more actions, so callers
// waiting on external I/O must call it again (see RunUntil).
func (s *Scheduler) RunAllTasks() int {
	n := 0
	for s.RunNextTask() {
		n++
	}
	return n
}

// RunUntil drains the queue repeatedly until target is resolved or ctx is
// done. Between drains it waits for new work or the poll interval.
func (s *Scheduler) RunUntil(ctx context.Context, target Resolvable) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		s.RunAllTasks()
		if target.IsResolved() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-ticker.C:
		}
	}
}
