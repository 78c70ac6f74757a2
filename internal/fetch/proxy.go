// Package fetch turns urls into futures of response bodies, going through
// the response cache, an in-flight registry and the rate limiter.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/plesner/jetnewt/internal/metrics"
	"github.com/plesner/jetnewt/internal/promise"
	"github.com/plesner/jetnewt/internal/task/engine"
	logx "github.com/plesner/jetnewt/pkg/logx"
)

const defaultUserAgent = "timetabler/1.0"

// Store is the persistent response cache.
type Store interface {
	Get(ctx context.Context, url string) (string, bool, error)
	Put(ctx context.Context, at time.Time, url, body string) error
	Drop(ctx context.Context, url string) error
}

// Limiter paces backend requests.
type Limiter interface {
	WaitForPermit(ctx context.Context) (time.Duration, error)
}

// Pool runs blocking backend requests.
type Pool interface {
	Submit(ctx context.Context, t engine.Task) error
}

// Deps are the long-lived collaborators shared by every Proxy.
type Deps struct {
	Store   Store
	Limiter Limiter
	Pool    Pool
	HTTP    *http.Client
	Metrics *metrics.Collector
	Log     logx.Logger

	UserAgent string
	Now       func() time.Time
}

// Proxy serves Fetch calls for one harvest run. Fetch and DropFromCache
// are called from the run's scheduler goroutine; backend requests complete
// on pool workers and resolve their futures from there.
type Proxy struct {
	ctx   context.Context
	sched *promise.Scheduler
	deps  Deps
	log   logx.Logger

	mu          sync.Mutex
	inflight    map[string]*promise.Future[string]
	completions []time.Time
}

func New(ctx context.Context, sched *promise.Scheduler, deps Deps) *Proxy {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps.HTTP == nil {
		deps.HTTP = http.DefaultClient
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if strings.TrimSpace(deps.UserAgent) == "" {
		deps.UserAgent = defaultUserAgent
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Proxy{
		ctx:      ctx,
		sched:    sched,
		deps:     deps,
		log:      log.With(logx.String("comp", "fetch")),
		inflight: make(map[string]*promise.Future[string]),
	}
}

// Fetch returns a future for the body at url. Cached bodies resolve
// immediately; concurrent requests for the same url share one backend call.
//
// The url is registered before the cache lookup. finish writes the cache
// before it removes the registry entry, so a url that is neither registered
// nor cached has no request completing behind our back.
func (p *Proxy) Fetch(url string) *promise.Future[string] {
	p.mu.Lock()
	if f, ok := p.inflight[url]; ok {
		p.mu.Unlock()
		p.deps.Metrics.FetchServed(metrics.OutcomeDedup)
		return f
	}
	f := promise.NewPending[string](p.sched)
	p.inflight[url] = f
	p.mu.Unlock()

	body, ok, err := p.deps.Store.Get(p.ctx, url)
	if err != nil {
		p.log.Warn("cache lookup failed", logx.String("url", url), logx.Err(err))
	}
	if ok {
		p.release(url, f)
		p.deps.Metrics.FetchServed(metrics.OutcomeCacheHit)
		f.Fulfill(body)
		return f
	}

	p.deps.Metrics.FetchServed(metrics.OutcomeBackend)
	p.deps.Metrics.InFlightDelta(1)

	err = p.deps.Pool.Submit(p.ctx, engine.Task{
		Name: "fetch",
		Run: func(ctx context.Context) error {
			return p.fetchRemote(ctx, url, f)
		},
	})
	if err != nil {
		p.finish(url, f, "", fmt.Errorf("submit %s: %w", url, err))
	}
	return f
}

func (p *Proxy) fetchRemote(ctx context.Context, url string, f *promise.Future[string]) error {
	waited, err := p.deps.Limiter.WaitForPermit(ctx)
	if err != nil {
		p.finish(url, f, "", err)
		return err
	}
	p.deps.Metrics.PermitWaited(waited)

	start := time.Now()
	body, err := p.get(ctx, url)
	p.deps.Metrics.BackendDone(time.Since(start), err)
	if err != nil {
		p.log.Warn("backend request failed", logx.String("url", url), logx.Err(err))
		p.finish(url, f, "", err)
		return err
	}

	at := p.deps.Now()
	p.mu.Lock()
	p.completions = append(p.completions, at)
	p.mu.Unlock()

	if err := p.deps.Store.Put(ctx, at, url, body); err != nil {
		// The body is still good for this run.
		p.log.Warn("cache write failed", logx.String("url", url), logx.Err(err))
	}
	p.log.Debug("fetched", logx.String("url", url), logx.Int("bytes", len(body)), logx.Duration("permit_wait", waited))
	p.finish(url, f, body, nil)
	return nil
}

func (p *Proxy) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &TransportError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", p.deps.UserAgent)
	resp, err := p.deps.HTTP.Do(req)
	if err != nil {
		return "", &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &TransportError{URL: url, StatusCode: resp.StatusCode}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{URL: url, Err: err}
	}
	return strings.ToValidUTF8(string(b), "\uFFFD"), nil
}

// finish removes url from the registry and then resolves f, so a caller
// arriving after resolution either hits the cache or starts a new request.
func (p *Proxy) finish(url string, f *promise.Future[string], body string, err error) {
	p.release(url, f)
	p.deps.Metrics.InFlightDelta(-1)

	if err != nil {
		f.Fail(err, "")
		return
	}
	f.Fulfill(body)
}

func (p *Proxy) release(url string, f *promise.Future[string]) {
	p.mu.Lock()
	if p.inflight[url] == f {
		delete(p.inflight, url)
	}
	p.mu.Unlock()
}

// DropFromCache evicts url so the next Fetch goes to the backend.
func (p *Proxy) DropFromCache(url string) {
	if err := p.deps.Store.Drop(p.ctx, url); err != nil {
		p.log.Warn("cache drop failed", logx.String("url", url), logx.Err(err))
		return
	}
	p.deps.Metrics.CacheDropped()
}

// InFlight returns the number of backend requests not yet completed.
func (p *Proxy) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// Stats summarises backend throughput for this proxy.
type Stats struct {
	Requests   int
	First      time.Time
	Last       time.Time
	ReqsPerSec float64
}

// Stats returns the backend request rate over the completed requests. ok is
// false when fewer than two requests completed or they share one instant.
func (p *Proxy) Stats() (Stats, bool) {
	p.mu.Lock()
	ts := append([]time.Time(nil), p.completions...)
	p.mu.Unlock()

	s := Stats{Requests: len(ts)}
	if len(ts) < 2 {
		return s, false
	}
	s.First, s.Last = ts[0], ts[0]
	for _, t := range ts[1:] {
		if t.Before(s.First) {
			s.First = t
		}
		if t.After(s.Last) {
			s.Last = t
		}
	}
	span := s.Last.Sub(s.First).Seconds()
	if span <= 0 {
		return s, false
	}
	s.ReqsPerSec = float64(len(ts)-1) / span
	return s, true
}
