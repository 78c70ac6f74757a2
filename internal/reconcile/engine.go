// Package reconcile drives repeated pipeline passes over a widening window
// until every observed transit is explained by a journey seen from both of
// its termini.
package reconcile

import (
	"errors"
	"sort"
	"time"

	"github.com/plesner/jetnewt/internal/metrics"
	"github.com/plesner/jetnewt/internal/pipeline"
	"github.com/plesner/jetnewt/internal/promise"
	"github.com/plesner/jetnewt/internal/transit"
	logx "github.com/plesner/jetnewt/pkg/logx"
)

const (
	DefaultMaxRounds = 3
	DefaultWiden     = 2 * time.Hour
)

// Config is the harvest objective.
type Config struct {
	Hubs      []string
	Window    pipeline.Window
	Routes    *pipeline.StringFilter
	MaxRounds int
	Widen     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.Widen <= 0 {
		c.Widen = DefaultWiden
	}
	return c
}

// VerifiedRoute is a route with the journeys corroborated from both ends.
type VerifiedRoute struct {
	Name     string
	Journeys []transit.Journey // ordered by first departure
}

// FailedRoute is a route whose last traversal failed.
type FailedRoute struct {
	Name string
	Err  error
}

// Stats summarise the work of a harvest.
type Stats struct {
	BoardRequests int
	Journeys      int
	Processed     []string
	Ignored       []string
}

// Result is the outcome of a harvest.
type Result struct {
	Routes      []VerifiedRoute
	Failed      []FailedRoute
	Unexplained []transit.Transit // ordered by key
	Rounds      int
	Converged   bool
	Window      pipeline.Window // window of the last round
	Stats       Stats
}

// Engine runs harvests on one scheduler.
type Engine struct {
	sched   *promise.Scheduler
	api     pipeline.API
	log     logx.Logger
	metrics *metrics.Collector
}

func New(sched *promise.Scheduler, api pipeline.API, log logx.Logger, m *metrics.Collector) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{sched: sched, api: api, log: log.With(logx.String("comp", "reconcile")), metrics: m}
}

// Run returns a future for the harvest described by cfg. A failed pass
// fails the harvest.
func (e *Engine) Run(cfg Config) *promise.Future[Result] {
	cfg = cfg.withDefaults()
	if len(cfg.Hubs) == 0 {
		return promise.Failure[Result](e.sched, errors.New("reconcile: no hubs configured"))
	}
	if cfg.Window.End < cfg.Window.Start {
		return promise.Failure[Result](e.sched, errors.New("reconcile: window ends before it starts"))
	}
	return e.round(cfg, 0, cfg.Window, nil)
}

func (e *Engine) round(cfg Config, n int, window pipeline.Window, boards pipeline.BoardCache) *promise.Future[Result] {
	e.log.Info("starting round",
		logx.Int("round", n+1),
		logx.Int("max_rounds", cfg.MaxRounds),
		logx.Int64("window_start", window.Start),
		logx.Int64("window_end", window.End),
	)
	pass := pipeline.Run(e.sched, e.api, pipeline.Params{
		Hubs:   cfg.Hubs,
		Window: window,
		Routes: cfg.Routes,
		Boards: boards,
	}, e.log)
	return promise.ThenFuture(pass, func(pr pipeline.Result) *promise.Future[Result] {
		e.metrics.RoundDone()
		res := Evaluate(pr, cfg.Window)
		res.Rounds = n + 1
		res.Window = window
		e.log.Info("round done",
			logx.Int("round", res.Rounds),
			logx.Int("verified_routes", len(res.Routes)),
			logx.Int("failed_routes", len(res.Failed)),
			logx.Int("unexplained", len(res.Unexplained)),
			logx.Int("board_requests", res.Stats.BoardRequests),
		)
		if res.Converged {
			return promise.Value(e.sched, res)
		}
		if res.Rounds >= cfg.MaxRounds {
			e.log.Warn("round budget exhausted; returning partial result",
				logx.Int("rounds", res.Rounds),
				logx.Int("unexplained", len(res.Unexplained)),
			)
			return promise.Value(e.sched, res)
		}
		return e.round(cfg, n+1, window.Widen(cfg.Widen.Milliseconds()), pr.Boards)
	})
}

// Evaluate verifies the journeys of one pass and lists the transits of the
// traversed routes inside original that no verified journey explains.
func Evaluate(pr pipeline.Result, original pipeline.Window) Result {
	var res Result
	res.Stats = Stats{
		BoardRequests: pr.BoardRequests,
		Journeys:      pr.Arena.NumJourneys(),
		Processed:     pr.Processed,
		Ignored:       pr.Ignored,
	}

	explained := make(map[callKey]bool)
	traversed := make(map[string]bool, len(pr.Routes))
	for _, ri := range pr.Routes {
		traversed[ri.Name] = true
		if ri.Err != nil {
			res.Failed = append(res.Failed, FailedRoute{Name: ri.Name, Err: ri.Err})
			continue
		}
		journeys := verify(pr.Arena, ri)
		for _, j := range journeys {
			for _, s := range j.Stops {
				for _, kind := range []transit.Kind{transit.Arrival, transit.Departure} {
					if at := s.At(kind); at != 0 {
						explained[callKey{ri.Name, kind, s.Name, at}] = true
					}
				}
			}
		}
		if len(journeys) > 0 {
			res.Routes = append(res.Routes, VerifiedRoute{Name: ri.Name, Journeys: journeys})
		}
	}

	for _, id := range pr.Observed {
		t := pr.Arena.Transit(id)
		if !traversed[t.Route] || !original.Contains(t.At) {
			continue
		}
		if !explained[callKey{t.Route, t.Kind, t.Stop, t.At}] {
			res.Unexplained = append(res.Unexplained, t)
		}
	}
	sort.Slice(res.Unexplained, func(i, j int) bool {
		return res.Unexplained[i].Key().Less(res.Unexplained[j].Key())
	})
	res.Converged = len(res.Unexplained) == 0
	return res
}

type callKey struct {
	route string
	kind  transit.Kind
	stop  string
	at    int64
}

// verify returns one journey per endpoints key produced by both an
// arrival-sourced and a departure-sourced traversal.
func verify(a *transit.Arena, ri transit.RouteInfo) []transit.Journey {
	fromArrivals := make(map[transit.Endpoints]bool)
	for _, id := range ri.FromArrivals {
		if ep, ok := a.Journey(id).Endpoints(); ok {
			fromArrivals[ep] = true
		}
	}
	seen := make(map[transit.Endpoints]bool)
	var out []transit.Journey
	for _, id := range ri.FromDepartures {
		j := a.Journey(id)
		ep, ok := j.Endpoints()
		if !ok || !fromArrivals[ep] || seen[ep] {
			continue
		}
		seen[ep] = true
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		ei, _ := out[i].Endpoints()
		ek, _ := out[k].Endpoints()
		if ei.FirstDeparture != ek.FirstDeparture {
			return ei.FirstDeparture < ek.FirstDeparture
		}
		return ei.FirstStop < ek.FirstStop
	})
	return out
}
