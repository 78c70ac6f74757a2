// Package pipeline runs one harvest pass: from the configured hubs to the
// routes through them, their termini, the termini's boards and finally the
// journeys behind every terminus transit.
package pipeline

import (
	"errors"
	"fmt"
	"sort"

	"github.com/plesner/jetnewt/internal/promise"
	"github.com/plesner/jetnewt/internal/transit"
	"github.com/plesner/jetnewt/internal/transitapi"
	logx "github.com/plesner/jetnewt/pkg/logx"
)

// API is the part of the backend client a pass needs.
type API interface {
	GetBoard(kind transit.Kind, id string, at int64) *promise.Future[transitapi.Board]
	GetJourney(t transit.Transit) *promise.Future[transit.Journey]
	GetLocationInfoByName(name string) *promise.Future[transit.LocationInfo]
}

// Window is an inclusive range of unix milliseconds.
type Window struct {
	Start int64
	End   int64
}

func (w Window) Contains(at int64) bool { return w.Start <= at && at <= w.End }

// Widen returns w extended by d milliseconds on both sides.
func (w Window) Widen(d int64) Window { return Window{Start: w.Start - d, End: w.End + d} }

// Params configure one pass.
type Params struct {
	Hubs   []string
	Window Window
	Routes *StringFilter

	// Boards holds the previous pass's board responses.
	Boards BoardCache
}

// Result is the outcome of a pass.
type Result struct {
	Arena  *transit.Arena
	Routes []transit.RouteInfo // ordered by name
	Boards BoardCache

	// Observed lists every allowed-route transit seen on any board.
	Observed  []transit.TransitID
	Processed []string
	Ignored   []string

	BoardRequests int
}

type passStats struct {
	boardRequests int
}

type pass struct {
	api    API
	sched  *promise.Scheduler
	log    logx.Logger
	window Window
	routes *StringFilter

	prev BoardCache
	next BoardCache

	boards map[BoardKey]*promise.Future[[]transit.TransitID]

	arena         *transit.Arena
	observed      map[observedKey]transit.TransitID
	observedOrder []transit.TransitID
	processed     map[string]bool
	ignored       map[string]bool
	stats         passStats
}

// routeTermini lists where a route starts and ends.
type routeTermini struct {
	route  string
	starts []string
	ends   []string
}

// Run builds the pass on sched and returns a future for its result. Hub
// lookups must succeed; failures past that point are recorded on the route
// they belong to.
func Run(sched *promise.Scheduler, api API, params Params, log logx.Logger) *promise.Future[Result] {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &pass{
		api:       api,
		sched:     sched,
		log:       log.With(logx.String("comp", "pipeline")),
		window:    params.Window,
		routes:    params.Routes,
		prev:      params.Boards,
		next:      params.Boards.clone(),
		boards:    make(map[BoardKey]*promise.Future[[]transit.TransitID]),
		arena:     transit.NewArena(),
		observed:  make(map[observedKey]transit.TransitID),
		processed: make(map[string]bool),
		ignored:   make(map[string]bool),
	}
	if len(params.Hubs) == 0 {
		return promise.Failure[Result](sched, errors.New("pipeline: no hubs configured"))
	}

	hubArrivals := make([]*promise.Future[[]transit.TransitID], len(params.Hubs))
	hubDepartures := make([]*promise.Future[[]transit.TransitID], len(params.Hubs))
	for i, hub := range params.Hubs {
		hubArrivals[i] = p.boardByName(transit.Arrival, hub)
		hubDepartures[i] = p.boardByName(transit.Departure, hub)
	}
	starts := promise.Then(promise.Join(sched, hubArrivals), p.termini)
	ends := promise.Then(promise.Join(sched, hubDepartures), p.termini)
	joined := promise.ThenApply2(promise.Join2(starts, ends), p.joinTermini)

	infos := promise.Map(joined, p.traverseRoute)
	return promise.Then(infos, p.bundle)
}

func (p *pass) boardByName(kind transit.Kind, name string) *promise.Future[[]transit.TransitID] {
	return promise.ThenFuture(p.api.GetLocationInfoByName(name), func(info transit.LocationInfo) *promise.Future[[]transit.TransitID] {
		return p.board(kind, info.ID)
	})
}

// termini maps each route on the boards to its termini: origins for
// arrival boards, final stops for departure boards.
func (p *pass) termini(boards [][]transit.TransitID) (map[string]map[string]bool, error) {
	out := make(map[string]map[string]bool)
	for _, ids := range boards {
		for _, id := range ids {
			t := p.arena.Transit(id)
			if out[t.Route] == nil {
				out[t.Route] = make(map[string]bool)
			}
			out[t.Route][t.Terminus] = true
		}
	}
	return out, nil
}

func (p *pass) joinTermini(starts, ends map[string]map[string]bool) ([]routeTermini, error) {
	names := make(map[string]bool)
	for r := range starts {
		names[r] = true
		if ends[r] == nil {
			p.log.Warn("route has a start but no end", logx.String("route", r))
		}
	}
	for r := range ends {
		names[r] = true
		if starts[r] == nil {
			p.log.Warn("route has an end but no start", logx.String("route", r))
		}
	}
	out := make([]routeTermini, 0, len(names))
	for _, r := range sortedKeys(names) {
		out = append(out, routeTermini{route: r, starts: sortedKeys(starts[r]), ends: sortedKeys(ends[r])})
	}
	return out, nil
}

type sourcedJourney struct {
	kind    transit.Kind
	journey transit.JourneyID
}

// traverseRoute fetches the boards at a route's termini and the journeys of
// the route's transits on them. A failure is absorbed into the RouteInfo.
func (p *pass) traverseRoute(rt routeTermini) *promise.Future[transit.RouteInfo] {
	boards := make([]*promise.Future[[]transit.TransitID], 0, len(rt.starts)+len(rt.ends))
	// Starts come from hub arrivals, ends from hub departures.
	for _, side := range []struct {
		found transit.Kind
		stops []string
	}{{transit.Arrival, rt.starts}, {transit.Departure, rt.ends}} {
		for _, stop := range side.stops {
			boards = append(boards, p.boardByName(side.found.Opposite(), stop))
		}
	}
	journeys := promise.ThenFuture(promise.Join(p.sched, boards), func(all [][]transit.TransitID) *promise.Future[[]sourcedJourney] {
		var fs []*promise.Future[sourcedJourney]
		seen := make(map[transit.TransitID]bool)
		for _, ids := range all {
			for _, id := range ids {
				t := p.arena.Transit(id)
				if t.Route != rt.route || seen[id] {
					continue
				}
				seen[id] = true
				fs = append(fs, p.journeyFor(t))
			}
		}
		return promise.Join(p.sched, fs)
	})
	info := promise.Then(journeys, func(js []sourcedJourney) (transit.RouteInfo, error) {
		ri := transit.RouteInfo{Name: rt.route}
		for _, sj := range js {
			if sj.kind == transit.Arrival {
				ri.FromArrivals = append(ri.FromArrivals, sj.journey)
			} else {
				ri.FromDepartures = append(ri.FromDepartures, sj.journey)
			}
		}
		return ri, nil
	})
	return promise.Rescue(info, func(err error, trace string) *promise.Future[transit.RouteInfo] {
		p.log.Warn("route traversal failed", logx.String("route", rt.route), logx.Err(err))
		p.log.Debug("route failure trace", logx.String("route", rt.route), logx.Stack(trace))
		return promise.Value(p.sched, transit.RouteInfo{Name: rt.route, Err: fmt.Errorf("route %s: %w", rt.route, err)})
	})
}

func (p *pass) journeyFor(t transit.Transit) *promise.Future[sourcedJourney] {
	return promise.Then(p.api.GetJourney(t), func(j transit.Journey) (sourcedJourney, error) {
		return sourcedJourney{kind: t.Kind, journey: p.arena.AddJourney(j)}, nil
	})
}

func (p *pass) bundle(infos []transit.RouteInfo) (Result, error) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return Result{
		Arena:         p.arena,
		Routes:        infos,
		Boards:        p.next,
		Observed:      p.observedOrder,
		Processed:     sortedKeys(p.processed),
		Ignored:       sortedKeys(p.ignored),
		BoardRequests: p.stats.boardRequests,
	}, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortKeys(keys []transit.Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}
