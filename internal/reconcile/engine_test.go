package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/plesner/jetnewt/internal/pipeline"
	"github.com/plesner/jetnewt/internal/promise"
	"github.com/plesner/jetnewt/internal/transit"
	"github.com/plesner/jetnewt/internal/transitapi"
	"github.com/plesner/jetnewt/internal/transitapi/transitapitest"
	logx "github.com/plesner/jetnewt/pkg/logx"
)

const testDate = "01.03.15"

func at(t *testing.T, c transit.Clock, hhmm string) int64 {
	t.Helper()
	ms, err := c.FromDateTime(testDate, hhmm)
	if err != nil {
		t.Fatalf("time %s: %v", hhmm, err)
	}
	return ms
}

// newNetwork runs Bus 1 from A through Hub to B at 07:55, 08:25 and 08:55.
func newNetwork(t *testing.T, clock transit.Clock) *transitapitest.Network {
	t.Helper()
	n := transitapitest.NewNetwork(clock)
	n.MustAddService(transitapitest.Service{
		Route: "Bus 1", Date: testDate, Stops: []string{"A", "Hub", "B"},
		First: "07:55", Every: 30 * time.Minute, Count: 3,
	})
	n.Start()
	t.Cleanup(n.Close)
	return n
}

func harvest(t *testing.T, n *transitapitest.Network, clock transit.Clock, cfg Config) (Result, error) {
	t.Helper()
	s := promise.NewScheduler(logx.Nop())
	api := transitapi.NewClient(s, transitapitest.NewFetcher(s), n.URL(), clock)
	f := New(s, api, logx.Nop(), nil).Run(cfg)
	s.RunAllTasks()
	if !f.IsResolved() {
		t.Fatalf("harvest did not resolve")
	}
	return f.Get()
}

func allRoutes(t *testing.T) *pipeline.StringFilter {
	t.Helper()
	f, err := pipeline.NewStringFilter([]string{".*"})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	return f
}

func TestConvergesOverFullDay(t *testing.T) {
	t.Parallel()
	clock := transit.NewClock(time.UTC)
	n := newNetwork(t, clock)
	start, end, _ := clock.DayWindow(testDate)
	res, err := harvest(t, n, clock, Config{
		Hubs:   []string{"Hub"},
		Window: pipeline.Window{Start: start, End: end},
		Routes: allRoutes(t),
	})
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if !res.Converged || res.Rounds != 1 || len(res.Unexplained) != 0 {
		t.Fatalf("converged=%v rounds=%d unexplained=%v", res.Converged, res.Rounds, res.Unexplained)
	}
	if len(res.Routes) != 1 || len(res.Routes[0].Journeys) != 3 {
		t.Fatalf("routes = %+v", res.Routes)
	}
	first := res.Routes[0].Journeys[0]
	if first.Stops[0].Departure != at(t, clock, "07:55") {
		t.Fatalf("journeys not ordered: %+v", first)
	}
}

func TestTerminusOnlyRouteIsNotJudged(t *testing.T) {
	t.Parallel()
	clock := transit.NewClock(time.UTC)
	n := transitapitest.NewNetwork(clock)
	n.MustAddService(transitapitest.Service{
		Route: "Bus 1", Date: testDate, Stops: []string{"A", "Hub", "B"},
		First: "07:55", Every: 30 * time.Minute, Count: 3,
	})
	// Bus 7 calls at terminus A but never at the hub.
	n.MustAddService(transitapitest.Service{
		Route: "Bus 7", Date: testDate, Stops: []string{"X", "A", "Y"},
		First: "08:05", Every: time.Hour, Count: 2,
	})
	n.Start()
	t.Cleanup(n.Close)

	start, end, _ := clock.DayWindow(testDate)
	res, err := harvest(t, n, clock, Config{
		Hubs:   []string{"Hub"},
		Window: pipeline.Window{Start: start, End: end},
		Routes: allRoutes(t),
	})
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if !res.Converged || len(res.Unexplained) != 0 {
		t.Fatalf("converged=%v unexplained=%v", res.Converged, res.Unexplained)
	}
	if len(res.Routes) != 1 || res.Routes[0].Name != "Bus 1" {
		t.Fatalf("routes = %+v", res.Routes)
	}
	seen := false
	for _, r := range res.Stats.Processed {
		seen = seen || r == "Bus 7"
	}
	if !seen {
		t.Fatalf("Bus 7 not observed on the terminus board: processed %v", res.Stats.Processed)
	}
}

func TestWidensUntilExplained(t *testing.T) {
	t.Parallel()
	clock := transit.NewClock(time.UTC)
	n := newNetwork(t, clock)
	res, err := harvest(t, n, clock, Config{
		Hubs:   []string{"Hub"},
		Window: pipeline.Window{Start: at(t, clock, "08:00"), End: at(t, clock, "08:59")},
		Routes: allRoutes(t),
		Widen:  30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if !res.Converged || res.Rounds != 2 {
		t.Fatalf("converged=%v rounds=%d unexplained=%v", res.Converged, res.Rounds, res.Unexplained)
	}
	if res.Window.Start != at(t, clock, "07:30") {
		t.Fatalf("last window = %+v", res.Window)
	}
}

func TestBudgetExhaustionReturnsPartialResult(t *testing.T) {
	t.Parallel()
	clock := transit.NewClock(time.UTC)
	n := newNetwork(t, clock)
	res, err := harvest(t, n, clock, Config{
		Hubs:      []string{"Hub"},
		Window:    pipeline.Window{Start: at(t, clock, "08:00"), End: at(t, clock, "08:59")},
		Routes:    allRoutes(t),
		MaxRounds: 1,
	})
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if res.Converged || res.Rounds != 1 || len(res.Unexplained) == 0 {
		t.Fatalf("converged=%v rounds=%d unexplained=%d", res.Converged, res.Rounds, len(res.Unexplained))
	}
	// The 07:55 journey reaches the hub at 08:05 but was only seen arriving at B.
	hub := at(t, clock, "08:05")
	found := false
	for _, u := range res.Unexplained {
		if u.Stop == "Hub" && u.At == hub {
			found = true
		}
	}
	if !found {
		t.Fatalf("hub transit at 08:05 not unexplained: %v", res.Unexplained)
	}
	if len(res.Routes) != 1 || len(res.Routes[0].Journeys) != 2 {
		t.Fatalf("partial routes = %+v", res.Routes)
	}
}

func TestFailedPassFailsHarvest(t *testing.T) {
	t.Parallel()
	clock := transit.NewClock(time.UTC)
	n := newNetwork(t, clock)
	_, err := harvest(t, n, clock, Config{
		Hubs:   []string{"Atlantis"},
		Window: pipeline.Window{Start: at(t, clock, "08:00"), End: at(t, clock, "08:59")},
		Routes: allRoutes(t),
	})
	var unknown *transitapi.UnknownLocationError
	if !errors.As(err, &unknown) {
		t.Fatalf("got %v, want UnknownLocationError", err)
	}
}

func TestEvaluateRequiresBothSides(t *testing.T) {
	t.Parallel()
	a := transit.NewArena()
	stops := func(dep, arr int64) []transit.Stop {
		return []transit.Stop{{Name: "A", Departure: dep}, {Name: "M", Arrival: dep + 5, Departure: dep + 6}, {Name: "B", Arrival: arr}}
	}
	depA := a.AddTransit(transit.Transit{Kind: transit.Departure, Route: "R", Stop: "A", At: 100, Terminus: "B"})
	arrB := a.AddTransit(transit.Transit{Kind: transit.Arrival, Route: "R", Stop: "B", At: 200, Terminus: "A"})
	lonely := a.AddTransit(transit.Transit{Kind: transit.Departure, Route: "R", Stop: "A", At: 300, Terminus: "B"})
	mid := a.AddTransit(transit.Transit{Kind: transit.Arrival, Route: "R", Stop: "M", At: 105, Terminus: "A"})

	j1 := a.AddJourney(transit.Journey{Route: "R", Stops: stops(100, 200)})
	j2 := a.AddJourney(transit.Journey{Route: "R", Stops: stops(100, 200)})
	j3 := a.AddJourney(transit.Journey{Route: "R", Stops: stops(300, 400)})

	pr := pipeline.Result{
		Arena: a,
		Routes: []transit.RouteInfo{
			{Name: "R", FromDepartures: []transit.JourneyID{j1, j3}, FromArrivals: []transit.JourneyID{j2}},
			{Name: "Broken", Err: errors.New("boom")},
		},
		Observed: []transit.TransitID{depA, arrB, lonely, mid},
	}
	res := Evaluate(pr, pipeline.Window{Start: 0, End: 1000})
	if len(res.Routes) != 1 || len(res.Routes[0].Journeys) != 1 || res.Routes[0].Journeys[0].Stops[0].Departure != 100 {
		t.Fatalf("verified = %+v", res.Routes)
	}
	if len(res.Failed) != 1 || res.Failed[0].Name != "Broken" {
		t.Fatalf("failed = %+v", res.Failed)
	}
	if len(res.Unexplained) != 1 || res.Unexplained[0].At != 300 {
		t.Fatalf("unexplained = %+v", res.Unexplained)
	}

	// Outside the original window nothing is judged.
	res = Evaluate(pr, pipeline.Window{Start: 0, End: 250})
	if !res.Converged {
		t.Fatalf("unexplained = %+v", res.Unexplained)
	}
}
