package transit

import (
	"sort"
	"testing"
	"time"
)

func TestClockRoundTrip(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Copenhagen")
	if err != nil {
		t.Skipf("no tzdata: %v", err)
	}
	c := NewClock(loc)

	ms, err := c.FromDateTime("24.12.14", "23:45")
	if err != nil {
		t.Fatalf("FromDateTime: %v", err)
	}
	if got := c.DateString(ms); got != "24.12.14" {
		t.Fatalf("DateString = %q", got)
	}
	if got := c.TimeString(ms); got != "23:45" {
		t.Fatalf("TimeString = %q", got)
	}
	if _, err := c.FromDateTime("31.02.14", "10:00"); err == nil {
		t.Fatalf("expected error for invalid date")
	}
	prev, err := c.ShiftDate("01.01.15", -1)
	if err != nil || prev != "31.12.14" {
		t.Fatalf("ShiftDate = %q, %v", prev, err)
	}
}

func TestDayWindow(t *testing.T) {
	t.Parallel()
	c := NewClock(time.UTC)
	start, end, err := c.DayWindow("01.03.15")
	if err != nil {
		t.Fatalf("DayWindow: %v", err)
	}
	if time.Duration(end-start)*time.Millisecond != 23*time.Hour+59*time.Minute {
		t.Fatalf("window = [%d, %d]", start, end)
	}
}

func TestKeyOrder(t *testing.T) {
	t.Parallel()
	keys := []Key{
		{At: 2, Route: "A", Terminus: "X", Stop: "S"},
		{At: 1, Route: "B", Terminus: "X", Stop: "S"},
		{At: 1, Route: "A", Terminus: "Y", Stop: "S"},
		{At: 1, Route: "A", Terminus: "X", Stop: "T"},
		{At: 1, Route: "A", Terminus: "X", Stop: "S"},
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	want := []Key{
		{At: 1, Route: "A", Terminus: "X", Stop: "S"},
		{At: 1, Route: "A", Terminus: "X", Stop: "T"},
		{At: 1, Route: "A", Terminus: "Y", Stop: "S"},
		{At: 1, Route: "B", Terminus: "X", Stop: "S"},
		{At: 2, Route: "A", Terminus: "X", Stop: "S"},
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d] = %+v, want %+v", i, keys[i], want[i])
		}
	}
}

func TestJourneyHelpers(t *testing.T) {
	t.Parallel()
	j := Journey{Route: "Bus 1", Stops: []Stop{
		{Name: "A", Departure: 100},
		{Name: "B", Arrival: 200, Departure: 210},
		{Name: "C", Arrival: 300},
	}}
	if !j.Contains(Transit{Kind: Departure, Stop: "B", At: 210}) {
		t.Fatalf("journey should contain departure at B")
	}
	if j.Contains(Transit{Kind: Arrival, Stop: "A", At: 100}) {
		t.Fatalf("first stop has no arrival")
	}
	if mid := j.Stops[1]; mid.At(Arrival) != 200 || mid.At(Departure) != 210 || j.Stops[0].At(Arrival) != 0 {
		t.Fatalf("stop times = %+v", j.Stops)
	}
	if Arrival.Opposite() != Departure || Departure.Opposite() != Arrival {
		t.Fatalf("Opposite is not an involution")
	}
	ep, ok := j.Endpoints()
	if !ok || ep != (Endpoints{FirstStop: "A", FirstDeparture: 100, LastStop: "C", LastArrival: 300}) {
		t.Fatalf("endpoints = %+v ok=%v", ep, ok)
	}
	if _, ok := (Journey{Stops: j.Stops[:1]}).Endpoints(); ok {
		t.Fatalf("single-stop journey has endpoints")
	}
}

func TestArena(t *testing.T) {
	t.Parallel()
	a := NewArena()
	tid := a.AddTransit(Transit{Route: "R", Stop: "S", At: 5})
	jid := a.AddJourney(Journey{Route: "R"})
	if a.Transit(tid).Route != "R" || a.Journey(jid).Route != "R" {
		t.Fatalf("arena lookups broken")
	}
	if a.NumTransits() != 1 || a.NumJourneys() != 1 {
		t.Fatalf("counts = %d, %d", a.NumTransits(), a.NumJourneys())
	}
}
