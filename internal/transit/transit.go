// Package transit holds the timetable records observed during a harvest.
//
// Records are stored in an Arena and referenced by index so journeys,
// stops and the transits that led to them never point at each other.
package transit

import "fmt"

// Kind discriminates arrivals from departures.
type Kind int

const (
	Arrival Kind = iota
	Departure
)

func (k Kind) String() string {
	switch k {
	case Arrival:
		return "arrival"
	case Departure:
		return "departure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Opposite returns the other kind. A route's termini found on one kind of
// board are visited with the other.
func (k Kind) Opposite() Kind {
	if k == Arrival {
		return Departure
	}
	return Arrival
}

// Transit is one arrival or departure listed on a board.
type Transit struct {
	Kind  Kind
	Route string
	Stop  string
	At    int64 // unix milliseconds

	// Terminus is the origin for arrivals and the final stop for departures.
	Terminus string

	JourneyURL string
	SourceURL  string
}

// Key uniquely identifies a transit. Keys order by time first.
type Key struct {
	At       int64
	Route    string
	Terminus string
	Stop     string
}

func (t Transit) Key() Key {
	return Key{At: t.At, Route: t.Route, Terminus: t.Terminus, Stop: t.Stop}
}

func (k Key) Less(o Key) bool {
	if k.At != o.At {
		return k.At < o.At
	}
	if k.Route != o.Route {
		return k.Route < o.Route
	}
	if k.Terminus != o.Terminus {
		return k.Terminus < o.Terminus
	}
	return k.Stop < o.Stop
}

func (t Transit) String() string {
	if t.Kind == Arrival {
		return fmt.Sprintf("%s->%s@%s(%d)", t.Terminus, t.Route, t.Stop, t.At)
	}
	return fmt.Sprintf("%s@%s(%d)->%s", t.Route, t.Stop, t.At, t.Terminus)
}

// Stop is one stop of a journey. A zero time means the journey does not
// arrive at (first stop) or depart from (last stop) it.
type Stop struct {
	Name      string
	Arrival   int64
	Departure int64
}

// Has reports whether the stop lists a transit of the given kind at at.
func (s Stop) Has(kind Kind, at int64) bool {
	t := s.At(kind)
	return t != 0 && t == at
}

// At returns the stop's time for the given kind.
func (s Stop) At(kind Kind) int64 {
	if kind == Arrival {
		return s.Arrival
	}
	return s.Departure
}

// Journey is a concrete trip: a route's stops with their times.
type Journey struct {
	Route     string
	Stops     []Stop
	SourceURL string
}

// Contains reports whether the journey lists t at t's stop and time.
func (j Journey) Contains(t Transit) bool {
	for _, s := range j.Stops {
		if s.Name == t.Stop && s.Has(t.Kind, t.At) {
			return true
		}
	}
	return false
}

// Endpoints identifies a journey by where and when it starts and ends.
type Endpoints struct {
	FirstStop      string
	FirstDeparture int64
	LastStop       string
	LastArrival    int64
}

// Endpoints returns the journey's verification key. ok is false when the
// journey has fewer than two stops.
func (j Journey) Endpoints() (Endpoints, bool) {
	if len(j.Stops) < 2 {
		return Endpoints{}, false
	}
	first, last := j.Stops[0], j.Stops[len(j.Stops)-1]
	return Endpoints{
		FirstStop:      first.Name,
		FirstDeparture: first.Departure,
		LastStop:       last.Name,
		LastArrival:    last.Arrival,
	}, true
}

// LocationInfo is a resolved stop.
type LocationInfo struct {
	ID   string
	Name string
	X, Y int64
}
