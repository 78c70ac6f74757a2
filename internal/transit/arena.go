package transit

// TransitID and JourneyID index into an Arena.
type (
	TransitID int
	JourneyID int
)

// Arena stores the records of one pipeline pass. It is not safe for
// concurrent use; the pass only touches it from the scheduler goroutine.
type Arena struct {
	transits []Transit
	journeys []Journey
}

func NewArena() *Arena { return &Arena{} }

func (a *Arena) AddTransit(t Transit) TransitID {
	a.transits = append(a.transits, t)
	return TransitID(len(a.transits) - 1)
}

func (a *Arena) Transit(id TransitID) Transit { return a.transits[id] }

func (a *Arena) AddJourney(j Journey) JourneyID {
	a.journeys = append(a.journeys, j)
	return JourneyID(len(a.journeys) - 1)
}

func (a *Arena) Journey(id JourneyID) Journey { return a.journeys[id] }

func (a *Arena) NumTransits() int { return len(a.transits) }
func (a *Arena) NumJourneys() int { return len(a.journeys) }

// RouteInfo collects the journeys found for one route, split by the kind of
// terminus board that led to them. Err is set when the route's traversal
// failed; the journeys found before the failure are not kept.
type RouteInfo struct {
	Name           string
	FromArrivals   []JourneyID
	FromDepartures []JourneyID
	Err            error
}
