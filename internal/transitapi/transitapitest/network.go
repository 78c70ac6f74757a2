// Package transitapitest serves a small in-memory transit network over the
// same XML REST interface as the real backend.
package transitapitest

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/plesner/jetnewt/internal/transit"
)

const (
	DefaultBoardSize = 8
	dayMillis        = int64(24 * time.Hour / time.Millisecond)
)

// StopTime is one call of a journey. A zero Arrival or Departure means the
// journey does not arrive at or leave from the stop.
type StopTime struct {
	Stop      string
	Arrival   string // "HH:MM"
	Departure string // "HH:MM"
}

// Journey is a scheduled trip on Date ("dd.mm.yy").
type Journey struct {
	ID    string
	Route string
	Date  string
	Stops []StopTime
}

type stopCall struct {
	journey   *journeyRec
	index     int
	arrival   int64
	departure int64
}

type journeyRec struct {
	Journey
	stops []transit.Stop
}

// Network is a fake backend. Configure it before calling Start.
type Network struct {
	Clock     transit.Clock
	BoardSize int

	mu       sync.Mutex
	ids      map[string]string // stop name -> id
	names    map[string]string // id -> stop name
	journeys map[string]*journeyRec
	broken   map[string]bool
	hits     map[string]int

	srv *httptest.Server
}

func NewNetwork(clock transit.Clock) *Network {
	return &Network{
		Clock:     clock,
		BoardSize: DefaultBoardSize,
		ids:       make(map[string]string),
		names:     make(map[string]string),
		journeys:  make(map[string]*journeyRec),
		broken:    make(map[string]bool),
		hits:      make(map[string]int),
	}
}

// AddStop registers a stop. Stops named by journeys are added implicitly.
func (n *Network) AddStop(name string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addStopLocked(name)
}

func (n *Network) addStopLocked(name string) string {
	if id, ok := n.ids[name]; ok {
		return id
	}
	id := fmt.Sprintf("%09d", 8600000+len(n.ids))
	n.ids[name] = id
	n.names[id] = name
	return id
}

// AddJourney registers j. Times later than the previous stop's roll over to
// the next day.
func (n *Network) AddJourney(j Journey) error {
	rec := &journeyRec{Journey: j}
	day, _, err := n.Clock.DayWindow(j.Date)
	if err != nil {
		return err
	}
	last := day
	at := func(hhmm string) (int64, error) {
		if hhmm == "" {
			return 0, nil
		}
		t, err := n.Clock.FromDateTime(j.Date, hhmm)
		if err != nil {
			return 0, err
		}
		for t < last {
			t += dayMillis
		}
		last = t
		return t, nil
	}
	for _, s := range j.Stops {
		arr, err := at(s.Arrival)
		if err != nil {
			return err
		}
		dep, err := at(s.Departure)
		if err != nil {
			return err
		}
		rec.stops = append(rec.stops, transit.Stop{Name: s.Stop, Arrival: arr, Departure: dep})
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range j.Stops {
		n.addStopLocked(s.Stop)
	}
	n.journeys[j.ID] = rec
	return nil
}

// MustAddJourney is AddJourney for test setup.
func (n *Network) MustAddJourney(j Journey) {
	if err := n.AddJourney(j); err != nil {
		panic(err)
	}
}

// Break makes the journey detail for id come back without a journey name.
func (n *Network) Break(id string, broken bool) {
	n.mu.Lock()
	n.broken[id] = broken
	n.mu.Unlock()
}

// StopID returns the id of a registered stop.
func (n *Network) StopID(name string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ids[name]
}

// Hits returns how many requests hit the endpoint.
func (n *Network) Hits(endpoint string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hits[endpoint]
}

// TotalHits returns the number of requests served.
func (n *Network) TotalHits() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, v := range n.hits {
		total += v
	}
	return total
}

// Start serves the network until Close.
func (n *Network) Start() string {
	mux := http.NewServeMux()
	mux.HandleFunc("/arrivalBoard", n.count("arrivalBoard", func(w http.ResponseWriter, r *http.Request) {
		n.serveBoard(w, r, transit.Arrival)
	}))
	mux.HandleFunc("/departureBoard", n.count("departureBoard", func(w http.ResponseWriter, r *http.Request) {
		n.serveBoard(w, r, transit.Departure)
	}))
	mux.HandleFunc("/journeyDetail", n.count("journeyDetail", n.serveJourney))
	mux.HandleFunc("/location", n.count("location", n.serveLocation))
	n.srv = httptest.NewServer(mux)
	return n.srv.URL
}

func (n *Network) URL() string { return n.srv.URL }

func (n *Network) Close() {
	if n.srv != nil {
		n.srv.Close()
	}
}

func (n *Network) count(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n.mu.Lock()
		n.hits[endpoint]++
		n.mu.Unlock()
		h(w, r)
	}
}

func writeXML(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	_, _ = w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	_ = enc.Encode(v)
}

type refXML struct {
	Ref string `xml:"ref,attr"`
}

type transitXML struct {
	XMLName   xml.Name
	Name      string `xml:"name,attr"`
	Type      string `xml:"type,attr"`
	Stop      string `xml:"stop,attr"`
	Time      string `xml:"time,attr"`
	Date      string `xml:"date,attr"`
	Origin    string `xml:"origin,attr,omitempty"`
	FinalStop string `xml:"finalStop,attr,omitempty"`
	Ref       refXML `xml:"JourneyDetailRef"`
}

type boardXML struct {
	XMLName  xml.Name
	Error    string `xml:"error,attr,omitempty"`
	Transits []transitXML
}

func (n *Network) serveBoard(w http.ResponseWriter, r *http.Request, kind transit.Kind) {
	q := r.URL.Query()
	root := "ArrivalBoard"
	elem := "Arrival"
	if kind == transit.Departure {
		root, elem = "DepartureBoard", "Departure"
	}
	from, err := n.Clock.FromDateTime(q.Get("date"), q.Get("time"))
	if err != nil {
		writeXML(w, boardXML{XMLName: xml.Name{Local: root}, Error: "bad date or time"})
		return
	}

	n.mu.Lock()
	name, ok := n.names[q.Get("id")]
	var calls []stopCall
	if ok {
		calls = n.callsLocked(name, kind, from)
	}
	n.mu.Unlock()
	if !ok {
		writeXML(w, boardXML{XMLName: xml.Name{Local: root}, Error: "unknown stop"})
		return
	}

	out := boardXML{XMLName: xml.Name{Local: root}}
	for _, c := range calls {
		at := c.departure
		if kind == transit.Arrival {
			at = c.arrival
		}
		stops := c.journey.stops
		x := transitXML{
			XMLName: xml.Name{Local: elem},
			Name:    c.journey.Route,
			Type:    "BUS",
			Stop:    name,
			Date:    n.Clock.DateString(at),
			Time:    n.Clock.TimeString(at),
			Ref:     refXML{Ref: n.journeyRef(c.journey.ID, at)},
		}
		if kind == transit.Arrival {
			x.Origin = stops[0].Name
		} else {
			x.FinalStop = stops[len(stops)-1].Name
		}
		out.Transits = append(out.Transits, x)
	}
	writeXML(w, out)
}

// callsLocked lists the journeys calling at stop from the given time,
// limited to the board size.
func (n *Network) callsLocked(stop string, kind transit.Kind, from int64) []stopCall {
	var calls []stopCall
	for _, j := range n.journeys {
		for i, s := range j.stops {
			if s.Name != stop {
				continue
			}
			at := s.At(kind)
			if at == 0 || at < from {
				continue
			}
			calls = append(calls, stopCall{journey: j, index: i, arrival: s.Arrival, departure: s.Departure})
		}
	}
	sort.Slice(calls, func(a, b int) bool {
		ta, tb := calls[a].journey.stops[calls[a].index].At(kind), calls[b].journey.stops[calls[b].index].At(kind)
		if ta != tb {
			return ta < tb
		}
		return calls[a].journey.ID < calls[b].journey.ID
	})
	size := n.BoardSize
	if size <= 0 {
		size = DefaultBoardSize
	}
	if len(calls) > size {
		calls = calls[:size]
	}
	return calls
}

// journeyRef names the journey by the date of the transit that refers to
// it, the way the real backend does.
func (n *Network) journeyRef(id string, at int64) string {
	return fmt.Sprintf("%s/journeyDetail?date=%s&ref=%s", n.srv.URL, n.Clock.DateString(at), id)
}

type journeyNameXML struct {
	Name string `xml:"name,attr"`
}

type journeyStopXML struct {
	Name    string `xml:"name,attr"`
	ArrTime string `xml:"arrTime,attr,omitempty"`
	ArrDate string `xml:"arrDate,attr,omitempty"`
	DepTime string `xml:"depTime,attr,omitempty"`
	DepDate string `xml:"depDate,attr,omitempty"`
}

type journeyXML struct {
	XMLName xml.Name         `xml:"JourneyDetail"`
	Error   string           `xml:"error,attr,omitempty"`
	Name    *journeyNameXML  `xml:"JourneyName"`
	Stops   []journeyStopXML `xml:"Stop"`
}

// serveJourney answers with the instance of the journey that starts on the
// requested date.
func (n *Network) serveJourney(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n.mu.Lock()
	j, ok := n.journeys[q.Get("ref")]
	broken := n.broken[q.Get("ref")]
	n.mu.Unlock()
	if !ok {
		writeXML(w, journeyXML{Error: "unknown journey"})
		return
	}
	if broken {
		writeXML(w, journeyXML{})
		return
	}
	requested, _, err := n.Clock.DayWindow(q.Get("date"))
	if err != nil {
		writeXML(w, journeyXML{Error: "bad date"})
		return
	}
	scheduled, _, _ := n.Clock.DayWindow(j.Date)
	shift := ((requested - scheduled) / dayMillis) * dayMillis

	out := journeyXML{Name: &journeyNameXML{Name: j.Route}}
	for _, s := range j.stops {
		x := journeyStopXML{Name: s.Name}
		if s.Arrival != 0 {
			x.ArrDate, x.ArrTime = n.Clock.DateString(s.Arrival+shift), n.Clock.TimeString(s.Arrival+shift)
		}
		if s.Departure != 0 {
			x.DepDate, x.DepTime = n.Clock.DateString(s.Departure+shift), n.Clock.TimeString(s.Departure+shift)
		}
		out.Stops = append(out.Stops, x)
	}
	writeXML(w, out)
}

type locationXML struct {
	Name string `xml:"name,attr"`
	ID   string `xml:"id,attr"`
	X    int64  `xml:"x,attr"`
	Y    int64  `xml:"y,attr"`
}

type locationListXML struct {
	XMLName xml.Name      `xml:"LocationList"`
	Stops   []locationXML `xml:"StopLocation"`
}

// serveLocation lists every stop whose name starts with the input, case
// insensitively.
func (n *Network) serveLocation(w http.ResponseWriter, r *http.Request) {
	input := strings.ToLower(r.URL.Query().Get("input"))
	n.mu.Lock()
	var out locationListXML
	for name, id := range n.ids {
		if strings.HasPrefix(strings.ToLower(name), input) {
			out.Stops = append(out.Stops, locationXML{Name: name, ID: id, X: int64(len(name)) * 1000, Y: int64(len(id)) * 1000})
		}
	}
	n.mu.Unlock()
	sort.Slice(out.Stops, func(a, b int) bool { return out.Stops[a].Name < out.Stops[b].Name })
	writeXML(w, out)
}
