package transitapi

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/plesner/jetnewt/internal/transit"
)

const (
	rootArrivalBoard   = "ArrivalBoard"
	rootDepartureBoard = "DepartureBoard"
	rootJourneyDetail  = "JourneyDetail"
	rootLocationList   = "LocationList"
)

type xmlBoard struct {
	XMLName    xml.Name
	Error      string       `xml:"error,attr"`
	Arrivals   []xmlTransit `xml:"Arrival"`
	Departures []xmlTransit `xml:"Departure"`
}

type xmlTransit struct {
	Name      string `xml:"name,attr"`
	Type      string `xml:"type,attr"`
	Stop      string `xml:"stop,attr"`
	Time      string `xml:"time,attr"`
	Date      string `xml:"date,attr"`
	Origin    string `xml:"origin,attr"`
	FinalStop string `xml:"finalStop,attr"`
	Ref       struct {
		Ref string `xml:"ref,attr"`
	} `xml:"JourneyDetailRef"`
}

type xmlJourney struct {
	XMLName xml.Name
	Error   string `xml:"error,attr"`
	Name    *struct {
		Name string `xml:"name,attr"`
	} `xml:"JourneyName"`
	Stops []xmlStop `xml:"Stop"`
}

type xmlStop struct {
	Name    string `xml:"name,attr"`
	ArrTime string `xml:"arrTime,attr"`
	ArrDate string `xml:"arrDate,attr"`
	DepTime string `xml:"depTime,attr"`
	DepDate string `xml:"depDate,attr"`
}

type xmlLocations struct {
	XMLName xml.Name
	Error   string        `xml:"error,attr"`
	Stops   []xmlLocation `xml:"StopLocation"`
}

type xmlLocation struct {
	Name string `xml:"name,attr"`
	ID   string `xml:"id,attr"`
	X    string `xml:"x,attr"`
	Y    string `xml:"y,attr"`
}

type document interface {
	header() (root xml.Name, backendErr string)
}

func (b *xmlBoard) header() (xml.Name, string)     { return b.XMLName, b.Error }
func (j *xmlJourney) header() (xml.Name, string)   { return j.XMLName, j.Error }
func (l *xmlLocations) header() (xml.Name, string) { return l.XMLName, l.Error }

// unmarshal decodes body into v and checks the root element and the
// backend's error attribute.
func unmarshal(url, body, root string, v document) error {
	dec := xml.NewDecoder(strings.NewReader(body))
	// Bodies are already UTF-8 by the time they reach the cache.
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }
	if err := dec.Decode(v); err != nil {
		return invalid("malformed xml", err, url)
	}
	name, backendErr := v.header()
	if name.Local != root {
		return invalid(fmt.Sprintf("root element %q, want %q", name.Local, root), nil, url)
	}
	if backendErr != "" {
		return invalid("backend error "+strconv.Quote(backendErr), nil, url)
	}
	return nil
}

func decodeBoard(clock transit.Clock, kind transit.Kind, url, body string) ([]transit.Transit, error) {
	var b xmlBoard
	root := rootArrivalBoard
	if kind == transit.Departure {
		root = rootDepartureBoard
	}
	if err := unmarshal(url, body, root, &b); err != nil {
		return nil, err
	}
	raw := b.Arrivals
	if kind == transit.Departure {
		raw = b.Departures
	}
	out := make([]transit.Transit, 0, len(raw))
	for _, x := range raw {
		at, err := clock.FromDateTime(x.Date, x.Time)
		if err != nil {
			return nil, invalid("bad transit time", err, url)
		}
		t := transit.Transit{
			Kind:       kind,
			Route:      x.Name,
			Stop:       x.Stop,
			At:         at,
			Terminus:   x.Origin,
			JourneyURL: x.Ref.Ref,
			SourceURL:  url,
		}
		if kind == transit.Departure {
			t.Terminus = x.FinalStop
		}
		out = append(out, t)
	}
	return out, nil
}

// decodeJourney decodes a journey detail. A response without a journey name
// also condemns the board the transit came from.
func decodeJourney(clock transit.Clock, url string, from transit.Transit, body string) (transit.Journey, error) {
	var j xmlJourney
	if err := unmarshal(url, body, rootJourneyDetail, &j); err != nil {
		return transit.Journey{}, err
	}
	if j.Name == nil {
		return transit.Journey{}, invalid("journey without name", nil, url, from.SourceURL)
	}
	out := transit.Journey{Route: j.Name.Name, SourceURL: url, Stops: make([]transit.Stop, 0, len(j.Stops))}
	for _, s := range j.Stops {
		stop := transit.Stop{Name: s.Name}
		var err error
		if s.ArrDate != "" && s.ArrTime != "" {
			if stop.Arrival, err = clock.FromDateTime(s.ArrDate, s.ArrTime); err != nil {
				return transit.Journey{}, invalid("bad arrival time", err, url)
			}
		}
		if s.DepDate != "" && s.DepTime != "" {
			if stop.Departure, err = clock.FromDateTime(s.DepDate, s.DepTime); err != nil {
				return transit.Journey{}, invalid("bad departure time", err, url)
			}
		}
		out.Stops = append(out.Stops, stop)
	}
	return out, nil
}

func decodeLocations(url, body string) ([]transit.LocationInfo, error) {
	var l xmlLocations
	if err := unmarshal(url, body, rootLocationList, &l); err != nil {
		return nil, err
	}
	out := make([]transit.LocationInfo, 0, len(l.Stops))
	for _, s := range l.Stops {
		info := transit.LocationInfo{ID: s.ID, Name: s.Name}
		// Coordinates are informational; a missing one stays zero.
		info.X, _ = strconv.ParseInt(s.X, 10, 64)
		info.Y, _ = strconv.ParseInt(s.Y, 10, 64)
		out = append(out, info)
	}
	return out, nil
}
