package transitapitest

import (
	"fmt"
	"strings"
	"time"
)

// Service describes a regular service: Count journeys along Stops, the
// first leaving at First and the rest every Every. Each hop takes Hop.
type Service struct {
	Route string
	Date  string
	Stops []string
	First string // "HH:MM"
	Every time.Duration
	Count int
	Hop   time.Duration
}

// AddService registers the journeys of s and returns their ids.
func (n *Network) AddService(s Service) ([]string, error) {
	start, err := time.Parse("15:04", s.First)
	if err != nil {
		return nil, fmt.Errorf("first departure %q: %w", s.First, err)
	}
	hop := s.Hop
	if hop <= 0 {
		hop = 10 * time.Minute
	}
	base := time.Duration(start.Hour())*time.Hour + time.Duration(start.Minute())*time.Minute
	var ids []string
	for i := 0; i < s.Count; i++ {
		dep := base + time.Duration(i)*s.Every
		j := Journey{
			ID:    fmt.Sprintf("%s-%s-%d", strings.ReplaceAll(s.Route, " ", ""), strings.ReplaceAll(s.Stops[0], " ", ""), i),
			Route: s.Route,
			Date:  s.Date,
		}
		for k, stop := range s.Stops {
			at := dep + time.Duration(k)*hop
			st := StopTime{Stop: stop}
			if k > 0 {
				st.Arrival = clockOf(at)
			}
			if k < len(s.Stops)-1 {
				st.Departure = clockOf(at)
			}
			j.Stops = append(j.Stops, st)
		}
		if err := n.AddJourney(j); err != nil {
			return nil, err
		}
		ids = append(ids, j.ID)
	}
	return ids, nil
}

func (n *Network) MustAddService(s Service) []string {
	ids, err := n.AddService(s)
	if err != nil {
		panic(err)
	}
	return ids
}

func clockOf(d time.Duration) string {
	d %= 24 * time.Hour
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}
