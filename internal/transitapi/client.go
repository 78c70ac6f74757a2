// Package transitapi is the client for the timetable REST backend: boards
// of arrivals and departures, journey details and stop locations, all
// decoded from XML and served through the fetch proxy as futures.
package transitapi

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bluele/gcache"

	"github.com/plesner/jetnewt/internal/promise"
	"github.com/plesner/jetnewt/internal/transit"
	logx "github.com/plesner/jetnewt/pkg/logx"
)

const (
	defaultMemoSize = 4096

	// Journeys of transits before this local hour may have started the
	// day before.
	rolloverHour = 4
)

// Fetcher resolves urls to response bodies.
type Fetcher interface {
	Fetch(url string) *promise.Future[string]
	DropFromCache(url string)
}

// Board is one board response.
type Board struct {
	Kind     transit.Kind
	StopID   string
	URL      string
	Transits []transit.Transit
}

// MaxAt returns the latest transit time on the board.
func (b Board) MaxAt() (int64, bool) {
	if len(b.Transits) == 0 {
		return 0, false
	}
	max := b.Transits[0].At
	for _, t := range b.Transits[1:] {
		if t.At > max {
			max = t.At
		}
	}
	return max, true
}

type Option func(*Client)

func WithLogger(l logx.Logger) Option { return func(c *Client) { c.log = l } }

// WithMemoSize bounds the number of journey futures remembered per client.
func WithMemoSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.memoSize = n
		}
	}
}

// Client talks to one backend for one harvest run. Its methods must be
// called from the run's scheduler goroutine.
type Client struct {
	base    string
	sched   *promise.Scheduler
	fetcher Fetcher
	clock   transit.Clock
	log     logx.Logger

	memoSize  int
	journeys  gcache.Cache
	locations *locationRepo
}

func NewClient(sched *promise.Scheduler, fetcher Fetcher, base string, clock transit.Clock, opts ...Option) *Client {
	c := &Client{
		base:     strings.TrimRight(base, "/"),
		sched:    sched,
		fetcher:  fetcher,
		clock:    clock,
		memoSize: defaultMemoSize,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.log = c.log.With(logx.String("comp", "transitapi"))
	c.journeys = gcache.New(c.memoSize).LRU().Build()
	c.locations = newLocationRepo(c)
	return c
}

func (c *Client) endpoint(name string, q url.Values) string {
	u := c.base + "/" + name
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// BoardURL returns the url of the board of kind at stop id starting at at.
func (c *Client) BoardURL(kind transit.Kind, id string, at int64) string {
	name := "arrivalBoard"
	if kind == transit.Departure {
		name = "departureBoard"
	}
	return c.endpoint(name, url.Values{
		"id":   {id},
		"date": {c.clock.DateString(at)},
		"time": {c.clock.TimeString(at)},
	})
}

func (c *Client) GetArrivals(id string, at int64) *promise.Future[Board] {
	return c.GetBoard(transit.Arrival, id, at)
}

func (c *Client) GetDepartures(id string, at int64) *promise.Future[Board] {
	return c.GetBoard(transit.Departure, id, at)
}

// GetBoard fetches the board of the given kind at stop id, listing transits
// from at onwards.
func (c *Client) GetBoard(kind transit.Kind, id string, at int64) *promise.Future[Board] {
	u := c.BoardURL(kind, id, at)
	return fetchDecoded(c, u, func(body string) (Board, error) {
		ts, err := decodeBoard(c.clock, kind, u, body)
		if err != nil {
			return Board{}, err
		}
		return Board{Kind: kind, StopID: id, URL: u, Transits: ts}, nil
	})
}

// GetJourney fetches the journey t belongs to. Results are memoized by
// journey url for the lifetime of the client.
func (c *Client) GetJourney(t transit.Transit) *promise.Future[transit.Journey] {
	if t.JourneyURL == "" {
		return promise.Failure[transit.Journey](c.sched, invalid("transit without journey reference", nil, t.SourceURL))
	}
	if v, err := c.journeys.Get(t.JourneyURL); err == nil {
		return v.(*promise.Future[transit.Journey])
	}
	f := c.fetchJourney(t)
	_ = c.journeys.Set(t.JourneyURL, f)
	return f
}

func (c *Client) fetchJourney(t transit.Transit) *promise.Future[transit.Journey] {
	first := c.fetchJourneyAt(t.JourneyURL, t)
	return promise.ThenFuture(first, func(j transit.Journey) *promise.Future[transit.Journey] {
		if j.Contains(t) {
			return promise.Value(c.sched, j)
		}
		if c.clock.Time(t.At).Hour() >= rolloverHour {
			return promise.Failure[transit.Journey](c.sched, c.evict(
				invalid("journey does not contain "+t.String(), nil, t.JourneyURL)))
		}
		prev, err := shiftDateParam(c.clock, t.JourneyURL, -1)
		if err != nil {
			return promise.Failure[transit.Journey](c.sched, c.evict(
				invalid("journey does not contain "+t.String(), err, t.JourneyURL)))
		}
		c.log.Debug("retrying journey on previous day", logx.String("transit", t.String()), logx.String("url", prev))
		return promise.Then(c.fetchJourneyAt(prev, t), func(j transit.Journey) (transit.Journey, error) {
			if !j.Contains(t) {
				c.log.Warn("journey still does not contain transit", logx.String("transit", t.String()), logx.String("url", prev))
			}
			return j, nil
		})
	})
}

func (c *Client) fetchJourneyAt(u string, t transit.Transit) *promise.Future[transit.Journey] {
	return fetchDecoded(c, u, func(body string) (transit.Journey, error) {
		return decodeJourney(c.clock, u, t, body)
	})
}

// shiftDateParam moves the url's date query parameter by days.
func shiftDateParam(clock transit.Clock, raw string, days int) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	date := q.Get("date")
	if date == "" {
		return "", fmt.Errorf("no date parameter in %s", raw)
	}
	shifted, err := clock.ShiftDate(date, days)
	if err != nil {
		return "", err
	}
	q.Set("date", shifted)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// GetLocationInfoByName resolves a stop name to its location info.
func (c *Client) GetLocationInfoByName(name string) *promise.Future[transit.LocationInfo] {
	return c.locations.get(name)
}

func (c *Client) locationURL(input string) string {
	return c.endpoint("location", url.Values{"input": {input}})
}

// fetchDecoded fetches u and decodes the body. Decoding failures evict the
// urls they name from the response cache.
func fetchDecoded[T any](c *Client, u string, decode func(body string) (T, error)) *promise.Future[T] {
	return promise.Then(c.fetcher.Fetch(u), func(body string) (T, error) {
		v, err := decode(body)
		if err != nil {
			return v, c.evict(err)
		}
		return v, nil
	})
}

func (c *Client) evict(err error) error {
	var inv *InvalidResponseError
	if errors.As(err, &inv) {
		for _, u := range inv.URLs {
			if u == "" {
				continue
			}
			c.log.Warn("dropping invalid response from cache", logx.String("url", u), logx.String("reason", inv.Reason))
			c.fetcher.DropFromCache(u)
		}
	}
	return err
}
