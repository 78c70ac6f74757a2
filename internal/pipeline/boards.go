package pipeline

import (
	"time"

	"github.com/plesner/jetnewt/internal/coverage"
	"github.com/plesner/jetnewt/internal/promise"
	"github.com/plesner/jetnewt/internal/transit"
	"github.com/plesner/jetnewt/internal/transitapi"
)

// boardResolution is the backend's time granularity.
const boardResolution = int64(time.Minute / time.Millisecond)

// BoardKey identifies the board of one kind at one stop.
type BoardKey struct {
	Kind   transit.Kind
	StopID string
}

// BoardEntry is everything fetched so far for one board.
type BoardEntry struct {
	Responses []transitapi.Board
	Covered   coverage.Tracker
}

// BoardCache carries board responses from one pass to the next.
type BoardCache map[BoardKey]BoardEntry

func (c BoardCache) clone() BoardCache {
	out := make(BoardCache, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Requests returns the number of board responses held.
func (c BoardCache) Requests() int {
	n := 0
	for _, e := range c {
		n += len(e.Responses)
	}
	return n
}

// fetchWithin fetches the board for key until [start, end] is covered,
// starting from what the cache already holds.
func (p *pass) fetchWithin(key BoardKey, start, end int64) *promise.Future[BoardEntry] {
	var step func(e BoardEntry) *promise.Future[BoardEntry]
	step = func(e BoardEntry) *promise.Future[BoardEntry] {
		point, ok := e.Covered.NextUncovered(start, end)
		if !ok {
			return promise.Value(p.sched, e)
		}
		return promise.ThenFuture(p.api.GetBoard(key.Kind, key.StopID, point), func(b transitapi.Board) *promise.Future[BoardEntry] {
			p.stats.boardRequests++
			next := BoardEntry{
				Responses: append(e.Responses[:len(e.Responses):len(e.Responses)], b),
				Covered:   e.Covered.AddRange(point, coveredUntil(b, point, end)),
			}
			return step(next)
		})
	}
	return promise.Then(step(p.prev[key]), func(e BoardEntry) (BoardEntry, error) {
		p.next[key] = e
		return e, nil
	})
}

// coveredUntil returns the last instant a board queried at point accounts
// for. Every answer covers at least point itself.
func coveredUntil(b transitapi.Board, point, end int64) int64 {
	max, ok := b.MaxAt()
	switch {
	case !ok:
		if end < point {
			return point
		}
		return end
	case max <= point:
		return point + boardResolution - 1
	default:
		return max - 1
	}
}

// board returns the merged, filtered and deduplicated transits of a board
// over the pass window. Each board is merged once per pass.
func (p *pass) board(kind transit.Kind, id string) *promise.Future[[]transit.TransitID] {
	key := BoardKey{Kind: kind, StopID: id}
	if f, ok := p.boards[key]; ok {
		return f
	}
	f := promise.Then(p.fetchWithin(key, p.window.Start, p.window.End), func(e BoardEntry) ([]transit.TransitID, error) {
		return p.merge(e.Responses), nil
	})
	p.boards[key] = f
	return f
}

func (p *pass) merge(responses []transitapi.Board) []transit.TransitID {
	entries := make(map[transit.Key]transit.Transit)
	for _, r := range responses {
		for _, t := range r.Transits {
			if !p.routes.Contains(t.Route) {
				p.ignored[t.Route] = true
				continue
			}
			p.processed[t.Route] = true
			entries[t.Key()] = t
		}
	}
	keys := make([]transit.Key, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sortKeys(keys)
	out := make([]transit.TransitID, 0, len(keys))
	for _, k := range keys {
		t := entries[k]
		ok := observedKey{kind: t.Kind, key: k}
		id, seen := p.observed[ok]
		if !seen {
			id = p.arena.AddTransit(t)
			p.observed[ok] = id
			p.observedOrder = append(p.observedOrder, id)
		}
		out = append(out, id)
	}
	return out
}

type observedKey struct {
	kind transit.Kind
	key  transit.Key
}
