package transitapi

import (
	"github.com/plesner/jetnewt/internal/promise"
	"github.com/plesner/jetnewt/internal/transit"
)

// locationRepo resolves stop names. One location response lists many stops,
// so only one request is outstanding at a time and every caller re-checks
// the accumulated answers once it completes.
type locationRepo struct {
	c       *Client
	byName  map[string]transit.LocationInfo
	queried map[string]bool
	current *promise.Future[struct{}]
}

func newLocationRepo(c *Client) *locationRepo {
	return &locationRepo{
		c:       c,
		byName:  make(map[string]transit.LocationInfo),
		queried: make(map[string]bool),
	}
}

func (r *locationRepo) get(name string) *promise.Future[transit.LocationInfo] {
	if info, ok := r.byName[name]; ok {
		return promise.Value(r.c.sched, info)
	}
	if r.queried[name] {
		return promise.Failure[transit.LocationInfo](r.c.sched, &UnknownLocationError{Name: name})
	}
	if r.current == nil || r.current.IsResolved() {
		u := r.c.locationURL(name)
		r.current = fetchDecoded(r.c, u, func(body string) (struct{}, error) {
			infos, err := decodeLocations(u, body)
			if err != nil {
				return struct{}{}, err
			}
			r.queried[name] = true
			for _, info := range infos {
				if _, ok := r.byName[info.Name]; !ok {
					r.byName[info.Name] = info
				}
			}
			return struct{}{}, nil
		})
	}
	return promise.ThenFuture(r.current, func(struct{}) *promise.Future[transit.LocationInfo] {
		return r.get(name)
	})
}
