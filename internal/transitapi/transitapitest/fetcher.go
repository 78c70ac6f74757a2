package transitapitest

import (
	"io"
	"net/http"
	"sync"

	"github.com/plesner/jetnewt/internal/promise"
)

// Fetcher performs requests synchronously on the calling goroutine. Bodies
// preset in Bodies are served without touching the network.
type Fetcher struct {
	Sched  *promise.Scheduler
	Bodies map[string]string

	mu      sync.Mutex
	fetched []string
	dropped []string
}

func NewFetcher(s *promise.Scheduler) *Fetcher {
	return &Fetcher{Sched: s, Bodies: map[string]string{}}
}

func (f *Fetcher) Fetch(url string) *promise.Future[string] {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	body, ok := f.Bodies[url]
	f.mu.Unlock()
	if ok {
		return promise.Value(f.Sched, body)
	}
	resp, err := http.Get(url)
	if err != nil {
		return promise.Failure[string](f.Sched, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return promise.Failure[string](f.Sched, err)
	}
	return promise.Value(f.Sched, string(b))
}

func (f *Fetcher) DropFromCache(url string) {
	f.mu.Lock()
	f.dropped = append(f.dropped, url)
	f.mu.Unlock()
}

func (f *Fetcher) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func (f *Fetcher) Dropped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dropped...)
}
