package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/plesner/jetnewt/internal/fetch"
	"github.com/plesner/jetnewt/internal/reconcile"
	"github.com/plesner/jetnewt/internal/responsecache"
	"github.com/plesner/jetnewt/internal/transit"
)

type runReport struct {
	ID      string
	Date    string
	Clock   transit.Clock
	Result  reconcile.Result
	Fetch   fetch.Stats
	HasRate bool
	Cache   responsecache.Stats
	Took    time.Duration
}

func (r runReport) write(w io.Writer) error {
	var b strings.Builder
	res := r.Result
	c := r.Clock

	status := "converged"
	if !res.Converged {
		status = "not converged"
	}
	fmt.Fprintf(&b, "harvest %s for %s %s-%s: %d %s, %s\n",
		r.ID, r.Date, c.TimeString(res.Window.Start), c.TimeString(res.Window.End),
		res.Rounds, plural(res.Rounds, "round", "rounds"), status)

	fmt.Fprintf(&b, "verified routes: %d\n", len(res.Routes))
	for _, route := range res.Routes {
		fmt.Fprintf(&b, "  %s: %d %s\n", route.Name, len(route.Journeys), plural(len(route.Journeys), "journey", "journeys"))
		for _, j := range route.Journeys {
			ep, ok := j.Endpoints()
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "    %s %s -> %s %s (%d stops)\n",
				c.TimeString(ep.FirstDeparture), ep.FirstStop,
				c.TimeString(ep.LastArrival), ep.LastStop, len(j.Stops))
		}
	}

	fmt.Fprintf(&b, "unexplained transits: %d\n", len(res.Unexplained))
	for _, t := range res.Unexplained {
		fmt.Fprintf(&b, "  %s %s %s at %s, terminus %s\n",
			c.Format(t.At), t.Kind, t.Route, t.Stop, t.Terminus)
	}

	if len(res.Failed) > 0 {
		fmt.Fprintf(&b, "failed routes: %d\n", len(res.Failed))
		for _, f := range res.Failed {
			fmt.Fprintf(&b, "  %s: %v\n", f.Name, f.Err)
		}
	}

	fmt.Fprintf(&b, "processed routes: %s\n", joinOrNone(res.Stats.Processed))
	fmt.Fprintf(&b, "ignored routes: %s\n", joinOrNone(res.Stats.Ignored))

	if r.HasRate {
		fmt.Fprintf(&b, "backend: %s requests, %.3f req/s\n", humanize.Comma(int64(r.Fetch.Requests)), r.Fetch.ReqsPerSec)
	} else {
		fmt.Fprintf(&b, "backend: %s requests\n", humanize.Comma(int64(r.Fetch.Requests)))
	}
	fmt.Fprintf(&b, "cache: %d hits, %d misses, %s written (%s stored)\n",
		r.Cache.Hits, r.Cache.Misses, humanize.Bytes(r.Cache.BytesRaw), humanize.Bytes(r.Cache.BytesCompressed))
	fmt.Fprintf(&b, "took %s\n", r.Took.Round(time.Millisecond))

	_, err := io.WriteString(w, b.String())
	return err
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func joinOrNone(xs []string) string {
	if len(xs) == 0 {
		return "(none)"
	}
	return strings.Join(xs, ", ")
}
