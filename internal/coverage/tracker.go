// Package coverage tracks which parts of an integer range have been seen.
package coverage

import (
	"fmt"
	"sort"
	"strings"
)

// Interval is a closed range [Start, End].
type Interval struct {
	Start int64
	End   int64
}

// Tracker is an immutable set of disjoint, sorted, closed intervals. No two
// neighbours touch: there is always at least one uncovered value between
// them. The zero value is the empty set.
type Tracker struct {
	intervals []Interval
}

// New returns an empty tracker.
func New() Tracker { return Tracker{} }

// AddRange returns a tracker that additionally covers [start, end]. Ranges
// that overlap or are adjacent to existing intervals are merged. An empty
// range (start > end) returns t unchanged.
func (t Tracker) AddRange(start, end int64) Tracker {
	if start > end {
		return t
	}
	// First interval that could merge: its End+1 >= start.
	lo := sort.Search(len(t.intervals), func(i int) bool {
		return t.intervals[i].End >= start-1
	})
	// First interval past the merge window: its Start-1 > end.
	hi := sort.Search(len(t.intervals), func(i int) bool {
		return t.intervals[i].Start-1 > end
	})

	merged := Interval{Start: start, End: end}
	if lo < hi {
		if t.intervals[lo].Start < merged.Start {
			merged.Start = t.intervals[lo].Start
		}
		if t.intervals[hi-1].End > merged.End {
			merged.End = t.intervals[hi-1].End
		}
	}

	out := make([]Interval, 0, len(t.intervals)-(hi-lo)+1)
	out = append(out, t.intervals[:lo]...)
	out = append(out, merged)
	out = append(out, t.intervals[hi:]...)
	return Tracker{intervals: out}
}

// NextUncovered returns the smallest value in [start, end] not covered by t.
func (t Tracker) NextUncovered(start, end int64) (int64, bool) {
	if start > end {
		return 0, false
	}
	i := sort.Search(len(t.intervals), func(i int) bool {
		return t.intervals[i].End >= start
	})
	if i == len(t.intervals) || t.intervals[i].Start > start {
		return start, true
	}
	// start is inside interval i; neighbours never touch, so End+1 is free.
	next := t.intervals[i].End + 1
	if next > end {
		return 0, false
	}
	return next, true
}

// Covers reports whether v is in the set.
func (t Tracker) Covers(v int64) bool {
	i := sort.Search(len(t.intervals), func(i int) bool {
		return t.intervals[i].End >= v
	})
	return i < len(t.intervals) && t.intervals[i].Start <= v
}

// Intervals returns a copy of the covered intervals in order.
func (t Tracker) Intervals() []Interval {
	return append([]Interval(nil), t.intervals...)
}

// Len is the number of disjoint intervals.
func (t Tracker) Len() int { return len(t.intervals) }

func (t Tracker) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, iv := range t.intervals {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "[%d, %d]", iv.Start, iv.End)
	}
	b.WriteByte('}')
	return b.String()
}
