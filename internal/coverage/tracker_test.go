package coverage

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestAddRange(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		ranges [][2]int64
		want   []Interval
	}{
		{name: "empty", ranges: nil, want: nil},
		{name: "single", ranges: [][2]int64{{1, 5}}, want: []Interval{{1, 5}}},
		{name: "empty range ignored", ranges: [][2]int64{{5, 1}}, want: nil},
		{name: "disjoint sorted", ranges: [][2]int64{{10, 12}, {1, 3}}, want: []Interval{{1, 3}, {10, 12}}},
		{name: "adjacent merges", ranges: [][2]int64{{1, 3}, {4, 6}}, want: []Interval{{1, 6}}},
		{name: "gap of one stays", ranges: [][2]int64{{1, 3}, {5, 6}}, want: []Interval{{1, 3}, {5, 6}}},
		{name: "overlap merges", ranges: [][2]int64{{1, 5}, {3, 8}}, want: []Interval{{1, 8}}},
		{name: "contained", ranges: [][2]int64{{1, 10}, {3, 4}}, want: []Interval{{1, 10}}},
		{name: "bridges many", ranges: [][2]int64{{1, 2}, {5, 6}, {9, 10}, {20, 21}, {2, 9}}, want: []Interval{{1, 10}, {20, 21}}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr := New()
			for _, r := range tc.ranges {
				tr = tr.AddRange(r[0], r[1])
			}
			got := tr.Intervals()
			if len(got) == 0 && len(tc.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAddRangeIsImmutable(t *testing.T) {
	t.Parallel()
	a := New().AddRange(1, 3)
	b := a.AddRange(4, 10)
	if a.String() != "{[1, 3]}" || b.String() != "{[1, 10]}" {
		t.Fatalf("a=%s b=%s", a, b)
	}
}

func TestNextUncovered(t *testing.T) {
	t.Parallel()
	tr := New().AddRange(10, 20).AddRange(30, 40)

	cases := []struct {
		start, end int64
		want       int64
		ok         bool
	}{
		{0, 100, 0, true},
		{10, 100, 21, true},
		{15, 20, 0, false},
		{15, 25, 21, true},
		{25, 35, 25, true},
		{30, 40, 0, false},
		{41, 41, 41, true},
		{50, 40, 0, false},
	}
	for _, tc := range cases {
		got, ok := tr.NextUncovered(tc.start, tc.end)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Fatalf("NextUncovered(%d, %d) = (%d, %v), want (%d, %v)", tc.start, tc.end, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRandomAgainstSet(t *testing.T) {
	t.Parallel()
	const limit = 200
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		tr := New()
		set := map[int64]bool{}
		for i := 0; i < 20; i++ {
			a := rng.Int63n(limit)
			b := a + rng.Int63n(15)
			tr = tr.AddRange(a, b)
			for v := a; v <= b; v++ {
				set[v] = true
			}

			ivs := tr.Intervals()
			for j := 1; j < len(ivs); j++ {
				if ivs[j].Start <= ivs[j-1].End+1 {
					t.Fatalf("intervals touch: %v", ivs)
				}
			}
			for v := int64(-1); v <= limit+15; v++ {
				if tr.Covers(v) != set[v] {
					t.Fatalf("Covers(%d) = %v, want %v in %s", v, tr.Covers(v), set[v], tr)
				}
			}

			s := rng.Int63n(limit)
			e := s + rng.Int63n(40)
			want, wantOK := int64(0), false
			for v := s; v <= e; v++ {
				if !set[v] {
					want, wantOK = v, true
					break
				}
			}
			got, ok := tr.NextUncovered(s, e)
			if ok != wantOK || (ok && got != want) {
				t.Fatalf("NextUncovered(%d, %d) = (%d, %v), want (%d, %v) in %s", s, e, got, ok, want, wantOK, tr)
			}
		}
	}
}

func TestGrowingCoverage(t *testing.T) {
	t.Parallel()
	expect := func(tr Tracker, start, end, want int64, wantOK bool) {
		t.Helper()
		got, ok := tr.NextUncovered(start, end)
		if ok != wantOK || (ok && got != want) {
			t.Fatalf("NextUncovered(%d, %d) = (%d, %v), want (%d, %v) in %s", start, end, got, ok, want, wantOK, tr)
		}
	}

	tr := New()
	expect(tr, 0, 10, 0, true)
	tr = tr.AddRange(0, 2)
	expect(tr, 0, 10, 3, true)
	tr = tr.AddRange(4, 5)
	expect(tr, 0, 10, 3, true)
	tr = tr.AddRange(3, 3)
	expect(tr, 0, 10, 6, true)
	expect(tr, 0, 6, 6, true)
	expect(tr, 0, 5, 0, false)
	tr = tr.AddRange(-5, -3)
	expect(tr, 0, 10, 6, true)
}
