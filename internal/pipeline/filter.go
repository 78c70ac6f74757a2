package pipeline

import (
	"fmt"
	"regexp"
)

// StringFilter matches strings against a list of regular expressions, each
// of which must match the whole string. An empty filter matches nothing.
type StringFilter struct {
	patterns []*regexp.Regexp
}

func NewStringFilter(patterns []string) (*StringFilter, error) {
	f := &StringFilter{}
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return nil, fmt.Errorf("route pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

func (f *StringFilter) Contains(s string) bool {
	if f == nil {
		return false
	}
	for _, re := range f.patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
