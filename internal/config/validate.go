package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"
)

var (
	reDate  = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{2}$`)
	reClock = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

// Validate reports every problem with a defaulted config.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Backend.RestBaseURL == "" {
		add("backend.rest_base_url: required")
	} else if u, err := url.Parse(c.Backend.RestBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("backend.rest_base_url: invalid url %q", c.Backend.RestBaseURL)
	}
	if _, err := time.LoadLocation(c.Backend.Timezone); err != nil {
		add("backend.timezone: %v", err)
	}

	if c.Fetch.MaxAccum < 1 {
		add("fetch.max_accum: must be >= 1")
	}

	switch c.Cache.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Cache.Path) == "" {
			add("cache.path: required for sqlite")
		}
	case "postgres", "redis":
		if strings.TrimSpace(c.Cache.DSN) == "" {
			add("cache.dsn: required for %s", c.Cache.Driver)
		}
	case "memory":
	default:
		add("cache.driver: unknown driver %q", c.Cache.Driver)
	}
	if _, err := ParseDurationField("cache.busy_timeout", c.Cache.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	h := c.Harvest
	switch d := strings.ToLower(strings.TrimSpace(h.Date)); {
	case d == "":
		add("harvest.date: required")
	case d == "today" || d == "tomorrow" || reDate.MatchString(d):
	default:
		add("harvest.date: want dd.mm.yy, today or tomorrow, got %q", h.Date)
	}
	if !reClock.MatchString(h.WindowStart) {
		add("harvest.window_start: want HH:MM, got %q", h.WindowStart)
	}
	if !reClock.MatchString(h.WindowEnd) {
		add("harvest.window_end: want HH:MM, got %q", h.WindowEnd)
	}
	if reClock.MatchString(h.WindowStart) && reClock.MatchString(h.WindowEnd) && h.WindowEnd < h.WindowStart {
		add("harvest: window_end %s before window_start %s", h.WindowEnd, h.WindowStart)
	}
	if len(h.Hubs) == 0 {
		add("harvest.hubs: at least one hub required")
	}
	for i, hub := range h.Hubs {
		if strings.TrimSpace(hub) == "" {
			add("harvest.hubs[%d]: empty", i)
		}
	}
	for i, p := range h.RouteAllowlist {
		if _, err := regexp.Compile(p); err != nil {
			add("harvest.route_allowlist[%d]: %v", i, err)
		}
	}
	if _, err := ParseDurationField("harvest.widen", h.Widen); err != nil {
		errs = append(errs, err)
	}

	for _, f := range []struct{ path, raw string }{
		{"metrics.read_timeout", c.Metrics.ReadTimeout},
		{"metrics.write_timeout", c.Metrics.WriteTimeout},
		{"metrics.idle_timeout", c.Metrics.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := time.LoadLocation(c.Daemon.Timezone); err != nil {
		add("daemon.timezone: %v", err)
	}
	return errors.Join(errs...)
}
