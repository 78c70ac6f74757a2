package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "TIMETABLER_"

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from TIMETABLER_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(name string, dst *float64) {
		if v, ok := lookup(EnvPrefix + name); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			var out []string
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
			*dst = out
		}
	}

	str("REST_BASE_URL", &c.Backend.RestBaseURL)
	str("USER_AGENT", &c.Backend.UserAgent)
	str("TIMEZONE", &c.Backend.Timezone)
	num("REQS_PER_SEC", &c.Fetch.ReqsPerSec)
	num("MAX_ACCUM", &c.Fetch.MaxAccum)
	integer("WORKERS", &c.Fetch.Workers)
	str("CACHE_DRIVER", &c.Cache.Driver)
	str("CACHE_PATH", &c.Cache.Path)
	str("CACHE_DSN", &c.Cache.DSN)
	str("DATE", &c.Harvest.Date)
	list("HUBS", &c.Harvest.Hubs)
	integer("MAX_ROUNDS", &c.Harvest.MaxRounds)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("METRICS_TOKEN", &c.Metrics.Token)
	str("LOG_LEVEL", &c.Logging.Level)
	str("SCHEDULE", &c.Daemon.Schedule)
	return errors.Join(errs...)
}
