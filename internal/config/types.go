package config

import (
	"fmt"
	"strings"
)

// Config is the harvester configuration. Files may be JSON or YAML; unknown
// fields are rejected.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "2h").
type Config struct {
	Backend BackendConfig `json:"backend"`
	Fetch   FetchConfig   `json:"fetch,omitempty"`
	Cache   CacheConfig   `json:"cache,omitempty"`
	Harvest HarvestConfig `json:"harvest"`
	Metrics MetricsConfig `json:"metrics,omitempty"`
	Logging LoggingConfig `json:"logging,omitempty"`
	Daemon  DaemonConfig  `json:"daemon,omitempty"`
}

// BackendConfig describes the REST backend.
//
// Defaults:
//   - user_agent: a desktop browser string
//   - timezone: "Europe/Copenhagen"
//   - journey_memo_size: 4096
type BackendConfig struct {
	RestBaseURL     string `json:"rest_base_url"`
	UserAgent       string `json:"user_agent,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	JourneyMemoSize int    `json:"journey_memo_size,omitempty"`
}

// FetchConfig paces backend requests.
//
// Defaults: reqs_per_sec 0.1, max_accum 4, workers 1, queue_size 256.
type FetchConfig struct {
	ReqsPerSec float64 `json:"reqs_per_sec,omitempty"`
	MaxAccum   float64 `json:"max_accum,omitempty"`
	Workers    int     `json:"workers,omitempty"`
	QueueSize  int     `json:"queue_size,omitempty"`
}

// CacheConfig selects the persistent response cache.
//
// Example:
//
//	"cache": { "driver": "sqlite", "path": "./httpcache.db" }
type CacheConfig struct {
	Driver      string `json:"driver,omitempty"` // sqlite | postgres | redis | memory
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // do not log
	KeyPrefix   string `json:"key_prefix,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// HarvestConfig is what to harvest.
//
// Date is "dd.mm.yy", "today" or "tomorrow". Window bounds are "HH:MM" on
// that date. Route patterns must match the whole route name.
type HarvestConfig struct {
	Date           string   `json:"date"`
	WindowStart    string   `json:"window_start,omitempty"` // default "00:00"
	WindowEnd      string   `json:"window_end,omitempty"`   // default "23:59"
	Hubs           []string `json:"hubs"`
	RouteAllowlist []string `json:"route_allowlist,omitempty"` // default [".*"]
	MaxRounds      int      `json:"max_rounds,omitempty"`      // default 3
	Widen          string   `json:"widen,omitempty"`           // default "2h"
}

// MetricsConfig controls the optional metrics/pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DaemonConfig controls repeated harvests.
//
// Schedule accepts a cron expression ("0 3 * * *", "@daily"), a Go
// duration ("6h") or HH:MM ("06:00" = every six hours).
type DaemonConfig struct {
	Schedule   string `json:"schedule,omitempty"`
	Timezone   string `json:"timezone,omitempty"` // cron timezone; default backend.timezone
	RunOnStart bool   `json:"run_on_start,omitempty"`
	// Watch reloads the config file between harvests.
	Watch bool `json:"watch,omitempty"`
}

const (
	DefaultUserAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/37.0.2062.76 Safari/537.36"
	DefaultTimezone    = "Europe/Copenhagen"
	DefaultMemoSize    = 4096
	DefaultReqsPerSec  = 0.1
	DefaultMaxAccum    = 4
	DefaultWorkers     = 1
	DefaultQueueSize   = 256
	DefaultCacheDriver = "sqlite"
	DefaultCachePath   = "httpcache.db"
	DefaultWindowStart = "00:00"
	DefaultWindowEnd   = "23:59"
	DefaultMaxRounds   = 3
	DefaultWiden       = "2h"
	DefaultMetricsAddr = "127.0.0.1:9464"
	DefaultLogLevel    = "info"
)

// ApplyDefaults fills in every omitted field.
func (c *Config) ApplyDefaults() {
	b := &c.Backend
	b.RestBaseURL = strings.TrimRight(strings.TrimSpace(b.RestBaseURL), "/")
	if strings.TrimSpace(b.UserAgent) == "" {
		b.UserAgent = DefaultUserAgent
	}
	if strings.TrimSpace(b.Timezone) == "" {
		b.Timezone = DefaultTimezone
	}
	if b.JourneyMemoSize <= 0 {
		b.JourneyMemoSize = DefaultMemoSize
	}

	f := &c.Fetch
	if f.ReqsPerSec <= 0 {
		f.ReqsPerSec = DefaultReqsPerSec
	}
	if f.MaxAccum <= 0 {
		f.MaxAccum = DefaultMaxAccum
	}
	if f.Workers <= 0 {
		f.Workers = DefaultWorkers
	}
	if f.QueueSize <= 0 {
		f.QueueSize = DefaultQueueSize
	}

	cc := &c.Cache
	cc.Driver = strings.ToLower(strings.TrimSpace(cc.Driver))
	if cc.Driver == "" {
		cc.Driver = DefaultCacheDriver
	}
	if cc.Driver == "sqlite" && strings.TrimSpace(cc.Path) == "" {
		cc.Path = DefaultCachePath
	}

	h := &c.Harvest
	if strings.TrimSpace(h.WindowStart) == "" {
		h.WindowStart = DefaultWindowStart
	}
	if strings.TrimSpace(h.WindowEnd) == "" {
		h.WindowEnd = DefaultWindowEnd
	}
	if len(h.RouteAllowlist) == 0 {
		h.RouteAllowlist = []string{".*"}
	}
	if h.MaxRounds <= 0 {
		h.MaxRounds = DefaultMaxRounds
	}
	if strings.TrimSpace(h.Widen) == "" {
		h.Widen = DefaultWiden
	}

	if strings.TrimSpace(c.Metrics.Addr) == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if strings.TrimSpace(c.Daemon.Timezone) == "" {
		c.Daemon.Timezone = b.Timezone
	}
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Cache.DSN != "" {
		c.Cache.DSN = "<redacted>"
	}
	if c.Metrics.Token != "" {
		c.Metrics.Token = "<redacted>"
	}
	return c
}

func (c Config) String() string {
	r := c.Redacted()
	return fmt.Sprintf("backend=%s date=%s window=%s-%s hubs=%v cache=%s rps=%g",
		r.Backend.RestBaseURL, r.Harvest.Date, r.Harvest.WindowStart, r.Harvest.WindowEnd,
		r.Harvest.Hubs, r.Cache.Driver, r.Fetch.ReqsPerSec)
}
