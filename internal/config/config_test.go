package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
backend:
  rest_base_url: http://xmlopen.example.dk/bin/rest.exe/
harvest:
  date: "01.03.15"
  hubs: [Aarhus H, Skanderborg St.]
  route_allowlist: ["Bus .*", "IC"]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.RestBaseURL != "http://xmlopen.example.dk/bin/rest.exe" {
		t.Fatalf("base url = %q", cfg.Backend.RestBaseURL)
	}
	if cfg.Fetch.ReqsPerSec != DefaultReqsPerSec || cfg.Fetch.MaxAccum != DefaultMaxAccum || cfg.Fetch.Workers != DefaultWorkers {
		t.Fatalf("fetch defaults = %+v", cfg.Fetch)
	}
	if cfg.Cache.Driver != "sqlite" || cfg.Cache.Path != DefaultCachePath {
		t.Fatalf("cache defaults = %+v", cfg.Cache)
	}
	if cfg.Harvest.WindowStart != "00:00" || cfg.Harvest.WindowEnd != "23:59" || cfg.Harvest.MaxRounds != 3 {
		t.Fatalf("harvest defaults = %+v", cfg.Harvest)
	}
	if len(cfg.Harvest.Hubs) != 2 || cfg.Harvest.Hubs[1] != "Skanderborg St." {
		t.Fatalf("hubs = %v", cfg.Harvest.Hubs)
	}
	if m.Get() != cfg {
		t.Fatalf("Load did not commit")
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"unknown field", "c.yaml", validYAML + "bogus: 1\n", "unknown field"},
		{"trailing json", "c.json", `{"backend":{"rest_base_url":"http://x"}} {}`, "trailing data"},
		{"missing hubs", "c.json", `{"backend":{"rest_base_url":"http://x"},"harvest":{"date":"01.03.15"}}`, "harvest.hubs"},
		{"bad date", "c.json", `{"backend":{"rest_base_url":"http://x"},"harvest":{"date":"2015-03-01","hubs":["A"]}}`, "harvest.date"},
		{"bad widen", "c.json", `{"backend":{"rest_base_url":"http://x"},"harvest":{"date":"today","hubs":["A"],"widen":"two hours"}}`, "invalid duration"},
		{"bad pattern", "c.json", `{"backend":{"rest_base_url":"http://x"},"harvest":{"date":"today","hubs":["A"],"route_allowlist":["("]}}`, "route_allowlist[0]"},
		{"reversed window", "c.json", `{"backend":{"rest_base_url":"http://x"},"harvest":{"date":"today","hubs":["A"],"window_start":"10:00","window_end":"09:00"}}`, "before window_start"},
		{"postgres without dsn", "c.json", `{"backend":{"rest_base_url":"http://x"},"cache":{"driver":"postgres"},"harvest":{"date":"today","hubs":["A"]}}`, "cache.dsn"},
		{"no base url", "c.json", `{"backend":{},"harvest":{"date":"today","hubs":["A"]}}`, "rest_base_url"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewConfigManager(writeFile(t, tc.file, tc.content)).Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("got %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"TIMETABLER_REQS_PER_SEC": "2.5",
		"TIMETABLER_HUBS":         "A, B ,,C",
		"TIMETABLER_CACHE_DRIVER": "memory",
		"TIMETABLER_WORKERS":      "3",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	var cfg Config
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Fetch.ReqsPerSec != 2.5 || cfg.Fetch.Workers != 3 || cfg.Cache.Driver != "memory" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if strings.Join(cfg.Harvest.Hubs, "|") != "A|B|C" {
		t.Fatalf("hubs = %v", cfg.Harvest.Hubs)
	}

	env["TIMETABLER_WORKERS"] = "many"
	if err := cfg.ApplyEnv(lookup); err == nil || !strings.Contains(err.Error(), "TIMETABLER_WORKERS") {
		t.Fatalf("got %v, want workers error", err)
	}
}

func TestOverlayBeatsFile(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.yaml", validYAML))
	m.SetOverlay(func(c *Config) error {
		c.Harvest.Date = "tomorrow"
		return nil
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Harvest.Date != "tomorrow" {
		t.Fatalf("date = %q", cfg.Harvest.Date)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("")
	if _, err := m.Load(); err == nil {
		t.Fatalf("blank config should fail validation")
	}
	m.SetOverlay(func(c *Config) error {
		c.Backend.RestBaseURL = "http://backend.example/rest"
		c.Harvest.Hubs = []string{"Hub"}
		c.Harvest.Date = "today"
		return nil
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Driver != DefaultCacheDriver || cfg.Fetch.ReqsPerSec != DefaultReqsPerSec {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadDotEnvSkipsMissing(t *testing.T) {
	t.Parallel()
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: %v, %v", d, err)
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	a := &Config{Metrics: MetricsConfig{Token: "old"}, Cache: CacheConfig{DSN: "postgres://u:p@h/db"}}
	b := &Config{Metrics: MetricsConfig{Token: "new"}, Cache: CacheConfig{DSN: "postgres://u:q@h/db"}}
	changed, _ := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "cache,metrics" {
		t.Fatalf("changed = %v", changed)
	}
	if s := b.String(); strings.Contains(s, "u:q") {
		t.Fatalf("String leaks dsn: %s", s)
	}
	if r := b.Redacted(); r.Metrics.Token == "new" || r.Cache.DSN == b.Cache.DSN {
		t.Fatalf("Redacted = %+v", r)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", validYAML)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	updated := strings.Replace(validYAML, `"01.03.15"`, `"02.03.15"`, 1)
	// Writes are spaced wider than reloadDebounce so each one can settle;
	// later writes cover a watcher that was not yet running.
	retry := 2 * reloadDebounce
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
			t.Fatalf("rewrite: %v", err)
		}
		select {
		case cfg := <-ch:
			if cfg.Harvest.Date != "02.03.15" {
				t.Fatalf("published date = %q", cfg.Harvest.Date)
			}
			if m.Get().Harvest.Date != "02.03.15" {
				t.Fatalf("reload not committed")
			}
			return
		case <-time.After(retry):
		}
	}
	t.Fatalf("no config published")
}
