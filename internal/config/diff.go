package config

import (
	"reflect"
	"strings"

	logx "github.com/plesner/jetnewt/pkg/logx"
)

// SummarizeConfigChange returns the names of the sections that differ and
// structured attrs describing the new values. Secrets (cache dsn, metrics
// token) are only reported as set or unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Backend != newCfg.Backend {
		changed = append(changed, "backend")
		attrs = append(attrs,
			logx.String("backend.rest_base_url", newCfg.Backend.RestBaseURL),
			logx.String("backend.timezone", newCfg.Backend.Timezone),
		)
	}
	if oldCfg.Fetch != newCfg.Fetch {
		changed = append(changed, "fetch")
		attrs = append(attrs,
			logx.Float64("fetch.reqs_per_sec", newCfg.Fetch.ReqsPerSec),
			logx.Float64("fetch.max_accum", newCfg.Fetch.MaxAccum),
			logx.Int("fetch.workers", newCfg.Fetch.Workers),
		)
	}
	oc, nc := oldCfg.Cache, newCfg.Cache
	if oc.Driver != nc.Driver || oc.Path != nc.Path || oc.KeyPrefix != nc.KeyPrefix ||
		oc.BusyTimeout != nc.BusyTimeout || oc.DSN != nc.DSN {
		changed = append(changed, "cache")
		attrs = append(attrs,
			logx.String("cache.driver", nc.Driver),
			logx.String("cache.path", nc.Path),
			logx.Bool("cache.dsn_set", strings.TrimSpace(nc.DSN) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Harvest, newCfg.Harvest) {
		changed = append(changed, "harvest")
		attrs = append(attrs,
			logx.String("harvest.date", newCfg.Harvest.Date),
			logx.String("harvest.window", newCfg.Harvest.WindowStart+"-"+newCfg.Harvest.WindowEnd),
			logx.Int("harvest.hubs", len(newCfg.Harvest.Hubs)),
			logx.Int("harvest.max_rounds", newCfg.Harvest.MaxRounds),
		)
	}
	om, nm := oldCfg.Metrics, newCfg.Metrics
	if om != nm {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", nm.Enabled),
			logx.String("metrics.addr", nm.Addr),
			logx.Bool("metrics.pprof", nm.Pprof),
			logx.Bool("metrics.token_set", strings.TrimSpace(nm.Token) != ""),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Daemon != newCfg.Daemon {
		changed = append(changed, "daemon")
		attrs = append(attrs, logx.String("daemon.schedule", newCfg.Daemon.Schedule))
	}
	return changed, attrs
}
