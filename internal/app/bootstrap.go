package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/plesner/jetnewt/internal/config"
	"github.com/plesner/jetnewt/internal/metrics"
	"github.com/plesner/jetnewt/internal/pipeline"
	"github.com/plesner/jetnewt/internal/reconcile"
	"github.com/plesner/jetnewt/internal/responsecache"
	"github.com/plesner/jetnewt/internal/task/engine"
	"github.com/plesner/jetnewt/internal/transit"
	logx "github.com/plesner/jetnewt/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapCacheConfig(cfg *config.Config) (responsecache.Config, error) {
	busy, err := config.ParseDurationOrDefault("cache.busy_timeout", cfg.Cache.BusyTimeout, time.Second)
	if err != nil {
		return responsecache.Config{}, err
	}
	return responsecache.Config{
		Driver:      cfg.Cache.Driver,
		Path:        cfg.Cache.Path,
		DSN:         cfg.Cache.DSN,
		KeyPrefix:   cfg.Cache.KeyPrefix,
		BusyTimeout: busy,
	}, nil
}

func mapPoolConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Workers:   cfg.Fetch.Workers,
		QueueSize: cfg.Fetch.QueueSize,
	}
}

func mapMetricsConfig(cfg *config.Config) (metrics.ServerConfig, error) {
	m := cfg.Metrics
	read, err := config.ParseDurationOrDefault("metrics.read_timeout", m.ReadTimeout, 5*time.Second)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	write, err := config.ParseDurationOrDefault("metrics.write_timeout", m.WriteTimeout, 30*time.Second)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	idle, err := config.ParseDurationOrDefault("metrics.idle_timeout", m.IdleTimeout, 60*time.Second)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	return metrics.ServerConfig{
		Enabled:       m.Enabled,
		Addr:          m.Addr,
		Pprof:         m.Pprof,
		Token:         m.Token,
		AllowInsecure: m.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// clockFor returns the backend clock. Validate has already checked the zone.
func clockFor(cfg *config.Config) (transit.Clock, error) {
	loc, err := time.LoadLocation(cfg.Backend.Timezone)
	if err != nil {
		return transit.Clock{}, fmt.Errorf("backend.timezone: %w", err)
	}
	return transit.NewClock(loc), nil
}

// resolveDate turns "today" and "tomorrow" into a backend date relative to now.
func resolveDate(clock transit.Clock, raw string, now time.Time) (string, error) {
	today := clock.DateString(now.UnixMilli())
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "today":
		return today, nil
	case "tomorrow":
		return clock.ShiftDate(today, 1)
	default:
		return strings.TrimSpace(raw), nil
	}
}

// harvestPlan is the reconcile objective for a run starting at now.
func harvestPlan(cfg *config.Config, clock transit.Clock, now time.Time) (reconcile.Config, string, error) {
	h := cfg.Harvest
	date, err := resolveDate(clock, h.Date, now)
	if err != nil {
		return reconcile.Config{}, "", err
	}
	start, err := clock.FromDateTime(date, h.WindowStart)
	if err != nil {
		return reconcile.Config{}, "", fmt.Errorf("harvest.window_start: %w", err)
	}
	end, err := clock.FromDateTime(date, h.WindowEnd)
	if err != nil {
		return reconcile.Config{}, "", fmt.Errorf("harvest.window_end: %w", err)
	}
	widen, err := config.ParseDurationOrDefault("harvest.widen", h.Widen, reconcile.DefaultWiden)
	if err != nil {
		return reconcile.Config{}, "", err
	}
	routes, err := pipeline.NewStringFilter(h.RouteAllowlist)
	if err != nil {
		return reconcile.Config{}, "", fmt.Errorf("harvest.route_allowlist: %w", err)
	}
	return reconcile.Config{
		Hubs:      append([]string(nil), h.Hubs...),
		Window:    pipeline.Window{Start: start, End: end},
		Routes:    routes,
		MaxRounds: h.MaxRounds,
		Widen:     widen,
	}, date, nil
}
