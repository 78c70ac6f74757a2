// Command timetabler harvests a transit network's timetable from a
// rate-limited REST backend and reports the verified schedule.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/plesner/jetnewt/internal/app"
	"github.com/plesner/jetnewt/internal/config"
	logx "github.com/plesner/jetnewt/pkg/logx"
)

// flags holds command-line overrides. Only flags the user actually set are
// applied on top of the file and the environment.
type flags struct {
	set map[string]bool

	reqsPerSec  float64
	maxAccum    float64
	workers     int
	restBaseURL string
	userAgent   string
	timezone    string
	cache       string
	cacheDriver string
	date        string
	hubs        string
	routes      string
	windowStart string
	windowEnd   string
	maxRounds   int
	logLevel    string
	metricsAddr string
	schedule    string
}

func (f *flags) apply(cfg *config.Config) {
	if f.set["reqs-per-sec"] {
		cfg.Fetch.ReqsPerSec = f.reqsPerSec
	}
	if f.set["max-accum"] {
		cfg.Fetch.MaxAccum = f.maxAccum
	}
	if f.set["workers"] {
		cfg.Fetch.Workers = f.workers
	}
	if f.set["rest-base-url"] {
		cfg.Backend.RestBaseURL = f.restBaseURL
	}
	if f.set["user-agent"] {
		cfg.Backend.UserAgent = f.userAgent
	}
	if f.set["timezone"] {
		cfg.Backend.Timezone = f.timezone
	}
	if f.set["cache"] {
		cfg.Cache.Path = f.cache
	}
	if f.set["cache-driver"] {
		cfg.Cache.Driver = f.cacheDriver
	}
	if f.set["date"] {
		cfg.Harvest.Date = f.date
	}
	if f.set["hubs"] {
		cfg.Harvest.Hubs = splitList(f.hubs)
	}
	if f.set["routes"] {
		cfg.Harvest.RouteAllowlist = splitList(f.routes)
	}
	if f.set["window-start"] {
		cfg.Harvest.WindowStart = f.windowStart
	}
	if f.set["window-end"] {
		cfg.Harvest.WindowEnd = f.windowEnd
	}
	if f.set["max-rounds"] {
		cfg.Harvest.MaxRounds = f.maxRounds
	}
	if f.set["log-level"] {
		cfg.Logging.Level = f.logLevel
	}
	if f.set["metrics-addr"] {
		cfg.Metrics.Enabled = f.metricsAddr != ""
		cfg.Metrics.Addr = f.metricsAddr
	}
	if f.set["schedule"] {
		cfg.Daemon.Schedule = f.schedule
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	var (
		cfgPath string
		envFile string
		daemon  bool
		f       = &flags{set: map[string]bool{}}
	)
	flag.StringVar(&cfgPath, "config", "", "path to config yaml/json (optional)")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file with TIMETABLER_* variables")
	flag.BoolVar(&daemon, "daemon", false, "harvest repeatedly on daemon.schedule")
	flag.Float64Var(&f.reqsPerSec, "reqs-per-sec", config.DefaultReqsPerSec, "backend requests per second")
	flag.Float64Var(&f.maxAccum, "max-accum", config.DefaultMaxAccum, "max accumulated request permits")
	flag.IntVar(&f.workers, "workers", config.DefaultWorkers, "concurrent backend requests")
	flag.StringVar(&f.restBaseURL, "rest-base-url", "", "backend REST base url")
	flag.StringVar(&f.userAgent, "user-agent", config.DefaultUserAgent, "User-Agent sent to the backend")
	flag.StringVar(&f.timezone, "timezone", config.DefaultTimezone, "backend timezone")
	flag.StringVar(&f.cache, "cache", config.DefaultCachePath, "sqlite response cache file")
	flag.StringVar(&f.cacheDriver, "cache-driver", config.DefaultCacheDriver, "sqlite, postgres, redis or memory")
	flag.StringVar(&f.date, "date", "", "date to harvest (dd.mm.yy, today or tomorrow)")
	flag.StringVar(&f.hubs, "hubs", "", "comma-separated hub stop names")
	flag.StringVar(&f.routes, "routes", "", "comma-separated route patterns (full match)")
	flag.StringVar(&f.windowStart, "window-start", config.DefaultWindowStart, "window start HH:MM")
	flag.StringVar(&f.windowEnd, "window-end", config.DefaultWindowEnd, "window end HH:MM")
	flag.IntVar(&f.maxRounds, "max-rounds", config.DefaultMaxRounds, "reconciliation rounds before giving up")
	flag.StringVar(&f.logLevel, "log-level", config.DefaultLogLevel, "trace, debug, info, warn or error")
	flag.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics on this address")
	flag.StringVar(&f.schedule, "schedule", "", "daemon schedule (cron, duration or HH:MM)")
	flag.Parse()
	flag.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })

	// Used until the app's own log service is up, and after it stops.
	boot := logx.NewConsole(f.logLevel)

	if err := config.LoadDotEnv(envFile); err != nil {
		boot.Error("fatal", logx.Err(err))
		os.Exit(1)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetOverlay(func(cfg *config.Config) error {
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return err
		}
		f.apply(cfg)
		return nil
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgm)
	if err != nil {
		boot.Error("fatal", logx.Err(err))
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		boot.Error("fatal start", logx.Err(err))
		os.Exit(1)
	}

	var runErr error
	reason := app.StopRunComplete
	if daemon {
		runErr = a.RunDaemon(ctx)
		reason = app.StopSignal
	} else {
		_, runErr = a.Harvest(ctx)
		if ctx.Err() != nil {
			reason = app.StopSignal
		}
	}
	if runErr != nil {
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if runErr != nil {
		boot.Error("run failed", logx.Err(runErr))
		os.Exit(1)
	}
}
