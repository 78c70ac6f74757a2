package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/plesner/jetnewt/internal/config"
	"github.com/plesner/jetnewt/internal/metrics"
	"github.com/plesner/jetnewt/internal/ratelimit"
	"github.com/plesner/jetnewt/internal/responsecache"
	"github.com/plesner/jetnewt/internal/runtime/supervisor"
	"github.com/plesner/jetnewt/internal/task/engine"
	"github.com/plesner/jetnewt/internal/task/scheduler"
	logx "github.com/plesner/jetnewt/pkg/logx"
)

// App owns the long-lived parts of the harvester: logging, the response
// cache, the rate limiter, the fetch worker pool and metrics. Each harvest
// builds its own scheduler, fetch proxy and API client on top of them.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	out  io.Writer
	http *http.Client

	metrics *metrics.Collector
	msrv    *metrics.Server
	cache   *responsecache.Cache
	pool    *engine.Service

	bucketMu  sync.Mutex
	bucket    *ratelimit.LeakyBucket
	bucketCfg config.FetchConfig

	// Daemon mode only.
	runner *engine.Service
	sched  *scheduler.Service

	runMu sync.Mutex
}

type Option func(*App)

// WithOutput sets where reports are printed (default stdout).
func WithOutput(w io.Writer) Option { return func(a *App) { a.out = w } }

// WithHTTPClient replaces the backend HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(a *App) { a.http = c } }

// New loads the config and sets up logging. Nothing is started yet.
func New(cfgm *config.ConfigManager, opts ...Option) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if _, err := mapMetricsConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		out:     logx.Stdout(),
		http:    &http.Client{},
		metrics: metrics.NewCollector(),
	}
	for _, o := range opts {
		o(a)
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, err := mapMetricsConfig(c); err != nil {
			return err
		}
		if c.Daemon.Schedule != "" {
			if _, err := scheduler.ParseSchedule(c.Daemon.Schedule); err != nil {
				return fmt.Errorf("daemon.schedule: %w", err)
			}
		}
		return nil
	})
	return a, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start opens the cache, seeds the limiter from it and starts the worker
// pool and the metrics server.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	cc, err := mapCacheConfig(cfg)
	if err != nil {
		return err
	}
	// The cache outlives the run context so Stop can flush it after the pool.
	cache, err := responsecache.Open(context.WithoutCancel(ctx), cc, a.log.With(logx.String("comp", "cache")))
	if err != nil {
		return fmt.Errorf("open response cache: %w", err)
	}
	a.cache = cache
	a.log.Info("response cache opened", logx.String("driver", cc.Driver))

	a.bucket = a.newBucket(cfg.Fetch)
	a.bucketCfg = cfg.Fetch
	if latest, ok, err := cache.LatestTimestamp(ctx); err != nil {
		a.log.Warn("cache timestamp lookup failed; limiter starts fresh", logx.Err(err))
	} else if ok {
		a.bucket.SetLastPermit(latest)
		a.log.Debug("limiter seeded from cache", logx.Time("last_write", latest))
	}

	a.pool = engine.New(mapPoolConfig(cfg), a.log.With(logx.String("comp", "fetchpool")),
		engine.WithObserver(func(h engine.HistoryItem) {
			a.metrics.PoolTask(h.Duration, h.Error != "")
		}),
	)
	a.pool.Start(a.sup.Context())

	mc, err := mapMetricsConfig(cfg)
	if err != nil {
		return err
	}
	a.msrv = metrics.NewServer(mc, a.metrics, a.log.With(logx.String("comp", "metrics")))
	a.msrv.Start(a.sup.Context())

	a.log.Info("app started",
		logx.Float64("reqs_per_sec", cfg.Fetch.ReqsPerSec),
		logx.Int("workers", cfg.Fetch.Workers),
		logx.String("backend", cfg.Backend.RestBaseURL),
	)
	return nil
}

func (a *App) newBucket(fc config.FetchConfig) *ratelimit.LeakyBucket {
	return ratelimit.NewLeakyBucket(fc.ReqsPerSec, fc.MaxAccum,
		ratelimit.WithLogger(a.log.With(logx.String("comp", "limiter"))))
}

func (a *App) limiter() *ratelimit.LeakyBucket {
	a.bucketMu.Lock()
	defer a.bucketMu.Unlock()
	return a.bucket
}

// applyFetchConfig replaces the limiter when the rate changes. The new
// bucket continues from the old one's last permit.
func (a *App) applyFetchConfig(fc config.FetchConfig) {
	a.bucketMu.Lock()
	defer a.bucketMu.Unlock()
	if a.bucket == nil || (fc.ReqsPerSec == a.bucketCfg.ReqsPerSec && fc.MaxAccum == a.bucketCfg.MaxAccum) {
		return
	}
	next := a.newBucket(fc)
	next.SetLastPermit(a.bucket.LastPermit())
	a.bucket = next
	a.bucketCfg = fc
	a.log.Info("rate limit updated", logx.Float64("reqs_per_sec", fc.ReqsPerSec), logx.Float64("max_accum", fc.MaxAccum))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			if max > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error {
		if a.sched != nil {
			a.sched.Stop(c)
		}
		return nil
	})
	step("runner", 2*time.Second, func(c context.Context) error {
		if a.runner != nil {
			a.runner.Stop(c)
		}
		return nil
	})
	step("fetchpool", 2*time.Second, func(c context.Context) error {
		if a.pool != nil {
			a.pool.Stop(c)
		}
		return nil
	})
	step("metrics", time.Second, func(c context.Context) error {
		if a.msrv != nil {
			a.msrv.Stop(c)
		}
		return nil
	})
	step("cache", 2*time.Second, func(c context.Context) error {
		if a.cache != nil {
			return a.cache.Close(c)
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
