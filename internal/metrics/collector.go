package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	OutcomeCacheHit = "cache_hit"
	OutcomeDedup    = "dedup"
	OutcomeBackend  = "backend"
)

// Collector holds every metric the harvester exports. All methods are safe
// on a nil *Collector so components can run without metrics.
type Collector struct {
	reg *prometheus.Registry

	FetchRequests   *prometheus.CounterVec // outcome label: cache_hit|dedup|backend
	BackendErrors   prometheus.Counter
	BackendDuration prometheus.Histogram
	PermitWait      prometheus.Histogram
	InFlight        prometheus.Gauge
	CacheDrops      prometheus.Counter
	ReqsPerSec      prometheus.Gauge

	PoolTaskDuration prometheus.Histogram
	PoolTaskErrors   prometheus.Counter

	Runs             *prometheus.CounterVec // result label: converged|partial|failed
	Rounds           prometheus.Counter
	VerifiedRoutes   prometheus.Gauge
	Unexplained      prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
	RunDuration      prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timetabler_fetch_requests_total",
			Help: "Fetch calls by how they were served.",
		}, []string{"outcome"}),
		BackendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timetabler_backend_errors_total",
			Help: "Backend requests that failed.",
		}),
		BackendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timetabler_backend_request_duration_seconds",
			Help:    "Duration of backend HTTP requests, excluding permit waits.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		PermitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timetabler_permit_wait_seconds",
			Help:    "Time spent waiting for a rate limiter permit.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timetabler_inflight_requests",
			Help: "Backend requests registered but not yet completed.",
		}),
		CacheDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timetabler_cache_drops_total",
			Help: "Cached responses evicted because they were invalid.",
		}),
		ReqsPerSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timetabler_backend_requests_per_second",
			Help: "Observed backend throughput over the last run.",
		}),
		PoolTaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timetabler_pool_task_duration_seconds",
			Help:    "Duration of worker pool tasks, including permit waits.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		PoolTaskErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timetabler_pool_task_errors_total",
			Help: "Worker pool tasks that returned an error.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timetabler_runs_total",
			Help: "Harvest runs by result.",
		}, []string{"result"}),
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timetabler_rounds_total",
			Help: "Reconciliation rounds executed.",
		}),
		VerifiedRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timetabler_verified_routes",
			Help: "Routes with at least one verified journey in the last run.",
		}),
		Unexplained: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timetabler_unexplained_transits",
			Help: "Transits not covered by any verified journey in the last run.",
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timetabler_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timetabler_run_duration_seconds",
			Help:    "Wall time of a harvest run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
	}

	reg.MustRegister(
		c.FetchRequests, c.BackendErrors, c.BackendDuration, c.PermitWait,
		c.InFlight, c.CacheDrops, c.ReqsPerSec,
		c.PoolTaskDuration, c.PoolTaskErrors,
		c.Runs, c.Rounds, c.VerifiedRoutes, c.Unexplained, c.LastRunTimestamp, c.RunDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.reg
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) FetchServed(outcome string) {
	if c == nil {
		return
	}
	c.FetchRequests.WithLabelValues(outcome).Inc()
}

func (c *Collector) BackendDone(d time.Duration, err error) {
	if c == nil {
		return
	}
	c.BackendDuration.Observe(d.Seconds())
	if err != nil {
		c.BackendErrors.Inc()
	}
}

func (c *Collector) PermitWaited(d time.Duration) {
	if c == nil {
		return
	}
	c.PermitWait.Observe(d.Seconds())
}

func (c *Collector) InFlightDelta(n int) {
	if c == nil {
		return
	}
	c.InFlight.Add(float64(n))
}

func (c *Collector) CacheDropped() {
	if c == nil {
		return
	}
	c.CacheDrops.Inc()
}

func (c *Collector) PoolTask(d time.Duration, failed bool) {
	if c == nil {
		return
	}
	c.PoolTaskDuration.Observe(d.Seconds())
	if failed {
		c.PoolTaskErrors.Inc()
	}
}

func (c *Collector) RoundDone() {
	if c == nil {
		return
	}
	c.Rounds.Inc()
}

// RunSummary is what a finished harvest reports.
type RunSummary struct {
	Result         string
	VerifiedRoutes int
	Unexplained    int
	ReqsPerSec     float64
	HasReqsPerSec  bool
	Duration       time.Duration
	FinishedAt     time.Time
}

func (c *Collector) RunDone(s RunSummary) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(s.Result).Inc()
	c.VerifiedRoutes.Set(float64(s.VerifiedRoutes))
	c.Unexplained.Set(float64(s.Unexplained))
	if s.HasReqsPerSec {
		c.ReqsPerSec.Set(s.ReqsPerSec)
	}
	c.RunDuration.Observe(s.Duration.Seconds())
	c.LastRunTimestamp.Set(float64(s.FinishedAt.Unix()))
}
