package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/plesner/jetnewt/internal/fetch"
	"github.com/plesner/jetnewt/internal/metrics"
	"github.com/plesner/jetnewt/internal/promise"
	"github.com/plesner/jetnewt/internal/reconcile"
	"github.com/plesner/jetnewt/internal/transitapi"
	logx "github.com/plesner/jetnewt/pkg/logx"
)

const (
	resultConverged = "converged"
	resultPartial   = "partial"
	resultFailed    = "failed"
	resultCanceled  = "canceled"
)

// Harvest runs one reconciliation with the current config and prints its
// report. Concurrent calls are serialized.
func (a *App) Harvest(ctx context.Context) (reconcile.Result, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	cfg := a.cfgm.Get()
	runID := uuid.NewString()
	log := a.log.With(logx.String("comp", "harvest"), logx.String("run", runID))

	clock, err := clockFor(cfg)
	if err != nil {
		return reconcile.Result{}, err
	}
	started := time.Now()
	plan, date, err := harvestPlan(cfg, clock, started)
	if err != nil {
		return reconcile.Result{}, err
	}
	log.Info("harvest started",
		logx.String("date", date),
		logx.String("window", clock.TimeString(plan.Window.Start)+"-"+clock.TimeString(plan.Window.End)),
		logx.Strs("hubs", plan.Hubs),
	)

	sched := promise.NewScheduler(log)
	proxy := fetch.New(ctx, sched, fetch.Deps{
		Store:     a.cache,
		Limiter:   a.limiter(),
		Pool:      a.pool,
		HTTP:      a.http,
		Metrics:   a.metrics,
		Log:       log,
		UserAgent: cfg.Backend.UserAgent,
	})
	client := transitapi.NewClient(sched, proxy, cfg.Backend.RestBaseURL, clock,
		transitapi.WithLogger(log),
		transitapi.WithMemoSize(cfg.Backend.JourneyMemoSize),
	)
	fut := reconcile.New(sched, client, log, a.metrics).Run(plan)

	runErr := sched.RunUntil(ctx, fut)
	var res reconcile.Result
	if runErr == nil {
		res, runErr = fut.Get()
	}

	rate, hasRate := proxy.Stats()
	summary := metrics.RunSummary{
		ReqsPerSec:    rate.ReqsPerSec,
		HasReqsPerSec: hasRate,
		Duration:      time.Since(started),
		FinishedAt:    time.Now(),
	}
	switch {
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		summary.Result = resultCanceled
	case runErr != nil:
		summary.Result = resultFailed
	case res.Converged:
		summary.Result = resultConverged
	default:
		summary.Result = resultPartial
	}
	summary.VerifiedRoutes = len(res.Routes)
	summary.Unexplained = len(res.Unexplained)
	a.metrics.RunDone(summary)

	if runErr != nil {
		log.Error("harvest failed",
			logx.String("result", summary.Result),
			logx.Err(runErr),
			logx.Int("in_flight", proxy.InFlight()),
			logx.Duration("took", summary.Duration),
		)
		return reconcile.Result{}, runErr
	}

	log.Info("harvest finished",
		logx.String("result", summary.Result),
		logx.Int("rounds", res.Rounds),
		logx.Int("verified_routes", len(res.Routes)),
		logx.Int("unexplained", len(res.Unexplained)),
		logx.Duration("took", summary.Duration),
	)
	r := runReport{
		ID:      runID,
		Date:    date,
		Clock:   clock,
		Result:  res,
		Fetch:   rate,
		HasRate: hasRate,
		Cache:   a.cache.Stats(),
		Took:    summary.Duration,
	}
	if err := r.write(a.out); err != nil {
		log.Warn("report write failed", logx.Err(err))
	}
	return res, nil
}
