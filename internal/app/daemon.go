package app

import (
	"context"
	"errors"
	"strings"

	"github.com/plesner/jetnewt/internal/config"
	"github.com/plesner/jetnewt/internal/task/engine"
	"github.com/plesner/jetnewt/internal/task/scheduler"
	logx "github.com/plesner/jetnewt/pkg/logx"
	"github.com/plesner/jetnewt/pkg/systemd"
)

const harvestSchedule = "harvest"

// RunDaemon harvests on daemon.schedule until ctx is done. Harvests run on
// a dedicated single-worker pool so they never starve fetch workers.
func (a *App) RunDaemon(ctx context.Context) error {
	if a.sup == nil {
		return errors.New("app not started")
	}
	cfg := a.cfgm.Get()
	if strings.TrimSpace(cfg.Daemon.Schedule) == "" {
		return errors.New("daemon.schedule: required in daemon mode")
	}

	a.runner = engine.New(engine.Config{Workers: 1, QueueSize: 1}, a.log.With(logx.String("comp", "runner")),
		engine.WithObserver(func(h engine.HistoryItem) {
			if h.Error != "" {
				a.log.Warn("scheduled harvest failed", logx.String("id", h.ID), logx.String("err", h.Error))
			}
		}),
	)
	a.runner.Start(a.sup.Context())

	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Daemon.Timezone}, a.runner, a.log.With(logx.String("comp", "trigger")))
	if err := a.sched.AddSchedule(harvestSchedule, cfg.Daemon.Schedule, a.harvestJob); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())
	if cfg.Daemon.RunOnStart {
		if err := a.sched.Trigger(harvestSchedule); err != nil {
			a.log.Warn("initial harvest not queued", logx.Err(err))
		}
	}

	if cfg.Daemon.Watch && a.cfgm.Path() == "" {
		a.log.Warn("daemon.watch ignored: no config file")
	} else if cfg.Daemon.Watch {
		a.sup.Go("config.watch", a.cfgm.Watch)
		a.sup.Go0("config.reload", a.reloadLoop)
	}

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	}
	a.notifyNext()
	a.log.Info("daemon running", logx.String("schedule", cfg.Daemon.Schedule), logx.String("tz", cfg.Daemon.Timezone))

	select {
	case <-ctx.Done():
	case <-a.sup.Context().Done():
	}
	_, _ = systemd.Stopping()
	if err := a.sup.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) harvestJob(ctx context.Context) error {
	_, _ = systemd.Status("harvesting")
	_, err := a.Harvest(ctx)
	a.notifyNext()
	return err
}

// notifyNext publishes the next trigger time as the unit status.
func (a *App) notifyNext() {
	if a.sched == nil {
		return
	}
	for _, s := range a.sched.Snapshot().Schedules {
		if s.Name == harvestSchedule && !s.Next.IsZero() {
			_, _ = systemd.Status("next harvest %s", s.Next.Format("2006-01-02 15:04:05 MST"))
			return
		}
	}
}

// reloadLoop applies hot-reloaded config. Harvest and backend settings are
// read at the start of every harvest and need no handling here.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, old, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(old, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	if changed["logging"] {
		a.logs.Apply(mapLogConfig(next))
	}
	if changed["fetch"] {
		a.applyFetchConfig(next.Fetch)
		if old.Fetch.Workers != next.Fetch.Workers || old.Fetch.QueueSize != next.Fetch.QueueSize {
			a.log.Warn("fetch pool size changed; restart required for changes to take effect")
		}
	}
	if changed["cache"] {
		a.log.Warn("cache config changed; restart required for changes to take effect")
	}
	if changed["metrics"] {
		if mc, err := mapMetricsConfig(next); err != nil {
			a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
		} else {
			a.msrv.Reconfigure(ctx, mc)
		}
	}
	if changed["daemon"] && a.sched != nil {
		a.sched.Apply(scheduler.Config{Timezone: next.Daemon.Timezone})
		if old.Daemon.Schedule != next.Daemon.Schedule {
			if err := a.sched.AddSchedule(harvestSchedule, next.Daemon.Schedule, a.harvestJob); err != nil {
				a.log.Warn("invalid daemon schedule; keeping previous", logx.Err(err))
				_ = a.sched.AddSchedule(harvestSchedule, old.Daemon.Schedule, a.harvestJob)
			}
		}
		a.notifyNext()
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}
