// Package app wires configuration, storage, the daemon client, the
// scheduler and the HTTP surfaces into one process lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"paneld/internal/config"
	"paneld/internal/daemon"
	"paneld/internal/httpapi"
	"paneld/internal/panel"
	"paneld/internal/pprofsrv"
	"paneld/internal/progress"
	"paneld/internal/runner"
	"paneld/internal/scheduler"
	"paneld/internal/store"
	"paneld/internal/supervisor"
	logx "paneld/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	st    store.Store
	disp  *daemon.Client
	hub   progress.Hub
	run   *runner.Runner
	sched *scheduler.Service
	api   *httpapi.Server
	prof  *pprofsrv.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	st, err := store.Open(mapStorage(cfg), log.With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	dispCfg, err := mapDaemon(cfg)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	disp, err := daemon.New(dispCfg, log.With(logx.String("comp", "daemon")))
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}

	hub := progress.NewHub()
	run := runner.New(disp, hub, log.With(logx.String("comp", "runner")))

	schedCfg, err := mapScheduler(cfg)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, st, run, log.With(logx.String("comp", "scheduler")))

	var api *httpapi.Server
	if cfg.HTTP.Enabled {
		apiCfg, err := mapHTTP(cfg)
		if err != nil {
			_ = st.Close()
			_ = logSvc.Close()
			return nil, err
		}
		bridge := httpapi.NewProgressBridge(hub, log.With(logx.String("comp", "ws")))
		api = httpapi.New(apiCfg, st, sched, bridge, log.With(logx.String("comp", "http")))
	}

	prof := pprofsrv.New(pprofsrv.Config{
		Enabled:       cfg.Pprof.Enabled,
		Addr:          cfg.Pprof.Addr,
		Prefix:        cfg.Pprof.Prefix,
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
	}, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		st:      st,
		disp:    disp,
		hub:     hub,
		run:     run,
		sched:   sched,
		api:     api,
		prof:    prof,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	cfg := a.cfgm.Get()
	if err := a.seedSchedules(a.sup.Context(), cfg); err != nil {
		return err
	}

	a.sched.Start(a.sup.Context())
	if a.api != nil {
		a.api.Start(a.sup.Context())
	}
	if err := a.prof.Start(); err != nil {
		return err
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.sup.Go("config.watch", a.cfgm.Watch)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := cfg
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(last, newCfg)
				last = newCfg
			}
		}
	})

	a.log.Info("started",
		logx.String("storage", strings.TrimSpace(cfg.Storage.Driver)),
		logx.Bool("scheduler", cfg.Scheduler.Enabled),
		logx.Bool("http", cfg.HTTP.Enabled))
	return nil
}

// applyReload pushes a validated config snapshot into the running services.
// Storage driver and HTTP bind changes require a restart and are logged,
// not applied.
func (a *App) applyReload(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("applying config reload", fields...)

	a.logs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})

	if schedCfg, err := mapScheduler(newCfg); err == nil {
		a.sched.Apply(schedCfg)
	}

	if oldCfg != nil && (oldCfg.Storage != newCfg.Storage || oldCfg.HTTP != newCfg.HTTP || oldCfg.Daemon != newCfg.Daemon) {
		a.log.Warn("storage/http/daemon changes take effect after restart")
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.api != nil {
		a.api.Stop(ctx)
	}
	a.sched.Stop(ctx)
	a.prof.Stop(ctx)

	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if cerr := a.st.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// seedSchedules inserts config fixtures that are not in the store yet.
// Existing schedules are never overwritten.
func (a *App) seedSchedules(ctx context.Context, cfg *config.Config) error {
	for i, s := range cfg.Seed {
		if _, err := a.st.LoadSchedule(ctx, s.ID); err == nil {
			continue
		}
		sc, err := mapSeed(s)
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		if err := a.st.SaveSchedule(ctx, sc); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		a.log.Info("seeded schedule", logx.String("id", sc.ID), logx.String("name", sc.Name))
	}
	return nil
}

func mapSeed(s config.SeedSchedule) (panel.Schedule, error) {
	sc := panel.Schedule{
		ID:             s.ID,
		ServerID:       s.ServerID,
		Name:           s.Name,
		CronExpression: s.CronExpression,
		IsActive:       s.IsActive,
	}
	for i, t := range s.Tasks {
		trigger := panel.TriggerMode(t.Trigger)
		if strings.TrimSpace(t.Trigger) == "" {
			trigger = panel.TriggerTimeDelay
		}
		offset, err := config.ParseDurationField(fmt.Sprintf("tasks[%d].time_offset", i), t.TimeOffset)
		if err != nil {
			return panel.Schedule{}, err
		}
		sc.Tasks = append(sc.Tasks, panel.Task{
			ID:         fmt.Sprintf("%s-t%d", s.ID, i),
			ScheduleID: s.ID,
			Action:     panel.Action(t.Action),
			Payload:    t.Payload,
			Sequence:   i,
			Trigger:    trigger,
			// Task offsets are stored in whole seconds.
			TimeOffset: int(offset / time.Second),
		})
	}
	return sc, nil
}

func mapStorage(cfg *config.Config) store.Config {
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	return store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
		RunHistory:  cfg.Storage.RunHistory,
	}
}

func mapDaemon(cfg *config.Config) (daemon.Config, error) {
	timeout, err := config.ParseDurationOrDefault("daemon.timeout", cfg.Daemon.Timeout, 15*time.Second)
	if err != nil {
		return daemon.Config{}, err
	}
	return daemon.Config{
		BaseURL:    cfg.Daemon.BaseURL,
		Token:      cfg.Daemon.Token,
		Timeout:    timeout,
		RatePerSec: cfg.Daemon.RatePerSec,
	}, nil
}

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	tick, err := config.ParseDurationOrDefault("scheduler.tick_interval", cfg.Scheduler.TickInterval, time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:      cfg.Scheduler.Enabled,
		TickInterval: tick,
		Timezone:     cfg.Scheduler.Timezone,
	}, nil
}

func mapHTTP(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationField("http.idle_timeout", cfg.HTTP.IdleTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Enabled:      cfg.HTTP.Enabled,
		Addr:         cfg.HTTP.Addr,
		Token:        cfg.HTTP.Token,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}
