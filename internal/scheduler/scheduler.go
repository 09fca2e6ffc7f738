// Package scheduler drives timer-based and manual schedule execution.
//
// A single loop wakes on a fixed interval, pulls the active schedule
// projections from the store and fires every schedule whose persisted
// next-run marker has come due. The marker is recomputed and persisted
// immediately after the firing decision, before the chain runs, so a long
// chain can neither miss the following firing nor double-fire on one tick.
//
// Overlap is guarded per schedule: while a chain is in flight, timer
// firings for the same schedule are skipped and RunNow returns
// ErrAlreadyRunning. Distinct schedules run concurrently.
//
// After a process restart the loop starts from a clean slate: markers that
// came due while the process was down fire once on the first tick, and
// unset markers are seeded from "now" without firing.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	croneval "paneld/internal/cron"
	"paneld/internal/store"
	"paneld/internal/supervisor"
	logx "paneld/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config

	st  store.Store
	run ChainRunner
	log logx.Logger

	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	sup       *supervisor.Supervisor

	gmu    sync.Mutex
	guards map[string]*runState

	ticks       uint64
	runsStarted uint64
	runsSkipped uint64
	lastTick    atomic.Value // time.Time

	// test seam
	now func() time.Time
}

func New(cfg Config, st store.Store, run ChainRunner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		st:     st,
		run:    run,
		log:    log,
		guards: map[string]*runState{},
		now:    time.Now,
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
	// The loop re-reads interval and timezone on every tick; no restart needed.
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.sup = supervisor.New(s.runCtx, supervisor.WithLogger(s.log))
	cfg := s.cfg
	stopCh := s.stopCh
	s.mu.Unlock()

	s.sup.Go0("scheduler.loop", func(ctx context.Context) {
		s.loop(ctx, stopCh)
	})
	s.log.Info("service started",
		logx.Bool("enabled", cfg.Enabled),
		logx.Duration("tick", cfg.TickInterval),
		logx.String("tz", cfg.location().String()))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	sup := s.sup
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	// Finalize in background so Stop can return on timeout.
	go func() {
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.stopCh = nil
		s.stopDone = nil
		s.runCtx = nil
		s.runCancel = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// shutdown continues in background
	}
}

func (s *Service) loop(ctx context.Context, stopCh chan struct{}) {
	timer := time.NewTimer(s.interval())
	defer timer.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if s.Enabled() {
			s.tick(ctx, s.now())
		}
		timer.Reset(s.interval())
	}
}

func (s *Service) interval() time.Duration {
	s.mu.Lock()
	d := s.cfg.TickInterval
	s.mu.Unlock()
	return d
}

func (s *Service) location() *time.Location {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	return cfg.location()
}

// tick evaluates every active schedule once against the reference instant.
// Per-schedule problems (bad stored expression, store write failure) skip
// that schedule for this tick only.
func (s *Service) tick(ctx context.Context, now time.Time) {
	atomic.AddUint64(&s.ticks, 1)
	s.lastTick.Store(now)

	projections, err := s.st.ListActiveSchedules(ctx)
	if err != nil {
		s.log.Error("list active schedules failed", logx.Err(err))
		return
	}
	loc := s.location()

	for _, p := range projections {
		expr, err := croneval.ParseInLocation(p.CronExpression, loc)
		if err != nil {
			s.log.Error("stored cron expression is invalid",
				logx.String("schedule", p.ID), logx.String("expr", p.CronExpression), logx.Err(err))
			continue
		}
		due := p.NextRunAt != nil && !p.NextRunAt.After(now)
		if p.NextRunAt == nil || due {
			next := expr.Next(now)
			if err := s.st.RecordNextRunAt(ctx, p.ID, next); err != nil {
				s.log.Error("persist next run failed", logx.String("schedule", p.ID), logx.Err(err))
				continue
			}
		}
		if !due {
			continue
		}
		s.fire(ctx, p.ID, false)
	}
}

// RunNow launches a manual run for the schedule, bypassing the timer and
// the active flag. It returns as soon as the run is accepted;
// ErrAlreadyRunning if a run for this schedule is still in flight.
func (s *Service) RunNow(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()
	if runCtx == nil {
		runCtx = ctx
	}
	// Validate existence up front so callers get ErrNotFound synchronously.
	if _, err := s.st.LoadSchedule(ctx, scheduleID); err != nil {
		return err
	}
	return s.fire(runCtx, scheduleID, true)
}

func (s *Service) fire(ctx context.Context, scheduleID string, manual bool) error {
	g := s.guard(scheduleID)
	if !g.tryAcquire() {
		atomic.AddUint64(&s.runsSkipped, 1)
		if !manual {
			s.log.Warn("firing skipped, previous run still in flight", logx.String("schedule", scheduleID))
			return nil
		}
		return ErrAlreadyRunning
	}

	sc, err := s.st.LoadSchedule(ctx, scheduleID)
	if err != nil {
		g.release()
		s.log.Error("load schedule failed", logx.String("schedule", scheduleID), logx.Err(err))
		return err
	}

	atomic.AddUint64(&s.runsStarted, 1)
	started := s.now()
	if err := s.st.RecordRunStart(ctx, sc.ID, started); err != nil {
		s.log.Warn("record run start failed", logx.String("schedule", sc.ID), logx.Err(err))
	}

	launch := func(ctx context.Context) {
		defer g.release()
		rec := s.run.Run(ctx, sc, manual)
		if err := s.st.AppendRun(ctx, rec); err != nil {
			s.log.Warn("append run record failed", logx.String("schedule", sc.ID), logx.Err(err))
		}
	}

	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup != nil {
		sup.Go0("scheduler.run."+sc.ID, launch)
	} else {
		// Manual run before Start (or after Stop): still honored.
		go launch(ctx)
	}
	return nil
}

func (s *Service) guard(id string) *runState {
	s.gmu.Lock()
	defer s.gmu.Unlock()
	g, ok := s.guards[id]
	if !ok {
		g = &runState{}
		s.guards[id] = g
	}
	return g
}

// Running reports whether a run for the schedule is currently in flight.
func (s *Service) Running(id string) bool {
	s.gmu.Lock()
	g, ok := s.guards[id]
	s.gmu.Unlock()
	if !ok {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight > 0
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	var running []string
	s.gmu.Lock()
	for id, g := range s.guards {
		g.mu.Lock()
		busy := g.inflight > 0
		g.mu.Unlock()
		if busy {
			running = append(running, id)
		}
	}
	s.gmu.Unlock()

	snap := Snapshot{
		Enabled:     cfg.Enabled,
		Timezone:    cfg.location().String(),
		Ticks:       atomic.LoadUint64(&s.ticks),
		RunsStarted: atomic.LoadUint64(&s.runsStarted),
		RunsSkipped: atomic.LoadUint64(&s.runsSkipped),
		Running:     running,
	}
	if v, ok := s.lastTick.Load().(time.Time); ok {
		snap.LastTick = v
	}
	return snap
}
