// Package runner executes one schedule's task chain from start to finish.
//
// # State machine
//
// A run moves Idle -> Running(task 0) -> Running(task 1) -> ... -> Idle.
// The executing task index is published on every task start and a nil index
// is published once when the run ends, whatever the per-task outcomes were.
//
// # Trigger policy
//
// time_delay tasks wait their offset on the wall clock before dispatching;
// on_completion tasks dispatch as soon as the previous dispatch call has
// returned. "Returned" is the whole contract: a failed or timed-out dispatch
// still counts as completion of its task.
//
// # Failure policy
//
// A dispatch failure is recorded in the run's per-task results and the chain
// continues. A scheduled restart after a failed backup must still happen, so
// do not tighten this into abort-on-error.
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"

	logx "paneld/pkg/logx"

	"paneld/internal/daemon"
	"paneld/internal/panel"
	"paneld/internal/progress"
	"paneld/internal/store"
)

// Runner turns schedules into chain executions. It is stateless across runs
// and safe for concurrent use; each Run owns its own transient task index.
type Runner struct {
	disp daemon.Dispatcher
	hub  progress.Hub
	log  logx.Logger

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(disp daemon.Dispatcher, hub progress.Hub, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		disp:  disp,
		hub:   hub,
		log:   log,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Run executes the schedule's chain and returns the run record. It blocks
// until the chain is exhausted; callers own the goroutine.
//
// Context cancellation (process shutdown) aborts the remaining tasks; the
// terminal nil-index update is still published so observers see the schedule
// go idle.
func (r *Runner) Run(ctx context.Context, sc panel.Schedule, manual bool) store.RunRecord {
	rec := store.RunRecord{
		ID:         uuid.NewString(),
		ScheduleID: sc.ID,
		ServerID:   sc.ServerID,
		Manual:     manual,
		StartedAt:  r.now(),
	}

	log := r.log.With(logx.String("schedule", sc.ID), logx.String("run", rec.ID))
	log.Info("chain started", logx.Int("tasks", len(sc.Tasks)), logx.Bool("manual", manual))

	defer func() {
		// Terminal state: the schedule is idle again.
		r.hub.Publish(progress.Update{ScheduleID: sc.ID, TaskIndex: nil, At: r.now()})
	}()

	for i, task := range sc.Tasks {
		if task.Trigger == panel.TriggerTimeDelay && task.TimeOffset > 0 {
			if err := r.sleep(ctx, time.Duration(task.TimeOffset)*time.Second); err != nil {
				log.Warn("chain aborted during delay", logx.Int("task", i), logx.Err(err))
				rec.FinishedAt = r.now()
				return rec
			}
		}
		if ctx.Err() != nil {
			log.Warn("chain aborted", logx.Int("task", i), logx.Err(ctx.Err()))
			rec.FinishedAt = r.now()
			return rec
		}

		r.hub.Publish(progress.Update{ScheduleID: sc.ID, TaskIndex: progress.TaskIndex(i), At: r.now()})

		started := r.now()
		err := r.dispatch(ctx, sc.ServerID, task)
		took := r.now().Sub(started)

		res := store.TaskResult{Sequence: task.Sequence, Action: task.Action, TookMS: took.Milliseconds()}
		if err != nil {
			res.Err = err.Error()
			log.Warn("task dispatch failed; chain continues",
				logx.Int("task", i), logx.String("action", string(task.Action)), logx.Duration("took", took), logx.Err(err))
		} else {
			log.Debug("task dispatched",
				logx.Int("task", i), logx.String("action", string(task.Action)), logx.Duration("took", took))
		}
		rec.Results = append(rec.Results, res)
	}

	rec.FinishedAt = r.now()
	log.Info("chain finished",
		logx.Int("tasks", len(rec.Results)),
		logx.Int("failed", countFailed(rec.Results)),
		logx.Duration("dur", rec.FinishedAt.Sub(rec.StartedAt)))
	return rec
}

// dispatch maps the action to its daemon call. The switch is exhaustive over
// panel.Action; validation upstream guarantees no other value reaches here.
func (r *Runner) dispatch(ctx context.Context, serverID string, task panel.Task) error {
	switch task.Action {
	case panel.ActionPowerStart, panel.ActionPowerStop, panel.ActionPowerRestart:
		return r.disp.PowerAction(ctx, serverID, task.Action.PowerKind())
	case panel.ActionBackup:
		return r.disp.CreateBackup(ctx, serverID)
	case panel.ActionCommand:
		return r.disp.RunCommand(ctx, serverID, task.Payload)
	default:
		return &panel.ValidationError{Reason: "unknown action " + string(task.Action)}
	}
}

func countFailed(results []store.TaskResult) int {
	n := 0
	for _, res := range results {
		if res.Err != "" {
			n++
		}
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !tmr.Stop() {
			<-tmr.C
		}
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
