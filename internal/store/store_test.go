package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "paneld/pkg/logx"

	"paneld/internal/panel"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := Open(Config{Driver: "memory", RunHistory: 5}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "paneld.db"), RunHistory: 5}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = mem.Close()
		_ = sq.Close()
	})
	return map[string]Store{"memory": mem, "sqlite": sq}
}

func testSchedule(id string) panel.Schedule {
	return panel.Schedule{
		ID:             id,
		ServerID:       "srv-1",
		Name:           "nightly backup",
		CronExpression: "0 4 * * *",
		IsActive:       true,
		Tasks: []panel.Task{
			{ID: id + "-t0", ScheduleID: id, Sequence: 0, Action: panel.ActionBackup, Trigger: panel.TriggerTimeDelay, TimeOffset: 30},
			{ID: id + "-t1", ScheduleID: id, Sequence: 1, Action: panel.ActionPowerRestart, Trigger: panel.TriggerOnCompletion},
		},
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := testSchedule("s1")
			if err := st.SaveSchedule(ctx, want); err != nil {
				t.Fatalf("SaveSchedule: %v", err)
			}
			got, err := st.LoadSchedule(ctx, "s1")
			if err != nil {
				t.Fatalf("LoadSchedule: %v", err)
			}
			if got.Name != want.Name || got.CronExpression != want.CronExpression || !got.IsActive {
				t.Fatalf("loaded schedule mismatch: %+v", got)
			}
			if len(got.Tasks) != 2 {
				t.Fatalf("loaded %d tasks, want 2", len(got.Tasks))
			}
			for i, task := range got.Tasks {
				if task.Sequence != i {
					t.Fatalf("task %d has sequence %d", i, task.Sequence)
				}
			}
			if got.Tasks[1].Trigger != panel.TriggerOnCompletion {
				t.Fatalf("task 1 trigger = %s", got.Tasks[1].Trigger)
			}
		})
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			badCron := testSchedule("s1")
			badCron.CronExpression = "*/5 * * * *"
			if err := st.SaveSchedule(ctx, badCron); err == nil {
				t.Fatal("schedule with stepped minute accepted")
			}

			badChain := testSchedule("s2")
			badChain.Tasks[0].Trigger = panel.TriggerOnCompletion
			if err := st.SaveSchedule(ctx, badChain); err == nil {
				t.Fatal("chain starting with on_completion accepted")
			}

			if _, err := st.LoadSchedule(ctx, "s1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("rejected write leaked into store: %v", err)
			}
		})
	}
}

func TestListActiveSchedules(t *testing.T) {
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			active := testSchedule("a1")
			inactive := testSchedule("b1")
			inactive.IsActive = false
			if err := st.SaveSchedule(ctx, active); err != nil {
				t.Fatalf("save active: %v", err)
			}
			if err := st.SaveSchedule(ctx, inactive); err != nil {
				t.Fatalf("save inactive: %v", err)
			}

			got, err := st.ListActiveSchedules(ctx)
			if err != nil {
				t.Fatalf("ListActiveSchedules: %v", err)
			}
			if len(got) != 1 || got[0].ID != "a1" {
				t.Fatalf("projection = %+v, want only a1", got)
			}
			if got[0].NextRunAt != nil {
				t.Fatal("fresh schedule has non-nil NextRunAt")
			}
		})
	}
}

func TestRunTimestamps(t *testing.T) {
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := st.SaveSchedule(ctx, testSchedule("s1")); err != nil {
				t.Fatalf("save: %v", err)
			}

			started := time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC)
			next := time.Date(2024, 3, 2, 4, 0, 0, 0, time.UTC)
			if err := st.RecordRunStart(ctx, "s1", started); err != nil {
				t.Fatalf("RecordRunStart: %v", err)
			}
			if err := st.RecordNextRunAt(ctx, "s1", next); err != nil {
				t.Fatalf("RecordNextRunAt: %v", err)
			}

			got, err := st.LoadSchedule(ctx, "s1")
			if err != nil {
				t.Fatalf("LoadSchedule: %v", err)
			}
			if got.LastRunAt == nil || !got.LastRunAt.Equal(started) {
				t.Fatalf("LastRunAt = %v, want %v", got.LastRunAt, started)
			}
			if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
				t.Fatalf("NextRunAt = %v, want %v", got.NextRunAt, next)
			}

			if err := st.RecordRunStart(ctx, "missing", started); !errors.Is(err, ErrNotFound) {
				t.Fatalf("RecordRunStart(missing) = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestRunHistoryBoundedAndOrdered(t *testing.T) {
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := st.SaveSchedule(ctx, testSchedule("s1")); err != nil {
				t.Fatalf("save: %v", err)
			}

			base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < 8; i++ {
				r := RunRecord{
					ID:         fmt.Sprintf("run-%d", i),
					ScheduleID: "s1",
					ServerID:   "srv-1",
					StartedAt:  base.Add(time.Duration(i) * time.Hour),
					FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
					Results: []TaskResult{
						{Sequence: 0, Action: panel.ActionBackup, TookMS: 1200},
						{Sequence: 1, Action: panel.ActionPowerRestart, Err: "daemon unreachable"},
					},
				}
				if err := st.AppendRun(ctx, r); err != nil {
					t.Fatalf("AppendRun %d: %v", i, err)
				}
			}

			runs, err := st.ListRuns(ctx, "s1", 0)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			// history cap is 5 (Config.RunHistory)
			if len(runs) != 5 {
				t.Fatalf("kept %d runs, want 5", len(runs))
			}
			if runs[0].ID != "run-7" {
				t.Fatalf("newest run = %s, want run-7", runs[0].ID)
			}
			for i := 1; i < len(runs); i++ {
				if runs[i].StartedAt.After(runs[i-1].StartedAt) {
					t.Fatal("runs not ordered newest first")
				}
			}
			if len(runs[0].Results) != 2 || runs[0].Results[1].Err == "" {
				t.Fatalf("per-task results not preserved: %+v", runs[0].Results)
			}
		})
	}
}
