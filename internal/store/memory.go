package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"paneld/internal/panel"
)

// memStore keeps everything in process memory. Used by tests and by
// deployments that seed schedules from config fixtures.
type memStore struct {
	mu         sync.RWMutex
	schedules  map[string]panel.Schedule
	runs       map[string][]RunRecord
	historyCap int
}

func newMemory(cfg Config) *memStore {
	return &memStore{
		schedules:  map[string]panel.Schedule{},
		runs:       map[string][]RunRecord{},
		historyCap: runHistoryCap(cfg),
	}
}

func (s *memStore) Close() error { return nil }

func (s *memStore) ListActiveSchedules(ctx context.Context) ([]panel.Projection, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]panel.Projection, 0, len(s.schedules))
	for _, sc := range s.schedules {
		if !sc.IsActive {
			continue
		}
		out = append(out, panel.Projection{
			ID:             sc.ID,
			CronExpression: sc.CronExpression,
			NextRunAt:      cloneTime(sc.NextRunAt),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListSchedules(ctx context.Context) ([]panel.Schedule, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]panel.Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, cloneSchedule(sc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) LoadSchedule(ctx context.Context, id string) (panel.Schedule, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	if !ok {
		return panel.Schedule{}, ErrNotFound
	}
	return cloneSchedule(sc), nil
}

func (s *memStore) SaveSchedule(ctx context.Context, sc panel.Schedule) error {
	_ = ctx
	if err := sc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.schedules[sc.ID] = cloneSchedule(sc)
	s.mu.Unlock()
	return nil
}

func (s *memStore) RecordRunStart(ctx context.Context, id string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return ErrNotFound
	}
	sc.LastRunAt = &at
	s.schedules[id] = sc
	return nil
}

func (s *memStore) RecordNextRunAt(ctx context.Context, id string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return ErrNotFound
	}
	sc.NextRunAt = &at
	s.schedules[id] = sc
	return nil
}

func (s *memStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := append(s.runs[r.ScheduleID], r)
	if len(runs) > s.historyCap {
		runs = runs[len(runs)-s.historyCap:]
	}
	s.runs[r.ScheduleID] = runs
	return nil
}

func (s *memStore) ListRuns(ctx context.Context, scheduleID string, limit int) ([]RunRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.runs[scheduleID]
	if limit <= 0 || limit > len(runs) {
		limit = len(runs)
	}
	// newest first
	out := make([]RunRecord, 0, limit)
	for i := len(runs) - 1; i >= len(runs)-limit; i-- {
		out = append(out, runs[i])
	}
	return out, nil
}

func cloneSchedule(sc panel.Schedule) panel.Schedule {
	cp := sc
	cp.Tasks = append([]panel.Task(nil), sc.Tasks...)
	cp.LastRunAt = cloneTime(sc.LastRunAt)
	cp.NextRunAt = cloneTime(sc.NextRunAt)
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
