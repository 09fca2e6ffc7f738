package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"paneld/internal/panel"
	"paneld/internal/store"
)

// ErrAlreadyRunning is returned by RunNow while a run for the same schedule
// is still in flight.
var ErrAlreadyRunning = errors.New("schedule is already running")

// Config controls the tick loop.
type Config struct {
	Enabled bool `json:"enabled"`
	// TickInterval is how often due schedules are evaluated. Default 1m.
	TickInterval time.Duration `json:"tick_interval"`
	// Timezone is an IANA name used to evaluate cron expressions.
	// Empty means UTC.
	Timezone string `json:"timezone"`
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	return c
}

func (c Config) location() *time.Location {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ChainRunner executes a schedule's task chain to completion.
type ChainRunner interface {
	Run(ctx context.Context, sc panel.Schedule, manual bool) store.RunRecord
}

// runState tracks whether a schedule already has a run in flight.
// One per schedule ID; acquire before dispatch, release when the chain
// returns to idle.
type runState struct {
	mu       sync.Mutex
	inflight int
}

func (s *runState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *runState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled     bool      `json:"enabled"`
	Timezone    string    `json:"timezone"`
	LastTick    time.Time `json:"last_tick"`
	Ticks       uint64    `json:"ticks"`
	RunsStarted uint64    `json:"runs_started"`
	RunsSkipped uint64    `json:"runs_skipped"`
	Running     []string  `json:"running"`
}
