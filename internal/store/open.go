package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "paneld/pkg/logx"

	"paneld/internal/panel"
)

// Store is the persistence API used by the scheduler and the HTTP API.
//
// Schedule writes validate the definition (cron expression + chain) before
// committing; the scheduler may assume every stored schedule is well-formed.
type Store interface {
	// ListActiveSchedules returns the lightweight projection the tick loop
	// evaluates: id, cron expression and the persisted next-run marker.
	ListActiveSchedules(ctx context.Context) ([]panel.Projection, error)
	ListSchedules(ctx context.Context) ([]panel.Schedule, error)
	LoadSchedule(ctx context.Context, id string) (panel.Schedule, error)
	SaveSchedule(ctx context.Context, s panel.Schedule) error

	RecordRunStart(ctx context.Context, id string, at time.Time) error
	RecordNextRunAt(ctx context.Context, id string, at time.Time) error

	AppendRun(ctx context.Context, r RunRecord) error
	ListRuns(ctx context.Context, scheduleID string, limit int) ([]RunRecord, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return newMemory(cfg), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func runHistoryCap(cfg Config) int {
	if cfg.RunHistory > 0 {
		return cfg.RunHistory
	}
	return 200
}
