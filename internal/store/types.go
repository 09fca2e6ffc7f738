package store

import (
	"errors"
	"time"

	"paneld/internal/panel"
)

var (
	// ErrNotFound is returned when a schedule id does not exist.
	ErrNotFound = errors.New("store: schedule not found")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps (development, tests)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// RunHistory caps how many run records are kept per schedule.
	// 0 means the default (200).
	RunHistory int
}

// TaskResult is the per-task outcome inside a run record.
// Err is empty on success; a dispatch timeout is recorded like any other
// dispatch failure.
type TaskResult struct {
	Sequence int          `json:"sequence"`
	Action   panel.Action `json:"action"`
	TookMS   int64        `json:"took_ms"`
	Err      string       `json:"err,omitempty"`
}

// RunRecord is one completed chain execution.
// There is no chain-level success flag; observers derive it from the
// per-task results.
type RunRecord struct {
	ID         string       `json:"id"`
	ScheduleID string       `json:"schedule_id"`
	ServerID   string       `json:"server_id"`
	Manual     bool         `json:"manual"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Results    []TaskResult `json:"results"`
}
