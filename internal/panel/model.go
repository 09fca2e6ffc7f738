// Package panel holds the schedule data model shared by the store, the
// scheduler and the HTTP API.
package panel

import (
	"fmt"
	"time"

	"paneld/internal/cron"
)

// Action is the closed set of operations a task can perform against the node
// daemon. Adding a kind means extending the dispatch switch in the runner;
// the compiler flags every site via Action.Valid and the runner's default arm.
type Action string

const (
	ActionPowerStart   Action = "power_start"
	ActionPowerStop    Action = "power_stop"
	ActionPowerRestart Action = "power_restart"
	ActionBackup       Action = "backup"
	ActionCommand      Action = "command"
)

// PowerKind is the daemon-side power signal derived from a power action.
type PowerKind string

const (
	PowerStart   PowerKind = "start"
	PowerStop    PowerKind = "stop"
	PowerRestart PowerKind = "restart"
)

func (a Action) Valid() bool {
	switch a {
	case ActionPowerStart, ActionPowerStop, ActionPowerRestart, ActionBackup, ActionCommand:
		return true
	}
	return false
}

// IsPower reports whether the action maps to a daemon power signal.
func (a Action) IsPower() bool {
	switch a {
	case ActionPowerStart, ActionPowerStop, ActionPowerRestart:
		return true
	}
	return false
}

// PowerKind returns the daemon power signal for a power action.
// It panics on non-power actions; callers must check IsPower first.
func (a Action) PowerKind() PowerKind {
	switch a {
	case ActionPowerStart:
		return PowerStart
	case ActionPowerStop:
		return PowerStop
	case ActionPowerRestart:
		return PowerRestart
	}
	panic(fmt.Sprintf("panel: action %q has no power kind", a))
}

// TriggerMode governs when a task starts relative to its predecessor.
type TriggerMode string

const (
	// TriggerTimeDelay waits the task's TimeOffset (which may be zero)
	// before dispatching.
	TriggerTimeDelay TriggerMode = "time_delay"
	// TriggerOnCompletion dispatches immediately after the previous task's
	// dispatch call returned, success or failure.
	TriggerOnCompletion TriggerMode = "on_completion"
)

func (m TriggerMode) Valid() bool {
	return m == TriggerTimeDelay || m == TriggerOnCompletion
}

// Task is one entry in a schedule's ordered chain.
type Task struct {
	ID         string      `json:"id"`
	ScheduleID string      `json:"schedule_id"`
	Action     Action      `json:"action"`
	Payload    string      `json:"payload,omitempty"`
	Sequence   int         `json:"sequence"`
	Trigger    TriggerMode `json:"trigger_mode"`
	TimeOffset int         `json:"time_offset"` // seconds; meaningful for time_delay only
}

// Schedule is a named, cron-triggered chain of tasks bound to one server.
//
// LastRunAt and NextRunAt are nil until the scheduler has touched the row.
// The index of the task currently executing is transient runner state and is
// broadcast, never persisted.
type Schedule struct {
	ID             string     `json:"id"`
	ServerID       string     `json:"server_id"`
	Name           string     `json:"name"`
	CronExpression string     `json:"cron_expression"`
	IsActive       bool       `json:"is_active"`
	Tasks          []Task     `json:"tasks"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
}

// Projection is the lightweight view the scheduler loop loads on every tick.
type Projection struct {
	ID             string
	CronExpression string
	NextRunAt      *time.Time
}

// ValidationError describes a rejected schedule or chain definition.
type ValidationError struct {
	ScheduleID string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.ScheduleID == "" {
		return "panel: invalid schedule: " + e.Reason
	}
	return fmt.Sprintf("panel: invalid schedule %s: %s", e.ScheduleID, e.Reason)
}

// Validate checks the schedule definition as a whole: name, cron expression
// and task chain. It is the write-time gate; the scheduler assumes every
// stored schedule passed it.
func (s *Schedule) Validate() error {
	if s.Name == "" {
		return &ValidationError{ScheduleID: s.ID, Reason: "name required"}
	}
	if s.ServerID == "" {
		return &ValidationError{ScheduleID: s.ID, Reason: "server_id required"}
	}
	if err := cron.Validate(s.CronExpression); err != nil {
		return err
	}
	if err := ValidateChain(s.Tasks); err != nil {
		if ve, ok := err.(*ValidationError); ok && ve.ScheduleID == "" {
			ve.ScheduleID = s.ID
		}
		return err
	}
	return nil
}

// ValidateChain enforces the chain invariants:
//
//   - sequences are contiguous and unique starting at 0
//   - task 0 uses time_delay ("wait for the previous task" is undefined at
//     the chain start; a zero offset expresses "immediately")
//   - command tasks carry a non-empty payload, all others carry none
//   - time offsets are non-negative
func ValidateChain(tasks []Task) error {
	if len(tasks) == 0 {
		return &ValidationError{Reason: "at least one task required"}
	}
	for i, t := range tasks {
		if t.Sequence != i {
			return &ValidationError{Reason: fmt.Sprintf("task %d has sequence %d; sequences must be contiguous from 0", i, t.Sequence)}
		}
		if !t.Action.Valid() {
			return &ValidationError{Reason: fmt.Sprintf("task %d has unknown action %q", i, t.Action)}
		}
		if !t.Trigger.Valid() {
			return &ValidationError{Reason: fmt.Sprintf("task %d has unknown trigger mode %q", i, t.Trigger)}
		}
		if t.TimeOffset < 0 {
			return &ValidationError{Reason: fmt.Sprintf("task %d has negative time offset", i)}
		}
		if t.Action == ActionCommand && t.Payload == "" {
			return &ValidationError{Reason: fmt.Sprintf("task %d: command action requires a payload", i)}
		}
		if t.Action != ActionCommand && t.Payload != "" {
			return &ValidationError{Reason: fmt.Sprintf("task %d: action %q does not take a payload", i, t.Action)}
		}
	}
	if tasks[0].Trigger != TriggerTimeDelay {
		return &ValidationError{Reason: "task 0 must use time_delay (on_completion has no predecessor)"}
	}
	return nil
}
