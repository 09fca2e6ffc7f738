package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	croneval "paneld/internal/cron"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Daemon    DaemonConfig    `json:"daemon"`
	Scheduler SchedulerConfig `json:"scheduler"`
	HTTP      HTTPConfig      `json:"http"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`

	// Seed schedules are loaded into the store at startup if their ID is
	// not present yet. Handy for fixtures and single-tenant installs.
	Seed []SeedSchedule `json:"seed,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the schedule store backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./paneld.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	RunHistory  int    `json:"run_history,omitempty"`  // kept run records per schedule
}

// DaemonConfig points at the node daemon that hosts the game servers.
type DaemonConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"`
	// Timeout bounds each dispatch call. Go duration string, default "15s".
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// TickInterval is a Go duration string (e.g. "30s", "1m"). Default "1m".
	TickInterval string `json:"tick_interval,omitempty"`
	// Timezone is an IANA name used for cron evaluation. Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

// HTTPConfig controls the management API server.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default "127.0.0.1:8080"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Prefer binding to localhost. A non-loopback bind requires a token or an
// explicit allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default "/debug/pprof/"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// SeedSchedule mirrors the stored schedule shape for config fixtures.
type SeedSchedule struct {
	ID             string     `json:"id"`
	ServerID       string     `json:"server_id"`
	Name           string     `json:"name"`
	CronExpression string     `json:"cron_expression"`
	IsActive       bool       `json:"is_active"`
	Tasks          []SeedTask `json:"tasks"`
}

type SeedTask struct {
	Action  string `json:"action"`
	Payload string `json:"payload,omitempty"`
	Trigger string `json:"trigger_mode,omitempty"` // default "time_delay"
	// TimeOffset is a Go duration string (e.g. "30s").
	TimeOffset string `json:"time_offset,omitempty"`
}

// Validate rejects configurations the services could not start with.
// Runs before commit on both initial load and live reload.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Daemon.BaseURL) == "" {
		return errors.New("daemon.base_url is required")
	}
	for path, raw := range map[string]string{
		"storage.busy_timeout":    c.Storage.BusyTimeout,
		"daemon.timeout":          c.Daemon.Timeout,
		"scheduler.tick_interval": c.Scheduler.TickInterval,
		"http.read_timeout":       c.HTTP.ReadTimeout,
		"http.write_timeout":      c.HTTP.WriteTimeout,
		"http.idle_timeout":       c.HTTP.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	for i, s := range c.Seed {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("seed[%d]: id is required", i)
		}
		if err := croneval.Validate(s.CronExpression); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		for j, t := range s.Tasks {
			if _, err := ParseDurationField(fmt.Sprintf("seed[%d].tasks[%d].time_offset", i, j), t.TimeOffset); err != nil {
				return err
			}
		}
	}
	return nil
}
