package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "paneld/pkg/logx"

	_ "modernc.org/sqlite"

	"paneld/internal/panel"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db         *sql.DB
	log        logx.Logger
	historyCap int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, historyCap: runHistoryCap(cfg)}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListActiveSchedules(ctx context.Context) ([]panel.Projection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cron_expression, next_run_at FROM schedules WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []panel.Projection
	for rows.Next() {
		var p panel.Projection
		var next sql.NullString
		if err := rows.Scan(&p.ID, &p.CronExpression, &next); err != nil {
			return nil, err
		}
		p.NextRunAt, err = scanTime(next)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListSchedules(ctx context.Context) ([]panel.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, server_id, name, cron_expression, is_active, last_run_at, next_run_at
		 FROM schedules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []panel.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		tasks, err := s.loadTasks(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Tasks = tasks
	}
	return out, nil
}

func (s *sqliteStore) LoadSchedule(ctx context.Context, id string) (panel.Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, server_id, name, cron_expression, is_active, last_run_at, next_run_at
		 FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return panel.Schedule{}, ErrNotFound
	}
	if err != nil {
		return panel.Schedule{}, err
	}
	sc.Tasks, err = s.loadTasks(ctx, id)
	if err != nil {
		return panel.Schedule{}, err
	}
	return sc, nil
}

func (s *sqliteStore) SaveSchedule(ctx context.Context, sc panel.Schedule) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO schedules(id, server_id, name, cron_expression, is_active, last_run_at, next_run_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   server_id=excluded.server_id, name=excluded.name,
		   cron_expression=excluded.cron_expression, is_active=excluded.is_active,
		   last_run_at=excluded.last_run_at, next_run_at=excluded.next_run_at`,
		sc.ID, sc.ServerID, sc.Name, sc.CronExpression, boolInt(sc.IsActive),
		timeStr(sc.LastRunAt), timeStr(sc.NextRunAt))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE schedule_id = ?`, sc.ID); err != nil {
		return err
	}
	for _, t := range sc.Tasks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tasks(id, schedule_id, action, payload, sequence, trigger_mode, time_offset)
			 VALUES(?,?,?,?,?,?,?)`,
			t.ID, sc.ID, string(t.Action), t.Payload, t.Sequence, string(t.Trigger), t.TimeOffset)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) RecordRunStart(ctx context.Context, id string, at time.Time) error {
	return s.updateTimestamp(ctx, "last_run_at", id, at)
}

func (s *sqliteStore) RecordNextRunAt(ctx context.Context, id string, at time.Time) error {
	return s.updateTimestamp(ctx, "next_run_at", id, at)
}

func (s *sqliteStore) updateTimestamp(ctx context.Context, col, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET `+col+` = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	results, err := json.Marshal(r.Results)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(id, schedule_id, server_id, manual, started_at, finished_at, results)
		 VALUES(?,?,?,?,?,?,?)`,
		r.ID, r.ScheduleID, r.ServerID, boolInt(r.Manual),
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(results))
	if err != nil {
		return err
	}
	// Keep run history bounded per schedule.
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE schedule_id = ? AND id NOT IN (
		   SELECT id FROM runs WHERE schedule_id = ? ORDER BY started_at DESC LIMIT ?)`,
		r.ScheduleID, r.ScheduleID, s.historyCap)
	return err
}

func (s *sqliteStore) ListRuns(ctx context.Context, scheduleID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = s.historyCap
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, schedule_id, server_id, manual, started_at, finished_at, results
		 FROM runs WHERE schedule_id = ? ORDER BY started_at DESC LIMIT ?`,
		scheduleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var manual int
		var started, finished, results string
		if err := rows.Scan(&r.ID, &r.ScheduleID, &r.ServerID, &manual, &started, &finished, &results); err != nil {
			return nil, err
		}
		r.Manual = manual != 0
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(results), &r.Results); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) loadTasks(ctx context.Context, scheduleID string) ([]panel.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, schedule_id, action, payload, sequence, trigger_mode, time_offset
		 FROM tasks WHERE schedule_id = ? ORDER BY sequence`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []panel.Task
	for rows.Next() {
		var t panel.Task
		var action, trigger string
		if err := rows.Scan(&t.ID, &t.ScheduleID, &action, &t.Payload, &t.Sequence, &trigger, &t.TimeOffset); err != nil {
			return nil, err
		}
		t.Action = panel.Action(action)
		t.Trigger = panel.TriggerMode(trigger)
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (panel.Schedule, error) {
	var sc panel.Schedule
	var active int
	var last, next sql.NullString
	if err := row.Scan(&sc.ID, &sc.ServerID, &sc.Name, &sc.CronExpression, &active, &last, &next); err != nil {
		return panel.Schedule{}, err
	}
	sc.IsActive = active != 0
	var err error
	if sc.LastRunAt, err = scanTime(last); err != nil {
		return panel.Schedule{}, err
	}
	if sc.NextRunAt, err = scanTime(next); err != nil {
		return panel.Schedule{}, err
	}
	return sc, nil
}

func scanTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func timeStr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
