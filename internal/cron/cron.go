// Package cron parses the restricted 5-field cron dialect used by panel
// schedules and computes fire times from it.
//
// The dialect is deliberately narrow: minute and hour are literal integers,
// day-of-month and month accept only "*", and day-of-week is "*" or a comma
// list of 0..6 (0 = Sunday). Anything else is a ParseError. Schedule writes
// must be rejected on a ParseError; the runtime never sees an expression that
// did not pass Parse.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	cronv3 "github.com/robfig/cron/v3"
)

// ParseError describes a rejected cron expression.
//
// Field names the offending position ("minute", "hour", "day-of-month",
// "month", "day-of-week", or "expression" for structural problems).
type ParseError struct {
	Expr   string
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cron: invalid %s in %q: %s", e.Field, e.Expr, e.Reason)
}

// Expression is a validated schedule expression bound to a location.
//
// The zero value is not usable; obtain one via Parse or ParseInLocation.
// Expressions are immutable after Parse and safe for concurrent use.
type Expression struct {
	raw      string
	minute   int
	hour     int
	weekdays []time.Weekday // nil means every weekday

	sched cronv3.Schedule
}

var fieldParser = cronv3.NewParser(cronv3.Minute | cronv3.Hour | cronv3.Dom | cronv3.Month | cronv3.Dow)

// Parse validates expr against the restricted dialect and binds it to UTC.
//
// The panel stores and evaluates schedule times in UTC so that Next is
// deterministic regardless of the host timezone.
func Parse(expr string) (Expression, error) {
	return ParseInLocation(expr, time.UTC)
}

// ParseInLocation is Parse with an explicit evaluation location.
func ParseInLocation(expr string, loc *time.Location) (Expression, error) {
	if loc == nil {
		loc = time.UTC
	}
	raw := strings.TrimSpace(expr)
	fields := strings.Fields(raw)
	if len(fields) != 5 {
		return Expression{}, &ParseError{Expr: expr, Field: "expression", Reason: fmt.Sprintf("expected 5 fields, got %d", len(fields))}
	}

	minute, err := parseLiteral(fields[0], 0, 59)
	if err != nil {
		return Expression{}, &ParseError{Expr: expr, Field: "minute", Reason: err.Error()}
	}
	hour, err := parseLiteral(fields[1], 0, 23)
	if err != nil {
		return Expression{}, &ParseError{Expr: expr, Field: "hour", Reason: err.Error()}
	}
	if fields[2] != "*" {
		return Expression{}, &ParseError{Expr: expr, Field: "day-of-month", Reason: "only \"*\" is supported"}
	}
	if fields[3] != "*" {
		return Expression{}, &ParseError{Expr: expr, Field: "month", Reason: "only \"*\" is supported"}
	}
	weekdays, err := parseWeekdays(fields[4])
	if err != nil {
		return Expression{}, &ParseError{Expr: expr, Field: "day-of-week", Reason: err.Error()}
	}

	sched, err := fieldParser.Parse(raw)
	if err != nil {
		// Should be unreachable after the checks above; surface it anyway.
		return Expression{}, &ParseError{Expr: expr, Field: "expression", Reason: err.Error()}
	}
	if ss, ok := sched.(*cronv3.SpecSchedule); ok {
		ss.Location = loc
	}

	return Expression{raw: raw, minute: minute, hour: hour, weekdays: weekdays, sched: sched}, nil
}

// Validate reports whether expr is acceptable, without keeping the result.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// Next returns the earliest fire time strictly after the reference instant.
//
// Rollover across day, month and year boundaries is handled by the underlying
// schedule; repeated calls with the same argument return the same instant.
func (e Expression) Next(after time.Time) time.Time {
	return e.sched.Next(after)
}

// String returns the normalized expression text.
func (e Expression) String() string { return e.raw }

// Minute returns the literal minute field.
func (e Expression) Minute() int { return e.minute }

// Hour returns the literal hour field.
func (e Expression) Hour() int { return e.hour }

// Weekdays returns the allowed weekdays, or nil when every weekday matches.
func (e Expression) Weekdays() []time.Weekday {
	if e.weekdays == nil {
		return nil
	}
	return append([]time.Weekday(nil), e.weekdays...)
}

func parseLiteral(s string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("literal integer required, got %q", s)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d out of range [%d,%d]", n, lo, hi)
	}
	return n, nil
}

func parseWeekdays(s string) ([]time.Weekday, error) {
	if s == "*" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]time.Weekday, 0, len(parts))
	seen := [7]bool{}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("literal integer or \"*\" required, got %q", p)
		}
		if n < 0 || n > 6 {
			return nil, fmt.Errorf("%d out of range [0,6]", n)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, time.Weekday(n))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty weekday list")
	}
	return out, nil
}
