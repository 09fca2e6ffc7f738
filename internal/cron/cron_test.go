package cron

import (
	"errors"
	"testing"
	"time"
)

func TestParseValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		expr     string
		minute   int
		hour     int
		weekdays []time.Weekday
	}{
		{name: "daily", expr: "0 4 * * *", minute: 0, hour: 4},
		{name: "hourly top", expr: "0 0 * * *", minute: 0, hour: 0},
		{name: "weekday list", expr: "30 9 * * 1,3,5", minute: 30, hour: 9, weekdays: []time.Weekday{time.Monday, time.Wednesday, time.Friday}},
		{name: "single weekday", expr: "15 22 * * 0", minute: 15, hour: 22, weekdays: []time.Weekday{time.Sunday}},
		{name: "extra whitespace", expr: "  5  6 * * *  ", minute: 5, hour: 6},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.expr, err)
			}
			if e.Minute() != tt.minute {
				t.Fatalf("Minute = %d, want %d", e.Minute(), tt.minute)
			}
			if e.Hour() != tt.hour {
				t.Fatalf("Hour = %d, want %d", e.Hour(), tt.hour)
			}
			got := e.Weekdays()
			if len(got) != len(tt.weekdays) {
				t.Fatalf("Weekdays = %v, want %v", got, tt.weekdays)
			}
			for i := range got {
				if got[i] != tt.weekdays[i] {
					t.Fatalf("Weekdays = %v, want %v", got, tt.weekdays)
				}
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		expr  string
		field string
	}{
		{name: "too few fields", expr: "0 4 * *", field: "expression"},
		{name: "too many fields", expr: "0 4 * * * *", field: "expression"},
		{name: "minute range", expr: "60 4 * * *", field: "minute"},
		{name: "minute wildcard", expr: "* 4 * * *", field: "minute"},
		{name: "minute step", expr: "*/5 4 * * *", field: "minute"},
		{name: "hour range", expr: "0 24 * * *", field: "hour"},
		{name: "hour non-numeric", expr: "0 noon * * *", field: "hour"},
		{name: "dom restricted", expr: "0 4 15 * *", field: "day-of-month"},
		{name: "month restricted", expr: "0 4 * 6 *", field: "month"},
		{name: "dow out of range", expr: "0 4 * * 7", field: "day-of-week"},
		{name: "dow non-numeric", expr: "0 4 * * mon", field: "day-of-week"},
		{name: "dow trailing comma", expr: "0 4 * * 1,", field: "day-of-week"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expr)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tt.expr)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error %T is not *ParseError", err)
			}
			if pe.Field != tt.field {
				t.Fatalf("Field = %q, want %q", pe.Field, tt.field)
			}
		})
	}
}

func TestNextScenarios(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		expr  string
		after time.Time
		want  time.Time
	}{
		{
			name:  "daily at 04:00, reference just past",
			expr:  "0 4 * * *",
			after: time.Date(2024, 1, 1, 4, 0, 1, 0, time.UTC),
			want:  time.Date(2024, 1, 2, 4, 0, 0, 0, time.UTC),
		},
		{
			name:  "daily at 04:00, reference just before",
			expr:  "0 4 * * *",
			after: time.Date(2024, 1, 1, 3, 59, 59, 0, time.UTC),
			want:  time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC),
		},
		{
			name: "exact fire time rolls to next day",
			expr: "0 4 * * *",
			// Strictly greater: the reference itself is never returned.
			after: time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC),
			want:  time.Date(2024, 1, 2, 4, 0, 0, 0, time.UTC),
		},
		{
			name:  "mon/wed/fri from saturday",
			expr:  "30 9 * * 1,3,5",
			after: time.Date(2024, 1, 6, 12, 0, 0, 0, time.UTC), // Saturday
			want:  time.Date(2024, 1, 8, 9, 30, 0, 0, time.UTC), // following Monday
		},
		{
			name:  "month rollover",
			expr:  "0 4 * * *",
			after: time.Date(2024, 1, 31, 5, 0, 0, 0, time.UTC),
			want:  time.Date(2024, 2, 1, 4, 0, 0, 0, time.UTC),
		},
		{
			name:  "year rollover",
			expr:  "30 23 * * *",
			after: time.Date(2023, 12, 31, 23, 45, 0, 0, time.UTC),
			want:  time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC),
		},
		{
			name:  "leap day",
			expr:  "0 4 * * *",
			after: time.Date(2024, 2, 28, 5, 0, 0, 0, time.UTC),
			want:  time.Date(2024, 2, 29, 4, 0, 0, 0, time.UTC),
		},
		{
			name:  "sunday is zero",
			expr:  "0 12 * * 0",
			after: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), // Monday
			want:  time.Date(2024, 1, 7, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.expr, err)
			}
			got := e.Next(tt.after)
			if !got.Equal(tt.want) {
				t.Fatalf("Next(%v) = %v, want %v", tt.after, got, tt.want)
			}
			if !got.After(tt.after) {
				t.Fatalf("Next(%v) = %v is not strictly after reference", tt.after, got)
			}
		})
	}
}

func TestNextIsIdempotent(t *testing.T) {
	t.Parallel()
	e, err := Parse("0 4 * * *")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	after := time.Date(2024, 5, 17, 10, 11, 12, 0, time.UTC)
	first := e.Next(after)
	for i := 0; i < 5; i++ {
		if got := e.Next(after); !got.Equal(first) {
			t.Fatalf("call %d: Next = %v, want %v", i, got, first)
		}
	}
}

func TestNextNoEarlierFiring(t *testing.T) {
	t.Parallel()
	e, err := Parse("30 9 * * 1,3,5")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	after := time.Date(2024, 1, 6, 12, 0, 0, 0, time.UTC)
	next := e.Next(after)

	// Walk minute by minute between the reference and the returned fire time
	// and assert that no intermediate instant matches the expression.
	allowed := map[time.Weekday]bool{time.Monday: true, time.Wednesday: true, time.Friday: true}
	for t0 := after.Truncate(time.Minute).Add(time.Minute); t0.Before(next); t0 = t0.Add(time.Minute) {
		if t0.Minute() == 30 && t0.Hour() == 9 && allowed[t0.Weekday()] {
			t.Fatalf("found earlier valid firing %v before %v", t0, next)
		}
	}
}
