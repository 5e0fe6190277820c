package cron

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		spec string
		want time.Time
	}{
		{"@every 10m", now.Add(10 * time.Minute)},
		{"@hourly", now.Add(time.Hour)},
		{"30 * * * *", now.Add(30 * time.Minute)},
		{"15 10 * * * *", now.Add(10*time.Minute + 15*time.Second)},
		{"CRON_TZ=UTC 0 12 * * *", now.Add(2 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			sched, err := ParseSchedule(tt.spec)
			if err != nil {
				t.Fatalf("ParseSchedule() error = %v", err)
			}
			if got := sched.Next(now); !got.Equal(tt.want) {
				t.Errorf("Next() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseScheduleErrors(t *testing.T) {
	for _, spec := range []string{"", "   ", "every day", "61 * * * *"} {
		if _, err := ParseSchedule(spec); err == nil {
			t.Errorf("ParseSchedule(%q) expected error", spec)
		}
	}
}

func TestZeroScheduleNeverFires(t *testing.T) {
	if next := (Schedule{}).Next(time.Now()); !next.IsZero() {
		t.Errorf("Next() = %v, want zero", next)
	}
}
