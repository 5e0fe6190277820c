package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Schedule is a parsed cron expression or descriptor such as "@every 10m".
type Schedule struct {
	Spec  string
	sched cron.Schedule
}

// ParseSchedule parses spec, optionally prefixed with CRON_TZ=.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Schedule{}, fmt.Errorf("schedule is required")
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return Schedule{Spec: spec, sched: sched}, nil
}

// Next returns the first activation after now.
func (s Schedule) Next(now time.Time) time.Time {
	if s.sched == nil {
		return time.Time{}
	}
	return s.sched.Next(now)
}
