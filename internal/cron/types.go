// Package cron runs periodic maintenance jobs on robfig/cron schedules:
// OAuth credential pruning and recovery of orphaned test suite runs.
package cron

import (
	"context"
	"time"
)

// Handler executes one run of a job.
type Handler interface {
	Run(ctx context.Context) error
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context) error

// Run executes the handler function.
func (f HandlerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Job represents a scheduled job.
type Job struct {
	ID       string
	Schedule Schedule
	Handler  Handler

	NextRun   time.Time
	LastRun   time.Time
	LastError string
	Runs      int
}
