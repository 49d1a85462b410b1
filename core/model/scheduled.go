package model

import (
	"context"
	"time"
)

// Frequency selects how a scheduled job's cron expression is resolved.
type Frequency string

const (
	FrequencyOnce   Frequency = "once"
	FrequencyHourly Frequency = "hourly"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
	FrequencyCron   Frequency = "cron"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyOnce, FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyCron:
		return true
	}
	return false
}

// Recurring reports whether the job may fire more than once.
func (f Frequency) Recurring() bool {
	return f != FrequencyOnce
}

// JobFunc is the callable invoked when a scheduled job runs.
type JobFunc func(ctx context.Context) (any, error)

// ScheduledJob is a registered, cron-driven callable.
type ScheduledJob struct {
	Name      string         `json:"name"`
	CronExpr  string         `json:"cron_expr"`
	Func      JobFunc        `json:"-"`
	Frequency Frequency      `json:"frequency"`
	Enabled   bool           `json:"enabled"`
	LastRun   time.Time      `json:"last_run,omitempty"`
	RunCount  int            `json:"run_count"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// LastDue is the last tick that marked the job due; it keeps a second tick
	// in the same minute from reporting the job again before it has run.
	LastDue time.Time `json:"last_due,omitempty"`
}
