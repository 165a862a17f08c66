package cron

import "time"

// DefaultSchedule runs a sweep every minute
const DefaultSchedule = "@every 1m"

// DefaultStaleAfter is how long an execution may sit untouched before a
// sweep picks it up
const DefaultStaleAfter = 5 * time.Minute

// Result counts what one sweep enqueued
type Result struct {
	Executed int `json:"executed"`
	Resumed  int `json:"resumed"`
}

// State tracks the sweeper's runs
type State struct {
	NextRunAt         *time.Time    `json:"next_run_at,omitempty"`
	LastRunAt         *time.Time    `json:"last_run_at,omitempty"`
	LastStatus        string        `json:"last_status,omitempty"` // "ok" or "error"
	LastError         string        `json:"last_error,omitempty"`
	LastDuration      time.Duration `json:"last_duration,omitempty"`
	LastResult        Result        `json:"last_result"`
	ConsecutiveErrors int           `json:"consecutive_errors,omitempty"`
}
