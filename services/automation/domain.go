// Package automation provides the keeper that polls registered upkeeps on a
// cron schedule and performs them when they report work to do.
package automation

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrUpkeepNotFound   = errors.New("upkeep not found")
	ErrUpkeepExists     = errors.New("upkeep already registered")
	ErrInvalidSchedule  = errors.New("invalid schedule")
	ErrInvalidUpkeep    = errors.New("invalid upkeep")
	ErrKeeperNotRunning = errors.New("keeper not running")
)

// Upkeep is something the keeper can check and perform. CheckUpkeep must be
// read-only; PerformUpkeep re-validates on its side and may fail.
type Upkeep interface {
	CheckUpkeep(ctx context.Context, checkData []byte) (needed bool, performData []byte, err error)
	PerformUpkeep(ctx context.Context, performData []byte) error
}

// Result is the outcome of one keeper tick.
type Result string

const (
	ResultSkipped   Result = "skipped"
	ResultPerformed Result = "performed"
	ResultFailed    Result = "failed"
)

// Status is the run record of a registered upkeep.
type Status struct {
	Name          string    `json:"name"`
	Schedule      string    `json:"schedule"`
	RunCount      int64     `json:"run_count"`
	PerformCount  int64     `json:"perform_count"`
	ErrorCount    int64     `json:"error_count"`
	LastResult    Result    `json:"last_result,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastRunAt     time.Time `json:"last_run_at,omitempty"`
	LastPerformAt time.Time `json:"last_perform_at,omitempty"`
	NextRunAt     time.Time `json:"next_run_at,omitempty"`
}
