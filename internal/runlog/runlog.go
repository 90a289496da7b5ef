// Package runlog records every pipeline invocation with its outcome counts.
// Skipped submissions and dropped facts are not errors, so the ledger is
// the place to see how complete a partition's output is.
package runlog

import (
	"context"
	"errors"
	"time"
)

// ErrRunNotFound is returned when updating a run ID the ledger does not hold.
var ErrRunNotFound = errors.New("runlog: run not found")

// Status of a run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Counts summarizes what a run produced and what it skipped.
type Counts struct {
	Submissions  int64 `json:"submissions"`
	Emitted      int64 `json:"emitted"`
	Skipped      int64 `json:"skipped"`
	Failed       int64 `json:"failed"`
	Facts        int64 `json:"facts"`
	FactsDropped int64 `json:"facts_dropped"`
	Tables       int64 `json:"tables"`
	Rows         int64 `json:"rows"`
	Bytes        int64 `json:"bytes"`
}

// Entry is one row of the ledger.
type Entry struct {
	ID          string     `json:"id"`
	Partition   string     `json:"partition"`
	Mode        string     `json:"mode"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Counts      Counts     `json:"counts"`
	Error       string     `json:"error,omitempty"`
}

// Store is the run ledger.
type Store interface {
	Start(ctx context.Context, partition, mode string) (string, error)
	Complete(ctx context.Context, id string, counts Counts) error
	Fail(ctx context.Context, id string, counts Counts, errMsg string) error
	List(ctx context.Context, limit int) ([]Entry, error)
	// LastSuccess returns when the newest complete run for partition and mode
	// started, or nil if none has.
	LastSuccess(ctx context.Context, partition, mode string) (*time.Time, error)
	Close() error
}

// Nop discards every record. Used when no ledger is configured.
type Nop struct{}

func (Nop) Start(context.Context, string, string) (string, error) { return "", nil }
func (Nop) Complete(context.Context, string, Counts) error { return nil }
func (Nop) Fail(context.Context, string, Counts, string) error { return nil }
func (Nop) List(context.Context, int) ([]Entry, error) { return nil, nil }
func (Nop) LastSuccess(context.Context, string, string) (*time.Time, error) { return nil, nil }
func (Nop) Close() error { return nil }

const defaultListLimit = 50

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
