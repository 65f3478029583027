package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the task_runs.status column.
type RunStatus string

// Run statuses persisted in task_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunError     RunStatus = "error"
	RunCancelled RunStatus = "cancelled"
)

// ParseRunStatus validates a user supplied status filter.
func ParseRunStatus(raw string) (RunStatus, error) {
	switch s := RunStatus(raw); s {
	case RunRunning, RunSuccess, RunError, RunCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("invalid run status %q", raw)
	}
}

// Terminal reports whether s is a finished status.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunError || s == RunCancelled
}

// Run models one persisted worker run.
type Run struct {
	// ID is the worker's run identifier.
	ID uuid.UUID
	// Name is the task label, possibly empty.
	Name       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	// Percent is the last progress value seen.
	Percent int
	// Message is the last progress message.
	Message      string
	UpdatedAt    time.Time
	ErrorMessage *string
}

// RunRepository persists worker run lifecycles.
type RunRepository interface {
	// UpsertRunStart records a started run; repeating it is harmless.
	UpsertRunStart(ctx context.Context, id uuid.UUID, name string, startedAt time.Time) error
	// UpdateRunProgress stores the latest progress of a running run.
	UpdateRunProgress(ctx context.Context, id uuid.UUID, percent int, message string, at time.Time) error
	// CompleteRun marks the run finished with a terminal status.
	CompleteRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
