// Package memory provides in-process storage used for development and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/workbench-tasks/internal/store"
)

// RunStore keeps runs in a map. It implements store.RunRepository.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.Run
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]store.Run)}
}

// UpsertRunStart records a running run unless it is already known.
func (s *RunStore) UpsertRunStart(_ context.Context, id uuid.UUID, name string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; ok {
		return nil
	}
	s.runs[id] = store.Run{
		ID:        id,
		Name:      name,
		StartedAt: startedAt,
		Status:    store.RunRunning,
		UpdatedAt: startedAt,
	}
	return nil
}

// UpdateRunProgress stores the latest progress of a running run.
func (s *RunStore) UpdateRunProgress(_ context.Context, id uuid.UUID, percent int, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status != store.RunRunning {
		return nil
	}
	run.Percent = percent
	run.Message = message
	run.UpdatedAt = at
	s.runs[id] = run
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	if !status.Terminal() {
		return fmt.Errorf("complete run: status %q is not terminal", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("complete run %s: %w", id, store.ErrNotFound)
	}
	finished := finishedAt
	run.FinishedAt = &finished
	run.Status = status
	run.UpdatedAt = finishedAt
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[id] = run
	return nil
}

// GetRun returns a copy of the stored run.
func (s *RunStore) GetRun(_ context.Context, id uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs ordered by start time, newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	runs := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()

	slices.SortFunc(runs, func(a, b store.Run) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	if offset >= len(runs) {
		return nil, nil
	}
	runs = runs[max(offset, 0):]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}
