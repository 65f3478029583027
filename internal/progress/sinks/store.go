package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/workbench-tasks/internal/progress"
	"github.com/JakeFAU/workbench-tasks/internal/store"
)

// StoreSink persists run lifecycles via a store.RunRepository. Progress
// updates within a batch are collapsed to the latest value per run to reduce
// write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type latestProgress struct {
	percent int
	message string
	at      time.Time
}

// Consume applies the batch to the repository in event order, except that
// progress is written once per run, before any terminal event of that run.
// A failing event does not stop the rest of the batch. Runs the repository
// does not know, typically because their start event was dropped upstream,
// are logged and skipped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]*latestProgress)
	var (
		order []uuid.UUID
		errs  []error
	)

	for _, evt := range batch {
		id := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.UpsertRunStart(ctx, id, evt.Name, evt.TS); err != nil {
				errs = append(errs, fmt.Errorf("upsert run start %s: %w", id, err))
			}
		case progress.StageRunProgress:
			p, ok := pending[id]
			if !ok {
				p = &latestProgress{}
				pending[id] = p
				order = append(order, id)
			}
			p.percent, p.message, p.at = evt.Percent, evt.Note, evt.TS
		case progress.StageRunDone, progress.StageRunError, progress.StageRunCancelled:
			if p, ok := pending[id]; ok {
				errs = s.keep(errs, id, "update run progress",
					s.repo.UpdateRunProgress(ctx, id, p.percent, p.message, p.at))
				delete(pending, id)
			}
			errs = s.keep(errs, id, "complete run", s.complete(ctx, id, evt))
		}
	}

	for _, id := range order {
		p, ok := pending[id]
		if !ok {
			continue
		}
		errs = s.keep(errs, id, "update run progress",
			s.repo.UpdateRunProgress(ctx, id, p.percent, p.message, p.at))
	}
	return errors.Join(errs...)
}

// keep appends err to errs unless it reports an unknown run.
func (s *StoreSink) keep(errs []error, id uuid.UUID, op string, err error) []error {
	switch {
	case err == nil:
		return errs
	case errors.Is(err, store.ErrNotFound):
		s.logger.Debug("run event for unknown run skipped", zap.String("op", op), zap.Stringer("run_id", id))
		return errs
	default:
		return append(errs, fmt.Errorf("%s %s: %w", op, id, err))
	}
}

func (s *StoreSink) complete(ctx context.Context, id uuid.UUID, evt progress.Event) error {
	var (
		status store.RunStatus
		note   *string
	)
	switch evt.Stage {
	case progress.StageRunDone:
		status = store.RunSuccess
	case progress.StageRunCancelled:
		status = store.RunCancelled
	default:
		status = store.RunError
		if evt.Note != "" {
			msg := evt.Note
			note = &msg
		}
	}
	return s.repo.CompleteRun(ctx, id, evt.TS, status, note)
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
