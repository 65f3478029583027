package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/workbench-tasks/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	id := uuid.New()
	start := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.UpsertRunStart(ctx, id, "train", start))
	require.NoError(t, s.UpsertRunStart(ctx, id, "ignored", start.Add(time.Hour)))
	require.NoError(t, s.UpdateRunProgress(ctx, id, 55, "epoch 5", start.Add(time.Second)))

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "train", run.Name)
	require.Equal(t, store.RunRunning, run.Status)
	require.Equal(t, 55, run.Percent)
	require.Equal(t, "epoch 5", run.Message)

	msg := "out of memory"
	require.NoError(t, s.CompleteRun(ctx, id, start.Add(time.Minute), store.RunError, &msg))
	require.NoError(t, s.UpdateRunProgress(ctx, id, 90, "late", start.Add(2*time.Minute)))

	run, err = s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.RunError, run.Status)
	require.Equal(t, 55, run.Percent)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, "out of memory", *run.ErrorMessage)
}

func TestRunStoreErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()

	_, err := s.GetRun(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)

	err = s.CompleteRun(ctx, uuid.New(), time.Now(), store.RunSuccess, nil)
	require.ErrorIs(t, err, store.ErrNotFound)

	err = s.CompleteRun(ctx, uuid.New(), time.Now(), store.RunRunning, nil)
	require.Error(t, err)
}

func TestRunStoreList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	base := time.Unix(1700000000, 0).UTC()
	ids := make([]uuid.UUID, 4)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, s.UpsertRunStart(ctx, ids[i], "job", base.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, s.CompleteRun(ctx, ids[1], base.Add(time.Minute), store.RunCancelled, nil))

	all, err := s.ListRuns(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, ids[3], all[0].ID)
	require.Equal(t, ids[0], all[3].ID)

	page, err := s.ListRuns(ctx, nil, 2, 1)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{ids[2], ids[1]}, []uuid.UUID{page[0].ID, page[1].ID})

	cancelled := store.RunCancelled
	filtered, err := s.ListRuns(ctx, &cancelled, 10, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, ids[1], filtered[0].ID)

	empty, err := s.ListRuns(ctx, nil, 10, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}
