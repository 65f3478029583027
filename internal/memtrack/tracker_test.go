package memtrack

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T) (*Tracker, *time.Time) {
	t.Helper()
	tr, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestTrackKeepsLatestSize(t *testing.T) {
	t.Parallel()

	tr, _ := newTracker(t)
	require.NoError(t, tr.Track("model", 512))
	require.NoError(t, tr.Track("dataset", 2048))
	require.NoError(t, tr.Track("model", 1024))

	require.Equal(t, int64(1024), tr.Component("model"))
	require.Equal(t, int64(2048), tr.Component("dataset"))
	require.Zero(t, tr.Component("editor"))
	require.Equal(t, int64(3072), tr.Total())
	require.Equal(t, map[string]int64{"model": 1024, "dataset": 2048}, tr.Components())
	require.Len(t, tr.History(), 3)

	require.Equal(t, 1024.0, testutil.ToFloat64(tr.gauge.WithLabelValues("model")))
	require.Equal(t, 2048.0, testutil.ToFloat64(tr.gauge.WithLabelValues("dataset")))
}

func TestTrackRejectsBadReports(t *testing.T) {
	t.Parallel()

	tr, _ := newTracker(t)
	require.ErrorIs(t, tr.Track("", 10), ErrEmptyComponent)
	require.Error(t, tr.Track("model", -1))
	require.Empty(t, tr.History())
	require.Zero(t, tr.Total())
}

func TestClearHistoryBefore(t *testing.T) {
	t.Parallel()

	tr, now := newTracker(t)
	start := *now
	require.NoError(t, tr.Track("model", 1))
	*now = now.Add(time.Minute)
	require.NoError(t, tr.Track("model", 2))
	*now = now.Add(time.Minute)
	require.NoError(t, tr.Track("dataset", 3))

	removed := tr.ClearHistory(start.Add(time.Minute))
	require.Equal(t, 1, removed)
	hist := tr.History()
	require.Len(t, hist, 2)
	require.Equal(t, int64(2), hist[0].Bytes)
	require.Equal(t, start.Add(time.Minute), hist[0].At)

	// Latest sizes survive history pruning.
	require.Equal(t, int64(5), tr.Total())

	require.Equal(t, 2, tr.ClearHistory(time.Time{}))
	require.Empty(t, tr.History())
	require.Equal(t, int64(2), tr.Component("model"))
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}
