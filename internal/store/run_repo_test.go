package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRunStatus(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"running", "success", "error", "cancelled"} {
		status, err := ParseRunStatus(raw)
		require.NoError(t, err)
		require.Equal(t, RunStatus(raw), status)
	}
	_, err := ParseRunStatus("paused")
	require.Error(t, err)

	require.False(t, RunRunning.Terminal())
	require.True(t, RunCancelled.Terminal())
}
