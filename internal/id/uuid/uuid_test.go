package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestGeneratorNewID ensures generated IDs are unique and valid UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestGeneratorRawIDsAreOrdered(t *testing.T) {
	t.Parallel()

	gen := New()
	prev := gen.MustRawID()
	for range 100 {
		next := gen.MustRawID()
		require.Equal(t, goUUID.Version(7), next.Version())
		require.Less(t, prev.String(), next.String())
		prev = next
	}
}
