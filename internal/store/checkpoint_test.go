package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckpointStore_SaveAndLatest(t *testing.T) {
	cs, err := NewCheckpointStore(":memory:")
	require.NoError(t, err)
	defer cs.Close()

	ctx := context.Background()

	latest, err := cs.Latest(ctx)
	require.NoError(t, err)
	require.Nil(t, latest)

	s := New()
	require.NoError(t, s.Apply(mutation("m1", "n1")))
	require.NoError(t, cs.Save(ctx, s, "waiting"))

	require.NoError(t, s.Apply(mutation("m2", "n2")))
	require.NoError(t, cs.Save(ctx, s, "waiting"))

	latest, err = cs.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, int64(2), latest.Sequence)
	require.Equal(t, 2, latest.NodeCount)
	require.Equal(t, "waiting", latest.State)
}

func TestCheckpointStore_PersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	cs, err := NewCheckpointStore(path)
	require.NoError(t, err)

	s := New()
	require.NoError(t, s.Apply(mutation("m1", "n1")))
	require.NoError(t, cs.Save(context.Background(), s, "waiting"))
	require.NoError(t, cs.Close())

	reopened, err := NewCheckpointStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	latest, err := reopened.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, int64(1), latest.Sequence)
}
