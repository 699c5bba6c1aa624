// Package statetest holds a behavior suite shared by every state.Store
// implementation.
package statetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rudransh-shrivastava/peer-tracker/internal/catalog"
	"github.com/rudransh-shrivastava/peer-tracker/internal/state"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) state.Store

// RunStoreTests runs the shared suite against stores built by factory.
func RunStoreTests(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("LoadEmpty", func(t *testing.T) { testLoadEmpty(t, factory) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, factory) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("EmptySnapshot", func(t *testing.T) { testEmptySnapshot(t, factory) })
}

func open(t *testing.T, factory Factory) state.Store {
	t.Helper()
	s := factory(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testLoadEmpty(t *testing.T, factory Factory) {
	s := open(t, factory)

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Nil(t, snap, "nothing saved yet")
}

func sample() *state.Snapshot {
	uploaded := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := state.NewSnapshot()
	snap.TorrentsMetadata["a1b2c3d4"] = catalog.Descriptor{
		Filename:   "movie.mp4",
		UploadedAt: uploaded,
		Size:       1048576,
		InfoHash:   "a1b2c3d4",
	}
	snap.TorrentSwarms["abc"] = []string{"alice", "bob"}
	snap.TorrentSwarms["xyz"] = []string{"carol"}
	return snap
}

func testRoundTrip(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := open(t, factory)

	want := sample()
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)

	require.Equal(t, want.TorrentSwarms, got.TorrentSwarms)
	require.Len(t, got.TorrentsMetadata, 1)
	d := got.TorrentsMetadata["a1b2c3d4"]
	require.Equal(t, "movie.mp4", d.Filename)
	require.Equal(t, int64(1048576), d.Size)
	require.Equal(t, "a1b2c3d4", d.InfoHash)
	require.True(t, d.UploadedAt.Equal(want.TorrentsMetadata["a1b2c3d4"].UploadedAt))
}

func testOverwrite(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := open(t, factory)

	require.NoError(t, s.Save(ctx, sample()))

	next := state.NewSnapshot()
	next.TorrentSwarms["abc"] = []string{"bob"}
	require.NoError(t, s.Save(ctx, next))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"abc": {"bob"}}, got.TorrentSwarms)
	require.Empty(t, got.TorrentsMetadata)
}

func testEmptySnapshot(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := open(t, factory)

	require.NoError(t, s.Save(ctx, state.NewSnapshot()))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got, "an empty record is still a record")
	require.NotNil(t, got.TorrentsMetadata)
	require.NotNil(t, got.TorrentSwarms)
	require.Empty(t, got.TorrentSwarms)
}
