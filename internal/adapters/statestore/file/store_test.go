package file

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zigquant/engine/internal/ports"
)

func TestStore_AppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.AppendEvent(ctx, []byte("intent-1")))
	require.NoError(t, s.AppendEvent(ctx, []byte("intent-2")))
	require.NoError(t, s.AppendEvent(ctx, []byte("intent-3")))

	ch, err := s.ReplaySince(ctx, 0)
	require.NoError(t, err)

	var got [][]byte
	for payload := range ch {
		got = append(got, payload)
	}
	require.Equal(t, [][]byte{[]byte("intent-1"), []byte("intent-2"), []byte("intent-3")}, got)
}

func TestStore_ReplaySinceSkipsAlreadyApplied(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.AppendEvent(ctx, []byte("intent-1")))
	require.NoError(t, s.AppendEvent(ctx, []byte("intent-2")))

	ch, err := s.ReplaySince(ctx, 1)
	require.NoError(t, err)

	var got [][]byte
	for payload := range ch {
		got = append(got, payload)
	}
	require.Equal(t, [][]byte{[]byte("intent-2")}, got)
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	_, found, err := s.LoadLatest(ctx)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.SaveSnapshot(ctx, ports.Snapshot{Bytes: []byte("snapshot-v1")}))

	loaded, found, err := s.LoadLatest(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("snapshot-v1"), loaded.Bytes)

	// A second save must fully replace the first, not append or corrupt it.
	require.NoError(t, s.SaveSnapshot(ctx, ports.Snapshot{Bytes: []byte("snapshot-v2")}))
	loaded, found, err = s.LoadLatest(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("snapshot-v2"), loaded.Bytes)
}

func TestStore_RecoversVersionAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s1.AppendEvent(ctx, []byte("intent-1")))
	require.NoError(t, s1.AppendEvent(ctx, []byte("intent-2")))
	require.NoError(t, s1.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	require.NoError(t, s2.AppendEvent(ctx, []byte("intent-3")))

	ch, err := s2.ReplaySince(ctx, 0)
	require.NoError(t, err)
	var got [][]byte
	for payload := range ch {
		got = append(got, payload)
	}
	require.Equal(t, [][]byte{[]byte("intent-1"), []byte("intent-2"), []byte("intent-3")}, got)
}
