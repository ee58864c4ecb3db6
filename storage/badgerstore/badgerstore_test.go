package badgerstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phroun/cellrope"
	"github.com/phroun/cellrope/storage/storetest"
)

func TestStoreInMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		s, err := Open(InMemoryConfig())
		require.NoError(t, err)
		return s
	})
}

func TestStoreReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")

	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0
	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.PutSnapshot(ctx, storetest.Sample("kept", 7)))
	first, err := s.AppendOp(ctx, "kept", cellrope.Op{Type: cellrope.OpRemove, Pos1: 0, Pos2: 1, Seq: 8})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	snap, err := s.GetSnapshot(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.Seq)

	// The op counter resumes past the previous lease.
	second, err := s.AppendOp(ctx, "kept", cellrope.Op{Type: cellrope.OpRemove, Pos1: 0, Pos2: 1, Seq: 2, ClientID: "later"})
	require.NoError(t, err)
	assert.Greater(t, second, first)

	entries, err := s.OpsSince(ctx, "kept", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first, entries[0].Pos)
	assert.Equal(t, "later", entries[1].Op.ClientID)

	entries, err = s.OpsSince(ctx, "kept", first)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, second, entries[0].Pos)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestOpKeyOrdering(t *testing.T) {
	assert.Less(t, string(opKey("a", 9)), string(opKey("a", 10)))
	assert.Less(t, string(opKey("a", 2)), string(opKey("a", 100000)))
	assert.NotContains(t, string(journalPrefix("a/b")), "a/b")
}
