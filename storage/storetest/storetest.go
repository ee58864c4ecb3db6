// Package storetest holds behaviour checks shared by the snapshot store
// backends.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phroun/cellrope"
)

// Store is a snapshot store that also journals ops.
type Store interface {
	cellrope.SnapshotStore
	cellrope.OpLog
}

// Sample returns a small snapshot for id at seq.
func Sample(id string, seq int64) cellrope.Snapshot {
	return cellrope.Snapshot{
		ID:   id,
		Type: cellrope.MatrixType,
		Seq:  seq,
		Segments: []cellrope.SegmentSpec{
			cellrope.PadSpec(4),
			cellrope.ItemsSpec(cellrope.Text("a"), cellrope.Number(2)),
		},
	}
}

// Run exercises snapshots and the journal against stores produced by open.
// Each subtest gets a fresh store; Run closes it.
func Run(t *testing.T, open func(t *testing.T) Store) {
	t.Run("Snapshots", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		defer s.Close()

		_, err := s.GetSnapshot(ctx, "missing")
		require.ErrorIs(t, err, cellrope.ErrSnapshotNotFound)

		require.NoError(t, s.PutSnapshot(ctx, Sample("b/2", 3)))
		require.NoError(t, s.PutSnapshot(ctx, Sample("a", 1)))
		require.NoError(t, s.PutSnapshot(ctx, Sample("a", 5)))

		snap, err := s.GetSnapshot(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, Sample("a", 5), snap)

		ids, err := s.ListSnapshots(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b/2"}, ids)

		require.NoError(t, s.DeleteSnapshot(ctx, "a"))
		_, err = s.GetSnapshot(ctx, "a")
		require.ErrorIs(t, err, cellrope.ErrSnapshotNotFound)
		require.NoError(t, s.DeleteSnapshot(ctx, "a"))
	})

	t.Run("Journal", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		defer s.Close()

		entries, err := s.OpsSince(ctx, "m", 0)
		require.NoError(t, err)
		assert.Empty(t, entries)

		pad := cellrope.PadSpec(3)
		journal := []cellrope.Op{
			{Type: cellrope.OpInsert, Pos1: 0, Seg: &pad, Seq: 1, ClientID: "alice"},
			{Type: cellrope.OpRemove, Pos1: 0, Pos2: 1, Seq: 3, ClientID: "alice"},
			{Type: cellrope.OpRemove, Pos1: 0, Pos2: 1, Seq: 2, ClientID: "zed"},
			{Type: cellrope.OpRemove, Pos1: 1, Pos2: 2, Seq: 1, ClientID: "bob"},
		}
		var positions []int64
		for _, op := range journal {
			pos, err := s.AppendOp(ctx, "m", op)
			require.NoError(t, err)
			positions = append(positions, pos)
		}
		_, err = s.AppendOp(ctx, "m2", journal[1])
		require.NoError(t, err)
		for i := 1; i < len(positions); i++ {
			assert.Greater(t, positions[i], positions[i-1])
		}

		// Arrival order wins over sequence numbers.
		entries, err = s.OpsSince(ctx, "m", 0)
		require.NoError(t, err)
		require.Len(t, entries, 4)
		for i, e := range entries {
			assert.Equal(t, positions[i], e.Pos)
			assert.Equal(t, journal[i], e.Op)
		}

		entries, err = s.OpsSince(ctx, "m", positions[1])
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "zed", entries[0].Op.ClientID)
		assert.Equal(t, "bob", entries[1].Op.ClientID)

		entries, err = s.OpsSince(ctx, "m", positions[3])
		require.NoError(t, err)
		assert.Empty(t, entries)

		require.NoError(t, s.PutSnapshot(ctx, Sample("m", 3)))
		require.NoError(t, s.DeleteSnapshot(ctx, "m"))
		entries, err = s.OpsSince(ctx, "m", 0)
		require.NoError(t, err)
		assert.Empty(t, entries)

		entries, err = s.OpsSince(ctx, "m2", 0)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("Library", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		journal := func(m *cellrope.Matrix) (cellrope.Submitter, error) {
			return cellrope.JournalSubmitter{Log: s, ID: m.ID()}, nil
		}
		lib, err := cellrope.Init(cellrope.LibraryOptions{Store: s, ClientID: "w", Submitters: journal})
		require.NoError(t, err)

		m, err := lib.Create("sheet")
		require.NoError(t, err)
		require.NoError(t, lib.Attach(m))
		require.NoError(t, m.InsertRows(0, 2))
		require.NoError(t, lib.Save(ctx, m))
		require.NoError(t, m.SetItems(1, 1, []cellrope.Value{cellrope.Number(42)}, nil))

		reader, err := cellrope.Init(cellrope.LibraryOptions{Store: s})
		require.NoError(t, err)
		loaded, err := reader.Load(ctx, "sheet")
		require.NoError(t, err)

		v, err := loaded.GetItem(1, 1)
		require.NoError(t, err)
		assert.Equal(t, cellrope.Number(42), v)
		assert.Equal(t, m.Length(), loaded.Length())

		require.NoError(t, lib.Close())
	})

	t.Run("ReplayAfterRemoteOp", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		defer s.Close()

		journal := func(m *cellrope.Matrix) (cellrope.Submitter, error) {
			return cellrope.JournalSubmitter{Log: s, ID: m.ID()}, nil
		}
		lib, err := cellrope.Init(cellrope.LibraryOptions{Store: s, ClientID: "ahead", Submitters: journal})
		require.NoError(t, err)
		m, err := lib.Create("sheet")
		require.NoError(t, err)
		require.NoError(t, lib.Attach(m))
		for range 3 {
			require.NoError(t, m.InsertRows(0, 1))
		}
		require.NoError(t, lib.Save(ctx, m))

		// A replica whose counter is behind writes the first cell.
		behind := cellrope.NewChain("behind", nil)
		require.NoError(t, behind.Restore(m.Snapshot().Segments, 0))
		op, err := behind.ReplaceRange(0, 1, cellrope.NewRun(cellrope.Texts("from-behind")))
		require.NoError(t, err)
		require.Equal(t, int64(1), op.Seq)
		pos, err := s.AppendOp(ctx, "sheet", *op)
		require.NoError(t, err)
		require.NoError(t, m.ApplyJournaled(cellrope.JournalEntry{Pos: pos, Op: *op}))

		reader, err := cellrope.Init(cellrope.LibraryOptions{Store: s})
		require.NoError(t, err)
		loaded, err := reader.Load(ctx, "sheet")
		require.NoError(t, err)

		v, err := loaded.GetItem(0, 0)
		require.NoError(t, err)
		assert.Equal(t, cellrope.Text("from-behind"), v)
		assert.Equal(t, m.Length(), loaded.Length())
		assert.Equal(t, pos, loaded.JournalPos())

		require.NoError(t, lib.Close())
	})
}
