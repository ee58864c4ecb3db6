package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phroun/cellrope"
	"github.com/phroun/cellrope/storage/storetest"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cellrope.db"))
	require.NoError(t, err)
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return openTempStore(t)
	})
}

func TestMigrationsApplyOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cellrope.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.PutSnapshot(ctx, storetest.Sample("kept", 2)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var applied int
	require.NoError(t, s.sqlDB.QueryRow(`SELECT COUNT(*) FROM `+migrationTable).Scan(&applied))
	assert.Equal(t, 2, applied)

	snap, err := s.GetSnapshot(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Seq)
}

func TestCorruptJournalRow(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	defer s.Close()

	_, err := s.sqlDB.Exec(`INSERT INTO ops (matrix_id, seq, client_id, data) VALUES ('m', 1, '', 'not json')`)
	require.NoError(t, err)

	_, err = s.OpsSince(ctx, "m", 0)
	require.ErrorIs(t, err, cellrope.ErrInvalidOp)
}

func TestJournalPositionsAreNotReused(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	defer s.Close()

	op := cellrope.Op{Type: cellrope.OpRemove, Pos1: 0, Pos2: 1, Seq: 1}
	first, err := s.AppendOp(ctx, "m", op)
	require.NoError(t, err)
	second, err := s.AppendOp(ctx, "m", op)
	require.NoError(t, err)
	assert.Greater(t, second, first)

	require.NoError(t, s.DeleteSnapshot(ctx, "m"))
	third, err := s.AppendOp(ctx, "m", op)
	require.NoError(t, err)
	assert.Greater(t, third, second)

	entries, err := s.OpsSince(ctx, "m", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, third, entries[0].Pos)
}

func TestCanceledContext(t *testing.T) {
	s := openTempStore(t)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.PutSnapshot(ctx, storetest.Sample("x", 0)), context.Canceled)
}

func TestUpMigration(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain", "CREATE TABLE t (a);", "CREATE TABLE t (a);"},
		{"up only", "-- +migrate Up\nCREATE TABLE t (a);", "\nCREATE TABLE t (a);"},
		{"up and down", "-- +migrate Up\nA;\n-- +migrate Down\nB;", "\nA;\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, upMigration(tt.content))
		})
	}
}
