package cellrope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainStats(t *testing.T) {
	c := NewChain("alice", nil)
	_, err := c.ReplaceRange(4, 6, NewRun(Texts("a", "b")))
	require.NoError(t, err)
	_, err = c.CreateReference(5)
	require.NoError(t, err)

	assert.Equal(t, ChainStats{
		Segments:        2,
		RunSegments:     1,
		PaddingSegments: 1,
		PopulatedCells:  2,
		Length:          6,
		References:      1,
	}, c.Stats())
}

func TestCompactMergesNeighbours(t *testing.T) {
	m := newTestMatrix(t)
	require.NoError(t, m.InsertRows(0, 1))
	require.NoError(t, m.SetItems(0, 0, Texts("a"), nil))
	require.NoError(t, m.SetItems(0, 1, Texts("b"), nil))
	require.NoError(t, m.SetItems(0, 2, Texts("c"), PropertySet{"bold": true}))
	require.NoError(t, m.SetTag(0, 1, "kept"))

	// Run(a) Run(b) Run(c, bold) Padding(...)
	require.Equal(t, 4, m.Stats().Segments)

	assert.Equal(t, 1, m.Compact())
	assert.Equal(t, 3, m.Stats().Segments)
	assert.Equal(t, 0, m.Compact())

	requireItem(t, m, 0, 0, Text("a"))
	requireItem(t, m, 0, 1, Text("b"))
	requireItem(t, m, 0, 2, Text("c"))
	tag, err := m.GetTag(0, 1)
	require.NoError(t, err)
	assert.Equal(t, "kept", tag)
}

func TestCompactMergesPaddingLeftByRemovals(t *testing.T) {
	m := newTestMatrix(t)
	require.NoError(t, m.InsertRows(0, 3))
	require.NoError(t, m.SetItems(1, 0, Texts("x"), nil))
	require.NoError(t, m.RemoveCols(0, 1))

	stats := m.Stats()
	assert.Equal(t, 0, stats.RunSegments)
	assert.Greater(t, stats.PaddingSegments, 1)

	m.Compact()
	assert.Equal(t, 1, m.Stats().Segments)
	assert.Equal(t, 3*ColumnsPerRow, m.Length())
}

func TestLibraryMaintain(t *testing.T) {
	lib, err := Init(LibraryOptions{})
	require.NoError(t, err)
	for _, id := range []string{"a", "b"} {
		m, err := lib.Create(id)
		require.NoError(t, err)
		require.NoError(t, m.InsertRows(0, 1))
		require.NoError(t, m.InsertRows(0, 1))
	}

	stats := lib.Maintain()
	assert.Equal(t, MaintenanceStats{MatricesVisited: 2, SegmentsMerged: 2}, stats)
}

func TestMaintenanceWorker(t *testing.T) {
	lib, err := Init(LibraryOptions{MaintenanceInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	defer lib.Close()

	m, err := lib.Create("bg")
	require.NoError(t, err)
	require.NoError(t, m.InsertRows(0, 1))
	require.NoError(t, m.InsertRows(0, 1))

	assert.Eventually(t, func() bool {
		return m.Stats().Segments == 1
	}, time.Second, 5*time.Millisecond)

	lib.StopMaintenance()
	lib.StopMaintenance()
}
