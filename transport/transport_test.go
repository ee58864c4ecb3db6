package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phroun/cellrope"
)

const eventually = 2 * time.Second

func startRelay(t *testing.T, log cellrope.OpLog) (*Relay, string) {
	t.Helper()
	relay := NewRelay(RelayOptions{Log: log})
	srv := httptest.NewServer(relay.Handler())
	t.Cleanup(func() {
		relay.Close()
		srv.Close()
	})
	return relay, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newReplica(t *testing.T, base, clientID string) (*cellrope.Library, *cellrope.Matrix) {
	t.Helper()
	lib, err := cellrope.Init(cellrope.LibraryOptions{
		ClientID:   clientID,
		Submitters: Submitters(context.Background(), base, ClientOptions{}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })

	m, err := lib.Create("sheet")
	require.NoError(t, err)
	require.NoError(t, lib.Attach(m))
	return lib, m
}

func itemAt(m *cellrope.Matrix, row, col int64) cellrope.Value {
	v, err := m.GetItem(row, col)
	if err != nil {
		return cellrope.Absent()
	}
	return v
}

func TestRelayConvergesTwoReplicas(t *testing.T) {
	store := cellrope.NewMemoryStore()
	relay, base := startRelay(t, store)

	_, a := newReplica(t, base, "alice")
	_, b := newReplica(t, base, "bob")
	require.Eventually(t, func() bool { return relay.Peers("sheet") == 2 }, eventually, 5*time.Millisecond)

	require.NoError(t, a.InsertRows(0, 2))
	require.Eventually(t, func() bool { return b.RowCount() == 2 }, eventually, 5*time.Millisecond)

	require.NoError(t, b.SetItems(1, 4, cellrope.Texts("hi"), nil))
	require.Eventually(t, func() bool {
		return itemAt(a, 1, 4) == cellrope.Text("hi")
	}, eventually, 5*time.Millisecond)

	assert.Equal(t, a.Length(), b.Length())
	assert.Equal(t, a.Seq(), b.Seq())

	ops, err := store.OpsSince(context.Background(), "sheet", 0)
	require.NoError(t, err)
	assert.Len(t, ops, 2)

	// Acks and relayed ops carry journal positions to both sides.
	require.Eventually(t, func() bool {
		return a.JournalPos() == 2 && b.JournalPos() == 2
	}, eventually, 5*time.Millisecond)
}

func TestRelayRejoinReplaysOnlyMissedOps(t *testing.T) {
	store := cellrope.NewMemoryStore()
	relay, base := startRelay(t, store)

	_, a := newReplica(t, base, "alice")
	libB, b := newReplica(t, base, "bob")
	require.Eventually(t, func() bool { return relay.Peers("sheet") == 2 }, eventually, 5*time.Millisecond)

	require.NoError(t, a.InsertRows(0, 1))
	require.Eventually(t, func() bool { return b.JournalPos() == 1 }, eventually, 5*time.Millisecond)

	b.Detach()
	require.Eventually(t, func() bool { return relay.Peers("sheet") == 1 }, eventually, 5*time.Millisecond)

	// bob's counter is behind alice's; the relay still replays by position.
	require.NoError(t, a.InsertRows(0, 2))
	require.NoError(t, libB.Attach(b))
	require.Eventually(t, func() bool { return b.RowCount() == 3 }, eventually, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(3), b.RowCount())
	assert.Equal(t, int64(2), b.JournalPos())
}

func TestRelayReplayLongerThanSendBuffer(t *testing.T) {
	ctx := context.Background()
	store := cellrope.NewMemoryStore()
	relay := NewRelay(RelayOptions{Log: store, SendBuffer: 1})
	srv := httptest.NewServer(relay.Handler())
	t.Cleanup(func() {
		relay.Close()
		srv.Close()
	})
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	row := cellrope.PadSpec(cellrope.ColumnsPerRow)
	for i := range 10 {
		_, err := store.AppendOp(ctx, "sheet", cellrope.Op{Type: cellrope.OpInsert, Pos1: 0, Seg: &row, Seq: int64(i + 1), ClientID: "seed"})
		require.NoError(t, err)
	}

	_, m := newReplica(t, base, "late")
	require.Eventually(t, func() bool { return m.RowCount() == 10 }, eventually, 5*time.Millisecond)
	assert.Equal(t, int64(10), m.JournalPos())
	assert.Equal(t, 1, relay.Peers("sheet"))
}

func TestRelayReplaysJournalToLateJoiner(t *testing.T) {
	store := cellrope.NewMemoryStore()
	relay, base := startRelay(t, store)

	_, a := newReplica(t, base, "alice")
	require.NoError(t, a.InsertRows(0, 1))
	require.NoError(t, a.SetItems(0, 0, []cellrope.Value{cellrope.Number(1)}, nil))
	require.Eventually(t, func() bool {
		ops, _ := store.OpsSince(context.Background(), "sheet", 0)
		return len(ops) == 2
	}, eventually, 5*time.Millisecond)

	_, late := newReplica(t, base, "carol")
	require.Eventually(t, func() bool {
		return itemAt(late, 0, 0) == cellrope.Number(1)
	}, eventually, 5*time.Millisecond)
	assert.Equal(t, 2, relay.Peers("sheet"))
}

func TestRelayKeepsMatricesApart(t *testing.T) {
	_, base := startRelay(t, nil)

	libA, err := cellrope.Init(cellrope.LibraryOptions{Submitters: Submitters(context.Background(), base, ClientOptions{})})
	require.NoError(t, err)
	defer libA.Close()
	one, err := libA.Create("one")
	require.NoError(t, err)
	require.NoError(t, libA.Attach(one))
	two, err := libA.Create("two")
	require.NoError(t, err)
	require.NoError(t, libA.Attach(two))

	_, other := newReplica(t, base, "bob")
	require.NoError(t, one.InsertRows(0, 3))
	require.NoError(t, other.InsertRows(0, 1))

	require.Eventually(t, func() bool { return two.RowCount() == 0 && other.RowCount() == 1 }, eventually, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), other.RowCount())
}

func TestRelayRejectsBadRequests(t *testing.T) {
	relay := NewRelay(RelayOptions{})
	srv := httptest.NewServer(relay.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/matrices/x?since=-4")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(MatrixURL(base, "x", -1), nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ActionSessionCreated, msg.Action)
	assert.NotEmpty(t, msg.SessionID)

	require.NoError(t, conn.WriteJSON(Message{Action: "shout"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ActionError, msg.Action)
	assert.Contains(t, msg.Error, "shout")
}

func TestClientCloseDetaches(t *testing.T) {
	relay, base := startRelay(t, nil)
	lib, m := newReplica(t, base, "alice")
	require.Eventually(t, func() bool { return relay.Peers("sheet") == 1 }, eventually, 5*time.Millisecond)

	require.NoError(t, lib.Release(m))
	assert.False(t, m.IsAttached())
	require.Eventually(t, func() bool { return relay.Peers("sheet") == 0 }, eventually, 5*time.Millisecond)
}

func TestClientSubmitAfterClose(t *testing.T) {
	_, base := startRelay(t, nil)
	lib, err := cellrope.Init(cellrope.LibraryOptions{})
	require.NoError(t, err)
	m, err := lib.Create("solo")
	require.NoError(t, err)

	c, err := Dial(context.Background(), MatrixURL(base, "solo", -1), m, ClientOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, c.SessionID())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	require.ErrorIs(t, c.Submit(cellrope.Op{Type: cellrope.OpRemove, Seq: 1}), ErrClientClosed)
	assert.NoError(t, c.Err())
	<-c.Done()
}

func TestMatrixURL(t *testing.T) {
	tests := []struct {
		base  string
		id    string
		since int64
		want  string
	}{
		{"ws://h:1", "a", -1, "ws://h:1/matrices/a"},
		{"ws://h:1/", "a b", 0, "ws://h:1/matrices/a%20b?since=0"},
		{"wss://h", "x/y", 12, "wss://h/matrices/x%2Fy?since=12"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, MatrixURL(tt.base, tt.id, tt.since))
		})
	}
}
