package cellrope

import (
	"encoding/json"
	"fmt"
)

// Snapshot is the persisted form of a matrix: its segments in order, the
// sequence number they reflect, and any ops not yet folded in.
//
// JournalPos is the last journal position folded into the segments. ClientID
// names the replica that took the snapshot; its own journaled ops up to Seq
// are already reflected even when they sit past JournalPos.
type Snapshot struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Seq        int64         `json:"seq"`
	ClientID   string        `json:"clientId,omitempty"`
	JournalPos int64         `json:"journalPos,omitempty"`
	Segments   []SegmentSpec `json:"segments"`
	Pending    []Op          `json:"pending,omitempty"`
}

// EncodeSnapshot returns the JSON form of snap.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// DecodeSnapshot parses a snapshot and checks that it holds a sparse matrix.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Type != MatrixType {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrTypeMismatch, snap.Type)
	}
	return snap, nil
}

// Length returns the total extent described by the snapshot's segments.
func (s Snapshot) Length() int64 {
	var total int64
	for _, spec := range s.Segments {
		total += specLength(spec)
	}
	return total
}

// Snapshot captures the matrix's current segments. Tags are not included.
func (m *Matrix) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		ID:         m.id,
		Type:       MatrixType,
		Seq:        m.chain.Seq(),
		ClientID:   m.chain.ClientID(),
		JournalPos: m.chain.JournalPos(),
		Segments:   m.chain.Specs(),
	}
}

// opKey identifies an op across a snapshot's pending list and a journal.
type opKey struct {
	seq      int64
	clientID string
}

// replayOps merges snap's pending ops with the journal entries after
// snap.JournalPos, in journal order. Entries already pending, and ops the
// snapshot's author made before taking it, are dropped. It also returns the
// highest journal position seen.
func replayOps(snap Snapshot, entries []JournalEntry) ([]Op, int64) {
	out := make([]Op, 0, len(snap.Pending)+len(entries))
	seen := make(map[opKey]bool, len(snap.Pending))
	for _, op := range snap.Pending {
		seen[opKey{op.Seq, op.ClientID}] = true
		out = append(out, op)
	}
	pos := snap.JournalPos
	for _, e := range entries {
		if e.Pos <= snap.JournalPos {
			continue
		}
		pos = max(pos, e.Pos)
		if seen[opKey{e.Op.Seq, e.Op.ClientID}] || folded(snap, e.Op) {
			continue
		}
		out = append(out, e.Op)
	}
	return out, pos
}

// folded reports whether op is one of the snapshot author's own ops made
// before the snapshot was taken.
func folded(snap Snapshot, op Op) bool {
	return op.ClientID == snap.ClientID && op.Seq <= snap.Seq
}
