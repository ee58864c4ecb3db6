package cellrope

// SegmentID is a stable handle to a segment within a Chain's arena.
// Zero means the segment is not attached to any chain.
type SegmentID uint64

// SegmentKind identifies a segment variant.
type SegmentKind int

const (
	// PaddingKind is a run of empty cells.
	PaddingKind SegmentKind = iota

	// RunKind is a run of populated cells.
	RunKind
)

// String returns the variant name.
func (k SegmentKind) String() string {
	switch k {
	case PaddingKind:
		return "padding"
	case RunKind:
		return "run"
	default:
		return "unknown"
	}
}

// UnassignedSeq marks a segment that has not yet been sequenced.
const UnassignedSeq int64 = -1

// Provenance records who authored a segment and in what causal order.
type Provenance struct {
	Seq      int64
	ClientID string
}

// Segment is the capability every segment variant supplies to the chain.
// The variant set is closed: only *PaddingSegment and *RunSegment implement it.
//
// Append, RemoveRange and SplitAt mutate the segment in place and are called
// only by the chain during structural maintenance.
type Segment interface {
	// Kind returns the variant.
	Kind() SegmentKind

	// ID returns the arena handle, or 0 when unattached.
	ID() SegmentID

	// Length returns the number of positions occupied.
	Length() int64

	// Provenance returns the authoring sequence number and client.
	Provenance() Provenance

	// Properties returns the metadata set. Callers must not mutate it.
	Properties() PropertySet

	// AddProperties merges props into the segment's metadata.
	AddProperties(props PropertySet)

	// CanAppend reports whether other may be appended to this segment.
	CanAppend(other Segment) bool

	// Append grows this segment by other's content. Fails with ErrInvalidAppend
	// when the variants differ.
	Append(other Segment) error

	// RemoveRange removes [start, end) and reports whether the segment is now empty.
	RemoveRange(start, end int64) bool

	// Clone returns an independent copy of [start, end).
	Clone(start, end int64) Segment

	// SplitAt shrinks this segment to pos and returns the remainder as a new
	// sibling, or nil when pos is 0 or past the end.
	SplitAt(pos int64) Segment

	// Spec returns the serialized form.
	Spec() SegmentSpec

	// String returns a human-readable description.
	String() string

	base() *segmentBase
}

// segmentBase is the state shared by every variant.
type segmentBase struct {
	id         SegmentID
	length     int64
	seq        int64
	clientID   string
	properties PropertySet

	// refs are local references pinned into this segment, in no particular
	// order. Offsets are relative to the segment start.
	refs []*LocalReference
}

func newSegmentBase(length int64) segmentBase {
	return segmentBase{
		length: length,
		seq:    UnassignedSeq,
	}
}

func (b *segmentBase) base() *segmentBase {
	return b
}

// ID returns the arena handle.
func (b *segmentBase) ID() SegmentID {
	return b.id
}

// Length returns the number of positions occupied.
func (b *segmentBase) Length() int64 {
	return b.length
}

// Provenance returns the authoring sequence number and client.
func (b *segmentBase) Provenance() Provenance {
	return Provenance{Seq: b.seq, ClientID: b.clientID}
}

// Properties returns the metadata set.
func (b *segmentBase) Properties() PropertySet {
	return b.properties
}

// AddProperties merges props into the metadata set.
func (b *segmentBase) AddProperties(props PropertySet) {
	b.properties = b.properties.Merge(props)
}

// appendBase moves other's references onto this segment and grows the length.
// References are rebased by the pre-append length, so this must run before
// length changes.
func (b *segmentBase) appendBase(other *segmentBase) {
	for _, ref := range other.refs {
		ref.offset += b.length
		ref.segment = b.id
		b.refs = append(b.refs, ref)
	}
	other.refs = nil
	b.length += other.length
}

// splitBase shrinks this segment to pos and returns the base of the new
// sibling holding the remainder and any references at or past pos.
func (b *segmentBase) splitBase(pos int64) segmentBase {
	sibling := segmentBase{
		length:     b.length - pos,
		seq:        b.seq,
		clientID:   b.clientID,
		properties: b.properties.Clone(),
	}
	b.refs, sibling.refs = partitionReferences(b.refs, pos)
	b.length = pos
	return sibling
}

// removeBase removes [start, end) from the length and collapses references
// inside the removed span onto start. Returns true when the segment is empty.
// When the span reached the end, collapsed references sit at the new length;
// the chain moves them on with slideTail.
func (b *segmentBase) removeBase(start, end int64) bool {
	count := end - start
	for _, ref := range b.refs {
		switch {
		case ref.offset >= end:
			ref.offset -= count
		case ref.offset >= start:
			ref.offset = start
		}
	}
	b.length -= count
	return b.length == 0
}

// cloneBase copies provenance and properties. References are never cloned.
func (b *segmentBase) cloneBase(length int64) segmentBase {
	return segmentBase{
		length:     length,
		seq:        b.seq,
		clientID:   b.clientID,
		properties: b.properties.Clone(),
	}
}

// partitionReferences splits refs at pos. References before pos stay left;
// references at or after pos go right with their offsets adjusted by -pos.
func partitionReferences(refs []*LocalReference, pos int64) (left, right []*LocalReference) {
	for _, ref := range refs {
		if ref.offset < pos {
			left = append(left, ref)
			continue
		}
		ref.offset -= pos
		ref.segment = 0
		right = append(right, ref)
	}
	return left, right
}

// clampRange bounds [start, end) to [0, length).
func clampRange(start, end, length int64) (int64, int64) {
	if start < 0 {
		start = 0
	}
	if end > length {
		end = length
	}
	if end < start {
		end = start
	}
	return start, end
}
