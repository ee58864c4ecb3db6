package cellrope

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Submitter propagates locally produced ops to collaborators. Delivery is
// fire and forget: a returned error is logged by the chain and not retried.
type Submitter interface {
	Submit(op Op) error
}

// PositionedSubmitter is a Submitter that journals ops and reports the
// journal position each one was written at.
type PositionedSubmitter interface {
	Submitter
	SubmitAt(op Op) (int64, error)
}

// SubmitterFunc adapts an ordinary function to the Submitter interface.
type SubmitterFunc func(op Op) error

// Submit calls f(op).
func (f SubmitterFunc) Submit(op Op) error {
	return f(op)
}

// Chain is the ordered sequence of segments behind a matrix. Segments live in
// an arena keyed by SegmentID; handles are never reused, so a LocalReference
// can name its segment without holding a pointer to it.
//
// Operations apply in arrival order. A Chain is not safe for concurrent use.
type Chain struct {
	segments map[SegmentID]Segment
	order    []SegmentID
	nextID   SegmentID
	length   int64

	seq        int64
	journalPos int64
	clientID   string
	submitter Submitter
	logger    *slog.Logger
}

// NewChain creates an empty chain authoring ops as clientID.
func NewChain(clientID string, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		segments: make(map[SegmentID]Segment),
		clientID: clientID,
		logger:   logger,
	}
}

// Length returns the total linear extent.
func (c *Chain) Length() int64 {
	return c.length
}

// Seq returns the highest sequence number produced or applied.
func (c *Chain) Seq() int64 {
	return c.seq
}

// JournalPos returns the highest journal position this chain has applied or
// had acknowledged, or 0 when nothing it holds came from a journal.
func (c *Chain) JournalPos() int64 {
	return c.journalPos
}

// ObserveJournalPos raises the journal position to pos.
func (c *Chain) ObserveJournalPos(pos int64) {
	if pos > c.journalPos {
		c.journalPos = pos
	}
}

// ClientID returns the author id stamped on local ops.
func (c *Chain) ClientID() string {
	return c.clientID
}

// SegmentCount returns the number of live segments.
func (c *Chain) SegmentCount() int {
	return len(c.order)
}

// Segment returns the live segment with the given handle.
func (c *Chain) Segment(id SegmentID) (Segment, bool) {
	seg, ok := c.segments[id]
	return seg, ok
}

// SetSubmitter attaches s. A nil submitter detaches the chain.
func (c *Chain) SetSubmitter(s Submitter) {
	c.submitter = s
}

// IsAttached reports whether local ops are forwarded to a submitter.
func (c *Chain) IsAttached() bool {
	return c.submitter != nil
}

// Locate returns the segment containing pos and the offset within it.
// The segment is nil when pos is outside [0, Length()).
func (c *Chain) Locate(pos int64) (Segment, int64) {
	if pos < 0 || pos >= c.length {
		return nil, 0
	}
	i, offset := c.locateIndex(pos)
	return c.segments[c.order[i]], offset
}

// Walk calls fn for each segment in order with its starting position until
// fn returns false.
func (c *Chain) Walk(fn func(seg Segment, start int64) bool) {
	var start int64
	for _, id := range c.order {
		seg := c.segments[id]
		if !fn(seg, start) {
			return
		}
		start += seg.Length()
	}
}

// Specs returns the serialized form of every segment in order.
func (c *Chain) Specs() []SegmentSpec {
	specs := make([]SegmentSpec, 0, len(c.order))
	for _, id := range c.order {
		specs = append(specs, c.segments[id].Spec())
	}
	return specs
}

// Restore replaces the chain contents with segments rebuilt from specs and
// sets the sequence number. Nothing changes when any spec is unrecognized.
func (c *Chain) Restore(specs []SegmentSpec, seq int64) error {
	segs := make([]Segment, 0, len(specs))
	for i, spec := range specs {
		seg, err := SegmentFromSpec(spec)
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		segs = append(segs, seg)
	}

	c.segments = make(map[SegmentID]Segment, len(segs))
	c.order = make([]SegmentID, 0, len(segs))
	c.length = 0
	for _, seg := range segs {
		c.register(seg)
		c.order = append(c.order, seg.ID())
		c.length += seg.Length()
	}
	c.seq = seq
	return nil
}

// Clone returns an independent chain with copies of every segment. Tags and
// properties are duplicated; local references, the submitter and the journal
// position are not.
func (c *Chain) Clone(clientID string) *Chain {
	out := NewChain(clientID, c.logger)
	for _, id := range c.order {
		seg := c.segments[id]
		dup := seg.Clone(0, seg.Length())
		out.register(dup)
		out.order = append(out.order, dup.ID())
	}
	out.length = c.length
	out.seq = c.seq
	return out
}

// InsertAt inserts seg so that it starts at pos, splitting the segment that
// covers pos. pos may equal Length() to append.
func (c *Chain) InsertAt(pos int64, seg Segment) (*Op, error) {
	if err := c.checkSegment(seg); err != nil {
		return nil, err
	}
	if pos < 0 || pos > c.length {
		return nil, fmt.Errorf("%w: insert at %d of %d", ErrInvalidPosition, pos, c.length)
	}
	seq := c.nextSeq()
	op := c.insert(pos, seg, seq, c.clientID)
	return c.stamp(op, seq), nil
}

// RemoveRange removes [start, end). It returns a nil op when the range is empty.
func (c *Chain) RemoveRange(start, end int64) (*Op, error) {
	if start < 0 || end < start || end > c.length {
		return nil, fmt.Errorf("%w: remove [%d, %d) of %d", ErrInvalidPosition, start, end, c.length)
	}
	if start == end {
		return nil, nil
	}
	seq := c.nextSeq()
	op := c.remove(start, end)
	return c.stamp(op, seq), nil
}

// ReplaceRange removes [start, end) and inserts seg at start as one group op.
// The removal is clamped to the extent. When start lies past the extent the
// gap is first filled with padding inside the same group.
func (c *Chain) ReplaceRange(start, end int64, seg Segment) (*Op, error) {
	if err := c.checkSegment(seg); err != nil {
		return nil, err
	}
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: replace [%d, %d)", ErrInvalidPosition, start, end)
	}

	seq := c.nextSeq()
	group := Op{Type: OpGroup}
	if start > c.length {
		gap := NewPadding(start - c.length)
		group.Ops = append(group.Ops, c.insert(c.length, gap, seq, c.clientID))
	}
	end = min(end, c.length)
	if end > start {
		group.Ops = append(group.Ops, c.remove(start, end))
	}
	group.Ops = append(group.Ops, c.insert(start, seg, seq, c.clientID))
	return c.stamp(group, seq), nil
}

// Submit forwards op to the attached submitter. Ops are dropped while the
// chain is unattached; nil ops are ignored.
func (c *Chain) Submit(op *Op) {
	if op == nil {
		return
	}
	if c.submitter == nil {
		c.logger.Debug("dropping op on unattached chain", "op", op.String())
		return
	}
	var err error
	if ps, ok := c.submitter.(PositionedSubmitter); ok {
		var pos int64
		pos, err = ps.SubmitAt(*op)
		c.ObserveJournalPos(pos)
	} else {
		err = c.submitter.Submit(*op)
	}
	if err != nil {
		c.logger.Warn("op submission failed", "op", op.String(), "error", err)
		return
	}
	opsSubmitted.WithLabelValues(op.Type.String()).Inc()
}

// Apply applies a remote or replayed op without resubmitting it. Segments it
// creates carry the op's provenance, and the chain's sequence number rises to
// at least op.Seq. A group op that fails partway leaves earlier children applied.
func (c *Chain) Apply(op Op) error {
	if err := c.apply(op, op.Seq, op.ClientID); err != nil {
		return err
	}
	if op.Seq > c.seq {
		c.seq = op.Seq
	}
	opsApplied.WithLabelValues(op.Type.String()).Inc()
	return nil
}

func (c *Chain) apply(op Op, seq int64, clientID string) error {
	switch op.Type {
	case OpInsert:
		if op.Seg == nil {
			return fmt.Errorf("%w: insert without segment", ErrInvalidOp)
		}
		seg, err := SegmentFromSpec(*op.Seg)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOp, err)
		}
		if op.Pos1 < 0 || op.Pos1 > c.length {
			return fmt.Errorf("%w: insert at %d of %d", ErrInvalidOp, op.Pos1, c.length)
		}
		c.insert(op.Pos1, seg, seq, clientID)
	case OpRemove:
		if op.Pos1 < 0 || op.Pos2 < op.Pos1 || op.Pos2 > c.length {
			return fmt.Errorf("%w: remove [%d, %d) of %d", ErrInvalidOp, op.Pos1, op.Pos2, c.length)
		}
		if op.Pos2 > op.Pos1 {
			c.remove(op.Pos1, op.Pos2)
		}
	case OpGroup:
		for _, child := range op.Ops {
			if err := c.apply(child, seq, clientID); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: op type %d", ErrInvalidOp, int(op.Type))
	}
	return nil
}

// String returns the segment descriptions in order.
func (c *Chain) String() string {
	parts := make([]string, 0, len(c.order))
	for _, id := range c.order {
		parts = append(parts, c.segments[id].String())
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (c *Chain) checkSegment(seg Segment) error {
	if seg == nil || seg.Length() <= 0 {
		return fmt.Errorf("%w: empty segment", ErrInvalidOp)
	}
	if seg.ID() != 0 {
		return fmt.Errorf("%w: segment %d is already attached", ErrInvalidOp, seg.ID())
	}
	return nil
}

func (c *Chain) nextSeq() int64 {
	c.seq++
	return c.seq
}

func (c *Chain) stamp(op Op, seq int64) *Op {
	op.Seq = seq
	op.ClientID = c.clientID
	return &op
}

// register assigns a fresh handle to seg and repoints its references.
func (c *Chain) register(seg Segment) {
	c.nextID++
	b := seg.base()
	b.id = c.nextID
	for _, ref := range b.refs {
		ref.segment = b.id
	}
	c.segments[b.id] = seg
}

// locateIndex returns the index of the segment containing pos and the offset
// within it. pos == Length() yields len(order) and offset 0.
func (c *Chain) locateIndex(pos int64) (int, int64) {
	var start int64
	for i, id := range c.order {
		length := c.segments[id].Length()
		if pos < start+length {
			return i, pos - start
		}
		start += length
	}
	return len(c.order), pos - start
}

// boundary ensures a segment starts at pos, splitting the covering segment
// when needed, and returns that segment's index.
func (c *Chain) boundary(pos int64) int {
	i, offset := c.locateIndex(pos)
	if offset == 0 || i == len(c.order) {
		return i
	}
	seg := c.segments[c.order[i]]
	sibling := seg.SplitAt(offset)
	c.register(sibling)
	c.order = slices.Insert(c.order, i+1, sibling.ID())
	segmentSplits.WithLabelValues(seg.Kind().String()).Inc()
	return i + 1
}

// insert places seg at pos, which the caller has validated.
func (c *Chain) insert(pos int64, seg Segment, seq int64, clientID string) Op {
	b := seg.base()
	b.seq = seq
	b.clientID = clientID

	i := c.boundary(pos)
	c.register(seg)
	c.order = slices.Insert(c.order, i, seg.ID())
	c.length += seg.Length()

	c.logger.Debug("segment inserted", "pos", pos, "segment", seg.String())
	spec := seg.Spec()
	return Op{Type: OpInsert, Pos1: pos, Seg: &spec}
}

// remove deletes the non-empty range [start, end), which the caller has
// validated. Each covered segment shrinks in place and is detached once empty.
func (c *Chain) remove(start, end int64) Op {
	i, offset := c.locateIndex(start)
	remaining := end - start
	for remaining > 0 && i < len(c.order) {
		seg := c.segments[c.order[i]]
		segEnd := min(offset+remaining, seg.Length())
		removed := segEnd - offset
		tail := segEnd == seg.Length()
		if seg.RemoveRange(offset, segEnd) {
			c.detach(i)
		} else {
			if tail {
				c.slideTail(i)
			}
			i++
		}
		c.length -= removed
		remaining -= removed
		offset = 0
	}
	c.logger.Debug("range removed", "start", start, "end", end)
	return Op{Type: OpRemove, Pos1: start, Pos2: end}
}

// detach drops the empty segment at index i from the arena and slides its
// references onto a neighbour.
func (c *Chain) detach(i int) {
	id := c.order[i]
	b := c.segments[id].base()
	refs := b.refs
	b.refs = nil
	b.id = 0

	delete(c.segments, id)
	c.order = slices.Delete(c.order, i, i+1)
	c.slideReferences(refs, i)
}
