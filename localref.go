package cellrope

import "fmt"

// LocalReference marks a position inside a segment of a Chain. The chain
// keeps it pointing at the same cell as segments split, merge and shrink.
// A reference whose content is removed slides to the nearest surviving cell.
type LocalReference struct {
	segment SegmentID
	offset  int64
}

// Segment returns the handle of the segment the reference is pinned into,
// or 0 when detached.
func (r *LocalReference) Segment() SegmentID {
	return r.segment
}

// Offset returns the offset within the pinned segment.
func (r *LocalReference) Offset() int64 {
	return r.offset
}

// IsDetached reports whether the reference no longer points into the chain.
func (r *LocalReference) IsDetached() bool {
	return r.segment == 0
}

// CreateReference pins a new local reference at pos.
func (c *Chain) CreateReference(pos int64) (*LocalReference, error) {
	seg, offset := c.Locate(pos)
	if seg == nil {
		return nil, fmt.Errorf("%w: reference at %d of %d", ErrInvalidPosition, pos, c.Length())
	}
	ref := &LocalReference{segment: seg.ID(), offset: offset}
	b := seg.base()
	b.refs = append(b.refs, ref)
	return ref, nil
}

// ReferencePosition resolves ref to its current linear position.
func (c *Chain) ReferencePosition(ref *LocalReference) (int64, error) {
	if ref == nil || ref.IsDetached() {
		return 0, ErrReferenceDetached
	}
	var start int64
	for _, id := range c.order {
		seg := c.segments[id]
		if id == ref.segment {
			return start + ref.offset, nil
		}
		start += seg.Length()
	}
	return 0, ErrReferenceDetached
}

// RemoveReference unpins ref from its segment and marks it detached.
func (c *Chain) RemoveReference(ref *LocalReference) {
	if ref == nil || ref.IsDetached() {
		return
	}
	if seg, ok := c.segments[ref.segment]; ok {
		b := seg.base()
		for i, r := range b.refs {
			if r == ref {
				b.refs = append(b.refs[:i], b.refs[i+1:]...)
				break
			}
		}
	}
	ref.segment = 0
	ref.offset = 0
}

// slideReferences moves references off a detached segment. They land on the
// start of the segment now at index, else the last cell of the one before it,
// else they become detached.
func (c *Chain) slideReferences(refs []*LocalReference, index int) {
	if len(refs) == 0 {
		return
	}
	var target Segment
	var offset int64
	switch {
	case index < len(c.order):
		target = c.segments[c.order[index]]
	case index > 0:
		target = c.segments[c.order[index-1]]
		offset = target.Length() - 1
	}
	for _, ref := range refs {
		if target == nil {
			ref.segment = 0
			ref.offset = 0
			continue
		}
		ref.segment = target.ID()
		ref.offset = offset
		target.base().refs = append(target.base().refs, ref)
	}
}

// slideTail moves references left at the end of the segment at index, after
// a removal reaching its end, onto the start of the next segment or else
// back onto the segment's last cell.
func (c *Chain) slideTail(index int) {
	b := c.segments[c.order[index]].base()
	var kept, stranded []*LocalReference
	for _, ref := range b.refs {
		if ref.offset >= b.length {
			stranded = append(stranded, ref)
		} else {
			kept = append(kept, ref)
		}
	}
	if len(stranded) == 0 {
		return
	}
	b.refs = kept
	c.slideReferences(stranded, index+1)
}
