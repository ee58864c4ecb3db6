package cellrope

import "fmt"

// PaddingSegment represents a run of empty cells by length alone.
type PaddingSegment struct {
	segmentBase
}

var _ Segment = (*PaddingSegment)(nil)

// NewPadding creates a padding segment of the given length.
func NewPadding(length int64) *PaddingSegment {
	return &PaddingSegment{segmentBase: newSegmentBase(length)}
}

// Kind returns PaddingKind.
func (p *PaddingSegment) Kind() SegmentKind {
	return PaddingKind
}

// CanAppend reports whether other is also padding.
func (p *PaddingSegment) CanAppend(other Segment) bool {
	_, ok := other.(*PaddingSegment)
	return ok
}

// Append merges another padding segment into this one.
func (p *PaddingSegment) Append(other Segment) error {
	o, ok := other.(*PaddingSegment)
	if !ok {
		return fmt.Errorf("%w: append %s to padding", ErrInvalidAppend, other.Kind())
	}
	p.appendBase(&o.segmentBase)
	return nil
}

// RemoveRange removes [start, end) and reports whether the segment is now empty.
func (p *PaddingSegment) RemoveRange(start, end int64) bool {
	start, end = clampRange(start, end, p.length)
	return p.removeBase(start, end)
}

// Clone returns a new padding segment covering [start, end).
func (p *PaddingSegment) Clone(start, end int64) Segment {
	start, end = clampRange(start, end, p.length)
	return &PaddingSegment{segmentBase: p.cloneBase(end - start)}
}

// SplitAt shrinks this segment to pos and returns the remainder.
func (p *PaddingSegment) SplitAt(pos int64) Segment {
	if pos <= 0 || pos >= p.length {
		return nil
	}
	return &PaddingSegment{segmentBase: p.splitBase(pos)}
}

// Spec returns {pad: length, properties?}.
func (p *PaddingSegment) Spec() SegmentSpec {
	length := p.length
	return SegmentSpec{
		Pad:        &length,
		Properties: p.properties.Clone(),
	}
}

// String returns a description such as "Padding(12)".
func (p *PaddingSegment) String() string {
	return fmt.Sprintf("Padding(%d)", p.length)
}

// paddingFromSpec recognizes the padding shape. Any other shape yields false.
func paddingFromSpec(spec SegmentSpec) (*PaddingSegment, bool) {
	if spec.Pad == nil || *spec.Pad <= 0 || spec.Items != nil {
		return nil, false
	}
	p := NewPadding(*spec.Pad)
	if len(spec.Properties) > 0 {
		p.AddProperties(spec.Properties)
	}
	return p, true
}
