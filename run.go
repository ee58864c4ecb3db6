package cellrope

import (
	"fmt"
	"strings"
)

// RunSegment represents a dense run of populated cells. Each cell has a value
// and an independently settable tag; tags are never serialized.
type RunSegment struct {
	segmentBase
	values []Value
	tags   []Tag
}

var _ Segment = (*RunSegment)(nil)

// NewRun creates a run segment holding a copy of values, with absent tags.
func NewRun(values []Value) *RunSegment {
	items := make([]Value, len(values))
	copy(items, values)
	return &RunSegment{
		segmentBase: newSegmentBase(int64(len(items))),
		values:      items,
		tags:        make([]Tag, len(items)),
	}
}

// Kind returns RunKind.
func (r *RunSegment) Kind() SegmentKind {
	return RunKind
}

// Values returns a copy of the cell values.
func (r *RunSegment) Values() []Value {
	out := make([]Value, len(r.values))
	copy(out, r.values)
	return out
}

// Tags returns a copy of the cell tags.
func (r *RunSegment) Tags() []Tag {
	out := make([]Tag, len(r.tags))
	copy(out, r.tags)
	return out
}

// Value returns the value at offset.
func (r *RunSegment) Value(offset int64) Value {
	return r.values[offset]
}

// Tag returns the tag at offset.
func (r *RunSegment) Tag(offset int64) Tag {
	return r.tags[offset]
}

// SetTag replaces the tag at offset.
func (r *RunSegment) SetTag(offset int64, tag Tag) {
	r.tags[offset] = tag
}

// CanAppend reports whether other is also a run.
func (r *RunSegment) CanAppend(other Segment) bool {
	_, ok := other.(*RunSegment)
	return ok
}

// Append concatenates another run's values and tags onto this one.
func (r *RunSegment) Append(other Segment) error {
	o, ok := other.(*RunSegment)
	if !ok {
		return fmt.Errorf("%w: append %s to run", ErrInvalidAppend, other.Kind())
	}
	r.values = append(r.values, o.values...)
	// Tags are spliced at the current item count while the base length still
	// reflects the pre-append size.
	r.tags = append(r.tags, o.tags...)
	r.appendBase(&o.segmentBase)
	return nil
}

// RemoveRange removes cells [start, end) and reports whether the run is now empty.
func (r *RunSegment) RemoveRange(start, end int64) bool {
	start, end = clampRange(start, end, r.length)
	r.tags = append(r.tags[:start], r.tags[end:]...)
	r.values = append(r.values[:start], r.values[end:]...)
	return r.removeBase(start, end)
}

// Clone returns an independent run covering [start, end).
func (r *RunSegment) Clone(start, end int64) Segment {
	start, end = clampRange(start, end, r.length)
	values := make([]Value, end-start)
	copy(values, r.values[start:end])
	tags := make([]Tag, end-start)
	copy(tags, r.tags[start:end])
	return &RunSegment{
		segmentBase: r.cloneBase(end - start),
		values:      values,
		tags:        tags,
	}
}

// SplitAt keeps [0, pos) in place and returns a sibling holding [pos, length).
func (r *RunSegment) SplitAt(pos int64) Segment {
	if pos <= 0 || pos >= r.length {
		return nil
	}
	rightValues := make([]Value, r.length-pos)
	copy(rightValues, r.values[pos:])
	rightTags := make([]Tag, r.length-pos)
	copy(rightTags, r.tags[pos:])

	sibling := &RunSegment{
		segmentBase: r.splitBase(pos),
		values:      rightValues,
		tags:        rightTags,
	}
	r.values = r.values[:pos:pos]
	r.tags = r.tags[:pos:pos]
	return sibling
}

// Spec returns {items: values, properties?}. Tags are not included.
func (r *RunSegment) Spec() SegmentSpec {
	return SegmentSpec{
		Items:      r.Values(),
		Properties: r.properties.Clone(),
	}
}

// String returns a description such as `Run(2: "a", 1)`.
func (r *RunSegment) String() string {
	parts := make([]string, len(r.values))
	for i, v := range r.values {
		parts[i] = v.String()
	}
	return fmt.Sprintf("Run(%d: %s)", r.length, strings.Join(parts, ", "))
}

// runFromSpec recognizes the run shape. The rebuilt run has absent tags.
func runFromSpec(spec SegmentSpec) (*RunSegment, bool) {
	if spec.Pad != nil || len(spec.Items) == 0 {
		return nil, false
	}
	r := NewRun(spec.Items)
	if len(spec.Properties) > 0 {
		r.AddProperties(spec.Properties)
	}
	return r, true
}
