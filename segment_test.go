package cellrope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTaggedRun(values []Value, tags []Tag) *RunSegment {
	r := NewRun(values)
	for i, tag := range tags {
		r.SetTag(int64(i), tag)
	}
	return r
}

func TestPaddingAppend(t *testing.T) {
	p := NewPadding(5)
	require.NoError(t, p.Append(NewPadding(7)))
	assert.Equal(t, int64(12), p.Length())

	err := p.Append(NewRun(Texts("a")))
	require.ErrorIs(t, err, ErrInvalidAppend)
	assert.Equal(t, int64(12), p.Length())
}

func TestPaddingRemoveRange(t *testing.T) {
	p := NewPadding(10)
	assert.False(t, p.RemoveRange(2, 5))
	assert.Equal(t, int64(7), p.Length())

	assert.True(t, p.RemoveRange(0, 7))
	assert.Equal(t, int64(0), p.Length())
}

func TestPaddingSplit(t *testing.T) {
	p := NewPadding(10)
	p.seq = 4
	p.clientID = "alice"

	sibling := p.SplitAt(3)
	require.NotNil(t, sibling)
	assert.Equal(t, int64(3), p.Length())
	assert.Equal(t, int64(7), sibling.Length())
	assert.Equal(t, PaddingKind, sibling.Kind())
	assert.Equal(t, Provenance{Seq: 4, ClientID: "alice"}, sibling.Provenance())

	assert.Nil(t, p.SplitAt(0))
	assert.Nil(t, p.SplitAt(3))
}

func TestRunSplitLaw(t *testing.T) {
	values := []Value{Text("a"), Number(1), Bool(true), Absent(), Text("e")}
	tags := []Tag{"t0", nil, 2, nil, "t4"}

	for k := int64(1); k < int64(len(values)); k++ {
		r := newTaggedRun(values, tags)
		sibling := r.SplitAt(k)
		require.NotNil(t, sibling, "split at %d", k)

		right := sibling.(*RunSegment)
		assert.Equal(t, values, append(r.Values(), right.Values()...), "values split at %d", k)
		assert.Equal(t, tags, append(r.Tags(), right.Tags()...), "tags split at %d", k)
		assert.Equal(t, k, r.Length())
		assert.Equal(t, int64(len(values))-k, right.Length())
	}
}

func TestRunSplitAtZero(t *testing.T) {
	r := NewRun(Texts("a", "b"))
	assert.Nil(t, r.SplitAt(0))
	assert.Nil(t, r.SplitAt(2))
	assert.Equal(t, int64(2), r.Length())
}

func TestRunAppendLaw(t *testing.T) {
	a := newTaggedRun(Texts("a", "b"), []Tag{"x", nil})
	b := newTaggedRun(Texts("c"), []Tag{"z"})
	require.True(t, a.CanAppend(b))

	require.NoError(t, a.Append(b))
	assert.Equal(t, Texts("a", "b", "c"), a.Values())
	assert.Equal(t, []Tag{"x", nil, "z"}, a.Tags())
	assert.Equal(t, int64(3), a.Length())

	// Split undoes the append.
	right := a.SplitAt(2).(*RunSegment)
	assert.Equal(t, Texts("a", "b"), a.Values())
	assert.Equal(t, Texts("c"), right.Values())
	assert.Equal(t, []Tag{"z"}, right.Tags())
}

func TestRunAppendPadding(t *testing.T) {
	r := NewRun(Texts("a"))
	assert.False(t, r.CanAppend(NewPadding(1)))
	require.ErrorIs(t, r.Append(NewPadding(1)), ErrInvalidAppend)
	assert.Equal(t, int64(1), r.Length())
}

func TestRunRemoveRange(t *testing.T) {
	r := newTaggedRun(Texts("a", "b", "c", "d"), []Tag{1, 2, 3, 4})

	assert.False(t, r.RemoveRange(1, 3))
	assert.Equal(t, Texts("a", "d"), r.Values())
	assert.Equal(t, []Tag{1, 4}, r.Tags())
	assert.Equal(t, int64(2), r.Length())

	assert.True(t, r.RemoveRange(0, 2))
	assert.Empty(t, r.Values())
	assert.Empty(t, r.Tags())
}

func TestRunClone(t *testing.T) {
	r := newTaggedRun(Texts("a", "b", "c"), []Tag{"x", "y", "z"})
	r.AddProperties(PropertySet{"style": map[string]any{"bold": true}})

	clone := r.Clone(1, 3).(*RunSegment)
	assert.Equal(t, Texts("b", "c"), clone.Values())
	assert.Equal(t, []Tag{"y", "z"}, clone.Tags())
	assert.Equal(t, SegmentID(0), clone.ID())

	// No aliasing with the source.
	clone.SetTag(0, "changed")
	clone.Properties()["style"].(map[string]any)["bold"] = false
	assert.Equal(t, "y", r.Tag(1))
	assert.Equal(t, true, r.Properties()["style"].(map[string]any)["bold"])
}

func TestSegmentReferenceRebasing(t *testing.T) {
	t.Run("split moves trailing references", func(t *testing.T) {
		r := NewRun(Texts("a", "b", "c", "d"))
		r.id = 1
		before := &LocalReference{segment: 1, offset: 1}
		at := &LocalReference{segment: 1, offset: 2}
		after := &LocalReference{segment: 1, offset: 3}
		r.refs = []*LocalReference{before, at, after}

		sibling := r.SplitAt(2)
		assert.Equal(t, []*LocalReference{before}, r.refs)
		assert.Equal(t, []*LocalReference{at, after}, sibling.base().refs)
		assert.Equal(t, int64(1), before.offset)
		assert.Equal(t, int64(0), at.offset)
		assert.Equal(t, int64(1), after.offset)
	})

	t.Run("append rebases by the previous length", func(t *testing.T) {
		left := NewPadding(5)
		left.id = 1
		right := NewPadding(3)
		right.id = 2
		ref := &LocalReference{segment: 2, offset: 2}
		right.refs = []*LocalReference{ref}

		require.NoError(t, left.Append(right))
		assert.Equal(t, SegmentID(1), ref.segment)
		assert.Equal(t, int64(7), ref.offset)
		assert.Empty(t, right.refs)
	})

	t.Run("partial removal collapses and shifts", func(t *testing.T) {
		p := NewPadding(10)
		inside := &LocalReference{offset: 4}
		past := &LocalReference{offset: 8}
		early := &LocalReference{offset: 1}
		p.refs = []*LocalReference{inside, past, early}

		p.RemoveRange(3, 6)
		assert.Equal(t, int64(3), inside.offset)
		assert.Equal(t, int64(5), past.offset)
		assert.Equal(t, int64(1), early.offset)
	})

	t.Run("clone drops references", func(t *testing.T) {
		p := NewPadding(4)
		p.refs = []*LocalReference{{offset: 1}}
		assert.Empty(t, p.Clone(0, 4).base().refs)
	})
}

func TestSegmentStrings(t *testing.T) {
	assert.Equal(t, "Padding(12)", NewPadding(12).String())
	assert.Equal(t, `Run(3: "a", 1, <absent>)`, NewRun([]Value{Text("a"), Number(1), Absent()}).String())
	assert.Equal(t, "padding", PaddingKind.String())
	assert.Equal(t, "run", RunKind.String())
}
