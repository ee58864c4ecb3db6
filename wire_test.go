package cellrope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSegment(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		kind    SegmentKind
		length  int64
		wantErr bool
	}{
		{"padding", `{"pad": 12}`, PaddingKind, 12, false},
		{"padding with properties", `{"pad": 3, "properties": {"k": "v"}}`, PaddingKind, 3, false},
		{"run", `{"items": ["a", 1, true, null]}`, RunKind, 4, false},
		{"zero padding", `{"pad": 0}`, 0, 0, true},
		{"negative padding", `{"pad": -4}`, 0, 0, true},
		{"empty items", `{"items": []}`, 0, 0, true},
		{"both shapes", `{"pad": 2, "items": ["a"]}`, 0, 0, true},
		{"unknown shape", `{"text": "hello"}`, 0, 0, true},
		{"nested item", `{"items": [{"a": 1}]}`, 0, 0, true},
		{"not json", `pad`, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg, err := DecodeSegment([]byte(tt.json))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnrecognizedSegment)
				assert.Nil(t, seg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, seg.Kind())
			assert.Equal(t, tt.length, seg.Length())
		})
	}
}

func TestSegmentFromSpecKeepsProperties(t *testing.T) {
	seg, err := SegmentFromSpec(SegmentSpec{Items: Texts("a"), Properties: PropertySet{"author": "bob"}})
	require.NoError(t, err)
	assert.Equal(t, "bob", seg.Properties()["author"])
}

func TestRunSerializationDropsTags(t *testing.T) {
	r := newTaggedRun([]Value{Text("a"), Number(2.5), Bool(false), Absent()}, []Tag{"x", "y", "z", "w"})

	data, err := EncodeSegment(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items": ["a", 2.5, false, null]}`, string(data))

	restored, err := DecodeSegment(data)
	require.NoError(t, err)
	run := restored.(*RunSegment)
	assert.Equal(t, r.Values(), run.Values())
	assert.Equal(t, []Tag{nil, nil, nil, nil}, run.Tags())
}

func TestPaddingSerialization(t *testing.T) {
	p := NewPadding(9)
	p.AddProperties(PropertySet{"hidden": true})

	data, err := EncodeSegment(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pad": 9, "properties": {"hidden": true}}`, string(data))
}

func TestValueJSON(t *testing.T) {
	var values []Value
	require.NoError(t, json.Unmarshal([]byte(`[null, true, 3, "x"]`), &values))
	assert.Equal(t, []Value{Absent(), Bool(true), Number(3), Text("x")}, values)

	var v Value
	require.ErrorIs(t, json.Unmarshal([]byte(`[1]`), &v), ErrInvalidValue)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want Value
	}{
		{"", Absent()},
		{"null", Absent()},
		{"true", Bool(true)},
		{"false", Bool(false)},
		{"42", Number(42)},
		{"-1.5", Number(-1.5)},
		{"hello", Text("hello")},
	}
	for _, tt := range tests {
		assert.True(t, tt.want.Equal(ParseValue(tt.in)), "ParseValue(%q) = %v, want %v", tt.in, ParseValue(tt.in), tt.want)
	}
}

func TestOpJSON(t *testing.T) {
	op := Op{
		Type: OpGroup,
		Ops: []Op{
			{Type: OpRemove, Pos1: 3, Pos2: 5},
			{Type: OpInsert, Pos1: 3, Seg: &SegmentSpec{Items: Texts("a", "b")}},
		},
		Seq:      7,
		ClientID: "alice",
	}

	data, err := EncodeOp(op)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"group"`)

	decoded, err := DecodeOp(data)
	require.NoError(t, err)
	assert.Equal(t, op, decoded)
	assert.Equal(t, "group of 2 (seq 7)", decoded.String())
}

func TestDecodeOpRejectsUnknownType(t *testing.T) {
	_, err := DecodeOp([]byte(`{"type": "annotate", "pos1": 0}`))
	require.ErrorIs(t, err, ErrInvalidOp)
}
