package cellrope

import (
	"encoding/json"
	"fmt"
)

// SegmentSpec is the wire and snapshot form of one segment:
//
//	padding: {"pad": <length>, "properties": {...}}
//	run:     {"items": [null | bool | number | string, ...], "properties": {...}}
type SegmentSpec struct {
	Pad        *int64      `json:"pad,omitempty"`
	Items      []Value     `json:"items,omitempty"`
	Properties PropertySet `json:"properties,omitempty"`
}

// PadSpec returns the spec of a padding segment of the given length.
func PadSpec(length int64) SegmentSpec {
	return SegmentSpec{Pad: &length}
}

// ItemsSpec returns the spec of a run segment holding values.
func ItemsSpec(values ...Value) SegmentSpec {
	return SegmentSpec{Items: values}
}

// SegmentFromSpec rebuilds a segment, trying the padding shape and then the
// run shape. Fails with ErrUnrecognizedSegment when neither matches.
func SegmentFromSpec(spec SegmentSpec) (Segment, error) {
	if p, ok := paddingFromSpec(spec); ok {
		return p, nil
	}
	if r, ok := runFromSpec(spec); ok {
		return r, nil
	}
	return nil, ErrUnrecognizedSegment
}

// DecodeSegment parses a JSON segment spec and rebuilds the segment.
func DecodeSegment(data []byte) (Segment, error) {
	var spec SegmentSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedSegment, err)
	}
	return SegmentFromSpec(spec)
}

// EncodeSegment returns the JSON form of seg.
func EncodeSegment(seg Segment) ([]byte, error) {
	return json.Marshal(seg.Spec())
}

// OpType identifies the kind of structural change.
type OpType int

const (
	// OpInsert inserts Seg at Pos1.
	OpInsert OpType = iota

	// OpRemove removes [Pos1, Pos2).
	OpRemove

	// OpGroup applies Ops in order as one structural change.
	OpGroup
)

var opTypeNames = map[OpType]string{
	OpInsert: "insert",
	OpRemove: "remove",
	OpGroup:  "group",
}

// String returns the op type name.
func (t OpType) String() string {
	if name, ok := opTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the op type by name.
func (t OpType) MarshalText() ([]byte, error) {
	name, ok := opTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("%w: op type %d", ErrInvalidOp, int(t))
	}
	return []byte(name), nil
}

// UnmarshalText decodes an op type name.
func (t *OpType) UnmarshalText(text []byte) error {
	for typ, name := range opTypeNames {
		if name == string(text) {
			*t = typ
			return nil
		}
	}
	return fmt.Errorf("%w: op type %q", ErrInvalidOp, text)
}

// Op is a structural-change descriptor produced by the chain and submitted to
// collaborators.
type Op struct {
	Type     OpType       `json:"type"`
	Pos1     int64        `json:"pos1"`
	Pos2     int64        `json:"pos2,omitempty"`
	Seg      *SegmentSpec `json:"seg,omitempty"`
	Ops      []Op         `json:"ops,omitempty"`
	Seq      int64        `json:"seq"`
	ClientID string       `json:"clientId,omitempty"`
}

// String returns a compact description of the op.
func (op Op) String() string {
	switch op.Type {
	case OpInsert:
		length := int64(0)
		if op.Seg != nil {
			length = specLength(*op.Seg)
		}
		return fmt.Sprintf("insert@%d+%d (seq %d)", op.Pos1, length, op.Seq)
	case OpRemove:
		return fmt.Sprintf("remove[%d,%d) (seq %d)", op.Pos1, op.Pos2, op.Seq)
	case OpGroup:
		return fmt.Sprintf("group of %d (seq %d)", len(op.Ops), op.Seq)
	}
	return "unknown op"
}

// EncodeOp returns the JSON form of op.
func EncodeOp(op Op) ([]byte, error) {
	return json.Marshal(op)
}

// DecodeOp parses the JSON form of an op.
func DecodeOp(data []byte) (Op, error) {
	var op Op
	if err := json.Unmarshal(data, &op); err != nil {
		return Op{}, fmt.Errorf("%w: %v", ErrInvalidOp, err)
	}
	return op, nil
}

// specLength returns the number of positions a spec occupies.
func specLength(spec SegmentSpec) int64 {
	if spec.Pad != nil {
		return *spec.Pad
	}
	return int64(len(spec.Items))
}
