package cellrope

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind identifies which variant a Value holds.
type ValueKind uint8

const (
	// KindAbsent is an empty cell.
	KindAbsent ValueKind = iota

	// KindBool is a boolean cell.
	KindBool

	// KindNumber is a numeric cell.
	KindNumber

	// KindText is a text cell.
	KindText
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Value is the content of one matrix cell: absent, boolean, number or text.
// The zero Value is absent.
type Value struct {
	kind ValueKind
	b    bool
	n    float64
	s    string
}

// Tag is opaque per-cell metadata that lives only as long as the matrix
// instance. A nil Tag is absent.
type Tag any

// Absent returns the empty cell value.
func Absent() Value {
	return Value{}
}

// Bool returns a boolean cell value.
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// Number returns a numeric cell value.
func Number(n float64) Value {
	return Value{kind: KindNumber, n: n}
}

// Text returns a text cell value.
func Text(s string) Value {
	return Value{kind: KindText, s: s}
}

// Texts converts strings to text values.
func Texts(items ...string) []Value {
	values := make([]Value, len(items))
	for i, s := range items {
		values[i] = Text(s)
	}
	return values
}

// Kind returns the variant held by v.
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsAbsent reports whether v is an empty cell.
func (v Value) IsAbsent() bool {
	return v.kind == KindAbsent
}

// AsBool returns the boolean and whether v holds one.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsNumber returns the number and whether v holds one.
func (v Value) AsNumber() (float64, bool) {
	return v.n, v.kind == KindNumber
}

// AsText returns the text and whether v holds one.
func (v Value) AsText() (string, bool) {
	return v.s, v.kind == KindText
}

// Equal reports whether v and other hold the same variant and content.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == other.b
	case KindNumber:
		return v.n == other.n
	case KindText:
		return v.s == other.s
	}
	return true
}

// String formats v for display.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case KindText:
		return strconv.Quote(v.s)
	}
	return "<absent>"
}

// MarshalJSON encodes absent as null and the other variants as their JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindText:
		return json.Marshal(v.s)
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes null, booleans, numbers and strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	parsed, err := valueFromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// valueFromAny converts a decoded JSON scalar into a Value.
func valueFromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Absent(), nil
	case bool:
		return Bool(x), nil
	case float64:
		return Number(x), nil
	case string:
		return Text(x), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrInvalidValue, raw)
	}
}

// ParseValue interprets user input: "true"/"false" become booleans, numeric
// literals become numbers, "null" or "" is absent, anything else is text.
func ParseValue(s string) Value {
	switch s {
	case "", "null":
		return Absent()
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return Number(n)
	}
	return Text(s)
}
