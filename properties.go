package cellrope

import "reflect"

// PropertySet is optional key/value metadata attached to a segment.
// A nil PropertySet behaves as an empty set.
type PropertySet map[string]any

// Clone returns a deep copy of the set. Nested maps and slices are duplicated.
func (p PropertySet) Clone() PropertySet {
	if p == nil {
		return nil
	}
	out := make(PropertySet, len(p))
	for k, v := range p {
		out[k] = cloneProperty(v)
	}
	return out
}

// Merge copies every entry of other into p, returning the result.
// A nil value in other deletes the key.
func (p PropertySet) Merge(other PropertySet) PropertySet {
	if len(other) == 0 {
		return p
	}
	if p == nil {
		p = make(PropertySet, len(other))
	}
	for k, v := range other {
		if v == nil {
			delete(p, k)
			continue
		}
		p[k] = cloneProperty(v)
	}
	if len(p) == 0 {
		return nil
	}
	return p
}

// Equal reports whether both sets hold the same entries.
func (p PropertySet) Equal(other PropertySet) bool {
	if len(p) == 0 && len(other) == 0 {
		return true
	}
	return reflect.DeepEqual(map[string]any(p), map[string]any(other))
}

func cloneProperty(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, inner := range x {
			m[k] = cloneProperty(inner)
		}
		return m
	case PropertySet:
		return x.Clone()
	case []any:
		s := make([]any, len(x))
		for i, inner := range x {
			s[i] = cloneProperty(inner)
		}
		return s
	default:
		return v
	}
}
