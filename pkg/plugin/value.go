package plugin

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind is the variant tag of a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindBool
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// Value is a metadata value: a string, a number, a boolean, or a nested
// Metadata map. The zero Value is invalid.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
	m    Metadata
}

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Number returns a numeric Value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int returns a numeric Value from an int.
func Int(n int) Value { return Number(float64(n)) }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Map returns a map Value. The map is not copied.
func Map(m Metadata) Value {
	if m == nil {
		m = Metadata{}
	}
	return Value{kind: KindMap, m: m}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds any variant.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Str returns the string and true if v is a string.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Num returns the number and true if v is a number.
func (v Value) Num() (float64, bool) { return v.n, v.kind == KindNumber }

// Boolean returns the boolean and true if v is a boolean.
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Fields returns the nested map and true if v is a map.
func (v Value) Fields() (Metadata, bool) { return v.m, v.kind == KindMap }

// Text renders scalar values as text. Maps render as JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindMap:
		b, _ := json.Marshal(v.m)
		return string(b)
	default:
		return ""
	}
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	case KindBool:
		return v.b == o.b
	case KindMap:
		return v.m.Equal(o.m)
	default:
		return true
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	if v.kind == KindMap {
		return Value{kind: KindMap, m: v.m.Clone()}
	}
	return v
}

// Any converts v to plain Go values (string, float64, bool, map[string]any).
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindBool:
		return v.b
	case KindMap:
		return v.m.Any()
	default:
		return nil
	}
}

// ValueOf converts plain Go values into a Value. Integer and float types
// become numbers; map[string]any and Metadata become maps.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("metadata number %q: %w", t, err)
		}
		return Number(f), nil
	case Metadata:
		return Map(t), nil
	case map[string]any:
		m, err := MetadataOf(t)
		if err != nil {
			return Value{}, err
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported metadata value type %T", x)
	}
}

// MarshalJSON encodes v as a native JSON scalar or object.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInvalid:
		return []byte("null"), nil
	case KindMap:
		return json.Marshal(v.m)
	default:
		return json.Marshal(v.Any())
	}
}

// UnmarshalJSON decodes a JSON scalar or object. Arrays are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*v = Value{}
		return nil
	}
	out, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// Metadata is the scratch channel plugins use to pass information along a
// dispatch chain.
type Metadata map[string]Value

// MetadataOf converts a plain map. Nil values are dropped.
func MetadataOf(src map[string]any) (Metadata, error) {
	out := make(Metadata, len(src))
	for k, raw := range src {
		if raw == nil {
			continue
		}
		v, err := ValueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Get returns the value stored under key.
func (m Metadata) Get(key string) (Value, bool) {
	v, ok := m[key]
	return v, ok
}

// GetString returns the string stored under key, or "" if absent or not a
// string.
func (m Metadata) GetString(key string) string {
	s, _ := m[key].Str()
	return s
}

// GetNumber returns the number stored under key, or def.
func (m Metadata) GetNumber(key string, def float64) float64 {
	if n, ok := m[key].Num(); ok {
		return n
	}
	return def
}

// GetBool returns the boolean stored under key, or def.
func (m Metadata) GetBool(key string, def bool) bool {
	if b, ok := m[key].Boolean(); ok {
		return b
	}
	return def
}

// Clone returns a deep copy. Cloning nil yields an empty map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// Equal reports deep equality.
func (m Metadata) Equal(o Metadata) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Keys returns the keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Any converts m to map[string]any.
func (m Metadata) Any() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Any()
	}
	return out
}
