package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ValueKind discriminates the variants of Value.
type ValueKind int

const (
	KindInvalid ValueKind = iota
	KindString
	KindInt
	KindBool
	KindList
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// Value is a tagged union carried between the classifier, the selector and tools.
// The zero Value is invalid.
type Value struct {
	kind ValueKind
	s    string
	i    int
	b    bool
	l    []string
}

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int wraps an int.
func Int(i int) Value { return Value{kind: KindInt, i: i} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List wraps a list of strings. The slice is copied.
func List(items ...string) Value {
	return Value{kind: KindList, l: append([]string(nil), items...)}
}

// Kind reports which variant is held.
func (v Value) Kind() ValueKind { return v.kind }

// IsValid reports whether v holds any variant.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v Value) AsInt() (int, bool)       { return v.i, v.kind == KindInt }
func (v Value) AsBool() (bool, bool)     { return v.b, v.kind == KindBool }

func (v Value) AsList() ([]string, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return append([]string(nil), v.l...), true
}

// Text renders the value for logs and prompts.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.Itoa(v.i)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		b, _ := json.Marshal(v.l)
		return string(b)
	default:
		return ""
	}
}

// Any returns the held value as a plain Go value, suitable for JSON encoding.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindBool:
		return v.b
	case KindList:
		return append([]string(nil), v.l...)
	default:
		return nil
	}
}

// MarshalJSON encodes the held variant as a plain JSON value.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON decodes strings, integral numbers, booleans and string arrays.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ValueOf converts a decoded JSON/YAML value into a Value.
func ValueOf(raw any) (Value, error) {
	switch typed := raw.(type) {
	case string:
		return String(typed), nil
	case bool:
		return Bool(typed), nil
	case int:
		return Int(typed), nil
	case int64:
		return Int(int(typed)), nil
	case float64:
		if typed != float64(int(typed)) {
			return Value{}, fmt.Errorf("non-integral number %v", typed)
		}
		return Int(int(typed)), nil
	case []string:
		return List(typed...), nil
	case []any:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			s, ok := item.(string)
			if !ok {
				return Value{}, fmt.Errorf("list items must be strings, got %T", item)
			}
			items = append(items, s)
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("unsupported parameter type %T", raw)
	}
}

// Params is a typed parameter map.
type Params map[string]Value

// Get returns the value for key.
func (p Params) Get(key string) (Value, bool) {
	v, ok := p[key]
	return v, ok
}

// StringOr returns the string at key, or def when absent or of another kind.
func (p Params) StringOr(key, def string) string {
	if s, ok := p[key].AsString(); ok {
		return s
	}
	return def
}

// IntOr returns the int at key, or def when absent or of another kind.
func (p Params) IntOr(key string, def int) int {
	if i, ok := p[key].AsInt(); ok {
		return i
	}
	return def
}

// BoolOr returns the bool at key, or def when absent or of another kind.
func (p Params) BoolOr(key string, def bool) bool {
	if b, ok := p[key].AsBool(); ok {
		return b
	}
	return def
}

// Keys returns the keys in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy; Values are immutable so this is a full copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p overlaid with other.
func (p Params) Merge(other Params) Params {
	out := p.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// ToMap converts the params to plain Go values.
func (p Params) ToMap() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.Any()
	}
	return out
}
