// Package value defines the tree-structured result type produced by the
// query executor and carried in completion notifications.
//
// Value is a sealed interface: only Null, Bool, Int, Double, String, List and
// Map implement it. Map keeps insertion order so that a row keeps its column
// order when it is serialized.
package value

import (
	"fmt"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindList
	KindMap
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a node of a result tree.
type Value interface {
	Kind() Kind
	value() // sealed
}

// Null is the explicit null value. SQL NULL always maps here, never to an
// omitted field.
type Null struct{}

func (Null) Kind() Kind { return KindNull }
func (Null) value()     {}

// Bool is a boolean leaf.
type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (Bool) value()     {}

// Int is a 64-bit integer leaf.
type Int int64

func (Int) Kind() Kind { return KindInt }
func (Int) value()     {}

// Double is a float64 leaf.
type Double float64

func (Double) Kind() Kind { return KindDouble }
func (Double) value()     {}

// String is a string leaf.
type String string

func (String) Kind() Kind { return KindString }
func (String) value()     {}

// List is an ordered sequence of values.
type List []Value

func (List) Kind() Kind { return KindList }
func (List) value()     {}

// Field is one key/value entry of a Map.
type Field struct {
	Key   string
	Value Value
}

// Map is an ordered string-keyed map. Keys are unique; Set on an existing key
// replaces the value in place.
type Map struct {
	fields []Field
	index  map[string]int
}

func (*Map) Kind() Kind { return KindMap }
func (*Map) value()     {}

// NewMap builds a Map from fields in order. A repeated key keeps its first
// position and its last value.
func NewMap(fields ...Field) *Map {
	m := &Map{}
	for _, f := range fields {
		m.Set(f.Key, f.Value)
	}
	return m
}

// F is shorthand for Field.
func F(key string, v Value) Field {
	return Field{Key: key, Value: v}
}

// Set inserts or replaces key.
func (m *Map) Set(key string, v Value) {
	if v == nil {
		v = Null{}
	}
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[key]; ok {
		m.fields[i].Value = v
		return
	}
	m.index[key] = len(m.fields)
	m.fields = append(m.fields, Field{Key: key, Value: v})
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil || m.index == nil {
		return nil, false
	}
	i, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return m.fields[i].Value, true
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.fields)
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.fields))
	for i, f := range m.fields {
		keys[i] = f.Key
	}
	return keys
}

// Fields returns a copy of the entries in insertion order.
func (m *Map) Fields() []Field {
	if m == nil {
		return nil
	}
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// From converts a Go value into a Value.
//
// Supported inputs: nil, bool, all integer kinds, float32/float64, string,
// []byte (as string), time.Time (as "2006-01-02 15:04:05"), []any,
// map[string]any (keys in unspecified order), and Value itself.
func From(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(x), nil
	case int8:
		return Int(x), nil
	case int16:
		return Int(x), nil
	case int32:
		return Int(x), nil
	case int64:
		return Int(x), nil
	case uint8:
		return Int(x), nil
	case uint16:
		return Int(x), nil
	case uint32:
		return Int(x), nil
	case float32:
		return Double(x), nil
	case float64:
		return Double(x), nil
	case string:
		return String(x), nil
	case []byte:
		return String(x), nil
	case time.Time:
		return String(x.Format(TimeLayout)), nil
	case []any:
		out := make(List, len(x))
		for i, elem := range x {
			ev, err := From(elem)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	case map[string]any:
		m := &Map{}
		for k, elem := range x {
			ev, err := From(elem)
			if err != nil {
				return nil, fmt.Errorf("map[%q]: %w", k, err)
			}
			m.Set(k, ev)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// TimeLayout is the layout used when a timestamp is converted to a String.
// It matches SQLite's CURRENT_TIMESTAMP text.
const TimeLayout = "2006-01-02 15:04:05"

// Any converts a Value back to plain Go values: nil, bool, int64, float64,
// string, []any and map[string]any.
func Any(v Value) any {
	switch x := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(x)
	case Int:
		return int64(x)
	case Double:
		return float64(x)
	case String:
		return string(x)
	case List:
		out := make([]any, len(x))
		for i, elem := range x {
			out[i] = Any(elem)
		}
		return out
	case *Map:
		out := make(map[string]any, x.Len())
		for _, f := range x.fields {
			out[f.Key] = Any(f.Value)
		}
		return out
	default:
		return nil
	}
}

// AsInt returns the integer held by v. Doubles with no fractional part are
// accepted.
func AsInt(v Value) (int64, bool) {
	switch x := v.(type) {
	case Int:
		return int64(x), true
	case Double:
		if float64(x) == float64(int64(x)) {
			return int64(x), true
		}
	}
	return 0, false
}

// AsString returns the string held by v.
func AsString(v Value) (string, bool) {
	s, ok := v.(String)
	return string(s), ok
}

// AsList returns the list held by v.
func AsList(v Value) (List, bool) {
	l, ok := v.(List)
	return l, ok
}

// AsMap returns the map held by v.
func AsMap(v Value) (*Map, bool) {
	m, ok := v.(*Map)
	return m, ok
}

// IsNull reports whether v is Null or a nil interface.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}
