// Package value adapts arbitrary host data into a uniform, immutable Value.
//
// A Value wraps exactly one Adapter for its whole lifetime. The built-in
// adapters cover none, booleans, integers, floats, strings, sequences,
// mappings, datetimes and a reflection-backed adapter for any other host
// type. Hosts that need different behavior implement Adapter (plus any of the
// optional capability interfaces) and wrap it with FromAdapter.
package value

import (
	"fmt"
	"iter"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"fortio.org/safecast"
)

// Kind identifies the adapter family behind a Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindNone
	KindBool
	KindInt
	KindFloat
	KindString
	KindSequence
	KindMapping
	KindTime
	KindHost
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	case KindTime:
		return "datetime"
	case KindHost:
		return "host"
	default:
		return "invalid"
	}
}

// ----------------------------- Capabilities ---------------------------------

// Adapter is the minimal capability set every adapted type provides.
type Adapter interface {
	Kind() Kind
	Test() bool
	String() string
	Interface() any
}

// Numeric adapters can be coerced to a number.
type Numeric interface {
	Number() float64
}

// Iterable adapters produce a lazy, finite, restartable sequence.
type Iterable interface {
	Iter() iter.Seq[Value]
}

// Sizer adapters know their length without iterating.
type Sizer interface {
	Len() int
}

// Indexable adapters support key or attribute lookup.
type Indexable interface {
	Index(key Value) (Value, bool)
}

// Equaler compares against another adapter of the same kind.
// ok is false when the two adapters cannot be compared exactly.
type Equaler interface {
	Equal(other Adapter) (equal, ok bool)
}

// Lesser orders against another adapter of the same kind.
type Lesser interface {
	Less(other Adapter) (less, ok bool)
}

// Safer reports whether the adapted text is already safe for output.
type Safer interface {
	Safe() bool
}

// ----------------------------- Value ----------------------------------------

// Value is an immutable wrapper around one adapted host datum.
// The zero Value is uninitialized.
type Value struct {
	a Adapter
}

// FromAdapter wraps a host-provided adapter.
func FromAdapter(a Adapter) Value { return Value{a: a} }

// SafeString is a string that must not be escaped on output.
type SafeString string

// None returns the none value.
func None() Value { return Value{a: noneAdapter{}} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{a: boolAdapter(b)} }

// Int wraps an integer.
func Int(i int64) Value { return Value{a: intAdapter(i)} }

// Float wraps a floating point number.
func Float(f float64) Value { return Value{a: floatAdapter(f)} }

// String wraps a string.
func String(s string) Value { return Value{a: stringAdapter{s: s}} }

// Safe wraps a string already safe for output.
func Safe(s string) Value { return Value{a: stringAdapter{s: s, safe: true}} }

// Time wraps a datetime.
func Time(t time.Time) Value { return Value{a: timeAdapter{t: t}} }

// Seq wraps a copy of an ordered sequence of values.
func Seq(items ...Value) Value { return seqOf(slices.Clone(items)) }

// seqOf wraps a slice the caller no longer touches.
func seqOf(items []Value) Value { return Value{a: seqAdapter(items)} }

// Map wraps a copy of m. Iteration order follows sorted keys.
func Map(m map[string]Value) Value { return Value{a: newMapAdapter(maps.Clone(m))} }

// New adapts any host value.
func New(v any) Value {
	switch x := v.(type) {
	case nil:
		return None()
	case Value:
		return x
	case Adapter:
		return Value{a: x}
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case uint:
		return narrowUnsigned(x)
	case uint8:
		return Int(int64(x))
	case uint16:
		return Int(int64(x))
	case uint32:
		return Int(int64(x))
	case uint64:
		return narrowUnsigned(x)
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case string:
		return String(x)
	case SafeString:
		return Safe(string(x))
	case []byte:
		return String(string(x))
	case time.Time:
		return Time(x)
	case []Value:
		return Seq(x...)
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = New(item)
		}
		return seqOf(items)
	case []string:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = String(item)
		}
		return seqOf(items)
	case map[string]Value:
		return Map(x)
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			m[k] = New(item)
		}
		return Map(m)
	case map[string]string:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			m[k] = String(item)
		}
		return Map(m)
	case error:
		return String(x.Error())
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return None()
		}
	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return narrowUnsigned(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float())
	case reflect.String:
		return String(rv.String())
	}
	return Value{a: hostAdapter{rv: rv}}
}

func narrowUnsigned[T uint | uint64](u T) Value {
	i, err := safecast.Conv[int64](u)
	if err != nil {
		return Float(float64(u))
	}
	return Int(i)
}

// Initialized reports whether the value is bound to an adapter.
func (v Value) Initialized() bool { return v.a != nil }

// Adapter exposes the underlying adapter.
func (v Value) Adapter() Adapter { return v.a }

// Kind returns the adapter family, KindInvalid when uninitialized.
func (v Value) Kind() Kind {
	if v.a == nil {
		return KindInvalid
	}
	return v.a.Kind()
}

// IsNone reports whether the value is none.
func (v Value) IsNone() bool { return v.Kind() == KindNone }

// IsNumeric reports whether the value can be coerced to a number.
func (v Value) IsNumeric() bool {
	_, ok := v.a.(Numeric)
	return ok
}

// Test returns the truthiness: empty, zero and none are false.
func (v Value) Test() bool {
	if v.a == nil {
		return false
	}
	return v.a.Test()
}

// String renders the raw, unescaped text.
func (v Value) String() string {
	if v.a == nil {
		return ""
	}
	return v.a.String()
}

// Escape renders the text with HTML entities escaped.
func (v Value) Escape() string { return EscapeHTML(v.String()) }

// Safe reports whether the value was marked safe for output.
func (v Value) Safe() bool {
	s, ok := v.a.(Safer)
	return ok && s.Safe()
}

// MarkSafe returns the string rendering of v marked safe.
func MarkSafe(v Value) Value {
	if v.Safe() {
		return v
	}
	return Safe(v.String())
}

// Interface returns the adapted host value.
func (v Value) Interface() any {
	if v.a == nil {
		return nil
	}
	return v.a.Interface()
}

// Number coerces the value to a number.
func (v Value) Number() (float64, error) {
	if v.a == nil {
		return 0, ErrUninitialized
	}
	n, ok := v.a.(Numeric)
	if !ok {
		return 0, fmt.Errorf("%w: %s %q", ErrNotNumeric, v.a.Kind(), v.a.String())
	}
	return n.Number(), nil
}

// Iter returns a restartable sequence of child values.
func (v Value) Iter() (iter.Seq[Value], error) {
	if v.a == nil {
		return nil, ErrUninitialized
	}
	it, ok := v.a.(Iterable)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotIterable, v.a.Kind())
	}
	return it.Iter(), nil
}

// Items collects the sequence produced by Iter.
func (v Value) Items() ([]Value, error) {
	seq, err := v.Iter()
	if err != nil {
		return nil, err
	}
	var out []Value
	for item := range seq {
		out = append(out, item)
	}
	return out, nil
}

// Len returns the number of child values.
func (v Value) Len() (int, error) {
	if v.a == nil {
		return 0, ErrUninitialized
	}
	if s, ok := v.a.(Sizer); ok {
		return s.Len(), nil
	}
	seq, err := v.Iter()
	if err != nil {
		return 0, err
	}
	n := 0
	for range seq {
		n++
	}
	return n, nil
}

// Index looks up a key. Missing keys yield false, never an error.
func (v Value) Index(key Value) (Value, bool) {
	ix, ok := v.a.(Indexable)
	if !ok {
		return Value{}, false
	}
	return ix.Index(key)
}

// Attr looks up a named attribute or key.
func (v Value) Attr(name string) (Value, bool) { return v.Index(String(name)) }

// Reverse returns the child values in reverse order as a sequence.
func (v Value) Reverse() (Value, error) {
	items, err := v.Items()
	if err != nil {
		return Value{}, err
	}
	out := make([]Value, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item
	}
	return seqOf(out), nil
}

// Lookup resolves a dotted attribute path such as "author.name" or "items.0".
func (v Value) Lookup(path string) (Value, error) {
	cur := v
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		next, ok := cur.Attr(part)
		if !ok {
			return Value{}, fmt.Errorf("%w: %q in %q", ErrMissingAttribute, part, path)
		}
		cur = next
	}
	return cur, nil
}
