package value

import (
	"iter"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ----------------------------- none -----------------------------------------

type noneAdapter struct{}

func (noneAdapter) Kind() Kind     { return KindNone }
func (noneAdapter) Test() bool     { return false }
func (noneAdapter) String() string { return "None" }
func (noneAdapter) Interface() any { return nil }

func (noneAdapter) Equal(other Adapter) (bool, bool) {
	return other.Kind() == KindNone, true
}

// ----------------------------- bool -----------------------------------------

type boolAdapter bool

func (b boolAdapter) Kind() Kind     { return KindBool }
func (b boolAdapter) Test() bool     { return bool(b) }
func (b boolAdapter) Interface() any { return bool(b) }

func (b boolAdapter) String() string {
	if b {
		return "True"
	}
	return "False"
}

func (b boolAdapter) Equal(other Adapter) (bool, bool) {
	o, ok := other.(boolAdapter)
	return ok && o == b, ok
}

func (b boolAdapter) Less(other Adapter) (bool, bool) {
	o, ok := other.(boolAdapter)
	return ok && !bool(b) && bool(o), ok
}

// ----------------------------- numbers --------------------------------------

type intAdapter int64

func (i intAdapter) Kind() Kind      { return KindInt }
func (i intAdapter) Test() bool      { return i != 0 }
func (i intAdapter) String() string  { return strconv.FormatInt(int64(i), 10) }
func (i intAdapter) Interface() any  { return int64(i) }
func (i intAdapter) Number() float64 { return float64(i) }

func (i intAdapter) Equal(other Adapter) (bool, bool) {
	o, ok := other.(intAdapter)
	return ok && o == i, ok
}

func (i intAdapter) Less(other Adapter) (bool, bool) {
	o, ok := other.(intAdapter)
	return ok && i < o, ok
}

type floatAdapter float64

func (f floatAdapter) Kind() Kind      { return KindFloat }
func (f floatAdapter) Test() bool      { return f != 0 }
func (f floatAdapter) String() string  { return FormatNumber(float64(f)) }
func (f floatAdapter) Interface() any  { return float64(f) }
func (f floatAdapter) Number() float64 { return float64(f) }

func (f floatAdapter) Equal(other Adapter) (bool, bool) {
	o, ok := other.(floatAdapter)
	return ok && o == f, ok
}

func (f floatAdapter) Less(other Adapter) (bool, bool) {
	o, ok := other.(floatAdapter)
	return ok && f < o, ok
}

// FormatNumber prints integral numbers without a fractional part.
func FormatNumber(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ----------------------------- string ---------------------------------------

type stringAdapter struct {
	s    string
	safe bool
}

func (s stringAdapter) Kind() Kind     { return KindString }
func (s stringAdapter) Test() bool     { return s.s != "" }
func (s stringAdapter) String() string { return s.s }
func (s stringAdapter) Safe() bool     { return s.safe }
func (s stringAdapter) Len() int       { return utf8.RuneCountInString(s.s) }

func (s stringAdapter) Interface() any {
	if s.safe {
		return SafeString(s.s)
	}
	return s.s
}

func (s stringAdapter) Iter() iter.Seq[Value] {
	return func(yield func(Value) bool) {
		for _, r := range s.s {
			if !yield(String(string(r))) {
				return
			}
		}
	}
}

func (s stringAdapter) Index(key Value) (Value, bool) {
	n, ok := key.a.(intAdapter)
	if !ok {
		return Value{}, false
	}
	runes := []rune(s.s)
	i := int(n)
	if i < 0 {
		i += len(runes)
	}
	if i < 0 || i >= len(runes) {
		return Value{}, false
	}
	return String(string(runes[i])), true
}

func (s stringAdapter) Equal(other Adapter) (bool, bool) {
	o, ok := other.(stringAdapter)
	return ok && o.s == s.s, ok
}

func (s stringAdapter) Less(other Adapter) (bool, bool) {
	o, ok := other.(stringAdapter)
	return ok && s.s < o.s, ok
}

// ----------------------------- datetime -------------------------------------

type timeAdapter struct{ t time.Time }

func (t timeAdapter) Kind() Kind     { return KindTime }
func (t timeAdapter) Test() bool     { return !t.t.IsZero() }
func (t timeAdapter) String() string { return t.t.Format("2006-01-02 15:04:05") }
func (t timeAdapter) Interface() any { return t.t }

func (t timeAdapter) Equal(other Adapter) (bool, bool) {
	o, ok := other.(timeAdapter)
	return ok && o.t.Equal(t.t), ok
}

func (t timeAdapter) Less(other Adapter) (bool, bool) {
	o, ok := other.(timeAdapter)
	return ok && t.t.Before(o.t), ok
}

// ----------------------------- sequence -------------------------------------

type seqAdapter []Value

func (s seqAdapter) Kind() Kind { return KindSequence }
func (s seqAdapter) Test() bool { return len(s) > 0 }
func (s seqAdapter) Len() int   { return len(s) }

func (s seqAdapter) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, item := range s {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(item.String())
	}
	sb.WriteByte(']')
	return sb.String()
}

func (s seqAdapter) Interface() any {
	out := make([]any, len(s))
	for i, item := range s {
		out[i] = item.Interface()
	}
	return out
}

func (s seqAdapter) Iter() iter.Seq[Value] {
	return func(yield func(Value) bool) {
		for _, item := range s {
			if !yield(item) {
				return
			}
		}
	}
}

func (s seqAdapter) Index(key Value) (Value, bool) {
	i, ok := indexOf(key)
	if !ok {
		return Value{}, false
	}
	if i < 0 {
		i += len(s)
	}
	if i < 0 || i >= len(s) {
		return Value{}, false
	}
	return s[i], true
}

func (s seqAdapter) Equal(other Adapter) (bool, bool) {
	o, ok := other.(seqAdapter)
	if !ok {
		return false, false
	}
	if len(o) != len(s) {
		return false, true
	}
	for i := range s {
		if !Equal(s[i], o[i]) {
			return false, true
		}
	}
	return true, true
}

func (s seqAdapter) Less(other Adapter) (bool, bool) {
	o, ok := other.(seqAdapter)
	if !ok {
		return false, false
	}
	for i := 0; i < len(s) && i < len(o); i++ {
		if Less(s[i], o[i]) {
			return true, true
		}
		if Less(o[i], s[i]) {
			return false, true
		}
	}
	return len(s) < len(o), true
}

// indexOf accepts integer keys and numeric strings ("items.0").
func indexOf(key Value) (int, bool) {
	switch k := key.a.(type) {
	case intAdapter:
		return int(k), true
	case floatAdapter:
		if float64(k) == math.Trunc(float64(k)) {
			return int(k), true
		}
	case stringAdapter:
		if n, err := strconv.Atoi(k.s); err == nil {
			return n, true
		}
	}
	return 0, false
}

// ----------------------------- mapping --------------------------------------

type mapAdapter struct {
	m    map[string]Value
	keys []string
}

func newMapAdapter(m map[string]Value) mapAdapter {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return mapAdapter{m: m, keys: keys}
}

func (m mapAdapter) Kind() Kind { return KindMapping }
func (m mapAdapter) Test() bool { return len(m.m) > 0 }
func (m mapAdapter) Len() int   { return len(m.m) }

func (m mapAdapter) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(m.m[k].String())
	}
	sb.WriteByte('}')
	return sb.String()
}

func (m mapAdapter) Interface() any {
	out := make(map[string]any, len(m.m))
	for k, v := range m.m {
		out[k] = v.Interface()
	}
	return out
}

// Iter yields the keys, like iterating a dictionary.
func (m mapAdapter) Iter() iter.Seq[Value] {
	return func(yield func(Value) bool) {
		for _, k := range m.keys {
			if !yield(String(k)) {
				return
			}
		}
	}
}

func (m mapAdapter) Index(key Value) (Value, bool) {
	name := key.String()
	if v, ok := m.m[name]; ok {
		return v, true
	}
	switch name {
	case "items":
		items := make([]Value, len(m.keys))
		for i, k := range m.keys {
			items[i] = Seq(String(k), m.m[k])
		}
		return seqOf(items), true
	case "keys":
		keys := make([]Value, len(m.keys))
		for i, k := range m.keys {
			keys[i] = String(k)
		}
		return seqOf(keys), true
	case "values":
		vals := make([]Value, len(m.keys))
		for i, k := range m.keys {
			vals[i] = m.m[k]
		}
		return seqOf(vals), true
	}
	return Value{}, false
}

func (m mapAdapter) Equal(other Adapter) (bool, bool) {
	o, ok := other.(mapAdapter)
	if !ok {
		return false, false
	}
	if len(o.m) != len(m.m) {
		return false, true
	}
	for k, v := range m.m {
		ov, found := o.m[k]
		if !found || !Equal(v, ov) {
			return false, true
		}
	}
	return true, true
}
