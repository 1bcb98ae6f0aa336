package value

import (
	"cmp"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"strings"
	"sync"
)

// ----------------------------- Host adapter ---------------------------------

// hostAdapter exposes structs, pointers, arbitrary maps and slices through
// reflection. Child values are adapted lazily on access.
type hostAdapter struct {
	rv reflect.Value
}

func (h hostAdapter) Kind() Kind { return KindHost }

func (h hostAdapter) elem() reflect.Value {
	rv := h.rv
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

func (h hostAdapter) Interface() any {
	if !h.rv.IsValid() || !h.rv.CanInterface() {
		return nil
	}
	return h.rv.Interface()
}

func (h hostAdapter) Test() bool {
	rv := h.elem()
	if !rv.IsValid() {
		return false
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String, reflect.Chan:
		return rv.Len() > 0
	}
	return !rv.IsZero()
}

func (h hostAdapter) String() string {
	if s, ok := h.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	rv := h.elem()
	if !rv.IsValid() {
		return "None"
	}
	return fmt.Sprintf("%v", rv.Interface())
}

func (h hostAdapter) Len() int {
	rv := h.elem()
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String, reflect.Chan:
		return rv.Len()
	}
	return 0
}

func (h hostAdapter) Iter() iter.Seq[Value] {
	rv := h.elem()
	return func(yield func(Value) bool) {
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				if !yield(New(rv.Index(i).Interface())) {
					return
				}
			}
		case reflect.Map:
			keys := rv.MapKeys()
			sortReflectKeys(keys)
			for _, k := range keys {
				if !yield(New(k.Interface())) {
					return
				}
			}
		case reflect.String:
			for _, r := range rv.String() {
				if !yield(String(string(r))) {
					return
				}
			}
		}
	}
}

func (h hostAdapter) Index(key Value) (Value, bool) {
	rv := h.elem()
	if !rv.IsValid() {
		return Value{}, false
	}
	name := key.String()
	switch rv.Kind() {
	case reflect.Struct:
		if fv, ok := structField(rv, name); ok {
			return New(fv.Interface()), true
		}
	case reflect.Map:
		mk, ok := mapKey(rv.Type().Key(), key)
		if ok {
			if mv := rv.MapIndex(mk); mv.IsValid() {
				return New(mv.Interface()), true
			}
		}
	case reflect.Slice, reflect.Array:
		if i, ok := indexOf(key); ok {
			if i < 0 {
				i += rv.Len()
			}
			if i >= 0 && i < rv.Len() {
				return New(rv.Index(i).Interface()), true
			}
		}
	}
	return callMethod(h.rv, name)
}

func (h hostAdapter) Equal(other Adapter) (bool, bool) {
	o, ok := other.(hostAdapter)
	if !ok {
		return false, false
	}
	return reflect.DeepEqual(h.Interface(), o.Interface()), true
}

// ----------------------------- Field lookup cache ---------------------------

type fieldCacheKey struct {
	typ  reflect.Type
	name string
}

type fieldInfo struct {
	index []int
	found bool
}

var fieldCache sync.Map // fieldCacheKey -> fieldInfo

// structField finds an exported field by exact or case-insensitive name.
func structField(rv reflect.Value, name string) (reflect.Value, bool) {
	key := fieldCacheKey{typ: rv.Type(), name: name}
	if cached, ok := fieldCache.Load(key); ok {
		info := cached.(fieldInfo)
		if !info.found {
			return reflect.Value{}, false
		}
		return fieldByIndex(rv, info.index)
	}
	info := fieldInfo{}
	if sf, ok := rv.Type().FieldByNameFunc(func(n string) bool {
		return n == name || strings.EqualFold(n, name)
	}); ok && sf.IsExported() {
		info = fieldInfo{index: sf.Index, found: true}
	}
	fieldCache.Store(key, info)
	if !info.found {
		return reflect.Value{}, false
	}
	return fieldByIndex(rv, info.index)
}

// fieldByIndex reports a field promoted through a nil embedded pointer as
// missing.
func fieldByIndex(rv reflect.Value, index []int) (reflect.Value, bool) {
	fv, err := rv.FieldByIndexErr(index)
	if err != nil {
		return reflect.Value{}, false
	}
	return fv, true
}

func mapKey(kt reflect.Type, key Value) (reflect.Value, bool) {
	if kt.Kind() == reflect.String {
		return reflect.ValueOf(key.String()).Convert(kt), true
	}
	raw := key.Interface()
	if raw == nil {
		return reflect.Value{}, false
	}
	rk := reflect.ValueOf(raw)
	if rk.Type().ConvertibleTo(kt) {
		return rk.Convert(kt), true
	}
	return reflect.Value{}, false
}

// callMethod invokes an exported zero-argument method returning one value,
// or a value and an error.
func callMethod(rv reflect.Value, name string) (Value, bool) {
	if !rv.IsValid() {
		return Value{}, false
	}
	m := rv.MethodByName(name)
	if !m.IsValid() && len(name) > 0 {
		m = rv.MethodByName(strings.ToUpper(name[:1]) + name[1:])
	}
	if !m.IsValid() || m.Type().NumIn() != 0 {
		return Value{}, false
	}
	switch m.Type().NumOut() {
	case 1:
		return New(m.Call(nil)[0].Interface()), true
	case 2:
		out := m.Call(nil)
		if err, _ := out[1].Interface().(error); err != nil {
			return Value{}, false
		}
		return New(out[0].Interface()), true
	}
	return Value{}, false
}

// sortReflectKeys orders map keys by their printed form.
func sortReflectKeys(keys []reflect.Value) {
	type keyed struct {
		text string
		key  reflect.Value
	}
	sorted := make([]keyed, len(keys))
	for i, k := range keys {
		sorted[i] = keyed{text: fmt.Sprint(k.Interface()), key: k}
	}
	slices.SortStableFunc(sorted, func(a, b keyed) int { return cmp.Compare(a.text, b.text) })
	for i, k := range sorted {
		keys[i] = k.key
	}
}
