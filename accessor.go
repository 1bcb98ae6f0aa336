package synth

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/oarkflow/synth/kernel"
	"github.com/oarkflow/synth/value"
)

// ----------------------------- Data to variables ----------------------------

// VarsProvider can be implemented by data types to hand their variables to
// a template without reflection.
type VarsProvider interface {
	TemplateVars() map[string]any
}

// fieldInfo is an exported struct field visible to templates. A `synth`
// struct tag renames the field, and "-" hides it.
type fieldInfo struct {
	name  string
	index []int
}

// fieldCache remembers the visible fields of each struct type.
type fieldCache struct {
	mu    sync.RWMutex
	cache map[reflect.Type][]fieldInfo
}

func newFieldCache() *fieldCache {
	return &fieldCache{cache: make(map[reflect.Type][]fieldInfo)}
}

var globalFieldCache = newFieldCache()

func (fc *fieldCache) fields(typ reflect.Type) []fieldInfo {
	fc.mu.RLock()
	fields, ok := fc.cache[typ]
	fc.mu.RUnlock()
	if ok {
		return fields
	}

	for _, f := range reflect.VisibleFields(typ) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("synth"); ok {
			tag, _, _ = strings.Cut(tag, ",")
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		fields = append(fields, fieldInfo{name: name, index: f.Index})
	}

	fc.mu.Lock()
	fc.cache[typ] = fields
	fc.mu.Unlock()
	return fields
}

// vars converts render data into top-level template variables. Data may be
// nil, a string-keyed map, a VarsProvider, a mapping value or a struct.
func (fc *fieldCache) vars(data any) (map[string]value.Value, error) {
	switch d := data.(type) {
	case nil:
		return map[string]value.Value{}, nil
	case map[string]value.Value:
		out := make(map[string]value.Value, len(d))
		for k, v := range d {
			out[k] = v
		}
		return out, nil
	case map[string]any:
		return fromAnyMap(d), nil
	case VarsProvider:
		return fromAnyMap(d.TemplateVars()), nil
	case value.Value:
		if d.Kind() != value.KindMapping {
			break
		}
		items, err := d.Items()
		if err != nil {
			return nil, err
		}
		out := make(map[string]value.Value, len(items))
		for _, key := range items {
			if v, ok := d.Index(key); ok {
				out[key.String()] = v
			}
		}
		return out, nil
	}

	rv := reflect.ValueOf(data)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return map[string]value.Value{}, nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		fields := fc.fields(rv.Type())
		out := make(map[string]value.Value, len(fields))
		for _, f := range fields {
			fv, err := rv.FieldByIndexErr(f.index)
			if err != nil {
				continue
			}
			out[f.name] = value.New(fv.Interface())
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]value.Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = value.New(iter.Value().Interface())
		}
		return out, nil
	}
	return nil, kernel.Errorf(kernel.KindType, "render data must be a string-keyed map or a struct, got %s", typeName(data))
}

func fromAnyMap(m map[string]any) map[string]value.Value {
	out := make(map[string]value.Value, len(m))
	for k, v := range m {
		out[k] = value.New(v)
	}
	return out
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
