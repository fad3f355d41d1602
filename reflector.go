package objenc

import (
	"reflect"
	"strings"
	"sync"
)

// Field is one named attribute reported by a Fielder.
type Field struct {
	Name  string
	Value any
}

// Fielder lets a type list its own attributes instead of having them found
// through reflection. Later fields with a repeated name replace earlier ones
// in place.
type Fielder interface {
	Fields() []Field
}

var fielderType = reflect.TypeFor[Fielder]()

// structField is one serializable field of a struct type, addressed by its
// index path from the outer struct.
type structField struct {
	name  string
	index []int
}

// fieldCache maps reflect.Type to the []structField plan for that type.
var fieldCache sync.Map

// reflect turns a Fielder or a struct into an Object. ok is false when rv is
// neither.
func (w *walker) reflect(rv reflect.Value) (any, bool, error) {
	if recv, ok := implementer(rv, fielderType); ok {
		out, err := w.reflectFielder(rv.Type(), recv)
		return out, true, err
	}
	if rv.Kind() != reflect.Struct {
		return nil, false, nil
	}
	out, err := w.reflectStruct(rv)
	return out, true, err
}

func (w *walker) reflectFielder(owner reflect.Type, recv reflect.Value) (any, error) {
	fields, err := call(w, owner, "Fields", func() ([]Field, error) {
		return recv.Interface().(Fielder).Fields(), nil
	})
	if err != nil {
		return nil, err
	}
	out := NewObject(len(fields))
	for _, f := range fields {
		if isDunder(f.Name) || isCallable(f.Value) {
			continue
		}
		restore := w.within(owner, f.Name)
		v, err := w.child(keySegment(f.Name), f.Value)
		restore()
		if err != nil {
			return nil, err
		}
		out.Set(f.Name, v)
	}
	return out, nil
}

func (w *walker) reflectStruct(rv reflect.Value) (any, error) {
	owner := rv.Type()
	plan := structFields(owner)
	out := NewObject(len(plan))
	for _, f := range plan {
		fv, err := rv.FieldByIndexErr(f.index)
		if err != nil {
			// Promoted through a nil embedded pointer.
			continue
		}
		if fv.Kind() == reflect.Interface && !fv.IsNil() && fv.Elem().Kind() == reflect.Func {
			continue
		}
		restore := w.within(owner, f.name)
		v, err := w.childValue(keySegment(f.name), fv)
		restore()
		if err != nil {
			return nil, err
		}
		out.Set(f.name, v)
	}
	return out, nil
}

func structFields(t reflect.Type) []structField {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]structField)
	}
	plan := dedupeFields(collectFields(t, nil, map[reflect.Type]bool{}))
	cached, _ := fieldCache.LoadOrStore(t, plan)
	return cached.([]structField)
}

// collectFields lists promoted fields before the type's own fields, so that
// an own field replaces a promoted one of the same name.
func collectFields(t reflect.Type, prefix []int, seen map[reflect.Type]bool) []structField {
	if seen[t] {
		return nil
	}
	seen[t] = true
	defer delete(seen, t)

	var promoted, own []structField
	for i := range t.NumField() {
		sf := t.Field(i)
		index := append(append([]int(nil), prefix...), i)
		name, skip := jsonName(sf)
		if skip {
			continue
		}
		if sf.Anonymous && name == "" {
			et := sf.Type
			isPtr := et.Kind() == reflect.Pointer
			if isPtr {
				et = et.Elem()
			}
			if et.Kind() == reflect.Struct {
				if isPtr && !sf.IsExported() {
					continue
				}
				promoted = append(promoted, collectFields(et, index, seen)...)
				continue
			}
		}
		if !sf.IsExported() || sf.Type.Kind() == reflect.Func {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		if isDunder(name) {
			continue
		}
		own = append(own, structField{name: name, index: index})
	}
	return append(promoted, own...)
}

// dedupeFields keeps the first position of every name and the last field
// bound to it.
func dedupeFields(fields []structField) []structField {
	pos := make(map[string]int, len(fields))
	out := make([]structField, 0, len(fields))
	for _, f := range fields {
		if i, ok := pos[f.name]; ok {
			out[i] = f
			continue
		}
		pos[f.name] = len(out)
		out = append(out, f)
	}
	return out
}

// jsonName returns the name given by the field's json tag, or "" when the
// tag leaves the name unset.
func jsonName(sf reflect.StructField) (name string, skip bool) {
	tag, ok := sf.Tag.Lookup("json")
	if !ok {
		return "", false
	}
	if tag == "-" {
		return "", true
	}
	name, _, _ = strings.Cut(tag, ",")
	return name, false
}

func isDunder(name string) bool {
	return len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}

func isCallable(v any) bool {
	return v != nil && reflect.TypeOf(v).Kind() == reflect.Func
}
