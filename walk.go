package objenc

import (
	stdjson "encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// walker carries the state of one Normalize or SerializeUnknown call. It is
// never shared between calls.
type walker struct {
	enc      *ObjectEncoder
	depth    int
	path     []string
	visiting map[visitKey]struct{}

	// owner and attr name the attribute currently being resolved.
	owner reflect.Type
	attr  string
}

// visitKey identifies a reference-like value: pointers and maps by address,
// slices by backing array, length and type.
type visitKey struct {
	ptr uintptr
	typ reflect.Type
	n   int
}

func newWalker(enc *ObjectEncoder) *walker {
	return &walker{
		enc:      enc,
		visiting: make(map[visitKey]struct{}),
	}
}

func (w *walker) pathString() string {
	if len(w.path) == 0 {
		return "$"
	}
	return "$" + strings.Join(w.path, "")
}

// within records owner and name as the attribute being resolved until the
// returned func restores the previous one.
func (w *walker) within(owner reflect.Type, name string) func() {
	prevOwner, prevAttr := w.owner, w.attr
	w.owner, w.attr = owner, name
	return func() { w.owner, w.attr = prevOwner, prevAttr }
}

// fault tags err, raised by method of t, with the attribute being resolved.
func (w *walker) fault(t reflect.Type, method string, err error) error {
	return &AttributeError{
		Owner:  w.owner,
		Name:   w.attr,
		Type:   t,
		Method: method,
		Path:   w.pathString(),
		Err:    err,
	}
}

// child serializes a nested value one level below the current one.
func (w *walker) child(segment string, v any) (any, error) {
	w.depth++
	w.path = append(w.path, segment)
	defer func() {
		w.depth--
		w.path = w.path[:len(w.path)-1]
	}()
	if w.depth > w.enc.cfg.maxDepth {
		return nil, &DepthExceededError{Limit: w.enc.cfg.maxDepth, Path: w.pathString()}
	}
	return w.normalize(v)
}

// childValue is child for values reached through reflection.
func (w *walker) childValue(segment string, rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	if rv.CanInterface() {
		return w.child(segment, rv.Interface())
	}
	return nil, &UnsupportedTypeError{Type: rv.Type(), Reason: "value is not accessible", Path: w.pathString() + segment}
}

// visit marks a reference-like value as being serialized. The returned
// release func must be called once the value is done.
func (w *walker) visit(rv reflect.Value) (func(), error) {
	var key visitKey
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map:
		key = visitKey{ptr: rv.Pointer(), typ: rv.Type()}
	case reflect.Slice:
		if rv.Len() == 0 {
			return func() {}, nil
		}
		key = visitKey{ptr: rv.Pointer(), typ: rv.Type(), n: rv.Len()}
	default:
		return func() {}, nil
	}
	if key.ptr == 0 {
		return func() {}, nil
	}
	if _, ok := w.visiting[key]; ok {
		return nil, &CyclicReferenceError{Type: rv.Type(), Path: w.pathString()}
	}
	w.visiting[key] = struct{}{}
	return func() { delete(w.visiting, key) }, nil
}

// normalize handles the shapes the JSON writer expresses natively and hands
// everything else to the dispatch driver.
func (w *walker) normalize(v any) (any, error) {
	switch tv := v.(type) {
	case nil:
		return nil, nil
	case bool, string, int64, uint64, stdjson.Number, stdjson.RawMessage:
		return tv, nil
	case int:
		return int64(tv), nil
	case float64:
		if math.IsNaN(tv) || math.IsInf(tv, 0) {
			return nil, w.nonFinite(reflect.TypeOf(tv))
		}
		return tv, nil
	case []any:
		return w.normalizeArray(tv)
	case map[string]any:
		return w.normalizeMap(tv)
	case *Object:
		return w.normalizeObject(tv)
	}
	return w.dispatch(reflect.ValueOf(v))
}

func (w *walker) normalizeArray(arr []any) (any, error) {
	if arr == nil {
		return []any{}, nil
	}
	release, err := w.visit(reflect.ValueOf(arr))
	if err != nil {
		return nil, err
	}
	defer release()
	out := make([]any, len(arr))
	for i, e := range arr {
		if out[i], err = w.child(indexSegment(i), e); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (w *walker) normalizeMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	release, err := w.visit(reflect.ValueOf(m))
	if err != nil {
		return nil, err
	}
	defer release()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := NewObject(len(keys))
	owner := reflect.TypeOf(m)
	for _, k := range keys {
		restore := w.within(owner, k)
		v, err := w.child(keySegment(k), m[k])
		restore()
		if err != nil {
			return nil, err
		}
		out.Set(k, v)
	}
	return out, nil
}

func (w *walker) normalizeObject(o *Object) (any, error) {
	if o == nil {
		return nil, nil
	}
	release, err := w.visit(reflect.ValueOf(o))
	if err != nil {
		return nil, err
	}
	defer release()
	out := NewObject(o.Len())
	for _, k := range o.keys {
		restore := w.within(objectPtrType, k)
		v, err := w.child(keySegment(k), o.values[k])
		restore()
		if err != nil {
			return nil, err
		}
		out.Set(k, v)
	}
	return out, nil
}

// dispatch is the driver: suppression, then the ordered rules, then pointer
// indirection, then the reflector.
func (w *walker) dispatch(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		return w.dispatch(rv.Elem())
	}
	if rv.CanInterface() && isTerminalType(rv.Type()) {
		return w.normalize(rv.Interface())
	}
	if w.enc.suppress.has(rv.Type()) {
		return nil, nil
	}
	for _, r := range w.enc.rules {
		if r.match(rv) {
			return r.convert(w, rv)
		}
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		release, err := w.visit(rv)
		if err != nil {
			return nil, err
		}
		defer release()
		return w.dispatch(rv.Elem())
	}
	if out, ok, err := w.reflect(rv); ok {
		return out, err
	}
	return nil, &UnsupportedTypeError{Type: rv.Type(), Reason: "no rule matches " + rv.Kind().String() + " values", Path: w.pathString()}
}

func (w *walker) nonFinite(t reflect.Type) error {
	return &UnsupportedTypeError{Type: t, Reason: "NaN and infinite floats have no JSON representation", Path: w.pathString()}
}

var (
	objectPtrType = reflect.TypeFor[*Object]()
	numberType    = reflect.TypeFor[stdjson.Number]()
	rawType       = reflect.TypeFor[stdjson.RawMessage]()
)

func isTerminalType(t reflect.Type) bool {
	return t == objectPtrType || t == numberType || t == rawType
}

func indexSegment(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}

func keySegment(k string) string {
	return "." + k
}
