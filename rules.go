package objenc

import (
	"bytes"
	"database/sql"
	"encoding"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"os"
	"reflect"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
	"github.com/go-git/go-billy/v5"
	json "github.com/goccy/go-json"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// rule is one entry of the dispatch chain. convert returns a terminal JSON
// value; nested values go back through the walker.
type rule struct {
	name    string
	match   func(rv reflect.Value) bool
	convert func(w *walker, rv reflect.Value) (any, error)
}

// builtinRules is the dispatch chain in priority order. The first rule whose
// match reports true converts the value. Callers cannot add rules; only the
// suppression set is extensible.
//
// Named number types with their own marshaling method (enums, levels) are
// skipped by the integer and float rules so self-marshaling serves them.
func builtinRules() []rule {
	return []rule{
		{name: "stringified", match: matchStringified, convert: convertStringified},
		{name: "temporal", match: matchTemporal, convert: convertTemporal},
		{name: "integer", match: matchInteger, convert: convertInteger},
		{name: "float", match: matchFloat, convert: convertFloat},
		{name: "self-marshaling", match: matchSelfMarshaling, convert: convertSelfMarshaling},
		{name: "numeric-buffer", match: matchNumericBuffer, convert: convertNumericBuffer},
		{name: "callable", match: matchCallable, convert: convertCallable},
		{name: "attribute-bag", match: matchAttributeBag, convert: convertAttributeBag},
		{name: "filesystem-path", match: matchPath, convert: convertPath},
		{name: "timezone", match: matchTimezone, convert: convertTimezone},
		{name: "sequence", match: matchSequence, convert: convertSequence},
		{name: "named-primitive", match: matchNamedPrimitive, convert: convertNamedPrimitive},
	}
}

var (
	reflectTypeType   = reflect.TypeFor[reflect.Type]()
	bitsetType        = reflect.TypeFor[*bitset.BitSet]()
	roaringType       = reflect.TypeFor[*roaring.Bitmap]()
	timeType          = reflect.TypeFor[time.Time]()
	nullTimeType      = reflect.TypeFor[sql.NullTime]()
	timerType         = reflect.TypeFor[interface{ Time() time.Time }]()
	bigIntType        = reflect.TypeFor[big.Int]()
	bigFloatType      = reflect.TypeFor[big.Float]()
	bigRatType        = reflect.TypeFor[big.Rat]()
	protoMessageType  = reflect.TypeFor[proto.Message]()
	jsonMarshalerType = reflect.TypeFor[stdjson.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
	osFileType        = reflect.TypeFor[*os.File]()
	billyFileType     = reflect.TypeFor[billy.File]()
	locationType      = reflect.TypeFor[time.Location]()
)

// nonNilPointer reports whether rv is a non-nil pointer of type t.
func nonNilPointer(rv reflect.Value, t reflect.Type) bool {
	return rv.Type() == t && !rv.IsNil()
}

// addressable returns rv itself when it can be addressed, or an addressable
// copy of it, so pointer-receiver methods can be called.
func addressable(rv reflect.Value) reflect.Value {
	if rv.CanAddr() {
		return rv
	}
	cp := reflect.New(rv.Type()).Elem()
	cp.Set(rv)
	return cp
}

// implementer returns the receiver through which rv implements iface.
// Pointers whose element already implements iface are left to pointer
// indirection so the element is classified on its own.
func implementer(rv reflect.Value, iface reflect.Type) (reflect.Value, bool) {
	t := rv.Type()
	switch t.Kind() {
	case reflect.Interface:
		return reflect.Value{}, false
	case reflect.Pointer:
		if rv.IsNil() || t.Elem().Implements(iface) {
			return reflect.Value{}, false
		}
		return rv, t.Implements(iface)
	}
	if t.Implements(iface) {
		return rv, true
	}
	if reflect.PointerTo(t).Implements(iface) {
		return addressable(rv).Addr(), true
	}
	return reflect.Value{}, false
}

// call runs method of t through fn and turns a panic or an error into an
// AttributeError for the attribute w is resolving.
func call[T any](w *walker, t reflect.Type, method string, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = w.fault(t, method, fmt.Errorf("panic: %v", r))
		}
	}()
	result, err = fn()
	if err != nil {
		var attrErr *AttributeError
		if !errors.As(err, &attrErr) {
			err = w.fault(t, method, err)
		}
	}
	return result, err
}

// stringified: type literals and set-like collections.

func isSetLike(t reflect.Type) bool {
	return t.Kind() == reflect.Map && t.Elem().Kind() == reflect.Struct && t.Elem().Size() == 0
}

func matchStringified(rv reflect.Value) bool {
	t := rv.Type()
	if t.Implements(reflectTypeType) {
		return true
	}
	if isSetLike(t) {
		return true
	}
	return nonNilPointer(rv, bitsetType) || nonNilPointer(rv, roaringType)
}

func convertStringified(w *walker, rv reflect.Value) (any, error) {
	t := rv.Type()
	switch {
	case t.Implements(reflectTypeType):
		return rv.Interface().(reflect.Type).String(), nil
	case isSetLike(t):
		return setString(rv), nil
	case t == bitsetType:
		return rv.Interface().(*bitset.BitSet).String(), nil
	default:
		return rv.Interface().(*roaring.Bitmap).String(), nil
	}
}

// setString renders a set-like map as "{a, b, c}" with members sorted. The
// form is for humans; it does not round-trip.
func setString(rv reflect.Value) string {
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	parts := make([]string, len(keys))
	for i, k := range keys {
		if k.Kind() == reflect.String {
			parts[i] = strconv.Quote(k.String())
		} else {
			parts[i] = fmt.Sprint(k.Interface())
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func lessKey(a, b reflect.Value) bool {
	switch a.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return a.Int() < b.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return a.Uint() < b.Uint()
	case reflect.Float32, reflect.Float64:
		return a.Float() < b.Float()
	case reflect.String:
		return a.String() < b.String()
	}
	return fmt.Sprint(a.Interface()) < fmt.Sprint(b.Interface())
}

// temporal: time.Time and friends.

func matchTemporal(rv reflect.Value) bool {
	t := rv.Type()
	if t == timeType || t == nullTimeType {
		return true
	}
	if t.Kind() == reflect.Struct && t.ConvertibleTo(timeType) {
		return true
	}
	_, ok := implementer(rv, timerType)
	return ok
}

func convertTemporal(w *walker, rv reflect.Value) (any, error) {
	t := rv.Type()
	var tm time.Time
	switch {
	case t == timeType:
		tm = rv.Interface().(time.Time)
	case t == nullTimeType:
		nt := rv.Interface().(sql.NullTime)
		if !nt.Valid {
			return nil, nil
		}
		tm = nt.Time
	case t.Kind() == reflect.Struct && t.ConvertibleTo(timeType):
		tm = rv.Convert(timeType).Interface().(time.Time)
	default:
		recv, _ := implementer(rv, timerType)
		var err error
		tm, err = call(w, t, "Time", func() (time.Time, error) {
			return recv.Interface().(interface{ Time() time.Time }).Time(), nil
		})
		if err != nil {
			return nil, err
		}
	}
	if tm.IsZero() {
		return nil, nil
	}
	if w.enc.isDatastoreType(t) {
		return fmt.Sprint(rv.Interface()), nil
	}
	if loc := w.enc.cfg.timeLocation; loc != nil {
		tm = tm.In(loc)
	}
	return tm.Format(time.RFC3339Nano), nil
}

// integer: every integer kind and big.Int.

func isIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func matchInteger(rv reflect.Value) bool {
	t := rv.Type()
	if isIntKind(t.Kind()) {
		return !cooperates(t)
	}
	if t == bigIntType {
		return true
	}
	return nonNilPointer(rv, reflect.PointerTo(bigIntType))
}

func convertInteger(w *walker, rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return nativeUint(rv.Uint()), nil
	}
	var b *big.Int
	if rv.Kind() == reflect.Pointer {
		b = rv.Interface().(*big.Int)
	} else {
		b = addressable(rv).Addr().Interface().(*big.Int)
	}
	switch {
	case b.IsInt64():
		return b.Int64(), nil
	case b.IsUint64():
		return b.Uint64(), nil
	default:
		return stdjson.Number(b.String()), nil
	}
}

func nativeUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

// float: every float kind, big.Float and big.Rat.

func matchFloat(rv reflect.Value) bool {
	t := rv.Type()
	if isFloatKind(t.Kind()) {
		return !cooperates(t)
	}
	if t == bigFloatType || t == bigRatType {
		return true
	}
	return nonNilPointer(rv, reflect.PointerTo(bigFloatType)) || nonNilPointer(rv, reflect.PointerTo(bigRatType))
}

func convertFloat(w *walker, rv reflect.Value) (any, error) {
	var f float64
	switch {
	case rv.Kind() == reflect.Float32:
		f = widenFloat32(rv.Float())
	case rv.Kind() == reflect.Float64:
		f = rv.Float()
	default:
		recv := rv
		if recv.Kind() != reflect.Pointer {
			recv = addressable(rv).Addr()
		}
		switch x := recv.Interface().(type) {
		case *big.Float:
			if x.IsInf() {
				return nil, w.nonFinite(rv.Type())
			}
			f, _ = x.Float64()
		case *big.Rat:
			f, _ = x.Float64()
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, w.nonFinite(rv.Type())
	}
	return f, nil
}

// widenFloat32 converts through the shortest decimal form so 0.1 stays 0.1
// instead of 0.10000000149011612.
func widenFloat32(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	wide, err := strconv.ParseFloat(strconv.FormatFloat(f, 'g', -1, 32), 64)
	if err != nil {
		return f
	}
	return wide
}

// self-marshaling: protobuf messages, json.Marshaler, encoding.TextMarshaler.

func matchSelfMarshaling(rv reflect.Value) bool {
	if _, ok := implementer(rv, protoMessageType); ok {
		return true
	}
	if _, ok := implementer(rv, jsonMarshalerType); ok {
		return true
	}
	_, ok := implementer(rv, textMarshalerType)
	return ok
}

func convertSelfMarshaling(w *walker, rv reflect.Value) (any, error) {
	t := rv.Type()
	if recv, ok := implementer(rv, protoMessageType); ok {
		raw, err := call(w, t, "ProtoReflect", func() ([]byte, error) {
			return protojson.Marshal(recv.Interface().(proto.Message))
		})
		if err != nil {
			return nil, err
		}
		return compactRaw(w, t, "ProtoReflect", raw)
	}
	if recv, ok := implementer(rv, jsonMarshalerType); ok {
		raw, err := call(w, t, "MarshalJSON", func() ([]byte, error) {
			return recv.Interface().(stdjson.Marshaler).MarshalJSON()
		})
		if err != nil {
			return nil, err
		}
		return compactRaw(w, t, "MarshalJSON", raw)
	}
	recv, _ := implementer(rv, textMarshalerType)
	text, err := call(w, t, "MarshalText", func() ([]byte, error) {
		return recv.Interface().(encoding.TextMarshaler).MarshalText()
	})
	if err != nil {
		return nil, err
	}
	return string(text), nil
}

func compactRaw(w *walker, t reflect.Type, method string, raw []byte) (any, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, w.fault(t, method, err)
	}
	return stdjson.RawMessage(buf.Bytes()), nil
}

// numeric-buffer: slices and arrays of numbers.

// cooperates reports whether t is a named number type with a marshaling
// method of its own.
func cooperates(t reflect.Type) bool {
	if t.PkgPath() == "" || !isNumericKind(t.Kind()) {
		return false
	}
	pt := reflect.PointerTo(t)
	for _, iface := range []reflect.Type{protoMessageType, jsonMarshalerType, textMarshalerType} {
		if t.Implements(iface) || pt.Implements(iface) {
			return true
		}
	}
	return false
}

func isNumericKind(k reflect.Kind) bool {
	return isIntKind(k) || isFloatKind(k)
}

func matchNumericBuffer(rv reflect.Value) bool {
	k := rv.Kind()
	return (k == reflect.Slice || k == reflect.Array) && isNumericKind(rv.Type().Elem().Kind())
}

func convertNumericBuffer(w *walker, rv reflect.Value) (any, error) {
	if elem := rv.Type().Elem(); w.enc.suppress.has(elem) || cooperates(elem) {
		// Elements need their own dispatch.
		return convertSequence(w, rv)
	}
	out := make([]any, rv.Len())
	for i := range out {
		e := rv.Index(i)
		switch {
		case isFloatKind(e.Kind()):
			f := e.Float()
			if e.Kind() == reflect.Float32 {
				f = widenFloat32(f)
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				w.path = append(w.path, indexSegment(i))
				err := w.nonFinite(e.Type())
				w.path = w.path[:len(w.path)-1]
				return nil, err
			}
			out[i] = f
		case e.CanInt():
			out[i] = e.Int()
		default:
			out[i] = nativeUint(e.Uint())
		}
	}
	return out, nil
}

// callable: func values render as their qualified name.

func matchCallable(rv reflect.Value) bool {
	return rv.Kind() == reflect.Func
}

func convertCallable(w *walker, rv reflect.Value) (any, error) {
	if rv.IsNil() {
		return nil, nil
	}
	if fn := runtime.FuncForPC(rv.Pointer()); fn != nil {
		return "func " + fn.Name(), nil
	}
	return rv.Type().String(), nil
}

// attribute-bag: maps become objects, one level at a time.

func matchAttributeBag(rv reflect.Value) bool {
	return rv.Kind() == reflect.Map
}

func convertAttributeBag(w *walker, rv reflect.Value) (any, error) {
	if rv.IsNil() {
		return nil, nil
	}
	release, err := w.visit(rv)
	if err != nil {
		return nil, err
	}
	defer release()

	type entry struct {
		key   string
		value reflect.Value
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, err := mapKeyString(w, iter.Key())
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{key: key, value: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	out := NewObject(len(entries))
	owner := rv.Type()
	for _, e := range entries {
		restore := w.within(owner, e.key)
		v, err := w.childValue(keySegment(e.key), e.value)
		restore()
		if err != nil {
			return nil, err
		}
		out.Set(e.key, v)
	}
	return out, nil
}

// mapKeyString renders map keys the way encoding/json does, falling back to
// fmt for key kinds it rejects.
func mapKeyString(w *walker, k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	if recv, ok := implementer(k, textMarshalerType); ok {
		return call(w, k.Type(), "MarshalText", func() (string, error) {
			text, err := recv.Interface().(encoding.TextMarshaler).MarshalText()
			return string(text), err
		})
	}
	switch {
	case k.CanInt():
		return strconv.FormatInt(k.Int(), 10), nil
	case k.CanUint():
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return fmt.Sprint(k.Interface()), nil
}

// filesystem-path: open files render as their path.

func matchPath(rv reflect.Value) bool {
	if nonNilPointer(rv, osFileType) {
		return true
	}
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return false
	}
	return rv.Type().Implements(billyFileType)
}

func convertPath(w *walker, rv reflect.Value) (any, error) {
	if f, ok := rv.Interface().(*os.File); ok {
		return f.Name(), nil
	}
	return rv.Interface().(billy.File).Name(), nil
}

// timezone: locations render as their name.

func matchTimezone(rv reflect.Value) bool {
	return rv.Type() == locationType || nonNilPointer(rv, reflect.PointerTo(locationType))
}

func convertTimezone(w *walker, rv reflect.Value) (any, error) {
	if rv.Kind() == reflect.Pointer {
		return rv.Interface().(*time.Location).String(), nil
	}
	return addressable(rv).Addr().Interface().(*time.Location).String(), nil
}

// sequence: remaining slices and arrays.

func matchSequence(rv reflect.Value) bool {
	k := rv.Kind()
	return k == reflect.Slice || k == reflect.Array
}

func convertSequence(w *walker, rv reflect.Value) (any, error) {
	release, err := w.visit(rv)
	if err != nil {
		return nil, err
	}
	defer release()
	out := make([]any, rv.Len())
	for i := range out {
		if out[i], err = w.childValue(indexSegment(i), rv.Index(i)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// named-primitive: named bool and string types.

func matchNamedPrimitive(rv reflect.Value) bool {
	k := rv.Kind()
	return k == reflect.Bool || k == reflect.String
}

func convertNamedPrimitive(w *walker, rv reflect.Value) (any, error) {
	if rv.Kind() == reflect.Bool {
		return rv.Bool(), nil
	}
	return rv.String(), nil
}
