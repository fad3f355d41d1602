package objenc

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	intType := reflect.TypeFor[int]()
	cause := errors.New("cause")

	tests := []struct {
		err  error
		want string
		is   error
	}{
		{&UnsupportedTypeError{Type: intType}, "objenc: unsupported type int", ErrUnsupportedType},
		{&CyclicReferenceError{Type: intType, Path: "$.a"}, "objenc: cyclic reference to int at $.a", ErrCyclicReference},
		{&DepthExceededError{Limit: 2, Path: "$[0][0][0]"}, "objenc: nesting deeper than 2 at $[0][0][0]", ErrDepthExceeded},
		{&AttributeError{Type: intType, Method: "Fields", Path: "$", Err: cause}, "objenc: resolving int.Fields at $: cause", cause},
		{&AttributeError{Owner: reflect.TypeFor[map[string]any](), Name: "v", Type: intType, Method: "MarshalText", Path: "$.v", Err: cause}, "objenc: resolving attribute v of map[string]interface {}: int.MarshalText at $.v: cause", cause},
		{&AttributeError{Method: "Fields", Err: cause}, "objenc: resolving <nil>.Fields: cause", cause},
	}
	for _, tt := range tests {
		assert.EqualError(t, tt.err, tt.want)
		assert.ErrorIs(t, tt.err, tt.is)
	}
}

func TestWalkerPathString(t *testing.T) {
	w := newWalker(New())
	assert.Equal(t, "$", w.pathString())

	w.path = append(w.path, keySegment("items"), indexSegment(3))
	assert.Equal(t, "$.items[3]", w.pathString())
}

func TestStructPlanIsCached(t *testing.T) {
	type plain struct{ A, B int }
	first := structFields(reflect.TypeFor[plain]())
	second := structFields(reflect.TypeFor[plain]())

	assert.Equal(t, []structField{{name: "A", index: []int{0}}, {name: "B", index: []int{1}}}, first)
	assert.Equal(t, reflect.ValueOf(first).Pointer(), reflect.ValueOf(second).Pointer())
}
