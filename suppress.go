package objenc

import (
	"context"
	"log"
	"log/slog"
	"os"
	"reflect"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// baselineSuppressed are the types serialized as null by every encoder:
// reflection descriptors, opaque handles, tabular containers and logging
// singletons. Interface types match their implementers.
var baselineSuppressed = []reflect.Type{
	reflect.TypeFor[reflect.Value](),
	reflect.TypeFor[reflect.Method](),
	reflect.TypeFor[reflect.StructField](),
	reflect.TypeFor[*runtime.Func](),

	reflect.TypeFor[context.Context](),
	reflect.TypeFor[sync.Mutex](),
	reflect.TypeFor[sync.RWMutex](),
	reflect.TypeFor[sync.WaitGroup](),
	reflect.TypeFor[sync.Once](),
	reflect.TypeFor[*os.Process](),

	reflect.TypeFor[mat.Matrix](),

	reflect.TypeFor[*log.Logger](),
	reflect.TypeFor[*slog.Logger](),
	reflect.TypeFor[slog.Handler](),
	reflect.TypeFor[zerolog.Logger](),
	reflect.TypeFor[*zerolog.Logger](),
	reflect.TypeFor[*zap.Logger](),
	reflect.TypeFor[*zap.SugaredLogger](),
}

var baselineSuppressedKinds = []reflect.Kind{
	reflect.Chan,
	reflect.UnsafePointer,
}

// suppressionSet answers whether a type serializes as null. It is built once
// per encoder and only its memo changes afterwards.
type suppressionSet struct {
	exact map[reflect.Type]struct{}
	ifaces []reflect.Type
	kinds  map[reflect.Kind]struct{}
	memo   sync.Map
}

func newSuppressionSet(types []reflect.Type, kinds []reflect.Kind) *suppressionSet {
	s := &suppressionSet{
		exact: make(map[reflect.Type]struct{}),
		kinds: make(map[reflect.Kind]struct{}),
	}
	add := func(t reflect.Type) {
		if t == nil {
			return
		}
		if t.Kind() == reflect.Interface {
			for _, known := range s.ifaces {
				if known == t {
					return
				}
			}
			s.ifaces = append(s.ifaces, t)
			return
		}
		s.exact[t] = struct{}{}
	}
	for _, t := range baselineSuppressed {
		add(t)
	}
	for _, t := range types {
		add(t)
	}
	for _, k := range baselineSuppressedKinds {
		s.kinds[k] = struct{}{}
	}
	for _, k := range kinds {
		s.kinds[k] = struct{}{}
	}
	return s
}

func (s *suppressionSet) has(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if cached, ok := s.memo.Load(t); ok {
		return cached.(bool)
	}
	result := s.compute(t)
	s.memo.Store(t, result)
	return result
}

func (s *suppressionSet) compute(t reflect.Type) bool {
	if _, ok := s.kinds[t.Kind()]; ok {
		return true
	}
	if _, ok := s.exact[t]; ok {
		return true
	}
	if t.Kind() == reflect.Interface {
		return false
	}
	for _, iface := range s.ifaces {
		if t.Implements(iface) {
			return true
		}
		// Method sets declared on the pointer still identify the value type.
		if t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(iface) {
			return true
		}
	}
	return false
}

// types returns the exact and interface types of the set, for diagnostics.
func (s *suppressionSet) types() []reflect.Type {
	out := make([]reflect.Type, 0, len(s.exact)+len(s.ifaces))
	for t := range s.exact {
		out = append(out, t)
	}
	return append(out, s.ifaces...)
}
