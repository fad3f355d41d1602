package objenc

import (
	"reflect"
	"sort"
	"strings"
)

// ObjectEncoder turns arbitrary Go values into trees a JSON writer can emit
// directly: nil, bool, string, int64, uint64, float64, json.Number,
// json.RawMessage, []any and *Object. It is immutable after New and safe for
// concurrent use.
type ObjectEncoder struct {
	cfg      config
	suppress *suppressionSet
	rules    []rule
}

// New creates an ObjectEncoder. Suppressed types given as options are added
// to the baseline set.
func New(opts ...Option) *ObjectEncoder {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ObjectEncoder{
		cfg:      cfg,
		suppress: newSuppressionSet(cfg.suppressed, cfg.suppressedKinds),
		rules:    builtinRules(),
	}
}

// Normalize converts v and everything reachable from it into the native
// tree. Values the writer already understands pass through with their
// children normalized.
func (e *ObjectEncoder) Normalize(v any) (any, error) {
	return newWalker(e).normalize(v)
}

// SerializeUnknown converts a single value that is not one of the native
// shapes. It is the hook a JSON writing layer calls when it meets a value it
// cannot express.
func (e *ObjectEncoder) SerializeUnknown(v any) (any, error) {
	return newWalker(e).dispatch(reflect.ValueOf(v))
}

// IsSuppressed reports whether v serializes as null because of its type.
func (e *ObjectEncoder) IsSuppressed(v any) bool {
	return e.suppress.has(reflect.TypeOf(v))
}

// Format returns the writer options the encoder was built with.
func (e *ObjectEncoder) Format() Format {
	return e.cfg.format
}

// MaxDepth returns the nesting limit.
func (e *ObjectEncoder) MaxDepth() int {
	return e.cfg.maxDepth
}

// Rules returns the names of the coercion rules in the order they are tried.
func (e *ObjectEncoder) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.name
	}
	return names
}

// SuppressedTypes returns the suppressed type names, sorted.
func (e *ObjectEncoder) SuppressedTypes() []string {
	types := e.suppress.types()
	names := make([]string, 0, len(types)+len(e.suppress.kinds))
	for _, t := range types {
		names = append(names, t.String())
	}
	for k := range e.suppress.kinds {
		names = append(names, "kind "+k.String())
	}
	sort.Strings(names)
	return names
}

// isDatastoreType reports whether t comes from a datastore driver package.
func (e *ObjectEncoder) isDatastoreType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	pkg := t.PkgPath()
	if pkg == "" {
		return false
	}
	for _, prefix := range e.cfg.datastorePackages {
		if strings.HasPrefix(pkg, prefix) {
			return true
		}
	}
	return false
}
