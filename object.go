package objenc

import (
	"bytes"
	"sort"

	json "github.com/goccy/go-json"
)

// Object is an ordered JSON object: string keys are unique and keep the
// order in which they were first set.
type Object struct {
	keys   []string
	values map[string]any
}

// NewObject creates an empty Object with room for n keys.
func NewObject(n int) *Object {
	return &Object{
		keys:   make([]string, 0, n),
		values: make(map[string]any, n),
	}
}

// Set stores value under key. Setting an existing key replaces its value and
// keeps the key's original position.
func (o *Object) Set(key string, value any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	keys := make([]string, len(o.keys))
	copy(keys, o.keys)
	return keys
}

// Len returns the number of keys.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Range calls fn for each entry in order until fn returns false.
func (o *Object) Range(fn func(key string, value any) bool) {
	for _, k := range o.keys {
		if !fn(k, o.values[k]) {
			return
		}
	}
}

// Sorted returns a copy of o with keys in lexical order at every level,
// including objects nested inside arrays.
func (o *Object) Sorted() *Object {
	out := NewObject(len(o.keys))
	keys := o.Keys()
	sort.Strings(keys)
	for _, k := range keys {
		out.Set(k, sortedValue(o.values[k]))
	}
	return out
}

// SortedTree returns a normalized tree with every Object's keys in lexical
// order. Other values are returned unchanged.
func SortedTree(v any) any {
	return sortedValue(v)
}

func sortedValue(v any) any {
	switch tv := v.(type) {
	case *Object:
		if tv == nil {
			return tv
		}
		return tv.Sorted()
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = sortedValue(e)
		}
		return out
	default:
		return v
	}
}

// Map returns the entries as a plain map, recursively. Key order is lost.
func (o *Object) Map() map[string]any {
	out := make(map[string]any, len(o.keys))
	for _, k := range o.keys {
		out[k] = plainValue(o.values[k])
	}
	return out
}

func plainValue(v any) any {
	switch tv := v.(type) {
	case *Object:
		return tv.Map()
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = plainValue(e)
		}
		return out
	default:
		return v
	}
}

// MarshalJSON writes the entries in order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
