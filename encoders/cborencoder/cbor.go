// Package cborencoder writes documents as deterministic CBOR (RFC 8949
// core deterministic encoding). Object key order is not preserved; keys are
// emitted in the canonical order instead.
package cborencoder

import (
	stdjson "encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	json "github.com/goccy/go-json"

	"github.com/RobertWHurst/objenc"
)

// Encoder implements objenc.Encoder using CBOR.
type Encoder struct {
	objects *objenc.ObjectEncoder
	encMode cbor.EncMode
	decMode cbor.DecMode
}

var _ objenc.Encoder = &Encoder{}

// New creates a CBOR encoder with its own ObjectEncoder built from opts.
func New(opts ...objenc.Option) *Encoder {
	return NewWithObjectEncoder(objenc.New(opts...))
}

// NewWithObjectEncoder creates a CBOR encoder sharing objects.
func NewWithObjectEncoder(objects *objenc.ObjectEncoder) *Encoder {
	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cborencoder: building encode mode: %v", err))
	}
	decMode, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cborencoder: building decode mode: %v", err))
	}
	return &Encoder{
		objects: objects,
		encMode: encMode,
		decMode: decMode,
	}
}

// Encode serializes v to CBOR bytes.
func (e *Encoder) Encode(v any) ([]byte, error) {
	tree, err := e.objects.Normalize(v)
	if err != nil {
		return nil, err
	}
	plain, err := toPlain(tree)
	if err != nil {
		return nil, err
	}
	return e.encMode.Marshal(plain)
}

// Decode deserializes CBOR bytes into v. Maps decode with string keys.
func (e *Encoder) Decode(data []byte, v any) error {
	return e.decMode.Unmarshal(data, v)
}

// toPlain converts a normalized tree into values the CBOR library encodes
// natively.
func toPlain(v any) (any, error) {
	switch tv := v.(type) {
	case nil, bool, string, int64, uint64, float64:
		return tv, nil
	case stdjson.Number:
		if i, err := tv.Int64(); err == nil {
			return i, nil
		}
		return tv.String(), nil
	case stdjson.RawMessage:
		var decoded any
		if err := json.Unmarshal(tv, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	case []any:
		out := make([]any, len(tv))
		for i, elem := range tv {
			p, err := toPlain(elem)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case *objenc.Object:
		if tv == nil {
			return nil, nil
		}
		out := make(map[string]any, tv.Len())
		var err error
		tv.Range(func(key string, value any) bool {
			out[key], err = toPlain(value)
			return err == nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("cborencoder: unexpected %T in normalized document", v)
}
