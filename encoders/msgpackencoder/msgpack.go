// Package msgpackencoder writes documents as MessagePack. Values are
// normalized by an objenc.ObjectEncoder first; objects keep their key order
// on the wire.
package msgpackencoder

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/RobertWHurst/objenc"
)

// Encoder implements objenc.Encoder using MessagePack binary serialization.
type Encoder struct {
	objects  *objenc.ObjectEncoder
	sortKeys bool
}

var _ objenc.Encoder = &Encoder{}

// New creates a MessagePack encoder with its own ObjectEncoder built from
// opts. Only the sort-keys formatting option applies to MessagePack.
func New(opts ...objenc.Option) *Encoder {
	return NewWithObjectEncoder(objenc.New(opts...))
}

// NewWithObjectEncoder creates a MessagePack encoder sharing objects.
func NewWithObjectEncoder(objects *objenc.ObjectEncoder) *Encoder {
	return &Encoder{
		objects:  objects,
		sortKeys: objects.Format().SortKeys,
	}
}

// Encode serializes v to MessagePack bytes.
func (e *Encoder) Encode(v any) ([]byte, error) {
	tree, err := e.objects.Normalize(v)
	if err != nil {
		return nil, err
	}
	if e.sortKeys {
		tree = objenc.SortedTree(tree)
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := encodeValue(enc, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes MessagePack bytes into v. Struct fields are matched
// by their json tags, the same names Encode writes.
func (e *Encoder) Decode(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func encodeValue(enc *msgpack.Encoder, v any) error {
	switch tv := v.(type) {
	case nil:
		return enc.EncodeNil()
	case bool:
		return enc.EncodeBool(tv)
	case string:
		return enc.EncodeString(tv)
	case int64:
		return enc.EncodeInt(tv)
	case uint64:
		return enc.EncodeUint(tv)
	case float64:
		return enc.EncodeFloat64(tv)
	case stdjson.Number:
		if i, err := tv.Int64(); err == nil {
			return enc.EncodeInt(i)
		}
		// Beyond 64 bits the literal is kept as text.
		return enc.EncodeString(tv.String())
	case stdjson.RawMessage:
		var decoded any
		if err := json.Unmarshal(tv, &decoded); err != nil {
			return err
		}
		return enc.Encode(decoded)
	case []any:
		if err := enc.EncodeArrayLen(len(tv)); err != nil {
			return err
		}
		for _, elem := range tv {
			if err := encodeValue(enc, elem); err != nil {
				return err
			}
		}
		return nil
	case *objenc.Object:
		if tv == nil {
			return enc.EncodeNil()
		}
		if err := enc.EncodeMapLen(tv.Len()); err != nil {
			return err
		}
		var err error
		tv.Range(func(key string, value any) bool {
			if err = enc.EncodeString(key); err != nil {
				return false
			}
			err = encodeValue(enc, value)
			return err == nil
		})
		return err
	}
	return fmt.Errorf("msgpackencoder: unexpected %T in normalized document", v)
}
