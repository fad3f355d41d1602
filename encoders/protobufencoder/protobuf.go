// Package protobufencoder writes documents as protocol buffers. Messages
// are marshaled as they are; any other value is normalized and carried as a
// google.protobuf.Value.
package protobufencoder

import (
	stdjson "encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/RobertWHurst/objenc"
)

// ErrUnsupportedTarget is returned by Decode for targets that are neither a
// proto.Message nor *any.
var ErrUnsupportedTarget = errors.New("protobufencoder: decode target must be a proto.Message or *any")

// Encoder implements objenc.Encoder using protocol buffers.
type Encoder struct {
	objects *objenc.ObjectEncoder
}

var _ objenc.Encoder = &Encoder{}

// New creates a protobuf encoder with its own ObjectEncoder built from opts.
func New(opts ...objenc.Option) *Encoder {
	return NewWithObjectEncoder(objenc.New(opts...))
}

// NewWithObjectEncoder creates a protobuf encoder sharing objects.
func NewWithObjectEncoder(objects *objenc.ObjectEncoder) *Encoder {
	return &Encoder{objects: objects}
}

// Encode marshals v. A proto.Message is written directly, everything else
// as a structpb.Value.
func (e *Encoder) Encode(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	tree, err := e.objects.Normalize(v)
	if err != nil {
		return nil, err
	}
	value, err := toValue(tree)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(value)
}

// Decode unmarshals data into a proto.Message, or into *any for documents
// written as a structpb.Value.
func (e *Encoder) Decode(data []byte, v any) error {
	switch target := v.(type) {
	case proto.Message:
		return proto.Unmarshal(data, target)
	case *any:
		value := &structpb.Value{}
		if err := proto.Unmarshal(data, value); err != nil {
			return err
		}
		*target = value.AsInterface()
		return nil
	}
	return ErrUnsupportedTarget
}

func toValue(v any) (*structpb.Value, error) {
	switch tv := v.(type) {
	case nil:
		return structpb.NewNullValue(), nil
	case bool:
		return structpb.NewBoolValue(tv), nil
	case string:
		return structpb.NewStringValue(tv), nil
	case int64:
		return structpb.NewNumberValue(float64(tv)), nil
	case uint64:
		return structpb.NewNumberValue(float64(tv)), nil
	case float64:
		return structpb.NewNumberValue(tv), nil
	case stdjson.Number:
		// Literals wider than 64 bits would lose digits as a double.
		return structpb.NewStringValue(tv.String()), nil
	case stdjson.RawMessage:
		value := &structpb.Value{}
		if err := protojson.Unmarshal(tv, value); err != nil {
			return nil, err
		}
		return value, nil
	case []any:
		list := &structpb.ListValue{Values: make([]*structpb.Value, len(tv))}
		for i, elem := range tv {
			value, err := toValue(elem)
			if err != nil {
				return nil, err
			}
			list.Values[i] = value
		}
		return structpb.NewListValue(list), nil
	case *objenc.Object:
		if tv == nil {
			return structpb.NewNullValue(), nil
		}
		s := &structpb.Struct{Fields: make(map[string]*structpb.Value, tv.Len())}
		var err error
		tv.Range(func(key string, elem any) bool {
			s.Fields[key], err = toValue(elem)
			return err == nil
		})
		if err != nil {
			return nil, err
		}
		return structpb.NewStructValue(s), nil
	}
	return nil, fmt.Errorf("protobufencoder: unexpected %T in normalized document", v)
}
