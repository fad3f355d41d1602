// Package jsonencoder writes documents as JSON text. Values are first
// normalized by an objenc.ObjectEncoder, so arbitrary Go values can be
// encoded, and the resulting tree is written with goccy/go-json.
package jsonencoder

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/RobertWHurst/objenc"
)

// Encoder implements objenc.Encoder producing JSON.
type Encoder struct {
	objects *objenc.ObjectEncoder
	format  objenc.Format
}

var _ objenc.Encoder = &Encoder{}

// New creates a JSON encoder with its own ObjectEncoder built from opts.
func New(opts ...objenc.Option) *Encoder {
	return NewWithObjectEncoder(objenc.New(opts...))
}

// NewWithObjectEncoder creates a JSON encoder sharing objects. Formatting
// options are taken from objects.
func NewWithObjectEncoder(objects *objenc.ObjectEncoder) *Encoder {
	return &Encoder{
		objects: objects,
		format:  objects.Format(),
	}
}

// Encode serializes v as a single JSON document.
func (e *Encoder) Encode(v any) ([]byte, error) {
	tree, err := e.objects.Normalize(v)
	if err != nil {
		return nil, err
	}
	if e.format.SortKeys {
		tree = objenc.SortedTree(tree)
	}

	var buf bytes.Buffer
	if err := e.write(&buf, tree); err != nil {
		return nil, err
	}
	if e.format.Prefix == "" && e.format.Indent == "" {
		return buf.Bytes(), nil
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, buf.Bytes(), e.format.Prefix, e.format.Indent); err != nil {
		return nil, err
	}
	return indented.Bytes(), nil
}

// Decode parses JSON into v.
func (e *Encoder) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (e *Encoder) write(buf *bytes.Buffer, v any) error {
	switch tv := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(tv))
	case string:
		return e.writeString(buf, tv)
	case int64:
		buf.WriteString(strconv.FormatInt(tv, 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(tv, 10))
	case float64:
		b, err := json.Marshal(tv)
		if err != nil {
			return err
		}
		buf.Write(b)
	case stdjson.Number:
		if tv == "" {
			buf.WriteByte('0')
			return nil
		}
		if !isNumber(string(tv)) {
			return fmt.Errorf("jsonencoder: invalid number literal %q", string(tv))
		}
		buf.WriteString(string(tv))
	case stdjson.RawMessage:
		if len(tv) == 0 {
			buf.WriteString("null")
			return nil
		}
		if e.format.EscapeHTML {
			var escaped bytes.Buffer
			json.HTMLEscape(&escaped, tv)
			buf.Write(escaped.Bytes())
			return nil
		}
		buf.Write(tv)
	case []any:
		buf.WriteByte('[')
		for i, elem := range tv {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.write(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *objenc.Object:
		if tv == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('{')
		first := true
		var err error
		tv.Range(func(key string, value any) bool {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			if err = e.writeString(buf, key); err != nil {
				return false
			}
			buf.WriteByte(':')
			err = e.write(buf, value)
			return err == nil
		})
		if err != nil {
			return err
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("jsonencoder: unexpected %T in normalized document", v)
	}
	return nil
}

func (e *Encoder) writeString(buf *bytes.Buffer, s string) error {
	var (
		b   []byte
		err error
	)
	if e.format.EscapeHTML {
		b, err = json.Marshal(s)
	} else {
		b, err = json.MarshalWithOption(s, json.DisableHTMLEscape())
	}
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func isNumber(s string) bool {
	return json.Valid([]byte(s)) && (s[0] == '-' || (s[0] >= '0' && s[0] <= '9'))
}
