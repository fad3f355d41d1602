package objenc_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"net"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/RobertWHurst/objenc"
	"github.com/RobertWHurst/objenc/encoders/jsonencoder"
)

type Base struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

type Item struct {
	Base
	Label  string `json:"label"`
	Count  uint8
	secret string
	Hook   func()
	Meta   string `json:"__meta__"`
	Skip   string `json:"-"`
}

type Outer struct {
	*Base
	Name string
}

type holder struct {
	Any any
	Err error
	Ctx context.Context
	Mu  sync.Mutex
}

type point struct{ x, y int }

func (p point) Fields() []objenc.Field {
	return []objenc.Field{
		{Name: "x", Value: p.x},
		{Name: "y", Value: p.y},
		{Name: "x", Value: 10},
		{Name: "__hidden__", Value: 1},
		{Name: "fn", Value: func() {}},
	}
}

type broken struct{}

func (broken) Fields() []objenc.Field { panic("boom") }

var errRefused = errors.New("refused")

type refusing struct{}

func (refusing) MarshalJSON() ([]byte, error) { return nil, errRefused }

type malformed struct{}

func (malformed) MarshalJSON() ([]byte, error) { return []byte("{"), nil }

type preformatted struct{}

func (preformatted) MarshalJSON() ([]byte, error) { return []byte(`{ "a" : [1, 2] }`), nil }

type node struct {
	Name string
	Next *node
}

type color string

type enabled bool

type secretive interface{ Secret() string }

type apiKey struct{ Value string }

func (k *apiKey) Secret() string { return k.Value }

type password string

type dsTime struct{ at time.Time }

func (d dsTime) Time() time.Time { return d.at }
func (d dsTime) String() string  { return "ds:" + d.at.Format("2006") }

func encode(t *testing.T, enc *objenc.ObjectEncoder, v any) string {
	t.Helper()
	out, err := jsonencoder.NewWithObjectEncoder(enc).Encode(v)
	require.NoError(t, err)
	return string(out)
}

func TestNormalizeStructFields(t *testing.T) {
	enc := objenc.New()

	item := Item{
		Base:   Base{ID: 1, Label: "base"},
		Label:  "own",
		Count:  3,
		secret: "s",
		Hook:   func() {},
		Meta:   "m",
		Skip:   "x",
	}
	assert.Equal(t, `{"id":1,"label":"own","Count":3}`, encode(t, enc, item))
	assert.Equal(t, `{"id":1,"label":"own","Count":3}`, encode(t, enc, &item))
}

func TestNormalizeNilEmbeddedPointer(t *testing.T) {
	enc := objenc.New()

	assert.Equal(t, `{"Name":"n"}`, encode(t, enc, Outer{Name: "n"}))
	assert.Equal(t, `{"id":2,"label":"b","Name":"n"}`, encode(t, enc, Outer{Base: &Base{ID: 2, Label: "b"}, Name: "n"}))
}

func TestNormalizeInterfaceFields(t *testing.T) {
	enc := objenc.New()

	out := encode(t, enc, &holder{Any: func() {}, Ctx: context.Background()})
	assert.Equal(t, `{"Err":null,"Ctx":null,"Mu":null}`, out)

	out = encode(t, enc, &holder{Any: []int{1}})
	assert.Equal(t, `[1]`, gjson.Get(out, "Any").Raw)
}

func TestNormalizeFielder(t *testing.T) {
	enc := objenc.New()

	assert.Equal(t, `{"x":10,"y":2}`, encode(t, enc, point{x: 1, y: 2}))
}

func TestNormalizeFielderPanic(t *testing.T) {
	enc := objenc.New()

	_, err := enc.Normalize(map[string]any{"b": broken{}})
	var attrErr *objenc.AttributeError
	require.ErrorAs(t, err, &attrErr)
	assert.Equal(t, reflect.TypeFor[map[string]any](), attrErr.Owner)
	assert.Equal(t, "b", attrErr.Name)
	assert.Equal(t, reflect.TypeFor[broken](), attrErr.Type)
	assert.Equal(t, "Fields", attrErr.Method)
	assert.Equal(t, "$.b", attrErr.Path)
	assert.ErrorContains(t, err, "panic: boom")
}

func TestNormalizeSelfMarshaling(t *testing.T) {
	enc := objenc.New()

	assert.Equal(t, `{"a":[1,2]}`, encode(t, enc, preformatted{}))
	assert.Equal(t, `"127.0.0.1"`, encode(t, enc, net.ParseIP("127.0.0.1")))

	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.Equal(t, `"6ba7b810-9dad-11d1-80b4-00c04fd430c8"`, encode(t, enc, id))

	assert.Equal(t, `"hello"`, encode(t, enc, wrapperspb.String("hello")))
}

func TestNormalizeSelfMarshalingFaults(t *testing.T) {
	enc := objenc.New()

	_, err := enc.Normalize(refusing{})
	var attrErr *objenc.AttributeError
	require.ErrorAs(t, err, &attrErr)
	assert.Nil(t, attrErr.Owner)
	assert.Empty(t, attrErr.Name)
	assert.Equal(t, "MarshalJSON", attrErr.Method)
	assert.Equal(t, "$", attrErr.Path)
	assert.ErrorIs(t, err, errRefused)

	_, err = enc.Normalize(malformed{})
	require.ErrorAs(t, err, &attrErr)
	assert.Equal(t, reflect.TypeFor[malformed](), attrErr.Type)
}

type envelope struct {
	Kind    string
	Payload any
}

type batch struct {
	Items []envelope
}

func TestNormalizeAttributeFaultNamesOwner(t *testing.T) {
	enc := objenc.New()

	_, err := enc.Normalize(envelope{Kind: "k", Payload: refusing{}})
	var attrErr *objenc.AttributeError
	require.ErrorAs(t, err, &attrErr)
	assert.Equal(t, reflect.TypeFor[envelope](), attrErr.Owner)
	assert.Equal(t, "Payload", attrErr.Name)
	assert.Equal(t, reflect.TypeFor[refusing](), attrErr.Type)
	assert.Equal(t, "$.Payload", attrErr.Path)
	assert.EqualError(t, err, "objenc: resolving attribute Payload of objenc_test.envelope: objenc_test.refusing.MarshalJSON at $.Payload: refused")

	_, err = enc.Normalize(&batch{Items: []envelope{{Kind: "ok"}, {Payload: broken{}}}})
	require.ErrorAs(t, err, &attrErr)
	assert.Equal(t, reflect.TypeFor[envelope](), attrErr.Owner)
	assert.Equal(t, "Payload", attrErr.Name)
	assert.Equal(t, "$.Items[1].Payload", attrErr.Path)
}

func TestNormalizeIntegers(t *testing.T) {
	enc := objenc.New()

	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	out := encode(t, enc, []any{
		int8(-3),
		uint64(math.MaxUint64),
		big.NewInt(5),
		*big.NewInt(-6),
		huge,
	})
	assert.Equal(t, `[-3,18446744073709551615,5,-6,1180591620717411303424]`, out)

	tree, err := enc.Normalize(huge)
	require.NoError(t, err)
	assert.Equal(t, json.Number("1180591620717411303424"), tree)
}

func TestNormalizeFloats(t *testing.T) {
	enc := objenc.New()

	out := encode(t, enc, []any{float32(0.1), 2.5, big.NewRat(1, 4), big.NewFloat(1.5)})
	assert.Equal(t, `[0.1,2.5,0.25,1.5]`, out)
}

func TestNormalizeNonFiniteFloats(t *testing.T) {
	enc := objenc.New()

	for _, v := range []any{math.NaN(), math.Inf(1), float32(math.Inf(-1)), new(big.Float).SetInf(false)} {
		_, err := enc.Normalize(v)
		assert.ErrorIs(t, err, objenc.ErrUnsupportedType, "%T", v)
	}

	_, err := enc.Normalize(map[string]any{"values": []float64{1, math.NaN()}})
	var typeErr *objenc.UnsupportedTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "$.values[1]", typeErr.Path)
}

func TestNormalizeNumericBuffers(t *testing.T) {
	enc := objenc.New()

	assert.Equal(t, `[104,105]`, encode(t, enc, []byte("hi")))
	assert.Equal(t, `[]`, encode(t, enc, []int(nil)))
	assert.Equal(t, `[1,2,3]`, encode(t, enc, [3]int16{1, 2, 3}))
	assert.Equal(t, `[0.5,1]`, encode(t, enc, []float32{0.5, 1}))
}

type pin int32

type level int

func (l level) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{"debug", "info", "warn"}[l])
}

type grade float64

func (g *grade) MarshalText() ([]byte, error) {
	if *g >= 0.5 {
		return []byte("pass"), nil
	}
	return []byte("fail"), nil
}

func TestNormalizeSuppressedNumericElements(t *testing.T) {
	enc := objenc.New(objenc.WithSuppressed(reflect.TypeFor[pin]()))

	assert.Equal(t, `null`, encode(t, enc, pin(1234)))
	assert.Equal(t, `[null,null]`, encode(t, enc, []pin{1234, 5678}))
	assert.Equal(t, `[null]`, encode(t, enc, [1]pin{1}))
	assert.Equal(t, `[1234]`, encode(t, enc, []int32{1234}))

	byKind := objenc.New(objenc.WithSuppressedKinds(reflect.Uint8))
	assert.Equal(t, `[null,null]`, encode(t, byKind, []byte("hi")))
}

func TestNormalizeNamedNumbersMarshalThemselves(t *testing.T) {
	enc := objenc.New()

	assert.Equal(t, `"warn"`, encode(t, enc, level(2)))
	assert.Equal(t, `["debug","info"]`, encode(t, enc, []level{0, 1}))
	assert.Equal(t, `"pass"`, encode(t, enc, grade(0.75)))
	assert.Equal(t, `{"a":"fail"}`, encode(t, enc, map[string]grade{"a": 0.25}))
	assert.Equal(t, `1500000000`, encode(t, enc, 1500*time.Millisecond))
}

func TestNormalizeAttributeBags(t *testing.T) {
	enc := objenc.New()

	assert.Equal(t, `{"1":"a","10":"c","2":"b"}`, encode(t, enc, map[int]string{2: "b", 1: "a", 10: "c"}))
	assert.Equal(t, `{"a":2,"b":1}`, encode(t, enc, map[string]any{"b": 1, "a": 2}))
	assert.Equal(t, `null`, encode(t, enc, map[string]int(nil)))
	assert.Equal(t, `{"k":{"n":1}}`, encode(t, enc, map[string]map[string]int{"k": {"n": 1}}))
}

func TestNormalizeStringified(t *testing.T) {
	enc := objenc.New()

	assert.Equal(t, `"{\"a\", \"b\"}"`, encode(t, enc, map[string]struct{}{"b": {}, "a": {}}))
	assert.Equal(t, `"{1, 2, 10}"`, encode(t, enc, map[int]struct{}{10: {}, 2: {}, 1: {}}))
	assert.Equal(t, `"int"`, encode(t, enc, reflect.TypeOf(0)))

	bits := bitset.New(8).Set(1).Set(3)
	tree, err := enc.Normalize(bits)
	require.NoError(t, err)
	assert.Equal(t, bits.String(), tree)

	bitmap := roaring.BitmapOf(1, 2, 3)
	tree, err = enc.Normalize(bitmap)
	require.NoError(t, err)
	assert.Equal(t, bitmap.String(), tree)
}

func TestNormalizeTemporal(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 600, time.UTC)

	enc := objenc.New()
	assert.Equal(t, `"2024-01-02T03:04:05.0000006Z"`, encode(t, enc, at))
	assert.Equal(t, `"2024-01-02T03:04:05.0000006Z"`, encode(t, enc, &at))
	assert.Equal(t, `null`, encode(t, enc, time.Time{}))
	assert.Equal(t, `null`, encode(t, enc, sql.NullTime{}))
	assert.Equal(t, `"2024-01-02T03:04:05.0000006Z"`, encode(t, enc, sql.NullTime{Time: at, Valid: true}))
	assert.Equal(t, `"2024-01-02T03:04:05.0000006Z"`, encode(t, enc, dsTime{at: at}))

	shifted := objenc.New(objenc.WithTimeLocation(time.FixedZone("X", 3600)))
	assert.Equal(t, `"2024-01-02T04:04:05.0000006+01:00"`, encode(t, shifted, at))

	datastore := objenc.New(objenc.WithDatastorePackages("github.com/RobertWHurst/objenc"))
	assert.Equal(t, `"ds:2024"`, encode(t, datastore, dsTime{at: at}))
}

func TestNormalizeFilesAndLocations(t *testing.T) {
	enc := objenc.New()

	f, err := os.CreateTemp(t.TempDir(), "doc")
	require.NoError(t, err)
	defer f.Close()
	tree, err := enc.Normalize(map[string]any{"file": f})
	require.NoError(t, err)
	file, _ := tree.(*objenc.Object).Get("file")
	assert.Equal(t, f.Name(), file)

	mf, err := memfs.New().Create("notes.txt")
	require.NoError(t, err)
	tree, err = enc.Normalize(mf)
	require.NoError(t, err)
	assert.Equal(t, mf.Name(), tree)

	assert.Equal(t, `"UTC"`, encode(t, enc, time.UTC))
	assert.Equal(t, `"UTC"`, encode(t, enc, *time.UTC))
}

func TestNormalizeCallables(t *testing.T) {
	enc := objenc.New()

	tree, err := enc.Normalize(strings.ToUpper)
	require.NoError(t, err)
	assert.Equal(t, "func strings.ToUpper", tree)

	var fn func()
	assert.Equal(t, `null`, encode(t, enc, fn))
}

func TestNormalizeNamedPrimitives(t *testing.T) {
	enc := objenc.New()

	assert.Equal(t, `["red",true]`, encode(t, enc, []any{color("red"), enabled(true)}))
}

func TestNormalizePointers(t *testing.T) {
	enc := objenc.New()

	n := 5
	var missing *int
	assert.Equal(t, `[5,null]`, encode(t, enc, []any{&n, missing}))
}

func TestNormalizeSuppressed(t *testing.T) {
	enc := objenc.New(
		objenc.WithSuppressed(reflect.TypeFor[secretive](), reflect.TypeFor[password]()),
	)

	values := []any{
		&sync.Mutex{},
		context.Background(),
		make(chan int),
		zerolog.Nop(),
		mat.NewDense(1, 1, nil),
		apiKey{Value: "k"},
		&apiKey{Value: "k"},
		password("hunter2"),
	}
	for _, v := range values {
		tree, err := enc.Normalize(v)
		require.NoError(t, err, "%T", v)
		assert.Nil(t, tree, "%T", v)
	}

	assert.True(t, enc.IsSuppressed(apiKey{}))
	assert.True(t, enc.IsSuppressed(&apiKey{}))
	assert.True(t, enc.IsSuppressed(context.Background()))
	assert.False(t, enc.IsSuppressed(&sync.Mutex{}))
	assert.False(t, enc.IsSuppressed(nil))
	assert.False(t, enc.IsSuppressed("plain"))
	assert.False(t, objenc.New().IsSuppressed(password("hunter2")))
}

func TestNormalizeSuppressedKinds(t *testing.T) {
	enc := objenc.New(objenc.WithSuppressedKinds(reflect.Complex128))

	tree, err := enc.Normalize(complex(1, 2))
	require.NoError(t, err)
	assert.Nil(t, tree)
}

func TestNormalizeUnsupported(t *testing.T) {
	enc := objenc.New()

	_, err := enc.Normalize(map[string]any{"c": complex64(1)})
	var typeErr *objenc.UnsupportedTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.ErrorIs(t, err, objenc.ErrUnsupportedType)
	assert.Equal(t, reflect.TypeFor[complex64](), typeErr.Type)
	assert.Equal(t, "$.c", typeErr.Path)
	assert.Equal(t, "objenc: unsupported type complex64: no rule matches complex64 values at $.c", err.Error())
}

func TestNormalizeCycles(t *testing.T) {
	enc := objenc.New()

	n := &node{Name: "a"}
	n.Next = n
	_, err := enc.Normalize(n)
	var cycleErr *objenc.CyclicReferenceError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, "$.Next", cycleErr.Path)

	m := map[string]any{}
	m["self"] = m
	_, err = enc.Normalize(m)
	assert.ErrorIs(t, err, objenc.ErrCyclicReference)

	s := []any{nil}
	s[0] = s
	_, err = enc.Normalize(s)
	assert.ErrorIs(t, err, objenc.ErrCyclicReference)
}

func TestNormalizeSharedReferences(t *testing.T) {
	enc := objenc.New()

	shared := &Base{ID: 1}
	assert.Equal(t, `[{"id":1,"label":""},{"id":1,"label":""}]`, encode(t, enc, []any{shared, shared}))
}

func TestNormalizeDepthLimit(t *testing.T) {
	nested := any(1)
	for range 10 {
		nested = []any{nested}
	}

	_, err := objenc.New(objenc.WithMaxDepth(10)).Normalize(nested)
	require.NoError(t, err)

	_, err = objenc.New(objenc.WithMaxDepth(9)).Normalize(nested)
	var depthErr *objenc.DepthExceededError
	require.ErrorAs(t, err, &depthErr)
	assert.ErrorIs(t, err, objenc.ErrDepthExceeded)
	assert.Equal(t, 9, depthErr.Limit)

	assert.Equal(t, objenc.DefaultMaxDepth, objenc.New(objenc.WithMaxDepth(0)).MaxDepth())
}

func TestNormalizeIsIdempotent(t *testing.T) {
	enc := objenc.New()

	doc := map[string]any{
		"item":  Item{Base: Base{ID: 1}, Count: 2},
		"when":  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		"raw":   preformatted{},
		"big":   new(big.Int).Lsh(big.NewInt(1), 80),
		"bytes": []byte{1, 2},
	}
	first, err := enc.Normalize(doc)
	require.NoError(t, err)
	second, err := enc.Normalize(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSerializeUnknown(t *testing.T) {
	enc := objenc.New()

	out, err := enc.SerializeUnknown(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T00:00:00Z", out)

	out, err = enc.SerializeUnknown(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRules(t *testing.T) {
	assert.Equal(t, []string{
		"stringified",
		"temporal",
		"integer",
		"float",
		"self-marshaling",
		"numeric-buffer",
		"callable",
		"attribute-bag",
		"filesystem-path",
		"timezone",
		"sequence",
		"named-primitive",
	}, objenc.New().Rules())
}

func TestSuppressedTypes(t *testing.T) {
	names := objenc.New(objenc.WithSuppressed(reflect.TypeFor[password]())).SuppressedTypes()

	assert.Contains(t, names, "context.Context")
	assert.Contains(t, names, "sync.Mutex")
	assert.Contains(t, names, "kind chan")
	assert.Contains(t, names, "objenc_test.password")
	assert.IsIncreasing(t, names)
}

func TestObjectEncoderConcurrentUse(t *testing.T) {
	enc := objenc.New()
	writer := jsonencoder.NewWithObjectEncoder(enc)
	item := &Item{Base: Base{ID: 9, Label: "promoted"}, Label: "l", Count: 4}

	results := make([]string, 32)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			out, err := writer.Encode(item)
			results[i] = string(out)
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, out := range results {
		assert.Equal(t, `{"id":9,"label":"l","Count":4}`, out)
	}
}
