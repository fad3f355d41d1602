package protobufencoder

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type testStruct struct {
	Name  string   `json:"name"`
	Value int      `json:"value"`
	Tags  []string `json:"tags"`
}

func TestEncoderEncode(t *testing.T) {
	encoder := New()

	msg := &wrapperspb.StringValue{Value: "test"}

	encoded, err := encoder.Encode(msg)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	if len(encoded) == 0 {
		t.Error("Expected non-empty encoded data")
	}
}

func TestEncoderDecode(t *testing.T) {
	encoder := New()

	original := &wrapperspb.StringValue{Value: "test"}
	encoded, _ := encoder.Encode(original)

	result := &wrapperspb.StringValue{}
	err := encoder.Decode(encoded, result)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}

	if result.Value != "test" {
		t.Errorf("Expected value 'test', got '%s'", result.Value)
	}
}

func TestEncoderEncodeDocument(t *testing.T) {
	encoder := New()

	encoded, err := encoder.Encode(testStruct{Name: "doc", Value: 5, Tags: []string{"x"}})
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	var decoded any
	if err := encoder.Decode(encoded, &decoded); err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}

	doc, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("Expected map document, got %T", decoded)
	}
	if doc["name"] != "doc" {
		t.Errorf("Expected name 'doc', got %v", doc["name"])
	}
	if doc["value"] != float64(5) {
		t.Errorf("Expected value 5, got %#v", doc["value"])
	}
	if tags, ok := doc["tags"].([]any); !ok || len(tags) != 1 || tags[0] != "x" {
		t.Errorf("Expected tags [x], got %#v", doc["tags"])
	}
}

func TestEncoderEncodeNestedMessage(t *testing.T) {
	encoder := New()

	encoded, err := encoder.Encode(map[string]any{
		"wrapped": wrapperspb.Int32(9),
		"id":      uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
	})
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	var decoded any
	if err := encoder.Decode(encoded, &decoded); err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}

	doc := decoded.(map[string]any)
	if doc["wrapped"] != float64(9) {
		t.Errorf("Expected wrapped 9, got %#v", doc["wrapped"])
	}
	if doc["id"] != "6ba7b810-9dad-11d1-80b4-00c04fd430c8" {
		t.Errorf("Expected uuid text, got %#v", doc["id"])
	}
}

func TestEncoderDecodeUnsupportedTarget(t *testing.T) {
	encoder := New()

	encoded := []byte{0x01, 0x02, 0x03}

	var result string
	err := encoder.Decode(encoded, &result)
	if !errors.Is(err, ErrUnsupportedTarget) {
		t.Errorf("Expected ErrUnsupportedTarget, got %v", err)
	}
}

func TestEncoderDecodeInvalidData(t *testing.T) {
	encoder := New()

	invalidData := []byte{0xFF, 0xFF, 0xFF}

	result := &wrapperspb.StringValue{}
	err := encoder.Decode(invalidData, result)
	if err == nil {
		t.Error("Expected error for invalid protobuf data, got nil")
	}
}
