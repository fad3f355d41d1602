package objenc

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrUnsupportedType matches every *UnsupportedTypeError via errors.Is.
	ErrUnsupportedType = errors.New("unsupported type")
	// ErrCyclicReference matches every *CyclicReferenceError via errors.Is.
	ErrCyclicReference = errors.New("cyclic reference")
	// ErrDepthExceeded matches every *DepthExceededError via errors.Is.
	ErrDepthExceeded = errors.New("maximum depth exceeded")
)

// UnsupportedTypeError is returned when a value matches neither the
// suppression set, a dispatch rule, nor the reflector. Such values are never
// coerced to null.
type UnsupportedTypeError struct {
	Type   reflect.Type
	Reason string
	Path   string
}

func (e *UnsupportedTypeError) Error() string {
	msg := fmt.Sprintf("objenc: unsupported type %s", typeName(e.Type))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Path != "" {
		msg += " at " + e.Path
	}
	return msg
}

func (e *UnsupportedTypeError) Is(target error) bool { return target == ErrUnsupportedType }

// CyclicReferenceError is returned when a value is reached again while it is
// still being serialized.
type CyclicReferenceError struct {
	Type reflect.Type
	Path string
}

func (e *CyclicReferenceError) Error() string {
	return fmt.Sprintf("objenc: cyclic reference to %s at %s", typeName(e.Type), e.Path)
}

func (e *CyclicReferenceError) Is(target error) bool { return target == ErrCyclicReference }

// DepthExceededError is returned when nesting goes deeper than the
// encoder's configured maximum.
type DepthExceededError struct {
	Limit int
	Path  string
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("objenc: nesting deeper than %d at %s", e.Limit, e.Path)
}

func (e *DepthExceededError) Is(target error) bool { return target == ErrDepthExceeded }

// AttributeError tags a fault raised while resolving one attribute with
// the attribute's name and the type of the object holding it. Owner is nil
// and Name empty when the failing value is the top-level value itself.
// Type and Method name the call that failed.
//
// The original underlying error can be accessed via errors.Unwrap.
type AttributeError struct {
	Owner  reflect.Type
	Name   string
	Type   reflect.Type
	Method string
	Path   string
	Err    error
}

func (e *AttributeError) Error() string {
	msg := "objenc: resolving "
	if e.Name != "" {
		msg += fmt.Sprintf("attribute %s of %s: ", e.Name, typeName(e.Owner))
	}
	msg += fmt.Sprintf("%s.%s", typeName(e.Type), e.Method)
	if e.Path != "" {
		msg += " at " + e.Path
	}
	return msg + ": " + e.Err.Error()
}

func (e *AttributeError) Unwrap() error { return e.Err }

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
