package flux

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrTypeMismatch is matched (via errors.Is) by every *TypeMismatchError.
var ErrTypeMismatch = errors.New("flux: type mismatch")

// ErrNilNode is returned when a nil node is handed to an API that needs one.
var ErrNilNode = errors.New("flux: nil node")

// TypeMismatchError is returned when a value or a registered node does not
// have the type the caller asked for.
type TypeMismatchError struct {
	Key      string // registry key or node name, may be empty
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *TypeMismatchError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("flux: %q holds %s, not %s", e.Key, e.Actual, e.Expected)
	}
	return fmt.Sprintf("flux: expected %s, got %s", e.Expected, e.Actual)
}

// Is reports whether target is ErrTypeMismatch.
func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("flux: panic: %v", e.Value)
}

// Unwrap returns the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

func typeNameOf(v any) string {
	return fmt.Sprintf("%T", v)
}
