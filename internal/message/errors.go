package message

import (
	"errors"
	"fmt"
)

var (
	// ErrArgument reports mutually exclusive or invalid caller arguments.
	ErrArgument = errors.New("invalid argument")
	// ErrInvalidContext reports an element that cannot be sent under the
	// ambient upload method.
	ErrInvalidContext = errors.New("invalid context")
	// ErrNoSuchElement reports a chain lacking the requested element type.
	ErrNoSuchElement = errors.New("no such element")
	// ErrDecode is matched by every *DecodeError.
	ErrDecode = errors.New("cannot decode element")
)

// DecodeError names the chain position of an entry that could not be
// coerced to any element.
type DecodeError struct {
	Index int
	Kind  string // empty when the record had no usable type
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("message: element %d (%s): %v", e.Index, e.Kind, e.Err)
	}
	return fmt.Sprintf("message: element %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}
