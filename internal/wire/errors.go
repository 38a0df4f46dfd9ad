package wire

import (
	"errors"
	"fmt"
)

// ErrMalformedFrame indicates a received buffer that does not unpack into
// a well-formed frame list, or a frame count that contradicts the declared
// wire type.
var ErrMalformedFrame = errors.New("malformed frame")

// TypeError reports a payload that does not satisfy the declared wire type.
// It is always local: the failing send or receive returns before any bytes
// touch the network, and the error is never surfaced over the wire.
type TypeError struct {
	// Type is the endpoint's declared wire type.
	Type Type

	// Value is the offending payload (or element, for multipart).
	Value any

	// Reason describes what the declared type wanted instead.
	Reason string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	return fmt.Sprintf("payload %T does not satisfy wire type %q: %s", e.Value, e.Type, e.Reason)
}

// InvalidTypeError reports an unrecognized declared wire type. This is a
// configuration fault, distinct from TypeError, and is checked before any
// payload conversion is attempted.
type InvalidTypeError struct {
	Type Type
}

// Error implements the error interface.
func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("invalid wire type %d", int(e.Type))
}

// IsTypeMismatch reports whether err is a payload/type mismatch.
// Uses errors.As to handle wrapped errors.
func IsTypeMismatch(err error) bool {
	var te *TypeError
	return errors.As(err, &te)
}

// IsInvalidType reports whether err is an unrecognized-wire-type fault.
// Uses errors.As to handle wrapped errors.
func IsInvalidType(err error) bool {
	var ie *InvalidTypeError
	return errors.As(err, &ie)
}
