// Package wire implements the typed message codec used by every channel
// endpoint. A payload is validated and converted against a declared wire
// type before any bytes reach the transport, and decoded symmetrically on
// receive. The codec is the single point of payload validation.
package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Type is the closed enumeration of payload shapes an endpoint may declare.
//
// Unknown tags are rejected with *InvalidTypeError before any conversion
// is attempted - the check is ordered ahead of the TypeMismatch checks so
// a misconfigured endpoint never masquerades as a bad payload.
type Type int

const (
	// Raw accepts byte slices only. Nil converts to an empty byte slice.
	Raw Type = iota + 1
	// Multipart accepts an ordered list of byte slices. A bare byte slice
	// is wrapped into a single-element list; nil converts to a list holding
	// one empty byte slice.
	Multipart
	// Text accepts strings only. Byte slices are rejected.
	Text
	// Object accepts any value, serialized via gob. The encoded form is
	// opaque bytes on the wire.
	Object
)

// String returns the tag name used in logs and error messages.
func (t Type) String() string {
	switch t {
	case Raw:
		return "raw"
	case Multipart:
		return "multipart"
	case Text:
		return "text"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("wire.Type(%d)", int(t))
	}
}

// Valid reports whether t is a recognized wire type.
func (t Type) Valid() bool {
	switch t {
	case Raw, Multipart, Text, Object:
		return true
	default:
		return false
	}
}

// Encode validates value against the declared wire type and converts it to
// an ordered list of frames ready for the transport.
//
// The declared type is checked first: an unrecognized type fails with
// *InvalidTypeError regardless of the value. A value that does not satisfy
// a recognized type fails with *TypeError and nothing is sent.
func Encode(value any, t Type) ([][]byte, error) {
	if !t.Valid() {
		return nil, &InvalidTypeError{Type: t}
	}

	switch t {
	case Raw:
		return encodeRaw(value)
	case Multipart:
		return encodeMultipart(value)
	case Text:
		return encodeText(value)
	default: // Object
		return encodeObject(value)
	}
}

// Decode converts received frames back to a native value according to the
// declared wire type. The frame count must match the declared shape.
func Decode(frames [][]byte, t Type) (any, error) {
	if !t.Valid() {
		return nil, &InvalidTypeError{Type: t}
	}

	switch t {
	case Raw:
		b, err := singleFrame(frames, t)
		if err != nil {
			return nil, err
		}
		return b, nil

	case Multipart:
		if len(frames) == 0 {
			return [][]byte{{}}, nil
		}
		return frames, nil

	case Text:
		b, err := singleFrame(frames, t)
		if err != nil {
			return nil, err
		}
		return string(b), nil

	default: // Object
		b, err := singleFrame(frames, t)
		if err != nil {
			return nil, err
		}
		return decodeObject(b)
	}
}

func encodeRaw(value any) ([][]byte, error) {
	switch v := value.(type) {
	case nil:
		return [][]byte{{}}, nil
	case []byte:
		return [][]byte{v}, nil
	default:
		return nil, &TypeError{Type: Raw, Value: value, Reason: "want a byte slice"}
	}
}

func encodeMultipart(value any) ([][]byte, error) {
	switch v := value.(type) {
	case nil:
		return [][]byte{{}}, nil
	case []byte:
		// Bare byte slice wraps into a single-element list.
		return [][]byte{v}, nil
	case [][]byte:
		return v, nil
	case []any:
		frames := make([][]byte, len(v))
		for i, elem := range v {
			b, ok := elem.([]byte)
			if !ok {
				return nil, &TypeError{
					Type:   Multipart,
					Value:  elem,
					Reason: fmt.Sprintf("element %d is not a byte slice", i),
				}
			}
			frames[i] = b
		}
		return frames, nil
	default:
		return nil, &TypeError{Type: Multipart, Value: value, Reason: "want a list of byte slices"}
	}
}

func encodeText(value any) ([][]byte, error) {
	s, ok := value.(string)
	if !ok {
		return nil, &TypeError{Type: Text, Value: value, Reason: "want a string"}
	}
	return [][]byte{[]byte(s)}, nil
}

// objectEnvelope carries the value through gob as an interface field so
// arbitrary registered types round-trip with their concrete type intact.
type objectEnvelope struct {
	Value any
}

func encodeObject(value any) ([][]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(objectEnvelope{Value: value}); err != nil {
		return nil, &TypeError{Type: Object, Value: value, Reason: err.Error()}
	}
	return [][]byte{buf.Bytes()}, nil
}

func decodeObject(b []byte) (any, error) {
	var env objectEnvelope
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode object payload: %w", err)
	}
	return env.Value, nil
}

func singleFrame(frames [][]byte, t Type) ([]byte, error) {
	switch len(frames) {
	case 0:
		return []byte{}, nil
	case 1:
		return frames[0], nil
	default:
		return nil, fmt.Errorf("%s payload: want 1 frame, got %d: %w", t, len(frames), ErrMalformedFrame)
	}
}

// RegisterObjectType records a concrete type for transmission inside an
// Object payload. Callers sending their own struct types through a channel
// must register them once, on both ends, before the first send.
func RegisterObjectType(value any) {
	gob.Register(value)
}

func init() {
	// Common container and scalar shapes an Object payload may carry.
	// gob requires concrete types behind an interface to be registered.
	gob.Register("")
	gob.Register(true)
	gob.Register(0)
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register([]byte(nil))
	gob.Register([]any(nil))
	gob.Register([]string(nil))
	gob.Register(map[string]any(nil))
	gob.Register(map[string]string(nil))
}
