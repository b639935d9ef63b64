package ssparse

import "fmt"

// UnknownFieldError is returned when a segment contains a key that is
// neither part of the record schema nor explicitly accepted as an extra
// field. The whole segment is rejected.
type UnknownFieldError struct {
	// Field is the unrecognized key (or bare word). Keys nested in a
	// compound value are qualified, e.g. "bbr.foo".
	Field string

	// RawSegment is the text of the rejected connection.
	RawSegment string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q in segment %q", e.Field, e.RawSegment)
}

// MalformedFieldError is returned when a known key carries a value that does
// not match its expected shape, e.g. a wrong sub-value count or unit.
type MalformedFieldError struct {
	Field      string
	Value      string
	RawSegment string
	Err        error
}

func (e *MalformedFieldError) Error() string {
	return fmt.Sprintf("malformed field %q value %q in segment %q: %v", e.Field, e.Value, e.RawSegment, e.Err)
}

func (e *MalformedFieldError) Unwrap() error {
	return e.Err
}
