package dframe

import "fmt"

// FrameTooLargeError is returned when a declared or requested frame length
// exceeds the configured maximum.
type FrameTooLargeError struct {
	Len, Max uint64
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("frame length %d exceeds maximum %d", e.Len, e.Max)
}

// MalformedLengthError is returned when a length prefix
// cannot be decoded as a minimal unsigned varint.
type MalformedLengthError struct {
	Err error
}

func (e *MalformedLengthError) Error() string {
	return "malformed frame length prefix: " + e.Err.Error()
}

func (e *MalformedLengthError) Unwrap() error {
	return e.Err
}
