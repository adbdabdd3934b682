// Package dframe contains the length-prefixed framing used on dnotif substreams.
//
// Every frame on the wire is an unsigned LEB128 varint length,
// followed by exactly that many payload bytes.
// A zero length is a valid, empty frame.
//
// The [Reader] and [Writer] types buffer internally
// so that a read or write interrupted by a stream deadline
// can be resumed later without losing or duplicating bytes.
// [ReadBounded] reads a single frame without any read-ahead,
// which is required when the stream changes hands after that frame.
package dframe
