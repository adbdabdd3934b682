package dnotif

import "github.com/gordian-engine/dnotif/dquic"

// ProtocolName identifies a notification protocol during name selection.
type ProtocolName string

// MaxHandshakeSize is the maximum size of the handshake message
// in either direction, independent of the maximum notification size.
const MaxHandshakeSize = 1024

// Stream error codes used when this package cancels a stream.
const (
	// Keep zero reserved.
	// Not using iota here, to avoid possibility of values changing across the wire.

	// The local side abandoned the substream.
	StreamErrorCodeClosed dquic.StreamErrorCode = 1

	// The remote violated the protocol,
	// for instance with an oversized handshake.
	StreamErrorCodeProtocolViolation dquic.StreamErrorCode = 2
)

// protocolNames returns the primary name followed by the fallbacks.
func protocolNames(main ProtocolName, fallbacks []ProtocolName) []ProtocolName {
	names := make([]ProtocolName, 0, 1+len(fallbacks))
	names = append(names, main)
	return append(names, fallbacks...)
}

// resetStream abandons both directions of s,
// which the remote observes as a reset.
func resetStream(s dquic.Stream, code dquic.StreamErrorCode) {
	s.CancelRead(code)
	s.CancelWrite(code)
}
