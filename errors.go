package dnotif

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned from an [*OutboundSubstream]
	// once the remote has closed or reset the substream.
	// It is an expected outcome, not a sign of misbehavior.
	ErrClosed = errors.New("substream was closed/reset")

	// ErrUnexpectedData is returned from an [*OutboundSubstream]
	// when the remote wrote to a substream that must only carry
	// notifications from the local side.
	//
	// This is a terminal error and the remote should be treated as non-compliant.
	ErrUnexpectedData = errors.New("unexpected data received from the remote peer")

	// ErrHandshakeNotSet is returned from [*InboundSubstream.Process]
	// while the owner has not called SetLocalHandshake yet.
	// Nothing was read or written, and Process may be called again.
	ErrHandshakeNotSet = errors.New("local handshake not set yet")
)

// HandshakeTooLargeError is returned from an upgrade
// when the remote declared a handshake longer than [MaxHandshakeSize].
type HandshakeTooLargeError struct {
	Requested uint64
	Max       uint64
}

func (e *HandshakeTooLargeError) Error() string {
	return fmt.Sprintf(
		"initial message or handshake was too large: %d (max %d)",
		e.Requested, e.Max,
	)
}

// NotificationTooLargeError is returned from [*InboundSubstream.Next]
// when the remote declared a notification longer than
// the configured maximum notification size.
//
// Sending an oversized notification locally is a caller error instead,
// reported as a dframe.FrameTooLargeError.
type NotificationTooLargeError struct {
	Len uint64
	Max uint64
}

func (e *NotificationTooLargeError) Error() string {
	return fmt.Sprintf(
		"remote sent notification too large: %d (max %d)",
		e.Len, e.Max,
	)
}

// HandshakeRejectedError is returned from [*OutboundUpgrade.Upgrade]
// when the remote closed or reset the substream
// instead of answering with its handshake.
type HandshakeRejectedError struct {
	Err error
}

func (e *HandshakeRejectedError) Error() string {
	return "remote rejected the substream: " + e.Err.Error()
}

func (e *HandshakeRejectedError) Unwrap() error {
	return e.Err
}

// IsProtocolViolation reports whether err indicates that the remote
// did not follow the protocol,
// as opposed to ordinary closure, transport failure,
// or a local caller error.
// The owning layer may use this to penalize the remote.
//
// A malformed length prefix is treated like any other transport failure.
func IsProtocolViolation(err error) bool {
	if errors.Is(err, ErrUnexpectedData) {
		return true
	}

	var hsTooLarge *HandshakeTooLargeError
	if errors.As(err, &hsTooLarge) {
		return true
	}

	var notifTooLarge *NotificationTooLargeError
	return errors.As(err, &notifTooLarge)
}
