package dnotif

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gordian-engine/dnotif/dframe"
	"github.com/gordian-engine/dnotif/dquic"
)

// OutboundSubstream is a sink of outgoing notifications,
// created by [*OutboundUpgrade.Upgrade].
//
// The remote must never write on an outbound substream.
// A background goroutine blocks reading the substream for its whole lifetime,
// and every flush first checks what it observed:
// any data is reported as [ErrUnexpectedData],
// and the remote closing or resetting its side is reported as [ErrClosed].
// Both errors, and any other failure, are sticky.
//
// That goroutine returns once the remote closes its writing side,
// or once the substream is reset.
//
// The methods of OutboundSubstream must not be called concurrently.
type OutboundSubstream struct {
	log *slog.Logger

	s dquic.Stream
	w *dframe.Writer

	peer string

	// Closed by watchRemote after setting remoteErr.
	remoteDone chan struct{}
	remoteErr  error

	// Sticky failure.
	err error
}

func newOutboundSubstream(
	log *slog.Logger, s dquic.Stream, maxNotificationSize uint64, peer string,
) *OutboundSubstream {
	o := &OutboundSubstream{
		log: log,

		s: s,
		w: dframe.NewWriter(s, maxNotificationSize),

		peer: peer,

		remoteDone: make(chan struct{}),
	}

	go o.watchRemote()

	return o
}

// watchRemote reads the substream until anything happens on it.
func (s *OutboundSubstream) watchRemote() {
	defer close(s.remoteDone)

	var buf [1]byte
	for {
		n, err := s.s.Read(buf[:])
		if n > 0 {
			s.log.Debug("Remote wrote on outbound notification substream")
			s.remoteErr = ErrUnexpectedData
			return
		}

		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) {
			s.log.Debug("Remote closed outbound notification substream")
			s.remoteErr = ErrClosed
			return
		}

		s.log.Debug("Outbound notification substream read side failed", "err", err)
		s.remoteErr = fmt.Errorf("%w: %w", ErrClosed, err)
		return
	}
}

// Peer returns the remote peer identity from the [OutboundConfig].
func (s *OutboundSubstream) Peer() string {
	return s.peer
}

// Ready blocks until another notification may be sent with Send,
// flushing pending notifications if too many are buffered.
func (s *OutboundSubstream) Ready(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}

	if s.w.Buffered() < dframe.DefaultHighWaterMark {
		return nil
	}

	return s.Flush(ctx)
}

// Send buffers p as one notification.
// Nothing is written to the stream until Flush.
//
// Sending a notification longer than the configured maximum
// returns a [*dframe.FrameTooLargeError] and does not affect the substream.
func (s *OutboundSubstream) Send(p []byte) error {
	if s.err != nil {
		return s.err
	}

	return s.w.Enqueue(p)
}

// Flush writes all buffered notifications.
// Flush with nothing buffered still reports
// whether the remote closed or misbehaved.
//
// If ctx is done before the write completes,
// Flush returns ctx's error and keeps what was not written yet,
// so Flush may be called again.
func (s *OutboundSubstream) Flush(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}

	select {
	case <-s.remoteDone:
		return s.fail(s.remoteErr)
	default:
	}

	stop := dquic.BindWriteContext(ctx, s.s)
	defer stop()

	if err := s.w.Flush(); err != nil {
		if dquic.IsTimeout(err) {
			return dquic.ContextError(ctx)
		}
		return s.fail(fmt.Errorf("%w: %w", ErrClosed, err))
	}

	return nil
}

func (s *OutboundSubstream) fail(err error) error {
	s.err = err
	if IsProtocolViolation(err) {
		resetStream(s.s, StreamErrorCodeProtocolViolation)
	}
	return err
}

// Close flushes any buffered notifications
// and then closes the local writing side.
// The remote then reads the end of the substream.
func (s *OutboundSubstream) Close(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}

	stop := dquic.BindWriteContext(ctx, s.s)
	defer stop()

	if err := s.w.Close(); err != nil {
		if dquic.IsTimeout(err) {
			return dquic.ContextError(ctx)
		}
		return s.fail(fmt.Errorf("%w: %w", ErrClosed, err))
	}

	s.err = ErrClosed
	return nil
}

// Notify is shorthand for Ready, Send and Flush of a single notification.
func (s *OutboundSubstream) Notify(ctx context.Context, p []byte) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}
	if err := s.Send(p); err != nil {
		return err
	}
	return s.Flush(ctx)
}

// Reset abandons the substream in both directions,
// discarding anything still buffered.
// The remote observes a reset.
func (s *OutboundSubstream) Reset() {
	resetStream(s.s, StreamErrorCodeClosed)
	if s.err == nil {
		s.err = ErrClosed
	}
}

// RemoteClosed returns a channel that is closed
// once the remote has closed or reset its side of the substream,
// or has written to it.
//
// After [*OutboundSubstream.Close], waiting on this channel
// confirms the remote read everything that was sent.
func (s *OutboundSubstream) RemoteClosed() <-chan struct{} {
	return s.remoteDone
}
