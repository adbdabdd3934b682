package dnotif

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gordian-engine/dnotif/dframe"
	"github.com/gordian-engine/dnotif/dpubsub"
	"github.com/gordian-engine/dnotif/dquic"
)

// HandshakeState is the progress of sending the local handshake
// on an [*InboundSubstream].
// States only move forward, in declaration order.
type HandshakeState uint8

const (
	// Waiting for the owner to call SetLocalHandshake.
	HandshakeNotSent HandshakeState = iota

	// The owner supplied the handshake;
	// it has not yet been accepted by the stream writer.
	HandshakePendingSend

	// The handshake is staged in the stream writer
	// but still needs to be flushed.
	HandshakeFlush

	// The handshake was flushed.
	// Notifications may now be received.
	HandshakeSent

	// The remote closed its writing side,
	// and the local writing side is being closed in response.
	HandshakeClosingInResponseToRemote

	// Both sides closed their writing side. Terminal.
	HandshakeBothSidesClosed
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakeNotSent:
		return "NotSent"
	case HandshakePendingSend:
		return "PendingSend"
	case HandshakeFlush:
		return "Flush"
	case HandshakeSent:
		return "Sent"
	case HandshakeClosingInResponseToRemote:
		return "ClosingInResponseToRemote"
	case HandshakeBothSidesClosed:
		return "BothSidesClosed"
	default:
		return fmt.Sprintf("HandshakeState(%d)", uint8(s))
	}
}

// handshakeState is the full handshake state value.
// msg is owned by the state and only set in HandshakePendingSend.
type handshakeState struct {
	stage HandshakeState
	msg   []byte
}

// InboundSubstream is a substream of incoming notifications,
// created by [*InboundUpgrade.Upgrade].
//
// It starts in [HandshakeNotSent]:
// no notification is read until the owner supplies the local handshake
// through [*InboundSubstream.SetLocalHandshake]
// and that handshake has been flushed to the remote.
//
// [*InboundSubstream.Next], [*InboundSubstream.Process]
// and [*InboundSubstream.Relay] drive the substream
// and must not be called concurrently with one another.
// SetLocalHandshake may be called from any goroutine.
type InboundSubstream struct {
	log *slog.Logger

	s dquic.Stream
	r *dframe.Reader
	w *dframe.Writer

	// Guards hs only.
	// The stream itself is only touched by the driving goroutine.
	mu sync.Mutex
	hs handshakeState

	// Closed when SetLocalHandshake moves out of HandshakeNotSent.
	handshakeSet chan struct{}
}

func newInboundSubstream(
	log *slog.Logger, s dquic.Stream, maxNotificationSize uint64,
) *InboundSubstream {
	return &InboundSubstream{
		log: log,

		s: s,
		r: dframe.NewReader(s, maxNotificationSize),
		w: dframe.NewWriter(s, maxNotificationSize),

		handshakeSet: make(chan struct{}),
	}
}

// SetLocalHandshake accepts the substream,
// scheduling msg to be sent as the local handshake
// on the next call to Next or Process.
//
// SetLocalHandshake must only be called once.
// Later calls are logged and otherwise ignored,
// since the first handshake may already be on the wire.
func (s *InboundSubstream) SetLocalHandshake(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hs.stage != HandshakeNotSent {
		s.log.Error(
			"Tried to send handshake twice",
			"state", s.hs.stage,
		)
		return
	}

	s.hs = handshakeState{
		stage: HandshakePendingSend,
		msg:   bytes.Clone(msg),
	}
	close(s.handshakeSet)
}

// HandshakeState returns the current handshake state.
func (s *InboundSubstream) HandshakeState() HandshakeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hs.stage
}

func (s *InboundSubstream) state() handshakeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hs
}

func (s *InboundSubstream) setState(hs handshakeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hs = hs
}

// Next returns the next notification from the remote.
//
// Next first advances the local handshake as far as it can,
// and only reads from the stream once the handshake is flushed.
// While no handshake has been set, Next waits for one
// without reading anything from the stream.
//
// When the remote closes its writing side,
// Next closes the local writing side in response
// and then returns [io.EOF], as does every later call.
//
// If ctx is done before progress is possible,
// Next returns ctx's error and the substream is left exactly as it was,
// so Next may be called again later.
// Any other error is a failure of the substream.
func (s *InboundSubstream) Next(ctx context.Context) ([]byte, error) {
	stop := dquic.BindContext(ctx, s.s)
	defer stop()

	for {
		hs := s.state()
		switch hs.stage {
		case HandshakeNotSent:
			select {
			case <-ctx.Done():
				return nil, context.Cause(ctx)
			case <-s.handshakeSet:
				// Now in HandshakePendingSend.
			}

		case HandshakePendingSend, HandshakeFlush:
			if err := s.stepHandshake(ctx, hs); err != nil {
				return nil, err
			}

		case HandshakeSent:
			frame, err := s.r.Next()
			if err == nil {
				return frame, nil
			}

			if errors.Is(err, io.EOF) {
				s.setState(handshakeState{stage: HandshakeClosingInResponseToRemote})
				continue
			}
			if dquic.IsTimeout(err) {
				return nil, dquic.ContextError(ctx)
			}

			var tooLarge *dframe.FrameTooLargeError
			if errors.As(err, &tooLarge) {
				return nil, &NotificationTooLargeError{
					Len: tooLarge.Len,
					Max: tooLarge.Max,
				}
			}
			return nil, fmt.Errorf("failed to read notification: %w", err)

		case HandshakeClosingInResponseToRemote:
			if err := s.w.Close(); err != nil {
				if dquic.IsTimeout(err) {
					return nil, dquic.ContextError(ctx)
				}
				return nil, fmt.Errorf("failed to close writing side: %w", err)
			}
			s.setState(handshakeState{stage: HandshakeBothSidesClosed})

		case HandshakeBothSidesClosed:
			return nil, io.EOF

		default:
			panic(fmt.Errorf("BUG: invalid handshake state %d", hs.stage))
		}
	}
}

// Process drives only the sending of the local handshake,
// and never reads notifications.
// It returns nil once the handshake has been sent.
//
// Before SetLocalHandshake is called, Process returns [ErrHandshakeNotSet]
// without touching the stream.
//
// Like Next, a done ctx leaves the substream unchanged.
func (s *InboundSubstream) Process(ctx context.Context) error {
	stop := dquic.BindContext(ctx, s.s)
	defer stop()

	for {
		hs := s.state()
		switch hs.stage {
		case HandshakeNotSent:
			return ErrHandshakeNotSet
		case HandshakePendingSend, HandshakeFlush:
			if err := s.stepHandshake(ctx, hs); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// stepHandshake performs one HandshakePendingSend or HandshakeFlush step.
func (s *InboundSubstream) stepHandshake(ctx context.Context, hs handshakeState) error {
	switch hs.stage {
	case HandshakePendingSend:
		if err := s.w.Ready(); err != nil {
			// State is untouched, so the message stays pending.
			if dquic.IsTimeout(err) {
				return dquic.ContextError(ctx)
			}
			return fmt.Errorf("failed to prepare handshake send: %w", err)
		}

		if err := s.w.Enqueue(hs.msg); err != nil {
			return fmt.Errorf("failed to send handshake: %w", err)
		}
		s.setState(handshakeState{stage: HandshakeFlush})

	case HandshakeFlush:
		if err := s.w.Flush(); err != nil {
			if dquic.IsTimeout(err) {
				return dquic.ContextError(ctx)
			}
			return fmt.Errorf("failed to flush handshake: %w", err)
		}
		s.setState(handshakeState{stage: HandshakeSent})

	default:
		panic(fmt.Errorf("BUG: stepHandshake called in state %s", hs.stage))
	}

	return nil
}

// Relay calls Next until the substream is exhausted,
// publishing every notification to out,
// so that any number of readers can observe the same sequence.
//
// Relay returns nil once the substream is exhausted,
// and otherwise returns the error from Next.
func (s *InboundSubstream) Relay(ctx context.Context, out *dpubsub.Stream[[]byte]) error {
	for {
		frame, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		out.Publish(frame)
		out = out.Next
	}
}

// Close abandons the substream.
// If no handshake was sent yet,
// the remote observes this as refusal.
func (s *InboundSubstream) Close() error {
	s.s.CancelRead(StreamErrorCodeClosed)
	return s.s.Close()
}
