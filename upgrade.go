package dnotif

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/gordian-engine/dnotif/dframe"
	"github.com/gordian-engine/dnotif/dquic"
	"github.com/gordian-engine/dnotif/internal/dtrace"
)

// InboundConfig is the configuration passed to [NewInboundUpgrade].
type InboundConfig struct {
	// Primary protocol name.
	ProtocolName ProtocolName

	// Additional names accepted during protocol name selection.
	FallbackNames []ProtocolName

	// Maximum allowed size of a single incoming notification.
	// Use math.MaxUint64 to only be limited by available memory.
	MaxNotificationSize uint64

	// Optional tracer provider for upgrade spans.
	// If nil, tracing is disabled.
	TracerProvider dtrace.TracerProvider
}

// InboundUpgrade accepts a substream,
// reads the remote's handshake,
// and turns the substream into a stream of incoming notifications.
type InboundUpgrade struct {
	log    *slog.Logger
	tracer dtrace.Tracer

	names []ProtocolName

	maxNotificationSize uint64
}

// NewInboundUpgrade returns a new InboundUpgrade.
func NewInboundUpgrade(log *slog.Logger, cfg InboundConfig) *InboundUpgrade {
	return &InboundUpgrade{
		log:    log,
		tracer: dtrace.NewTracer(cfg.TracerProvider),

		names: protocolNames(cfg.ProtocolName, cfg.FallbackNames),

		maxNotificationSize: cfg.MaxNotificationSize,
	}
}

// ProtocolNames returns the primary protocol name followed by the fallbacks.
func (u *InboundUpgrade) ProtocolNames() []ProtocolName {
	return slices.Clone(u.names)
}

// InboundOpen is the result of a successful [*InboundUpgrade.Upgrade].
type InboundOpen struct {
	// Handshake sent by the remote.
	Handshake []byte

	// The protocol name that was selected for the stream.
	NegotiatedName ProtocolName

	// Substream of incoming notifications,
	// which still needs a local handshake before yielding anything.
	Substream *InboundSubstream
}

// Upgrade reads the remote's handshake from s,
// which must have just completed protocol name selection.
//
// Nothing is written to s.
// The caller decides, at any later time,
// to accept the substream with [*InboundSubstream.SetLocalHandshake]
// or to refuse it with [*InboundSubstream.Close].
//
// If the remote declares a handshake longer than [MaxHandshakeSize],
// Upgrade returns a [*HandshakeTooLargeError]
// without reading the handshake body.
// On any failure the stream is reset.
func (u *InboundUpgrade) Upgrade(
	ctx context.Context, s dquic.Stream, negotiated ProtocolName,
) (InboundOpen, error) {
	ctx, span := u.tracer.Start(
		ctx,
		"inbound notification upgrade",
		dtrace.WithAttributes(dtrace.ProtocolAttr(string(negotiated))),
	)
	defer span.End()

	stop := dquic.BindContext(ctx, s)
	hs, err := readHandshake(ctx, s)
	stop()

	if err != nil {
		dtrace.SpanError(span, err)
		resetStream(s, resetCode(err))
		return InboundOpen{}, err
	}
	span.SetAttributes(dtrace.HandshakeSizeAttr("dnotif.handshake.remote_size", len(hs)))

	return InboundOpen{
		Handshake:      hs,
		NegotiatedName: negotiated,
		Substream: newInboundSubstream(
			u.log.With("protocol", string(negotiated)),
			s, u.maxNotificationSize,
		),
	}, nil
}

// OutboundConfig is the configuration passed to [NewOutboundUpgrade].
type OutboundConfig struct {
	// Primary protocol name.
	ProtocolName ProtocolName

	// Additional names that may have been selected instead of the primary name.
	FallbackNames []ProtocolName

	// Handshake to send when opening the substream.
	InitialMessage []byte

	// Maximum allowed size of a single outgoing notification.
	MaxNotificationSize uint64

	// Identity of the remote peer.
	// Only used in log output and traces.
	Peer string

	// Optional tracer provider for upgrade spans.
	// If nil, tracing is disabled.
	TracerProvider dtrace.TracerProvider
}

// OutboundUpgrade opens a substream by sending the local handshake,
// waits for the remote to accept by sending back its handshake,
// and then turns the substream into a sink of notifications.
type OutboundUpgrade struct {
	log    *slog.Logger
	tracer dtrace.Tracer

	names []ProtocolName

	initialMessage []byte

	maxNotificationSize uint64

	peer string
}

// NewOutboundUpgrade returns a new OutboundUpgrade.
//
// An initial message longer than [MaxHandshakeSize] is only logged:
// the message is still sent, and the remote is expected to refuse it.
func NewOutboundUpgrade(log *slog.Logger, cfg OutboundConfig) *OutboundUpgrade {
	if len(cfg.InitialMessage) > MaxHandshakeSize {
		log.Error(
			"Outbound handshake is above allowed protocol limit",
			"size", len(cfg.InitialMessage),
			"max", MaxHandshakeSize,
		)
	}

	return &OutboundUpgrade{
		log:    log,
		tracer: dtrace.NewTracer(cfg.TracerProvider),

		names: protocolNames(cfg.ProtocolName, cfg.FallbackNames),

		initialMessage: cfg.InitialMessage,

		maxNotificationSize: cfg.MaxNotificationSize,

		peer: cfg.Peer,
	}
}

// ProtocolNames returns the primary protocol name followed by the fallbacks.
func (u *OutboundUpgrade) ProtocolNames() []ProtocolName {
	return slices.Clone(u.names)
}

// OutboundOpen is the result of a successful [*OutboundUpgrade.Upgrade].
type OutboundOpen struct {
	// Handshake returned by the remote.
	Handshake []byte

	// If the selected name is a fallback rather than the primary name,
	// NegotiatedFallback is that name.
	// It is empty when the primary name was selected.
	NegotiatedFallback ProtocolName

	// Sink of outgoing notifications.
	Substream *OutboundSubstream
}

// Upgrade writes the initial message to s
// and reads back the remote's handshake.
// s must have just completed protocol name selection.
//
// If the remote closes or resets the stream instead of answering,
// which is how refusal is signaled,
// Upgrade returns a [*HandshakeRejectedError].
// On any failure the stream is reset.
func (u *OutboundUpgrade) Upgrade(
	ctx context.Context, s dquic.Stream, negotiated ProtocolName,
) (OutboundOpen, error) {
	ctx, span := u.tracer.Start(
		ctx,
		"outbound notification upgrade",
		dtrace.WithAttributes(
			dtrace.ProtocolAttr(string(negotiated)),
			dtrace.PeerAttr(u.peer),
			dtrace.HandshakeSizeAttr("dnotif.handshake.local_size", len(u.initialMessage)),
		),
	)
	defer span.End()

	stop := dquic.BindContext(ctx, s)
	hs, err := u.exchange(ctx, s)
	stop()

	if err != nil {
		dtrace.SpanError(span, err)
		resetStream(s, resetCode(err))
		return OutboundOpen{}, err
	}
	span.SetAttributes(dtrace.HandshakeSizeAttr("dnotif.handshake.remote_size", len(hs)))

	var fallback ProtocolName
	if negotiated != u.names[0] {
		fallback = negotiated
	}

	log := u.log.With("protocol", string(negotiated), "peer", u.peer)
	return OutboundOpen{
		Handshake:          hs,
		NegotiatedFallback: fallback,
		Substream:          newOutboundSubstream(log, s, u.maxNotificationSize, u.peer),
	}, nil
}

func (u *OutboundUpgrade) exchange(ctx context.Context, s dquic.Stream) ([]byte, error) {
	if _, err := s.Write(dframe.AppendFrame(nil, u.initialMessage)); err != nil {
		if dquic.IsTimeout(err) {
			return nil, fmt.Errorf(
				"timed out writing initial handshake: %w", dquic.ContextError(ctx),
			)
		}

		// The remote may refuse before reading the whole initial message.
		return nil, &HandshakeRejectedError{
			Err: fmt.Errorf("failed to write initial handshake: %w", err),
		}
	}

	hs, err := readHandshake(ctx, s)
	if err == nil {
		return hs, nil
	}

	if IsProtocolViolation(err) || ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	var malformed *dframe.MalformedLengthError
	if errors.As(err, &malformed) {
		return nil, err
	}

	// Anything else means the stream ended or was reset before the remote answered.
	return nil, &HandshakeRejectedError{Err: err}
}

// readHandshake reads exactly one handshake message from r,
// enforcing [MaxHandshakeSize].
func readHandshake(ctx context.Context, r io.Reader) ([]byte, error) {
	hs, err := dframe.ReadBounded(r, MaxHandshakeSize)
	if err == nil {
		return hs, nil
	}

	var tooLarge *dframe.FrameTooLargeError
	if errors.As(err, &tooLarge) {
		return nil, &HandshakeTooLargeError{
			Requested: tooLarge.Len,
			Max:       MaxHandshakeSize,
		}
	}

	if dquic.IsTimeout(err) {
		return nil, fmt.Errorf(
			"timed out reading handshake: %w", dquic.ContextError(ctx),
		)
	}

	return nil, fmt.Errorf("failed to read handshake: %w", err)
}

func resetCode(err error) dquic.StreamErrorCode {
	if IsProtocolViolation(err) {
		return StreamErrorCodeProtocolViolation
	}
	return StreamErrorCodeClosed
}
