package dnotif_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/gordian-engine/dnotif"
	"github.com/gordian-engine/dnotif/dframe"
	"github.com/gordian-engine/dnotif/internal/dtest"
	"github.com/stretchr/testify/require"
)

func TestUpgrade_basic(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newPipeFixture(t, 0)
	in, out := f.Open(t, ctx, []byte("hello world"))

	require.Equal(t, "peer-b", out.Peer())

	require.NoError(t, out.Notify(ctx, []byte("test message")))

	got, err := in.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "test message", string(got))
}

func TestUpgrade_emptyHandshakes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newPipeFixture(t, 0)
	f.OutCfg.InitialMessage = nil

	outCh := f.StartOutbound(t, ctx, testProtocol)

	in, err := f.UpgradeInbound(t, ctx, testProtocol)
	require.NoError(t, err)
	require.Empty(t, in.Handshake)

	in.Substream.SetLocalHandshake(nil)
	require.NoError(t, in.Substream.Process(ctx))

	out := dtest.ReceiveSoon(t, outCh)
	require.NoError(t, out.Err)
	require.Empty(t, out.Open.Handshake)

	// An empty notification is still a notification.
	require.NoError(t, out.Open.Substream.Notify(ctx, nil))
	got, err := in.Substream.Next(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestUpgrade_refused(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newPipeFixture(t, 0)
	outCh := f.StartOutbound(t, ctx, testProtocol)

	in, err := f.UpgradeInbound(t, ctx, testProtocol)
	require.NoError(t, err)

	// Refusing is closing without ever setting a handshake.
	require.NoError(t, in.Substream.Close())

	out := dtest.ReceiveSoon(t, outCh)
	var rejected *dnotif.HandshakeRejectedError
	require.ErrorAs(t, out.Err, &rejected)
	require.False(t, dnotif.IsProtocolViolation(out.Err))
}

func TestUpgrade_initialMessageTooLarge(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newPipeFixture(t, 0)
	f.OutCfg.InitialMessage = dtest.RandomDataForTest(t, 32768)

	// Construction only logs; the initial message still goes out.
	outCh := f.StartOutbound(t, ctx, testProtocol)

	_, err := f.UpgradeInbound(t, ctx, testProtocol)
	var tooLarge *dnotif.HandshakeTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, uint64(32768), tooLarge.Requested)
	require.Equal(t, uint64(dnotif.MaxHandshakeSize), tooLarge.Max)
	require.True(t, dnotif.IsProtocolViolation(err))

	// The inbound side reset the stream, so the outbound side is refused.
	out := dtest.ReceiveSoon(t, outCh)
	var rejected *dnotif.HandshakeRejectedError
	require.ErrorAs(t, out.Err, &rejected)
}

func TestUpgrade_handshakeAtLimit(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newPipeFixture(t, 0)
	f.OutCfg.InitialMessage = dtest.RandomDataForTest(t, dnotif.MaxHandshakeSize)

	local := make([]byte, dnotif.MaxHandshakeSize)
	in, out := f.Open(t, ctx, local)

	require.NoError(t, out.Notify(ctx, []byte("x")))
	got, err := in.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "x", string(got))
}

func TestUpgrade_localHandshakeTooLarge(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newPipeFixture(t, 0)
	f.unboundedConfig()

	outCh := f.StartOutbound(t, ctx, testProtocol)

	in, err := f.UpgradeInbound(t, ctx, testProtocol)
	require.NoError(t, err)

	// The inbound side does not validate its own handshake;
	// the outbound side enforces the limit.
	in.Substream.SetLocalHandshake(make([]byte, 2048))
	require.NoError(t, in.Substream.Process(ctx))

	out := dtest.ReceiveSoon(t, outCh)
	var tooLarge *dnotif.HandshakeTooLargeError
	require.ErrorAs(t, out.Err, &tooLarge)
	require.Equal(t, uint64(2048), tooLarge.Requested)
	require.True(t, dnotif.IsProtocolViolation(out.Err))

	// After the reset, the inbound side sees the substream fail.
	_, err = in.Substream.Next(ctx)
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}

func TestUpgrade_negotiatedFallback(t *testing.T) {
	t.Parallel()

	const fallback dnotif.ProtocolName = "/test/notif/legacy"

	t.Run("primary", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		f := newPipeFixture(t, 0)
		f.OutCfg.FallbackNames = []dnotif.ProtocolName{fallback}

		outCh := f.StartOutbound(t, ctx, testProtocol)
		in, err := f.UpgradeInbound(t, ctx, testProtocol)
		require.NoError(t, err)
		require.Equal(t, testProtocol, in.NegotiatedName)

		in.Substream.SetLocalHandshake([]byte("ok"))
		require.NoError(t, in.Substream.Process(ctx))

		out := dtest.ReceiveSoon(t, outCh)
		require.NoError(t, out.Err)
		require.Empty(t, out.Open.NegotiatedFallback)
	})

	t.Run("fallback", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		f := newPipeFixture(t, 0)
		f.OutCfg.FallbackNames = []dnotif.ProtocolName{fallback}
		f.InCfg.FallbackNames = []dnotif.ProtocolName{fallback}

		outCh := f.StartOutbound(t, ctx, fallback)
		in, err := f.UpgradeInbound(t, ctx, fallback)
		require.NoError(t, err)
		require.Equal(t, fallback, in.NegotiatedName)

		in.Substream.SetLocalHandshake([]byte("ok"))
		require.NoError(t, in.Substream.Process(ctx))

		out := dtest.ReceiveSoon(t, outCh)
		require.NoError(t, out.Err)
		require.Equal(t, fallback, out.Open.NegotiatedFallback)
	})
}

func TestUpgrade_protocolNames(t *testing.T) {
	t.Parallel()

	log := dtest.NewLogger(t)

	fallbacks := []dnotif.ProtocolName{"/b", "/c"}
	iu := dnotif.NewInboundUpgrade(log, dnotif.InboundConfig{
		ProtocolName:  "/a",
		FallbackNames: fallbacks,
	})
	require.Equal(t, []dnotif.ProtocolName{"/a", "/b", "/c"}, iu.ProtocolNames())

	ou := dnotif.NewOutboundUpgrade(log, dnotif.OutboundConfig{
		ProtocolName:  "/a",
		FallbackNames: fallbacks,
	})
	require.Equal(t, []dnotif.ProtocolName{"/a", "/b", "/c"}, ou.ProtocolNames())

	// Modifying the returned slice does not affect the upgrade.
	names := iu.ProtocolNames()
	names[0] = "/z"
	require.Equal(t, dnotif.ProtocolName("/a"), iu.ProtocolNames()[0])
}

func TestInboundUpgrade_readsOnlyHandshake(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newPipeFixture(t, 0)

	early := dframe.AppendFrame(nil, []byte("early"))
	var raw []byte
	raw = dframe.AppendFrame(raw, []byte("initial"))
	raw = append(raw, early...)
	_, err := f.OutStream.Write(raw)
	require.NoError(t, err)

	in, err := f.UpgradeInbound(t, ctx, testProtocol)
	require.NoError(t, err)
	require.Equal(t, "initial", string(in.Handshake))

	// The notification stays on the stream.
	require.Equal(t, len(early), f.InStream.Unread())
}

func TestInboundUpgrade_contextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newPipeFixture(t, 0)

	_, err := f.UpgradeInbound(t, ctx, testProtocol)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, dnotif.IsProtocolViolation(err))
}

func TestOutboundUpgrade_malformedHandshakeLength(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newPipeFixture(t, 0)
	outCh := f.StartOutbound(t, ctx, testProtocol)

	initial, err := dframe.ReadBounded(f.InStream, dnotif.MaxHandshakeSize)
	require.NoError(t, err)
	require.Equal(t, f.OutCfg.InitialMessage, initial)

	// Non-minimal encoding of zero.
	_, err = f.InStream.Write([]byte{0x80, 0x00})
	require.NoError(t, err)

	out := dtest.ReceiveSoon(t, outCh)
	var malformed *dframe.MalformedLengthError
	require.ErrorAs(t, out.Err, &malformed)

	// Neither a refusal nor blamed on the remote.
	var rejected *dnotif.HandshakeRejectedError
	require.False(t, errors.As(out.Err, &rejected))
	require.False(t, dnotif.IsProtocolViolation(out.Err))
}
