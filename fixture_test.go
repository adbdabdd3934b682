package dnotif_test

import (
	"context"
	"math"
	"testing"

	"github.com/gordian-engine/dnotif"
	"github.com/gordian-engine/dnotif/dquic/dquictest"
	"github.com/gordian-engine/dnotif/internal/dtest"
	"github.com/stretchr/testify/require"
)

const testProtocol dnotif.ProtocolName = "/test/notif/1"

// pipeFixture holds both ends of an in-memory stream
// and an upgrade for each direction.
type pipeFixture struct {
	// OutStream is the stream on the opening side,
	// InStream is the one on the accepting side.
	OutStream, InStream *dquictest.PipeStream

	InCfg  dnotif.InboundConfig
	OutCfg dnotif.OutboundConfig
}

func newPipeFixture(t *testing.T, bufSize int) *pipeFixture {
	t.Helper()

	a, b := dquictest.NewPipe(bufSize)

	return &pipeFixture{
		OutStream: a,
		InStream:  b,

		InCfg: dnotif.InboundConfig{
			ProtocolName:        testProtocol,
			MaxNotificationSize: 1024 * 1024,
		},
		OutCfg: dnotif.OutboundConfig{
			ProtocolName:        testProtocol,
			InitialMessage:      []byte("initial message"),
			MaxNotificationSize: 1024 * 1024,
			Peer:                "peer-b",
		},
	}
}

type outboundResult struct {
	Open dnotif.OutboundOpen
	Err  error
}

// StartOutbound runs the outbound upgrade in the background,
// since it cannot complete until the inbound side answers.
func (f *pipeFixture) StartOutbound(
	t *testing.T, ctx context.Context, negotiated dnotif.ProtocolName,
) <-chan outboundResult {
	t.Helper()

	ou := dnotif.NewOutboundUpgrade(dtest.NewLogger(t), f.OutCfg)

	ch := make(chan outboundResult, 1)
	go func() {
		open, err := ou.Upgrade(ctx, f.OutStream, negotiated)
		ch <- outboundResult{Open: open, Err: err}
	}()
	return ch
}

func (f *pipeFixture) UpgradeInbound(
	t *testing.T, ctx context.Context, negotiated dnotif.ProtocolName,
) (dnotif.InboundOpen, error) {
	t.Helper()

	iu := dnotif.NewInboundUpgrade(dtest.NewLogger(t), f.InCfg)
	return iu.Upgrade(ctx, f.InStream, negotiated)
}

// Open runs both upgrades to completion,
// with the inbound side answering with localHandshake.
func (f *pipeFixture) Open(
	t *testing.T, ctx context.Context, localHandshake []byte,
) (*dnotif.InboundSubstream, *dnotif.OutboundSubstream) {
	t.Helper()

	outCh := f.StartOutbound(t, ctx, testProtocol)

	in, err := f.UpgradeInbound(t, ctx, testProtocol)
	require.NoError(t, err)
	require.Equal(t, f.OutCfg.InitialMessage, in.Handshake)

	in.Substream.SetLocalHandshake(localHandshake)
	require.NoError(t, in.Substream.Process(ctx))
	require.Equal(t, dnotif.HandshakeSent, in.Substream.HandshakeState())

	out := dtest.ReceiveSoon(t, outCh)
	require.NoError(t, out.Err)
	require.Equal(t, localHandshake, out.Open.Handshake)

	return in.Substream, out.Open.Substream
}

// unboundedConfig sets both maximums to unbounded,
// only leaving the handshake limit in effect.
func (f *pipeFixture) unboundedConfig() {
	f.InCfg.MaxNotificationSize = math.MaxUint64
	f.OutCfg.MaxNotificationSize = math.MaxUint64
}
