package dquictest

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"

	"github.com/gordian-engine/dnotif/dquic"
)

// ErrConnClosed is returned from a [*PipeConn]
// after either end called CloseWithError.
var ErrConnClosed = errors.New("pipe connection closed")

// PipeConn is one end of an in-memory [dquic.Conn] pair.
// Streams opened on one end are accepted on the other,
// and are backed by [NewPipe].
type PipeConn struct {
	// The value to return from the TLSConnectionState method.
	TLSConnectionStateValue tls.ConnectionState

	LocalAddrValue, RemoteAddrValue StubNetAddr

	bufSize int

	// Streams opened by the peer, waiting for AcceptStream.
	incoming chan *PipeStream
	peer     *PipeConn

	shared *pipeConnShared
}

type pipeConnShared struct {
	once sync.Once
	done chan struct{}
}

var _ dquic.Conn = (*PipeConn)(nil)

// NewPipeConns returns two connected ends.
// Every stream opened between them uses bufSize as in [NewPipe].
func NewPipeConns(bufSize int) (a, b *PipeConn) {
	shared := &pipeConnShared{done: make(chan struct{})}

	a = &PipeConn{
		LocalAddrValue:  StubNetAddr{NetworkValue: "pipe", StringValue: "pipe-a"},
		RemoteAddrValue: StubNetAddr{NetworkValue: "pipe", StringValue: "pipe-b"},

		bufSize:  bufSize,
		incoming: make(chan *PipeStream),
		shared:   shared,
	}
	b = &PipeConn{
		LocalAddrValue:  a.RemoteAddrValue,
		RemoteAddrValue: a.LocalAddrValue,

		bufSize:  bufSize,
		incoming: make(chan *PipeStream),
		shared:   shared,
	}
	a.peer = b
	b.peer = a

	return a, b
}

// AcceptStream implements [dquic.Conn].
func (c *PipeConn) AcceptStream(ctx context.Context) (dquic.Stream, error) {
	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case <-c.shared.done:
		return nil, ErrConnClosed
	case s := <-c.incoming:
		return s, nil
	}
}

// OpenStreamSync implements [dquic.Conn].
// It blocks until the peer accepts the stream.
func (c *PipeConn) OpenStreamSync(ctx context.Context) (dquic.Stream, error) {
	local, remote := NewPipe(c.bufSize)

	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case <-c.shared.done:
		return nil, ErrConnClosed
	case c.peer.incoming <- remote:
		return local, nil
	}
}

// CloseWithError implements [dquic.Conn].
// Both ends observe the close.
func (c *PipeConn) CloseWithError(
	code dquic.ApplicationErrorCode, msg string,
) error {
	c.shared.once.Do(func() {
		close(c.shared.done)
	})
	return nil
}

// LocalAddr implements [dquic.Conn].
func (c *PipeConn) LocalAddr() net.Addr {
	return c.LocalAddrValue
}

// RemoteAddr implements [dquic.Conn].
func (c *PipeConn) RemoteAddr() net.Addr {
	return c.RemoteAddrValue
}

// TLSConnectionState implements [dquic.Conn].
func (c *PipeConn) TLSConnectionState() tls.ConnectionState {
	return c.TLSConnectionStateValue
}

// StubNetAddr is used in [PipeConn]
// to hold the return values for
// [*PipeConn.LocalAddr] and [*PipeConn.RemoteAddr].
type StubNetAddr struct {
	NetworkValue string
	StringValue  string
}

var _ net.Addr = StubNetAddr{}

func (a StubNetAddr) Network() string { return a.NetworkValue }
func (a StubNetAddr) String() string  { return a.StringValue }
