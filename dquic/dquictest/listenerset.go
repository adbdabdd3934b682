package dquictest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gordian-engine/dnotif/dquic"
	"github.com/gordian-engine/dnotif/internal/dtest"
	"github.com/gordian-engine/dnotif/internal/dtls"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"
)

// ListenerSet is a collection of QUIC listeners on loopback,
// whose certificates are all signed by CAs in one shared pool.
// They are capable of dialing one another.
type ListenerSet struct {
	Pool *x509.CertPool

	CAs []*dtls.CA

	UDPConns []*net.UDPConn

	TLSConfigs []*tls.Config

	QTs []*quic.Transport
	QLs []*quic.Listener
}

// NewListenerSet initializes a new ListenerSet,
// with count number of listeners.
// There are no active connections;
// use [*ListenerSet.Dial] to connect two members.
//
// The UDP connections are closed as part of [*testing.T.Cleanup].
func NewListenerSet(t *testing.T, ctx context.Context, count int) *ListenerSet {
	t.Helper()

	pool := x509.NewCertPool()

	ls := &ListenerSet{
		Pool: pool,

		CAs: make([]*dtls.CA, count),

		UDPConns: make([]*net.UDPConn, count),

		TLSConfigs: make([]*tls.Config, count),

		QTs: make([]*quic.Transport, count),
		QLs: make([]*quic.Listener, count),
	}

	t.Cleanup(func() {
		for _, uc := range ls.UDPConns {
			if uc != nil {
				uc.Close()
			}
		}
	})

	for i := range count {
		ca, err := dtls.GenerateCA(fmt.Sprintf("Test CA %02d", i), time.Hour)
		require.NoError(t, err)
		pool.AddCert(ca.Cert)

		leaf, err := ca.CreateLeaf(
			[]string{fmt.Sprintf("leaf%02d.example.com", i)}, time.Hour,
		)
		require.NoError(t, err)

		udpConn, err := net.ListenUDP("udp", &net.UDPAddr{
			IP: net.IPv4(127, 0, 0, 1),
		})
		require.NoError(t, err)

		qt := dquic.MakeTransport(ctx, udpConn)

		tlsConf := &tls.Config{
			Certificates: []tls.Certificate{leaf},
		}
		ql, err := dquic.StartListener(tlsConf, pool, dquic.DefaultConfig(), qt)
		require.NoError(t, err)

		ls.CAs[i] = ca

		ls.UDPConns[i] = udpConn

		ls.TLSConfigs[i] = tlsConf

		ls.QTs[i] = qt
		ls.QLs[i] = ql
	}

	return ls
}

// Dial dials from the listener at srcIdx, to the listener at dstIdx.
// It returns srcConn, which is the outgoing connection from the source,
// and dstConn, which is the inbound connection for the destination.
//
// To do this, the listener set temporarily
// accepts a connection on the destination listener.
// If there is already an attempt to accept a connection there,
// the two attempts will race and the test will be inconsistent.
func (ls *ListenerSet) Dial(t *testing.T, srcIdx, dstIdx int) (srcConn, dstConn dquic.Conn) {
	t.Helper()

	if srcIdx < 0 || srcIdx >= len(ls.UDPConns) || dstIdx < 0 || dstIdx >= len(ls.UDPConns) {
		t.Fatalf(
			"indices must be in range [0, %d]; got srcIdx=%d and dstIdx=%d",
			len(ls.UDPConns)-1, srcIdx, dstIdx,
		)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connAcceptedCh := make(chan *quic.Conn, 1)

	go func() {
		acceptedConn, err := ls.QLs[dstIdx].Accept(ctx)
		if err != nil {
			t.Error(err)
			connAcceptedCh <- nil
			return
		}

		connAcceptedCh <- acceptedConn
	}()

	conn, err := ls.Dialer(srcIdx).Dial(ctx, ls.UDPConns[dstIdx].LocalAddr())
	require.NoError(t, err)

	acceptedConn := dtest.ReceiveSoon(t, connAcceptedCh)
	require.NotNil(t, acceptedConn)

	return conn, dquic.WrapConn(acceptedConn)
}

// Dialer returns a dialer for the listener at idx,
// presenting that listener's certificate as its client certificate.
func (ls *ListenerSet) Dialer(idx int) dquic.Dialer {
	return dquic.Dialer{
		BaseTLSConf: ls.TLSConfigs[idx],

		QUICTransport: ls.QTs[idx],

		// Currently always using the default config when creating the set anyway.
		QUICConfig: dquic.DefaultConfig(),

		RootCAs: ls.Pool,
	}
}
