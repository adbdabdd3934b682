package dquic

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/quic-go/quic-go"
)

// NextProto is the ALPN protocol identifier for connections
// that carry notification substreams.
const NextProto = "dnotif/1"

// DefaultConfig returns the QUIC configuration used for notification connections.
//
// Notification substreams are long-lived and may sit idle for a while,
// so keep-alives are enabled.
func DefaultConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,

		MaxIncomingStreams: 256,
	}
}

// MakeTransport returns a [*quic.Transport] bound to the given packet conn.
// The transport is closed when ctx is canceled.
func MakeTransport(ctx context.Context, pc net.PacketConn) *quic.Transport {
	qt := &quic.Transport{Conn: pc}
	context.AfterFunc(ctx, func() {
		_ = qt.Close()
	})
	return qt
}

// StartListener starts listening on qt.
//
// The given TLS configuration is cloned and [NextProto] is added to it.
// If clientCAs is non-nil, clients must present a certificate signed by one of them.
func StartListener(
	tlsConf *tls.Config,
	clientCAs *x509.CertPool,
	qConf *quic.Config,
	qt *quic.Transport,
) (*quic.Listener, error) {
	tlsConf = withNextProto(tlsConf)
	if clientCAs != nil {
		tlsConf.ClientCAs = clientCAs
		tlsConf.ClientAuth = tls.RequireAndVerifyClientCert
	}

	ql, err := qt.Listen(tlsConf, qConf)
	if err != nil {
		return nil, fmt.Errorf("failed to start QUIC listener: %w", err)
	}
	return ql, nil
}

// Dialer handles establishing QUIC connections with remote peers.
type Dialer struct {
	BaseTLSConf *tls.Config

	QUICTransport *quic.Transport
	QUICConfig    *quic.Config

	// Roots used to verify the server certificate.
	// If nil, the system roots are used,
	// unless BaseTLSConf skips verification.
	RootCAs *x509.CertPool
}

// Dial opens a QUIC connection to the given address.
func (d Dialer) Dial(ctx context.Context, addr net.Addr) (Conn, error) {
	tlsConf := withNextProto(d.BaseTLSConf)
	if d.RootCAs != nil {
		tlsConf.RootCAs = d.RootCAs
	}
	if tlsConf.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			tlsConf.ServerName = host
		}
	}

	qc, err := d.QUICTransport.Dial(ctx, addr, tlsConf, d.QUICConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return WrapConn(qc), nil
}

func withNextProto(base *tls.Config) *tls.Config {
	var c *tls.Config
	if base == nil {
		c = new(tls.Config)
	} else {
		c = base.Clone()
	}

	if !slices.Contains(c.NextProtos, NextProto) {
		c.NextProtos = append(slices.Clip(c.NextProtos), NextProto)
	}
	return c
}
