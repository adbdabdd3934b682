// Package dtls generates short-lived Ed25519 certificates
// for loopback tests and for the dnotifctl debugging tool.
package dtls

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// CA is a generated certificate authority.
type CA struct {
	Cert    *x509.Certificate
	PrivKey ed25519.PrivateKey
}

// GenerateCA generates a new self-signed CA valid for validFor.
func GenerateCA(commonName string, validFor time.Duration) (*CA, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: randomSerial(),

		Subject: pkix.Name{
			Organization: []string{"dnotif"},
			CommonName:   commonName,
		},
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  time.Now().Add(validFor),

		KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage: []x509.ExtKeyUsage{
			// The CA needs every extended key usage that the leaf certificate will have.
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(nil, template, template, pubKey, privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate from DER: %w", err)
	}

	return &CA{Cert: cert, PrivKey: privKey}, nil
}

// CreateLeaf creates a leaf certificate signed by ca,
// usable for both server and client authentication.
// The certificate always carries the loopback IP addresses,
// so that dialing 127.0.0.1 or ::1 verifies without a DNS name.
func (ca *CA) CreateLeaf(dnsNames []string, validFor time.Duration) (tls.Certificate, error) {
	if len(dnsNames) == 0 {
		panic(errors.New("BUG: leaf certificate must contain at least one DNS name"))
	}

	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: randomSerial(),
		Subject: pkix.Name{
			Organization: []string{"dnotif"},
			CommonName:   dnsNames[0],
		},
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  time.Now().Add(validFor),
		KeyUsage:  x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		DNSNames:    dnsNames,
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},

		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(nil, template, ca.Cert, pubKey, ca.PrivKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create leaf certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to parse leaf certificate from DER: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  privKey,
		Leaf:        cert,
	}, nil
}

func randomSerial() *big.Int {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	num, err := crand.Int(crand.Reader, limit)
	if err != nil {
		panic(fmt.Errorf("failed to create random serial: %w", err))
	}

	return num
}
