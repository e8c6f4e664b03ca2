// SPDX-License-Identifier: GPL-3.0-or-later

package tlssplice

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// newSplicedPair builds a client/server [*State] pair whose wire-level
// callbacks feed each other's Decrypt, standing in for two ends of a
// real TCP connection.
func newSplicedPair(clientCfg, serverCfg *Context) (client, server *State) {
	client = NewConnect(clientCfg, func(b []byte) { server.Decrypt(b) })
	server = NewAccept(serverCfg, func(b []byte) { client.Decrypt(b) })
	return client, server
}

func TestHandshakeCompletesAndNegotiatesALPN(t *testing.T) {
	cert := selfSignedCert(t)

	serverCfg := NewContext().
		UseCertificateKeyPair(cert).
		UseALPNCallback(func(offered string) bool { return offered == "h2" })
	clientCfg := NewContext().
		UseServerName("localhost").
		UseInsecureSkipVerify(true).
		UseALPNProtocols([]string{"h2", "http/1.1"})

	client, server := newSplicedPair(clientCfg, serverCfg)

	clientDone := make(chan struct{})
	serverDone := make(chan struct{})
	client.OnHandshake(func() { close(clientDone) })
	server.OnHandshake(func() { close(serverDone) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client.Start(ctx)
	server.Start(ctx)

	for _, ch := range []chan struct{}{clientDone, serverDone} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("handshake never completed")
		}
	}

	assert.Equal(t, "h2", client.Protocol())
	assert.Equal(t, "h2", server.Protocol())
	assert.Equal(t, Ready, client.GetStatus())
	assert.Equal(t, Ready, server.GetStatus())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	cert := selfSignedCert(t)

	serverCfg := NewContext().UseCertificateKeyPair(cert)
	clientCfg := NewContext().UseServerName("localhost").UseInsecureSkipVerify(true)

	client, server := newSplicedPair(clientCfg, serverCfg)

	ready := make(chan struct{})
	server.OnHandshake(func() { close(ready) })

	received := make(chan []byte, 1)
	server.OnReadDecrypted(func(data []byte, err error) {
		if err == nil {
			received <- append([]byte(nil), data...)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client.Start(ctx)
	server.Start(ctx)

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake never completed")
	}

	require.NoError(t, client.Encrypt([]byte("hello over tls")))

	select {
	case got := <-received:
		assert.Equal(t, "hello over tls", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("server never received decrypted data")
	}
}

func TestEncryptBeforeReadyFails(t *testing.T) {
	cfg := NewContext().UseServerName("localhost").UseInsecureSkipVerify(true)
	s := NewConnect(cfg, func([]byte) {})
	err := s.Encrypt([]byte("too soon"))
	assert.Error(t, err)
}

func TestAcceptRejectsUnmatchedALPN(t *testing.T) {
	cert := selfSignedCert(t)

	serverCfg := NewContext().
		UseCertificateKeyPair(cert).
		UseALPNCallback(func(offered string) bool { return offered == "spdy/3" })
	clientCfg := NewContext().
		UseServerName("localhost").
		UseInsecureSkipVerify(true).
		UseALPNProtocols([]string{"h2", "http/1.1"})

	client, server := newSplicedPair(clientCfg, serverCfg)

	failed := make(chan struct{})
	client.OnReadDecrypted(func(data []byte, err error) {
		if err != nil {
			close(failed)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client.Start(ctx)
	server.Start(ctx)

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake should have failed on ALPN mismatch")
	}

	assert.Equal(t, Failed, server.GetStatus())
	assert.ErrorIs(t, server.HandshakeError(), errNoMatchingALPNProtocol)
}
