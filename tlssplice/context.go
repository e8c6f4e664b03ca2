//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-ssl/include/ssl.hpp, ssl-openssl.hpp
//

package tlssplice

import "crypto/tls"

// Context holds certificate material and ALPN configuration shared by
// every [State] it creates. Immutable once handed to [NewConnect] or
// [NewAccept]; build it with [NewContext] and the Use* setters before
// first use.
type Context struct {
	serverName         string
	insecureSkipVerify bool
	certificates       []tls.Certificate
	alpnProtocols      []string
	alpnCallback       func(offered string) bool
}

// NewContext returns an empty [*Context].
func NewContext() *Context {
	return &Context{}
}

// UseServerName sets the SNI/verification hostname used on the Connect
// side.
func (c *Context) UseServerName(name string) *Context {
	c.serverName = name
	return c
}

// UseInsecureSkipVerify disables certificate verification. Intended for
// testing only.
func (c *Context) UseInsecureSkipVerify(skip bool) *Context {
	c.insecureSkipVerify = skip
	return c
}

// UseCertificateKeyPair loads a certificate/key pair already parsed
// into a [tls.Certificate], used on the Accept side. Call multiple
// times to serve more than one certificate.
func (c *Context) UseCertificateKeyPair(cert tls.Certificate) *Context {
	c.certificates = append(c.certificates, cert)
	return c
}

// UseCertificateFile loads a PEM certificate chain and private key from
// certFile and keyFile, the Go analogue of the original's
// `UseCertificateFile`/`UseCertificateChainFile` plus
// `UsePrivateKeyFile`.
func (c *Context) UseCertificateFile(certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return err
	}
	c.certificates = append(c.certificates, cert)
	return nil
}

// UseALPNProtocols sets the ALPN protocols offered on the Connect side,
// in preference order (e.g. ["h2", "http/1.1"]).
func (c *Context) UseALPNProtocols(protocols []string) *Context {
	c.alpnProtocols = protocols
	return c
}

// UseALPNCallback installs the Accept-side ALPN predicate: each
// peer-offered protocol is presented to cb in the order the client
// offered it; the first protocol for which cb returns true is selected.
// If cb never returns true, the handshake fails.
func (c *Context) UseALPNCallback(cb func(offered string) bool) *Context {
	c.alpnCallback = cb
	return c
}

func (c *Context) connectConfig() *tls.Config {
	return &tls.Config{
		ServerName:         c.serverName,
		InsecureSkipVerify: c.insecureSkipVerify,
		NextProtos:         c.alpnProtocols,
	}
}

func (c *Context) acceptConfig() *tls.Config {
	base := &tls.Config{
		Certificates: c.certificates,
	}
	if c.alpnCallback == nil {
		return base
	}
	base.GetConfigForClient = func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
		for _, proto := range hello.SupportedProtos {
			if c.alpnCallback(proto) {
				cfg := base.Clone()
				cfg.GetConfigForClient = nil
				cfg.NextProtos = []string{proto}
				return cfg, nil
			}
		}
		return nil, errNoMatchingALPNProtocol
	}
	return base
}
