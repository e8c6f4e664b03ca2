//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-ssl/include/ssl-openssl.hpp (BIO_s_mem read/write BIOs)
//

package tlssplice

import (
	"io"
	"net"
	"sync"
	"time"
)

// pipeConn is an in-process [net.Conn] standing in for the original's
// pair of memory BIOs: [pipeConn.Decrypt] is the read-BIO analogue
// (ciphertext fed in from the wire, consumed by [*tls.Conn].Read), and
// writes made by [*tls.Conn] are the write-BIO analogue, forwarded
// synchronously to an installed onWrite callback instead of buffered in
// a second BIO.
type pipeConn struct {
	inbound chan []byte
	pending []byte

	onWrite func([]byte)

	closeOnce sync.Once
	closed    chan struct{}
}

func newPipeConn(onWrite func([]byte)) *pipeConn {
	return &pipeConn{
		inbound: make(chan []byte, 64),
		onWrite: onWrite,
		closed:  make(chan struct{}),
	}
}

var _ net.Conn = (*pipeConn)(nil)

// Decrypt enqueues ciphertext read off the wire for [*tls.Conn].Read to
// consume. Safe to call from any goroutine; never blocks once the pipe
// is closed.
func (p *pipeConn) Decrypt(data []byte) {
	cp := append([]byte(nil), data...)
	select {
	case p.inbound <- cp:
	case <-p.closed:
	}
}

// Read implements [net.Conn].
func (p *pipeConn) Read(b []byte) (int, error) {
	for len(p.pending) == 0 {
		select {
		case chunk, ok := <-p.inbound:
			if !ok {
				return 0, io.EOF
			}
			p.pending = chunk
		case <-p.closed:
			return 0, net.ErrClosed
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Write implements [net.Conn]: every byte tls.Conn hands us is
// ciphertext destined for the real wire, forwarded synchronously.
func (p *pipeConn) Write(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	p.onWrite(cp)
	return len(b), nil
}

// Close implements [net.Conn].
func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeConn) LocalAddr() net.Addr                { return pipeAddr{} }
func (p *pipeConn) RemoteAddr() net.Addr               { return pipeAddr{} }
func (p *pipeConn) SetDeadline(t time.Time) error      { return nil }
func (p *pipeConn) SetReadDeadline(t time.Time) error  { return nil }
func (p *pipeConn) SetWriteDeadline(t time.Time) error { return nil }

// pipeAddr is a placeholder [net.Addr]: pipeConn is not bound to any
// real network address, it is purely an in-process BIO substitute.
type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "tlssplice-pipe" }
