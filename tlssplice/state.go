//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-ssl/include/ssl-openssl.hpp (struct state)
//

// Package tlssplice implements a TLS record-layer adapter that splices
// into a [stream.Stream], the Go rendering of the original's
// OpenSSL-BIO-backed `ssl::openssl::driver::state`.
//
// Rather than hand-rolling a BIO pair and OpenSSL's WANT_READ/WANT_WRITE
// bookkeeping, [State] drives a real [*tls.Conn] over an in-process
// [net.Conn] ([pipeConn]); a dedicated pump goroutine performs the
// blocking handshake and subsequent reads, translating them into the
// Decrypt/Encrypt/OnReadDecrypted/OnWriteEncrypted callback contract the
// rest of this module expects.
package tlssplice

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// errNoMatchingALPNProtocol is returned from [Context]'s
// GetConfigForClient hook when no peer-offered protocol satisfies the
// ALPN callback, making the handshake fail fatally as §9 specifies.
var errNoMatchingALPNProtocol = errors.New("tlssplice: no matching ALPN protocol offered")

// Status is State's lifecycle: Fresh -> Handshaking -> Ready ->
// Closed (or Failed on a handshake/record error).
type Status int

const (
	Fresh Status = iota
	Handshaking
	Ready
	Closed
	Failed
)

// State is a per-connection TLS splice. The zero value is not usable;
// construct with [NewConnect] or [NewAccept].
type State struct {
	conn *tls.Conn
	pipe *pipeConn

	mu     sync.Mutex
	status Status

	handshakeOnce    sync.Once
	onHandshake      func()
	onReadDecrypted  func([]byte, error)
	onWriteEncrypted func([]byte)

	handshakeErr atomic.Value
}

// NewConnect creates a client-side [*State] using cfg, fresh and not yet
// handshaking, writing ciphertext for the peer to onWriteEncrypted as it
// is produced. Call [State.Start] once every callback is wired up.
func NewConnect(cfg *Context, onWriteEncrypted func([]byte)) *State {
	s := &State{status: Fresh, onWriteEncrypted: onWriteEncrypted}
	s.pipe = newPipeConn(func(b []byte) { s.onWriteEncrypted(b) })
	s.conn = tls.Client(s.pipe, cfg.connectConfig())
	return s
}

// NewAccept creates a server-side [*State] using cfg (whose ALPN
// predicate, if any, is consulted via [tls.Config.GetConfigForClient]),
// fresh and not yet handshaking. Call [State.Start] once every callback
// is wired up.
func NewAccept(cfg *Context, onWriteEncrypted func([]byte)) *State {
	s := &State{status: Fresh, onWriteEncrypted: onWriteEncrypted}
	s.pipe = newPipeConn(func(b []byte) { s.onWriteEncrypted(b) })
	s.conn = tls.Server(s.pipe, cfg.acceptConfig())
	return s
}

// Start begins the handshake in the background against ctx's deadline.
// Must be called at most once, after [State.OnHandshake] and
// [State.OnReadDecrypted] have been registered.
func (s *State) Start(ctx context.Context) {
	s.setStatus(Handshaking)
	go func() {
		err := s.conn.HandshakeContext(ctx)
		if err != nil {
			s.setStatus(Failed)
			s.handshakeErr.Store(err)
			s.deliverRead(nil, err)
			return
		}

		s.setStatus(Ready)
		s.fireOnHandshake()
		s.pumpReads()
	}()
}

func (s *State) pumpReads() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.deliverRead(chunk, nil)
		}
		if err != nil {
			if s.getStatus() != Failed {
				s.setStatus(Closed)
			}
			s.deliverRead(nil, err)
			return
		}
	}
}

func (s *State) fireOnHandshake() {
	s.handshakeOnce.Do(func() {
		if s.onHandshake != nil {
			s.onHandshake()
		}
	})
}

func (s *State) deliverRead(chunk []byte, err error) {
	if s.onReadDecrypted != nil {
		s.onReadDecrypted(chunk, err)
	}
}

func (s *State) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *State) getStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// GetStatus returns the current lifecycle state.
func (s *State) GetStatus() Status {
	return s.getStatus()
}

// OnHandshake registers cb to run exactly once, the moment the
// handshake completes successfully, before the first OnReadDecrypted
// chunk.
func (s *State) OnHandshake(cb func()) {
	s.onHandshake = cb
}

// OnReadDecrypted registers cb to receive decrypted application data
// (or the terminal error) as it becomes available.
func (s *State) OnReadDecrypted(cb func([]byte, error)) {
	s.onReadDecrypted = cb
}

// Decrypt feeds raw ciphertext read off the wire into the TLS state.
// Implements [stream.Cipher].
func (s *State) Decrypt(data []byte) {
	s.pipe.Decrypt(data)
}

// Encrypt encrypts data and forwards the resulting ciphertext to
// onWriteEncrypted. Requires [Ready]; returns an error otherwise.
// Implements [stream.Cipher].
func (s *State) Encrypt(data []byte) error {
	if s.getStatus() != Ready {
		return fmt.Errorf("tlssplice: encrypt called in state %d, want Ready", s.getStatus())
	}
	_, err := s.conn.Write(data)
	return err
}

// Protocol returns the negotiated ALPN protocol, or "" if none was
// negotiated (or the handshake has not completed yet).
func (s *State) Protocol() string {
	return s.conn.ConnectionState().NegotiatedProtocol
}

// HandshakeError returns the error that failed the handshake, or nil if
// the handshake succeeded or has not yet completed.
func (s *State) HandshakeError() error {
	if err, ok := s.handshakeErr.Load().(error); ok {
		return err
	}
	return nil
}

// Close tears down the underlying TLS connection.
func (s *State) Close() error {
	s.setStatus(Closed)
	return s.conn.Close()
}
