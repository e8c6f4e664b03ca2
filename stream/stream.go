//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-uv/include/uvpp/stream.hpp
//

// Package stream implements [Stream], a duplex byte stream built on
// [loop.Handle], the Go rendering of the original's `uv::stream`.
package stream

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/bassosimone/loopnet/loop"
	"github.com/bassosimone/loopnet/task"
)

// ErrEOF is delivered to read callbacks (and returned by Task-returning
// helpers that do not special-case EOF) when the peer closes its
// writing side or [Stream.Close] runs, matching the original's
// synthesized `UV_EOF`.
var ErrEOF = io.EOF

// Cipher is the hook point a TLS layer (loopnet/tlssplice) installs on a
// Stream to interpose on the raw byte stream: ciphertext read off the
// wire is handed to Decrypt instead of the application read callback,
// and application writes go through Encrypt instead of hitting the wire
// directly. This is the Go analogue of the original's `_ssl_state`
// member and the `encrypted` parameter threaded through `readStart`/
// `write`.
type Cipher interface {
	// Decrypt feeds raw bytes read from the wire into the TLS state.
	Decrypt(data []byte)

	// Encrypt feeds plaintext into the TLS state for encryption; the
	// resulting ciphertext reaches the wire via the Stream's raw write
	// path, asynchronously, through the cipher's own wiring.
	Encrypt(data []byte) error
}

// Stream wraps a [net.Conn] as a [loop.Handle]: reads are driven by a
// background pump goroutine, each raw write runs on its own goroutine,
// and results are delivered to callbacks posted onto the owning
// [loop.Loop].
//
// The zero value is not usable; construct with [New].
type Stream struct {
	loop.Handle

	conn net.Conn

	mu        sync.Mutex
	sentEOF   bool
	readStart bool
	appCB     func([]byte, error)
	cipher    Cipher

	pumpOnce sync.Once
	stopPump chan struct{}
}

// New wraps conn as a [*Stream] bound to l.
func New(l *loop.Loop, conn net.Conn) *Stream {
	return &Stream{
		Handle:   loop.NewHandle(l),
		conn:     conn,
		stopPump: make(chan struct{}),
	}
}

// SetCipher installs c as the Stream's TLS interposer. Called by
// tcpconn once a handshake completes; nil disables interposition.
func (s *Stream) SetCipher(c Cipher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cipher = c
}

// RawWrite writes data directly to the underlying connection, bypassing
// any installed [Cipher]. A [Cipher] implementation calls this (via its
// own wiring back to the Stream that installed it) to push ciphertext
// produced by TLS record-layer encryption onto the wire.
func (s *Stream) RawWrite(data []byte) (int, error) {
	return s.conn.Write(data)
}

// DeliverDecrypted is called by an installed [Cipher] with plaintext
// produced by the TLS record layer. It reaches the application read
// callback registered via [Stream.ReadStart] exactly as a raw chunk
// would on an unencrypted Stream.
func (s *Stream) DeliverDecrypted(data []byte, err error) {
	s.invokeReadCB(data, err)
}

// ReadStart begins delivering chunks to cb. When encrypted is true and a
// [Cipher] is installed, cb is registered as the *decrypted* sink (fed
// via [Stream.DeliverDecrypted]) and raw wire bytes are routed to the
// cipher's Decrypt instead; otherwise cb receives raw bytes directly.
func (s *Stream) ReadStart(cb func([]byte, error), encrypted bool) {
	s.mu.Lock()
	s.appCB = cb
	alreadyRunning := s.readStart
	s.readStart = true
	hasCipher := s.cipher != nil && encrypted
	s.mu.Unlock()

	if alreadyRunning {
		return
	}
	s.pumpOnce.Do(func() {
		go s.pump(hasCipher)
	})
}

// pump is the background goroutine performing blocking reads off conn
// and posting results onto the owning loop, the Go analogue of libuv's
// readiness-driven `read_cb` but realized with an ordinary blocking
// read loop since Go conns do not expose edge-triggered readiness.
func (s *Stream) pump(routeThroughCipher bool) {
	buf := make([]byte, 64*1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.Loop().Post(func() {
				s.onRawChunk(chunk, nil, routeThroughCipher)
			})
		}
		if err != nil {
			s.Loop().Post(func() {
				s.onRawChunk(nil, err, routeThroughCipher)
			})
			return
		}
		select {
		case <-s.stopPump:
			return
		default:
		}
	}
}

func (s *Stream) onRawChunk(chunk []byte, err error, routeThroughCipher bool) {
	s.mu.Lock()
	cipher := s.cipher
	s.mu.Unlock()

	if routeThroughCipher && cipher != nil {
		if err != nil {
			s.invokeReadCB(nil, normalizeEOF(err))
			return
		}
		cipher.Decrypt(chunk)
		return
	}

	s.invokeReadCB(chunk, normalizeEOF(err))
}

func normalizeEOF(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return ErrEOF
	}
	return err
}

func (s *Stream) invokeReadCB(chunk []byte, err error) {
	s.mu.Lock()
	cb := s.appCB
	if err != nil {
		s.sentEOF = true
	}
	s.mu.Unlock()

	if cb != nil {
		cb(chunk, err)
	}
}

// ReadStop stops delivering chunks. If no terminal EOF has been
// delivered yet, ReadStop synthesizes exactly one, matching §4.E/the
// original's `readStop` behavior.
func (s *Stream) ReadStop() {
	select {
	case <-s.stopPump:
	default:
		close(s.stopPump)
	}

	s.mu.Lock()
	already := s.sentEOF
	s.sentEOF = true
	s.mu.Unlock()

	if !already {
		s.invokeReadCB(nil, ErrEOF)
	}
}

// IsReadable reports whether reads have been started and no terminal
// EOF has been delivered yet.
func (s *Stream) IsReadable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readStart && !s.sentEOF
}

// IsWritable reports whether the Stream is still open for writing.
func (s *Stream) IsWritable() bool {
	return s.IsActive()
}

// Shutdown half-closes the writing side via the underlying connection's
// CloseWrite, when supported.
func (s *Stream) Shutdown() error {
	type closeWriter interface {
		CloseWrite() error
	}
	if cw, ok := s.conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return errors.New("stream: underlying connection does not support half-close")
}

// Write sends data. When encrypted is true and a [Cipher] is installed,
// data is routed through the cipher's Encrypt (which eventually reaches
// the wire via [Stream.RawWrite]); otherwise it is written directly.
func (s *Stream) Write(data []byte, encrypted bool, cb func(error)) {
	s.mu.Lock()
	cipher := s.cipher
	s.mu.Unlock()

	if encrypted && cipher != nil {
		cb(cipher.Encrypt(data))
		return
	}

	go func() {
		_, err := s.conn.Write(data)
		s.Loop().Post(func() { cb(err) })
	}()
}

// WriteTask is the [task.Task]-returning form of [Stream.Write].
func (s *Stream) WriteTask(data []byte, encrypted bool) *task.Task[task.Unit] {
	out := task.Pending[task.Unit](s.Loop().Post)
	s.Write(data, encrypted, func(err error) {
		if err != nil {
			out.Reject(err)
			return
		}
		out.Resolve(task.Unit{})
	})
	return out
}

// Close stops reading and closes the underlying connection. cb, if
// non-nil, runs after teardown completes.
func (s *Stream) Close(cb func()) {
	s.CloseWith(func() {
		s.ReadStop()
		s.conn.Close()
	}, cb)
}
