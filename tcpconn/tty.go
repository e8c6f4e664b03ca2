//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-uv/include/uvpp/tty.hpp
//

package tcpconn

import (
	"net"
	"os"
	"time"

	"github.com/bassosimone/loopnet/loop"
	"github.com/bassosimone/loopnet/stream"
)

// NewTTY wraps an *os.File (typically os.Stdin, os.Stdout, or os.Stderr)
// as a [*stream.Stream] bound to l, the Go analogue of the original's
// `uv::tty`. Useful for CLI tools built on this engine that want the
// same read/write/line-framing API for terminal I/O as for sockets.
func NewTTY(l *loop.Loop, f *os.File) *stream.Stream {
	return stream.New(l, &fileConn{f: f})
}

// fileConn adapts an *os.File to [net.Conn] so it can be wrapped by
// [stream.Stream], which is built around net.Conn's duplex Read/Write.
// A tty has no remote address, so LocalAddr and RemoteAddr both report
// the file's name; the deadline methods pass through to the [os.File].
type fileConn struct {
	f *os.File
}

var _ net.Conn = (*fileConn)(nil)

func (c *fileConn) Read(b []byte) (int, error)  { return c.f.Read(b) }
func (c *fileConn) Write(b []byte) (int, error) { return c.f.Write(b) }
func (c *fileConn) Close() error                { return c.f.Close() }

func (c *fileConn) LocalAddr() net.Addr  { return ttyAddr{c.f.Name()} }
func (c *fileConn) RemoteAddr() net.Addr { return ttyAddr{c.f.Name()} }

func (c *fileConn) SetDeadline(t time.Time) error      { return c.f.SetDeadline(t) }
func (c *fileConn) SetReadDeadline(t time.Time) error  { return c.f.SetReadDeadline(t) }
func (c *fileConn) SetWriteDeadline(t time.Time) error { return c.f.SetWriteDeadline(t) }

type ttyAddr struct{ name string }

func (a ttyAddr) Network() string { return "tty" }
func (a ttyAddr) String() string  { return a.name }
