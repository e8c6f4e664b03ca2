//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-uv/include/uvpp/tcp.hpp
//

// Package tcpconn implements TCP listening and dialing on top of
// [loop.Loop] and [stream.Stream], the Go rendering of the original's
// `uv::tcp` (itself built on `uv::stream`).
package tcpconn

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	loopnet "github.com/bassosimone/loopnet"
	"github.com/bassosimone/loopnet/dnsresolve"
	"github.com/bassosimone/loopnet/loop"
	"github.com/bassosimone/loopnet/stream"
	"github.com/bassosimone/loopnet/task"
	"github.com/bassosimone/loopnet/tlssplice"
)

// TCP is a listening or connected TCP endpoint bound to a [loop.Loop].
// The zero value is not usable; construct with [New].
type TCP struct {
	l *loop.Loop

	noDelay             bool
	simultaneousAccepts bool
	tlsContext          *tlssplice.Context

	ln net.Listener

	protoMu            sync.Mutex
	negotiatedProtocol string

	// dial is the staged dial pipeline: connect, then arm cancellation
	// watching, then apply the TCP_NODELAY option, composed with
	// [loopnet.Compose3] over a [loopnet.ConnectFunc], a
	// [loopnet.CancelWatchFunc], and a [loopnet.FuncAdapter] closing over
	// applyNoDelay.
	dial loopnet.Func[netip.AddrPort, net.Conn]
}

// New returns a fresh, unbound [*TCP] on l, with a default [loopnet.Config]
// and no-op [loopnet.SLogger]. Use [NewWithConfig] to supply both.
func New(l *loop.Loop) *TCP {
	return NewWithConfig(l, loopnet.NewConfig(), loopnet.DefaultSLogger())
}

// NewWithConfig returns a fresh, unbound [*TCP] on l, dialing plain TCP
// connections through a staged [loopnet.Func] pipeline built from cfg and
// logger: a [loopnet.ConnectFunc] (structured connectStart/connectDone log
// events), a [loopnet.CancelWatchFunc] (outer context cancellation closes
// the connection promptly instead of waiting on a per-operation timeout),
// and a [loopnet.FuncAdapter] applying the TCP_NODELAY option.
func NewWithConfig(l *loop.Loop, cfg *loopnet.Config, logger loopnet.SLogger) *TCP {
	t := &TCP{l: l}
	connect := loopnet.NewConnectFunc(cfg, "tcp", logger)
	cancel := loopnet.NewCancelWatchFunc()
	noDelay := loopnet.FuncAdapter[net.Conn, net.Conn](func(_ context.Context, conn net.Conn) (net.Conn, error) {
		t.applyNoDelay(conn)
		return conn, nil
	})
	t.dial = loopnet.Compose3(connect, cancel, noDelay)
	return t
}

// NoDelay sets the TCP_NODELAY option applied to every connection this
// [*TCP] dials or accepts from now on, a direct passthrough to
// [*net.TCPConn.SetNoDelay].
func (t *TCP) NoDelay(enable bool) {
	t.noDelay = enable
}

// SimultaneousAccepts records the libuv/Windows-IOCP accept-parallelism
// hint. Go's net package has no portable equivalent (accept parallelism
// is governed by the runtime poller, not a per-socket knob), so this is
// a recorded no-op kept for API parity with the original.
func (t *TCP) SimultaneousAccepts(enable bool) {
	t.simultaneousAccepts = enable
}

// Protocol returns the ALPN protocol negotiated by the most recently
// completed TLS handshake on this [*TCP] ("" when [TCP.UseTLS] was never
// called, or no handshake has completed yet). One [*TCP] is expected to
// drive at most one in-flight handshake at a time, matching fetch's
// one-shot usage.
func (t *TCP) Protocol() string {
	t.protoMu.Lock()
	defer t.protoMu.Unlock()
	return t.negotiatedProtocol
}

func (t *TCP) setProtocol(proto string) {
	t.protoMu.Lock()
	defer t.protoMu.Unlock()
	t.negotiatedProtocol = proto
}

// UseTLS arms this [*TCP] to wrap every subsequent Connect/Accept with a
// TLS handshake using cfg: Connect performs a client-side handshake,
// Accept (on a listening TCP) performs a server-side handshake inheriting
// cfg, before either operation's completion fires.
func (t *TCP) UseTLS(cfg *tlssplice.Context) {
	t.tlsContext = cfg
}

// Bind4 binds and listens on a IPv4 [netip.AddrPort], the Go analogue of
// `uv_tcp_bind` (IPv4 form) followed by `uv_listen`.
func (t *TCP) Bind4(ctx context.Context, addr netip.AddrPort) error {
	return t.bind(ctx, addr)
}

// Bind6 binds and listens on a IPv6 [netip.AddrPort].
func (t *TCP) Bind6(ctx context.Context, addr netip.AddrPort) error {
	return t.bind(ctx, addr)
}

func (t *TCP) bind(ctx context.Context, addr netip.AddrPort) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr.String())
	if err != nil {
		return err
	}
	t.ln = ln
	return nil
}

// Listen invokes cb once per accepted connection until the listener is
// closed or ctx is done. backlog is accepted for API parity with
// `uv_listen` but has no effect: Go's [net.ListenConfig] already applies
// the OS backlog at bind time.
func (t *TCP) Listen(ctx context.Context, backlog int, cb func(*stream.Stream, error)) error {
	if t.ln == nil {
		return fmt.Errorf("tcpconn: Listen called before Bind4/Bind6")
	}
	go func() {
		for {
			conn, err := t.ln.Accept()
			if err != nil {
				t.l.Post(func() { cb(nil, err) })
				return
			}
			t.applyNoDelay(conn)
			t.finishAccept(ctx, conn, cb)
		}
	}()
	context.AfterFunc(ctx, func() { t.ln.Close() })
	return nil
}

func (t *TCP) applyNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(t.noDelay)
	}
}

func (t *TCP) finishAccept(ctx context.Context, conn net.Conn, cb func(*stream.Stream, error)) {
	s := stream.New(t.l, conn)
	if t.tlsContext == nil {
		t.l.Post(func() { cb(s, nil) })
		return
	}
	hookTLSAccept(ctx, t, s, t.tlsContext, cb)
}

// hookTLSAccept wires a server-side [tlssplice.State] into s, the Go
// rendering of the original's `hookSSLIntoStream` on the Accept path:
// completion (cb) fires once the handshake succeeds or with the first
// fatal handshake error, never before.
func hookTLSAccept(ctx context.Context, t *TCP, s *stream.Stream,
	cfg *tlssplice.Context, cb func(*stream.Stream, error)) {
	st := tlssplice.NewAccept(cfg, func(b []byte) { s.RawWrite(b) })
	st.OnHandshake(func() {
		t.setProtocol(st.Protocol())
		t.l.Post(func() { cb(s, nil) })
	})
	st.OnReadDecrypted(func(data []byte, err error) {
		t.l.Post(func() { s.DeliverDecrypted(data, err) })
	})
	s.SetCipher(st)
	// encrypted=true so the very first ReadStart call routes raw wire
	// bytes through the cipher; the caller later re-calls ReadStart with
	// its own callback (still encrypted=true) to swap in the real
	// decrypted-data sink without spawning a second pump goroutine.
	s.ReadStart(func(data []byte, err error) {
		if err != nil {
			st.Close()
		}
	}, true)
	st.Start(ctx)
}

// Connect dials addr and returns a [*task.Task] resolving to a ready
// [*stream.Stream]. If [TCP.UseTLS] was called, the task settles only
// once the client-side handshake completes (or fails). The returned
// task already carries loop affinity: Resolve/Reject are routed through
// [loop.Loop.Post] internally, so callers never post to it themselves.
func (t *TCP) Connect(ctx context.Context, addr netip.AddrPort) *task.Task[*stream.Stream] {
	out := task.Pending[*stream.Stream](t.l.Post)
	go func() {
		conn, err := t.dial.Call(ctx, addr)
		if err != nil {
			out.Reject(err)
			return
		}
		t.finishConnect(ctx, conn, out)
	}()
	return out
}

func (t *TCP) finishConnect(ctx context.Context, conn net.Conn, out *task.Task[*stream.Stream]) {
	s := stream.New(t.l, conn)
	if t.tlsContext == nil {
		out.Resolve(s)
		return
	}
	hookTLSConnect(ctx, t, s, t.tlsContext, out)
}

func hookTLSConnect(ctx context.Context, t *TCP, s *stream.Stream,
	cfg *tlssplice.Context, out *task.Task[*stream.Stream]) {
	st := tlssplice.NewConnect(cfg, func(b []byte) { s.RawWrite(b) })
	st.OnHandshake(func() {
		t.setProtocol(st.Protocol())
		out.Resolve(s)
	})
	st.OnReadDecrypted(func(data []byte, err error) {
		t.l.Post(func() { s.DeliverDecrypted(data, err) })
	})
	s.SetCipher(st)
	s.ReadStart(func(data []byte, err error) {
		if err != nil {
			st.Close()
		}
	}, true)
	st.Start(ctx)
}

// ConnectHost resolves host via [dnsresolve.GetAddrInfo] and connects to
// the first result on port, the Go analogue of the original's
// `tcp::connect(node, port)` coroutine overload.
func (t *TCP) ConnectHost(ctx context.Context, host string, port uint16) *task.Task[*stream.Stream] {
	out := task.Pending[*stream.Stream](t.l.Post)
	go func() {
		addrs, err := dnsresolve.GetAddrInfo(t.l, host, fmt.Sprintf("%d", port)).Await(ctx)
		if err != nil {
			out.Reject(err)
			return
		}
		if len(addrs) == 0 {
			out.Reject(fmt.Errorf("tcpconn: no addresses resolved for %s", host))
			return
		}
		// Compose2 over a constant loopnet.NewEndpointFunc and the staged
		// dial pipeline turns "dial this already-resolved address" into a
		// single Func[Unit, net.Conn] call.
		pipeline := loopnet.Compose2(loopnet.NewEndpointFunc(addrs[0]), t.dial)
		conn, err := pipeline.Call(ctx, loopnet.Unit{})
		if err != nil {
			out.Reject(err)
			return
		}
		t.finishConnect(ctx, conn, out)
	}()
	return out
}
