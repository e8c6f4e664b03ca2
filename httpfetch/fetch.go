//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-http/include/http/http1.hpp,
// _examples/original_source/cpp-http/include/http/http2.hpp (the `fetch`
// coroutine documented alongside both engines)
//

// Package httpfetch implements the one-shot, protocol-selecting HTTP
// client: resolve, connect, optionally negotiate TLS/ALPN, then dispatch
// to [http1.Parser] or [http2.Handler] depending on what the handshake
// negotiated.
package httpfetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/bassosimone/loopnet/http1"
	"github.com/bassosimone/loopnet/http2"
	"github.com/bassosimone/loopnet/httpmsg"
	"github.com/bassosimone/loopnet/loop"
	"github.com/bassosimone/loopnet/stream"
	"github.com/bassosimone/loopnet/task"
	"github.com/bassosimone/loopnet/tcpconn"
	"github.com/bassosimone/loopnet/tlssplice"
)

// ErrUnexpectedEOF is returned when the connection closes before the
// engine (HTTP/1 parser or HTTP/2 handler) reached done, matching §7's
// UnexpectedEof kind.
var ErrUnexpectedEOF = errors.New("httpfetch: unexpected EOF before response complete")

// Fetch performs req and resolves with its response.
//
// 1. req is stamped with Host, Connection: close, Accept-Encoding: gzip.
// 2. A TCP stream is created; for an https URL, a TLS client context is
//    attached offering ALPN ["h2", "http/1.1"].
// 3. The host is resolved and connected.
// 4. If the negotiated protocol is "h2", an [http2.Handler] drives the
//    exchange; otherwise an [http1.Parser] does.
// 5. On stream EOF before the engine reports done, Fetch rejects with
//    [ErrUnexpectedEOF].
func Fetch(ctx context.Context, l *loop.Loop, req *httpmsg.Request) *task.Task[*httpmsg.Response] {
	out := task.Pending[*httpmsg.Response](l.Post)
	go func() {
		resp, err := fetch(ctx, l, req)
		if err != nil {
			out.Reject(err)
			return
		}
		out.Resolve(resp)
	}()
	return out
}

// FetchMethod is a [Fetch] convenience overload building the request
// from method, url, and an optional body.
func FetchMethod(ctx context.Context, l *loop.Loop, method string, url *httpmsg.URL, body []byte) *task.Task[*httpmsg.Response] {
	req := httpmsg.NewRequest(method, url)
	req.Body = body
	return Fetch(ctx, l, req)
}

// FetchURL is a [Fetch] convenience overload issuing a GET against rawURL.
func FetchURL(ctx context.Context, l *loop.Loop, rawURL string) *task.Task[*httpmsg.Response] {
	u, err := httpmsg.ParseFull(rawURL)
	if err != nil {
		return task.Rejected[*httpmsg.Response](err)
	}
	return Fetch(ctx, l, httpmsg.NewRequest("GET", u))
}

func stampHeaders(req *httpmsg.Request) {
	if req.Headers == nil {
		req.Headers = httpmsg.Header{}
	}
	if req.URL.Host != "" {
		req.Headers.Set("host", req.URL.Host)
	}
	req.Headers.Set("connection", "close")
	req.Headers.Set("accept-encoding", "gzip")
}

func resolvePort(u *httpmsg.URL) uint16 {
	if u.Port != 0 {
		return u.Port
	}
	if u.Schema == "https" {
		return 443
	}
	return 80
}

func fetch(ctx context.Context, l *loop.Loop, req *httpmsg.Request) (*httpmsg.Response, error) {
	stampHeaders(req)

	tc := tcpconn.New(l)
	useTLS := req.URL.Schema == "https"
	if useTLS {
		tlsCfg := tlssplice.NewContext().
			UseServerName(req.URL.Host).
			UseALPNProtocols([]string{"h2", "http/1.1"})
		tc.UseTLS(tlsCfg)
	}

	port := resolvePort(req.URL)
	s, err := tc.ConnectHost(ctx, req.URL.Host, port).Await(ctx)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: connect: %w", err)
	}

	if useTLS && tc.Protocol() == "h2" {
		return fetchH2(ctx, s, req)
	}
	return fetchH1(ctx, s, req)
}

func fetchH1(ctx context.Context, s *stream.Stream, req *httpmsg.Request) (*httpmsg.Response, error) {
	p := http1.NewResponseParser()

	if _, err := s.WriteTask([]byte(req.String()), true).Await(ctx); err != nil {
		return nil, fmt.Errorf("httpfetch: write: %w", err)
	}
	_ = s.Shutdown()

	done := make(chan error, 1)
	reported := false
	report := func(err error) {
		if reported {
			return
		}
		reported = true
		s.ReadStop()
		done <- err
	}
	s.ReadStart(func(chunk []byte, err error) {
		if reported {
			return
		}
		if err != nil {
			if errors.Is(err, stream.ErrEOF) {
				if p.Done() {
					report(nil)
				} else {
					report(ErrUnexpectedEOF)
				}
				return
			}
			report(err)
			return
		}
		if perr := p.Execute(chunk); perr != nil {
			report(perr)
			return
		}
		if p.Done() {
			report(nil)
		}
	}, true)

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		resp := p.Result()
		return &resp, nil
	case <-ctx.Done():
		s.ReadStop()
		return nil, ctx.Err()
	}
}

func fetchH2(ctx context.Context, s *stream.Stream, req *httpmsg.Request) (*httpmsg.Response, error) {
	// Two single-direction handlers share the wire: sender submits
	// SETTINGS + this request's HEADERS/DATA, h only ever decodes
	// incoming frames into a Response, matching §4.J's "wire on_send to
	// the TCP write" (sender) paired with "feed each chunk into the
	// handler" (h). h.Done is polled rather than driven by h.Complete,
	// since that callback would otherwise fire from h's own background
	// frame-reading goroutine, racing the stream's single-threaded
	// read-callback delivery below.
	h := http2.NewResponseHandler()
	done := make(chan error, 1)

	sender := http2.NewRequestHandler()
	sender.OnSend(func(b []byte) {
		s.Write(b, true, func(error) {})
	})
	if err := sender.SubmitSettings(); err != nil {
		return nil, fmt.Errorf("httpfetch: %w", err)
	}
	if err := sender.SubmitRequest(req); err != nil {
		return nil, fmt.Errorf("httpfetch: %w", err)
	}
	if err := sender.SendSession(); err != nil {
		return nil, fmt.Errorf("httpfetch: %w", err)
	}

	reported := false
	report := func(err error) {
		if reported {
			return
		}
		reported = true
		s.ReadStop()
		done <- err
	}
	s.ReadStart(func(chunk []byte, err error) {
		if reported {
			return
		}
		if err != nil {
			if errors.Is(err, stream.ErrEOF) {
				if h.Done() {
					report(nil)
				} else {
					report(ErrUnexpectedEOF)
				}
				return
			}
			report(err)
			return
		}
		if perr := h.Execute(chunk); perr != nil {
			report(perr)
			return
		}
		if h.Done() {
			report(nil)
		}
	}, true)

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		resp := h.Result()
		return &resp, nil
	case <-ctx.Done():
		s.ReadStop()
		return nil, ctx.Err()
	}
}
