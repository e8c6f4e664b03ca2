//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-http/include/http/http2.hpp
// Adapted from: golang.org/x/net/http2 vendor copy (docker-compose example pack)
//

// Package http2 implements a minimal, client-side, single-active-stream
// HTTP/2 handler, the Go rendering of the original's nghttp2-callback-backed
// `http2::handler<T>`.
//
// In place of nghttp2's C session + callback table, [Handler] drives a
// [*http2.Framer] over an in-process pipe: [Handler.Execute] feeds wire
// bytes in, a background goroutine turns them into frames, and an
// [*hpack.Decoder] turns HEADERS/CONTINUATION payloads into header
// fields, intercepting pseudo-headers the way the original's
// on_header_callback does.
package http2

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/bassosimone/loopnet/httpmsg"
	"github.com/bassosimone/loopnet/task"
)

// maxDataFrameSize bounds how much body is packed into a single DATA
// frame by [Handler.SubmitResponse]; larger bodies are split across
// multiple frames, advancing Handler's per-stream send cursor.
const maxDataFrameSize = 16384

// Http2Error wraps a fatal framer or HPACK failure, matching the
// original's "negative/short return is fatal" contract.
type Http2Error struct {
	Err error
}

func (e *Http2Error) Error() string { return fmt.Sprintf("http2: %v", e.Err) }
func (e *Http2Error) Unwrap() error { return e.Err }

type sendFunc func([]byte) (int, error)

func (f sendFunc) Write(p []byte) (int, error) { return f(p) }

// Handler incrementally decodes an HTTP/2 single-stream exchange into
// either a [httpmsg.Request] or a [httpmsg.Response], selected by T, and
// encodes one in the other direction via [Handler.SubmitRequest] /
// [Handler.SubmitResponse].
//
// The zero value is not usable; construct with [NewRequestHandler] or
// [NewResponseHandler].
type Handler[T httpmsg.Request | httpmsg.Response] struct {
	isRequest bool

	pw *io.PipeWriter
	fr *http2.Framer
	bw *bufio.Writer

	henc *hpack.Encoder
	hbuf strings.Builder
	hdec *hpack.Decoder

	mu      sync.Mutex
	method  string
	url     *httpmsg.URL
	status  int
	headers httpmsg.Header
	body    []byte
	done    bool
	fatal   error

	sendCursor int

	onComplete func(T)
	onSend     func([]byte)
}

func newHandler[T httpmsg.Request | httpmsg.Response](isRequest bool) *Handler[T] {
	h := &Handler[T]{isRequest: isRequest, headers: httpmsg.Header{}}

	h.henc = hpack.NewEncoder(&h.hbuf)
	h.hdec = hpack.NewDecoder(4096, h.onHeaderField)

	pr, pw := io.Pipe()
	h.pw = pw
	h.bw = bufio.NewWriter(sendFunc(func(p []byte) (int, error) {
		h.mu.Lock()
		cb := h.onSend
		h.mu.Unlock()
		if cb != nil {
			cb(append([]byte(nil), p...))
		}
		return len(p), nil
	}))
	h.fr = http2.NewFramer(h.bw, pr)

	go h.readLoop(pr)
	return h
}

// NewRequestHandler returns a [*Handler] for the request side of a
// single HTTP/2 stream, with schema https, port 443, and path "/" until
// pseudo-headers arrive, matching §4.I's request-mode defaults.
func NewRequestHandler() *Handler[httpmsg.Request] {
	h := newHandler[httpmsg.Request](true)
	h.url = &httpmsg.URL{Schema: "https", Port: 443, Path: "/"}
	return h
}

// NewResponseHandler returns a [*Handler] for the response side, with
// status sentinel -1 until the :status pseudo-header arrives.
func NewResponseHandler() *Handler[httpmsg.Response] {
	h := newHandler[httpmsg.Response](false)
	h.status = -1
	return h
}

// OnSend registers cb to receive serialized frame bytes produced by
// [Handler.SendSession], for the caller to push down the transport.
func (h *Handler[T]) OnSend(cb func([]byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSend = cb
}

// Execute feeds wire bytes into the handler's frame reader.
func (h *Handler[T]) Execute(chunk []byte) error {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return nil
	}
	if h.fatal != nil {
		err := h.fatal
		h.mu.Unlock()
		return &Http2Error{Err: err}
	}
	h.mu.Unlock()

	if _, err := h.pw.Write(chunk); err != nil {
		return &Http2Error{Err: err}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fatal != nil {
		return &Http2Error{Err: h.fatal}
	}
	return nil
}

func (h *Handler[T]) readLoop(pr *io.PipeReader) {
	for {
		f, err := h.fr.ReadFrame()
		if err != nil {
			h.fail(pr, err)
			return
		}
		if err := h.processFrame(f); err != nil {
			h.fail(pr, err)
			return
		}
	}
}

func (h *Handler[T]) fail(pr *io.PipeReader, err error) {
	h.mu.Lock()
	h.fatal = err
	h.mu.Unlock()
	pr.CloseWithError(err)
}

func (h *Handler[T]) processFrame(f http2.Frame) error {
	switch fr := f.(type) {
	case *http2.HeadersFrame:
		if _, err := h.hdec.Write(fr.HeaderBlockFragment()); err != nil {
			return err
		}
		if fr.StreamEnded() {
			return h.finish()
		}
		return nil

	case *http2.ContinuationFrame:
		if _, err := h.hdec.Write(fr.HeaderBlockFragment()); err != nil {
			return err
		}
		return nil

	case *http2.DataFrame:
		h.mu.Lock()
		h.body = append(h.body, fr.Data()...)
		h.mu.Unlock()
		if fr.StreamEnded() {
			return h.finish()
		}
		return nil

	default:
		// SETTINGS, WINDOW_UPDATE, PING, etc. carry no message content
		// for a single-stream request/response exchange; ignored.
		return nil
	}
}

// onHeaderField is the Go analogue of the original's
// on_header_callback: pseudo-headers are intercepted into the result's
// structured fields, everything else accumulates verbatim.
func (h *Handler[T]) onHeaderField(f hpack.HeaderField) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isRequest {
		if h.url == nil {
			h.url = &httpmsg.URL{}
		}
		switch f.Name {
		case ":method":
			h.method = f.Value
			return
		case ":scheme":
			h.url.Schema = f.Value
			return
		case ":authority":
			h.url.Host = f.Value
			return
		case ":path":
			target := httpmsg.ParseRequestTarget(f.Value)
			h.url.Path = target.Path
			h.url.Query = target.Query
			h.url.Fragment = target.Fragment
			return
		}
	} else if f.Name == ":status" {
		if status, err := strconv.Atoi(f.Value); err == nil {
			h.status = status
		}
		return
	}

	h.headers.Set(f.Name, f.Value)
}

func (h *Handler[T]) finish() error {
	h.mu.Lock()
	if strings.EqualFold(h.headers.Get("content-encoding"), "gzip") {
		decoded, err := gunzip(h.body)
		if err != nil {
			h.mu.Unlock()
			return fmt.Errorf("http2: gzip decode: %w", err)
		}
		h.body = decoded
	}
	h.done = true
	cb := h.onComplete
	h.mu.Unlock()

	if cb != nil {
		cb(h.buildResult())
	}
	return nil
}

func (h *Handler[T]) buildResult() T {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.isRequest {
		req := httpmsg.Request{
			VersionMajor: 2,
			Method:       h.method,
			URL:          h.url,
			Headers:      h.headers,
			Body:         h.body,
		}
		return any(req).(T)
	}
	resp := httpmsg.Response{
		VersionMajor: 2,
		Status:       h.status,
		Headers:      h.headers,
		Body:         h.body,
	}
	return any(resp).(T)
}

// Complete registers cb to run once, with the parsed result, when the
// stream ends.
func (h *Handler[T]) Complete(cb func(T)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onComplete = cb
}

// CompleteTask is the [task.Task]-returning form of [Handler.Complete].
func (h *Handler[T]) CompleteTask() *task.Task[T] {
	out := task.Pending[T](nil)
	h.Complete(func(v T) { out.Resolve(v) })
	return out
}

// Result returns the message decoded so far (complete once
// [Handler.Done] reports true).
func (h *Handler[T]) Result() T {
	return h.buildResult()
}

// Done reports whether END_STREAM has been observed.
func (h *Handler[T]) Done() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// SubmitSettings queues an empty SETTINGS frame.
func (h *Handler[T]) SubmitSettings() error {
	if err := h.fr.WriteSettings(); err != nil {
		return &Http2Error{Err: err}
	}
	return nil
}

// SubmitRequest queues stream 1's HEADERS (pseudo-headers plus req's
// headers) and, if req has a body, a single terminal DATA frame.
func (h *Handler[T]) SubmitRequest(req *httpmsg.Request) error {
	h.hbuf.Reset()
	h.henc.WriteField(hpack.HeaderField{Name: ":method", Value: req.Method})
	h.henc.WriteField(hpack.HeaderField{Name: ":scheme", Value: req.URL.Schema})
	h.henc.WriteField(hpack.HeaderField{Name: ":authority", Value: req.URL.Host})
	h.henc.WriteField(hpack.HeaderField{Name: ":path", Value: req.URL.FullPath()})
	for _, k := range sortedKeys(req.Headers) {
		h.henc.WriteField(hpack.HeaderField{Name: k, Value: req.Headers[k]})
	}

	if err := h.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: []byte(h.hbuf.String()),
		EndHeaders:    true,
		EndStream:     len(req.Body) == 0,
	}); err != nil {
		return &Http2Error{Err: err}
	}
	if len(req.Body) > 0 {
		if err := h.fr.WriteData(1, true, req.Body); err != nil {
			return &Http2Error{Err: err}
		}
	}
	return nil
}

// SubmitResponse queues stream 1's HEADERS (the :status pseudo-header
// plus resp's headers) followed by resp's body split across DATA frames
// of at most [maxDataFrameSize] bytes, advancing Handler's per-stream
// send cursor as it goes — the Go analogue of the original's
// nghttp2_data_provider read_callback, which copied from the same
// growing offset on every invocation.
func (h *Handler[T]) SubmitResponse(resp *httpmsg.Response) error {
	h.hbuf.Reset()
	h.henc.WriteField(hpack.HeaderField{Name: ":status", Value: strconv.Itoa(resp.Status)})
	for _, k := range sortedKeys(resp.Headers) {
		h.henc.WriteField(hpack.HeaderField{Name: k, Value: resp.Headers[k]})
	}

	if err := h.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: []byte(h.hbuf.String()),
		EndHeaders:    true,
		EndStream:     len(resp.Body) == 0,
	}); err != nil {
		return &Http2Error{Err: err}
	}

	h.sendCursor = 0
	for h.sendCursor < len(resp.Body) {
		end := h.sendCursor + maxDataFrameSize
		if end > len(resp.Body) {
			end = len(resp.Body)
		}
		chunk := resp.Body[h.sendCursor:end]
		h.sendCursor = end
		last := h.sendCursor >= len(resp.Body)
		if err := h.fr.WriteData(1, last, chunk); err != nil {
			return &Http2Error{Err: err}
		}
	}
	return nil
}

// SendSession flushes every frame queued by Submit* through [Handler.OnSend].
func (h *Handler[T]) SendSession() error {
	if err := h.bw.Flush(); err != nil {
		return &Http2Error{Err: err}
	}
	return nil
}

func sortedKeys(h httpmsg.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func gunzip(body []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
