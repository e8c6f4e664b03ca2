//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-http/include/http/http1.hpp
//

// Package http1 implements an incremental HTTP/1.x message parser, the
// Go rendering of the original's http_parser-backed `http::parser<T>`.
//
// Go has no equivalent of http_parser's single C callback-table state
// machine, so [Parser] is a hand-rolled byte-wise tokenizer instead:
// [Parser.Execute] buffers whatever arrives and advances through
// start-line, header, and body states as complete tokens become
// available. Feeding the same message split across any chunk boundaries
// yields the same [Parser.Result].
package http1

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bassosimone/loopnet/httpmsg"
	"github.com/bassosimone/loopnet/task"
)

// ErrUnexpectedUpgrade is returned by [Parser.Execute] when a response
// signals a protocol upgrade (e.g. `Connection: Upgrade`); handling the
// upgraded protocol is out of scope.
var ErrUnexpectedUpgrade = errors.New("http1: unexpected upgrade response")

type parseState int

const (
	stateStartLine parseState = iota
	stateHeaders
	stateBody
	stateChunkSize
	stateChunkData
	stateChunkCRLF
	stateChunkTrailer
	stateDone
)

var crlf = []byte("\r\n")

// Parser incrementally parses bytes into either a [httpmsg.Request] or a
// [httpmsg.Response], selected by T.
//
// The zero value is not usable; construct with [NewRequestParser] or
// [NewResponseParser].
type Parser[T httpmsg.Request | httpmsg.Response] struct {
	isRequest bool

	state   parseState
	pending []byte

	versionMajor, versionMinor int
	method                     string
	url                        *httpmsg.URL
	status                     int
	headers                    httpmsg.Header
	body                       []byte
	upgrade                    bool

	contentLength     int64
	haveContentLength bool
	chunked           bool
	readUntilClose    bool
	chunkRemaining    int64

	headersComplete bool
	done            bool

	onComplete func(T)
}

// NewRequestParser returns a [*Parser] for HTTP/1.x requests, with
// method GET, schema http, port 80, HTTP/1.1, and the URL parsed in
// request-target mode, matching §4.H's request-mode defaults.
func NewRequestParser() *Parser[httpmsg.Request] {
	return &Parser[httpmsg.Request]{
		isRequest:    true,
		versionMajor: 1, versionMinor: 1,
		method:  "GET",
		url:     &httpmsg.URL{Schema: "http", Port: 80, Path: "/"},
		headers: httpmsg.Header{},
	}
}

// NewResponseParser returns a [*Parser] for HTTP/1.x responses, with
// status sentinel -1 until headers complete.
func NewResponseParser() *Parser[httpmsg.Response] {
	return &Parser[httpmsg.Response]{
		isRequest:    false,
		versionMajor: 1, versionMinor: 1,
		status:  -1,
		headers: httpmsg.Header{},
	}
}

// Execute feeds chunk into the parser, advancing as far as the
// currently buffered bytes allow. Calling Execute again with more bytes
// continues from where the previous call left off.
func (p *Parser[T]) Execute(chunk []byte) error {
	if p.done {
		return nil
	}
	p.pending = append(p.pending, chunk...)

	for {
		switch p.state {
		case stateStartLine:
			line, ok := p.takeLine()
			if !ok {
				return nil
			}
			if err := p.parseStartLine(line); err != nil {
				return err
			}
			p.state = stateHeaders

		case stateHeaders:
			line, ok := p.takeLine()
			if !ok {
				return nil
			}
			if len(line) == 0 {
				if err := p.onHeadersComplete(); err != nil {
					return err
				}
				continue
			}
			if err := p.parseHeaderLine(line); err != nil {
				return err
			}

		case stateBody:
			done, err := p.consumeFixedOrCloseBody()
			if err != nil {
				return err
			}
			if !done {
				return nil
			}
			if err := p.finish(); err != nil {
				return err
			}
			return nil

		case stateChunkSize, stateChunkData, stateChunkCRLF, stateChunkTrailer:
			done, err := p.consumeChunkedBody()
			if err != nil {
				return err
			}
			if !done {
				return nil
			}
			if err := p.finish(); err != nil {
				return err
			}
			return nil

		case stateDone:
			return nil
		}
	}
}

// Close signals that no more bytes will arrive, for bodies framed by
// connection close (neither Content-Length nor chunked). No-op once
// [Parser.Done].
func (p *Parser[T]) Close() error {
	if p.done {
		return nil
	}
	if p.state == stateBody && p.readUntilClose {
		return p.finish()
	}
	return io.ErrUnexpectedEOF
}

func (p *Parser[T]) takeLine() ([]byte, bool) {
	idx := bytes.Index(p.pending, crlf)
	if idx < 0 {
		return nil, false
	}
	line := p.pending[:idx]
	p.pending = p.pending[idx+2:]
	return line, true
}

func (p *Parser[T]) parseStartLine(line []byte) error {
	fields := strings.SplitN(string(line), " ", 3)
	if len(fields) != 3 {
		return fmt.Errorf("http1: malformed start line %q", line)
	}

	if p.isRequest {
		p.method = fields[0]
		target := httpmsg.ParseRequestTarget(fields[1])
		p.url.Path, p.url.Query, p.url.Fragment = target.Path, target.Query, target.Fragment
		return p.parseVersion(fields[2])
	}

	status, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("http1: malformed status code %q: %w", fields[1], err)
	}
	p.status = status
	return p.parseVersion(fields[0])
}

func (p *Parser[T]) parseVersion(s string) error {
	const prefix = "HTTP/"
	if !strings.HasPrefix(s, prefix) {
		return fmt.Errorf("http1: malformed version %q", s)
	}
	major, minor, ok := strings.Cut(strings.TrimPrefix(s, prefix), ".")
	if !ok {
		return fmt.Errorf("http1: malformed version %q", s)
	}
	maj, err := strconv.Atoi(major)
	if err != nil {
		return fmt.Errorf("http1: malformed version %q", s)
	}
	min, err := strconv.Atoi(minor)
	if err != nil {
		return fmt.Errorf("http1: malformed version %q", s)
	}
	p.versionMajor, p.versionMinor = maj, min
	return nil
}

func (p *Parser[T]) parseHeaderLine(line []byte) error {
	key, value, ok := strings.Cut(string(line), ":")
	if !ok {
		return fmt.Errorf("http1: malformed header line %q", line)
	}
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	p.headers.Set(key, value)
	return nil
}

func (p *Parser[T]) onHeadersComplete() error {
	p.headersComplete = true

	if v := p.headers.Get("content-length"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("http1: malformed content-length %q: %w", v, err)
		}
		p.contentLength = n
		p.haveContentLength = true
	}

	if strings.EqualFold(p.headers.Get("transfer-encoding"), "chunked") {
		p.chunked = true
	}

	if !p.isRequest && strings.EqualFold(p.headers.Get("connection"), "upgrade") {
		p.upgrade = true
		return ErrUnexpectedUpgrade
	}

	switch {
	case p.chunked:
		p.state = stateChunkSize
	case p.haveContentLength:
		p.state = stateBody
	case !p.isRequest && (p.status/100 == 1 || p.status == 204 || p.status == 304):
		// These statuses never carry a body: complete with an empty one.
		p.state = stateBody
	default:
		p.readUntilClose = true
		p.state = stateBody
	}
	return nil
}

func (p *Parser[T]) consumeFixedOrCloseBody() (bool, error) {
	if p.readUntilClose {
		p.body = append(p.body, p.pending...)
		p.pending = nil
		return false, nil
	}

	need := p.contentLength - int64(len(p.body))
	if need <= 0 {
		return true, nil
	}
	take := int64(len(p.pending))
	if take > need {
		take = need
	}
	p.body = append(p.body, p.pending[:take]...)
	p.pending = p.pending[take:]
	return int64(len(p.body)) >= p.contentLength, nil
}

func (p *Parser[T]) consumeChunkedBody() (bool, error) {
	for {
		switch p.state {
		case stateChunkSize:
			line, ok := p.takeLine()
			if !ok {
				return false, nil
			}
			sizeField, _, _ := strings.Cut(string(line), ";")
			size, err := strconv.ParseInt(strings.TrimSpace(sizeField), 16, 64)
			if err != nil {
				return false, fmt.Errorf("http1: malformed chunk size %q: %w", line, err)
			}
			p.chunkRemaining = size
			if size == 0 {
				p.state = stateChunkTrailer
				continue
			}
			p.state = stateChunkData

		case stateChunkData:
			take := int64(len(p.pending))
			if take > p.chunkRemaining {
				take = p.chunkRemaining
			}
			p.body = append(p.body, p.pending[:take]...)
			p.pending = p.pending[take:]
			p.chunkRemaining -= take
			if p.chunkRemaining > 0 {
				return false, nil
			}
			p.state = stateChunkCRLF

		case stateChunkCRLF:
			if _, ok := p.takeLine(); !ok {
				return false, nil
			}
			p.state = stateChunkSize

		case stateChunkTrailer:
			line, ok := p.takeLine()
			if !ok {
				return false, nil
			}
			if len(line) == 0 {
				return true, nil
			}
			// Trailer headers are ignored, matching the distilled spec's
			// scope (only Content-Length/chunked/read-until-close framing
			// is implemented; trailers carry no framing information).
		}
	}
}

func (p *Parser[T]) finish() error {
	if strings.EqualFold(p.headers.Get("content-encoding"), "gzip") {
		decoded, err := gunzip(p.body)
		if err != nil {
			return fmt.Errorf("http1: gzip decode: %w", err)
		}
		p.body = decoded
	}

	p.state = stateDone
	p.done = true

	if p.onComplete != nil {
		p.onComplete(p.buildResult())
	}
	return nil
}

func gunzip(body []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (p *Parser[T]) buildResult() T {
	if p.isRequest {
		req := httpmsg.Request{
			VersionMajor: p.versionMajor,
			VersionMinor: p.versionMinor,
			Method:       p.method,
			URL:          p.url,
			Headers:      p.headers,
			Body:         p.body,
		}
		return any(req).(T)
	}
	resp := httpmsg.Response{
		VersionMajor: p.versionMajor,
		VersionMinor: p.versionMinor,
		Status:       p.status,
		Headers:      p.headers,
		Body:         p.body,
		Upgrade:      p.upgrade,
	}
	return any(resp).(T)
}

// Complete registers cb to run once, with the parsed result, when the
// message completes.
func (p *Parser[T]) Complete(cb func(T)) {
	p.onComplete = cb
}

// CompleteTask is the [task.Task]-returning form of [Parser.Complete].
func (p *Parser[T]) CompleteTask() *task.Task[T] {
	out := task.Pending[T](nil)
	p.Complete(func(v T) { out.Resolve(v) })
	return out
}

// Result returns the message parsed so far (complete once [Parser.Done]
// reports true).
func (p *Parser[T]) Result() T {
	return p.buildResult()
}

// Done reports whether the message is fully parsed. Backed by an
// explicit flag set at message-complete rather than the response-mode
// status sentinel, so a response whose status line legitimately reused
// -1 (impossible on the wire, but not relied upon here) would not be
// misread as complete.
func (p *Parser[T]) Done() bool {
	return p.done
}
