//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-uv/include/uvpp/stream.hpp (readLines, readLinesAsViews, readAll)
//

package stream

import (
	"bytes"

	"github.com/bassosimone/loopnet/task"
)

// ReadAll accumulates every chunk delivered until EOF (or a read error)
// and invokes cb once with the full result.
func (s *Stream) ReadAll(cb func([]byte, error), encrypted bool) {
	var buf bytes.Buffer
	s.ReadStart(func(chunk []byte, err error) {
		if err != nil {
			if err == ErrEOF {
				cb(buf.Bytes(), nil)
			} else {
				cb(nil, err)
			}
			return
		}
		buf.Write(chunk)
	}, encrypted)
}

// ReadAllTask is the [task.Task]-returning form of [Stream.ReadAll].
func (s *Stream) ReadAllTask(encrypted bool) *task.Task[[]byte] {
	out := task.Pending[[]byte](s.Loop().Post)
	s.ReadAll(func(data []byte, err error) {
		if err != nil {
			out.Reject(err)
			return
		}
		out.Resolve(data)
	}, encrypted)
	return out
}

// ReadLines delivers complete lines (copied, CRLF/LF-stripped) as they
// accumulate across chunks. Per §4.E/§9's resolution of the original's
// ambiguity, an unterminated trailing fragment at EOF is discarded, not
// delivered as a final partial line.
func (s *Stream) ReadLines(cb func(string, error), encrypted bool) {
	var pending []byte
	s.ReadStart(func(chunk []byte, err error) {
		if err != nil {
			cb("", err)
			return
		}
		pending = append(pending, chunk...)
		for {
			idx := bytes.IndexByte(pending, '\n')
			if idx < 0 {
				break
			}
			line := pending[:idx]
			line = bytes.TrimSuffix(line, []byte("\r"))
			cb(string(line), nil)
			pending = pending[idx+1:]
		}
	}, encrypted)
}

// ReadLinesUntilEOF is the [task.Task]-returning form of
// [Stream.ReadLines]: cb runs for each line; the returned task settles
// successfully on EOF, or with the first read error.
func (s *Stream) ReadLinesUntilEOF(cb func(string), encrypted bool) *task.Task[task.Unit] {
	out := task.Pending[task.Unit](s.Loop().Post)
	s.ReadLines(func(line string, err error) {
		if err != nil {
			if err == ErrEOF {
				out.Resolve(task.Unit{})
			} else {
				out.Reject(err)
			}
			return
		}
		cb(line)
	}, encrypted)
	return out
}

// ReadLinesAsViews is like [Stream.ReadLines] but delivers each line as a
// borrowed view into the chunk that produced it, valid only for the
// duration of cb's call — no copy, matching the original's
// `readLinesAsViews`. Because views cannot span a chunk boundary, a line
// split across two reads is not reassembled: the part in the first chunk
// is discarded and the part in the second is delivered as a line; callers
// needing guaranteed whole lines should use [Stream.ReadLines] instead.
func (s *Stream) ReadLinesAsViews(cb func([]byte, error), encrypted bool) {
	s.ReadStart(func(chunk []byte, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		offset := 0
		for i := 0; i < len(chunk); i++ {
			if chunk[i] != '\n' {
				continue
			}
			end := i
			if end > offset && chunk[end-1] == '\r' {
				end--
			}
			cb(chunk[offset:end], nil)
			offset = i + 1
		}
		// A trailing unterminated fragment (offset < len(chunk)) is
		// discarded, matching ReadLines and §4.E/§9.
	}, encrypted)
}

// ReadLinesAsViewsUntilEOF is the [task.Task]-returning form of
// [Stream.ReadLinesAsViews].
func (s *Stream) ReadLinesAsViewsUntilEOF(cb func([]byte), encrypted bool) *task.Task[task.Unit] {
	out := task.Pending[task.Unit](s.Loop().Post)
	s.ReadLinesAsViews(func(line []byte, err error) {
		if err != nil {
			if err == ErrEOF {
				out.Resolve(task.Unit{})
			} else {
				out.Reject(err)
			}
			return
		}
		cb(line)
	}, encrypted)
	return out
}

// ReadUntilEOF is the [task.Task]-returning form that delivers raw
// chunks to cb, settling successfully on EOF.
func (s *Stream) ReadUntilEOF(cb func([]byte), encrypted bool) *task.Task[task.Unit] {
	out := task.Pending[task.Unit](s.Loop().Post)
	s.ReadStart(func(chunk []byte, err error) {
		if err != nil {
			if err == ErrEOF {
				out.Resolve(task.Unit{})
			} else {
				out.Reject(err)
			}
			return
		}
		cb(chunk)
	}, encrypted)
	return out
}
