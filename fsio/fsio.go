//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-uv/include/uvpp/fs.hpp
//

// Package fsio implements asynchronous file I/O on top of [loop.Work],
// the Go analogue of the original's libuv `uv_fs_*` wrappers.
package fsio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bassosimone/loopnet/loop"
	"github.com/bassosimone/loopnet/task"
)

// defaultBufSize is the scratch buffer size [Read] allocates when called
// with a nil buffer, matching the original's 65536-byte default.
const defaultBufSize = 65536

// Open opens path with flag and perm, the Go analogue of `uv::fs::open`.
func Open(l *loop.Loop, path string, flag int, perm os.FileMode) *task.Task[*os.File] {
	return loop.Work(l, func() (*os.File, error) {
		return os.OpenFile(path, flag, perm)
	})
}

// Read reads into buf at offset, returning the slice actually filled
// (re-sliced from buf, length equal to the bytes read; zero length at
// EOF). If buf is nil, a [defaultBufSize]-byte scratch buffer is
// allocated, matching §4.D.
func Read(l *loop.Loop, f *os.File, buf []byte, offset int64) *task.Task[[]byte] {
	return loop.Work(l, func() ([]byte, error) {
		if buf == nil {
			buf = make([]byte, defaultBufSize)
		}
		n, err := f.ReadAt(buf, offset)
		if n > 0 {
			return buf[:n], nil
		}
		if errors.Is(err, io.EOF) {
			return buf[:0], nil
		}
		return buf[:0], err
	})
}

// Close closes f, the Go analogue of `uv::fs::close`.
func Close(l *loop.Loop, f *os.File) *task.Task[task.Unit] {
	return loop.Work(l, func() (task.Unit, error) {
		return task.Unit{}, f.Close()
	})
}

// ReadAll reads the entirety of f starting at offset by looping [Read]
// with a growing offset until a zero-length chunk is returned.
func ReadAll(l *loop.Loop, f *os.File, offset int64) *task.Task[[]byte] {
	out := task.Pending[[]byte](l.Post)

	go func() {
		ctx := context.Background()
		var result []byte
		pos := offset
		for {
			chunk, err := Read(l, f, nil, pos).Await(ctx)
			if err != nil {
				out.Reject(err)
				return
			}
			if len(chunk) == 0 {
				break
			}
			result = append(result, chunk...)
			pos += int64(len(chunk))
		}
		out.Resolve(result)
	}()

	return out
}

// ReadAllPath opens path, reads it in its entirety via [ReadAll], and
// guarantees [Close] runs on every exit path (success, read error, or a
// recovered panic), matching the original's `readAll(path)` RAII
// `finally` guard.
func ReadAllPath(l *loop.Loop, path string) *task.Task[[]byte] {
	out := task.Pending[[]byte](l.Post)

	go func() {
		ctx := context.Background()

		defer func() {
			if r := recover(); r != nil {
				out.Reject(fmt.Errorf("fsio: panic: %v", r))
			}
		}()

		f, err := Open(l, path, os.O_RDONLY, 0o400).Await(ctx)
		if err != nil {
			out.Reject(err)
			return
		}
		defer func() { _, _ = Close(l, f).Await(ctx) }()

		data, err := ReadAll(l, f, 0).Await(ctx)
		if err != nil {
			out.Reject(err)
			return
		}
		out.Resolve(data)
	}()

	return out
}
