// SPDX-License-Identifier: GPL-3.0-or-later

package stream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/bassosimone/loopnet/loop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l
}

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestReadStartDeliversChunks(t *testing.T) {
	l := runLoop(t)
	a, b := pipePair(t)

	s := New(l, a)
	chunks := make(chan []byte, 4)
	s.ReadStart(func(data []byte, err error) {
		if err == nil {
			cp := append([]byte(nil), data...)
			chunks <- cp
		}
	}, false)

	_, err := b.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case got := <-chunks:
		assert.Equal(t, "hello", string(got))
	case <-time.After(time.Second):
		t.Fatal("no chunk delivered")
	}
}

func TestReadStopSynthesizesEOF(t *testing.T) {
	l := runLoop(t)
	a, _ := pipePair(t)

	s := New(l, a)
	eof := make(chan struct{})
	s.ReadStart(func(data []byte, err error) {
		if err == ErrEOF {
			close(eof)
		}
	}, false)
	s.ReadStop()

	select {
	case <-eof:
	case <-time.After(time.Second):
		t.Fatal("ReadStop did not synthesize EOF")
	}
}

func TestWriteDelivers(t *testing.T) {
	l := runLoop(t)
	a, b := pipePair(t)

	s := New(l, a)
	done := make(chan error, 1)
	s.Write([]byte("ping"), false, func(err error) {
		done <- err
	})

	buf := make([]byte, 4)
	_, err := b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write callback never ran")
	}
}

func TestReadAllTask(t *testing.T) {
	l := runLoop(t)
	a, b := pipePair(t)

	s := New(l, a)
	tk := s.ReadAllTask(false)

	go func() {
		b.Write([]byte("part1"))
		b.Write([]byte("part2"))
		b.Close()
	}()

	data, err := tk.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "part1part2", string(data))
}

func TestReadLinesStripsCRLF(t *testing.T) {
	l := runLoop(t)
	a, b := pipePair(t)

	s := New(l, a)
	var lines []string
	tk := s.ReadLinesUntilEOF(func(line string) {
		lines = append(lines, line)
	}, false)

	go func() {
		b.Write([]byte("line1\r\nline2\n"))
		b.Close()
	}()

	_, err := tk.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"line1", "line2"}, lines)
}

func TestReadLinesDiscardsTrailingFragment(t *testing.T) {
	l := runLoop(t)
	a, b := pipePair(t)

	s := New(l, a)
	var lines []string
	tk := s.ReadLinesUntilEOF(func(line string) {
		lines = append(lines, line)
	}, false)

	go func() {
		b.Write([]byte("full\npartial-no-newline"))
		b.Close()
	}()

	_, err := tk.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"full"}, lines)
}

func TestReadLinesAsViews(t *testing.T) {
	l := runLoop(t)
	a, b := pipePair(t)

	s := New(l, a)
	var lines []string
	tk := s.ReadLinesAsViewsUntilEOF(func(line []byte) {
		lines = append(lines, string(line))
	}, false)

	go func() {
		b.Write([]byte("alpha\r\nbeta\r\n"))
		b.Close()
	}()

	_, err := tk.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, lines)
}

func TestShutdownWithoutHalfCloseSupport(t *testing.T) {
	l := runLoop(t)
	a, _ := pipePair(t)

	s := New(l, a)
	err := s.Shutdown()
	require.Error(t, err)
}

func TestIsReadableIsWritable(t *testing.T) {
	l := runLoop(t)
	a, _ := pipePair(t)

	s := New(l, a)
	assert.False(t, s.IsReadable())
	assert.True(t, s.IsWritable())

	s.ReadStart(func([]byte, error) {}, false)
	assert.True(t, s.IsReadable())
}

func TestCloseRunsCallback(t *testing.T) {
	l := runLoop(t)
	a, _ := pipePair(t)

	s := New(l, a)
	done := make(chan struct{})
	s.Close(func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close callback never ran")
	}
	assert.False(t, s.IsWritable())
}
