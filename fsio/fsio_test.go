// SPDX-License-Identifier: GPL-3.0-or-later

package fsio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

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

func TestOpenReadClose(t *testing.T) {
	l := runLoop(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	f, err := Open(l, path, os.O_RDONLY, 0).Await(context.Background())
	require.NoError(t, err)

	chunk, err := Read(l, f, nil, 0).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(chunk))

	_, err = Close(l, f).Await(context.Background())
	require.NoError(t, err)
}

func TestReadAll(t *testing.T) {
	l := runLoop(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	content := make([]byte, defaultBufSize*2+123)
	for i := range content {
		content[i] = byte('a' + i%26)
	}
	require.NoError(t, os.WriteFile(path, content, 0o600))

	f, err := Open(l, path, os.O_RDONLY, 0).Await(context.Background())
	require.NoError(t, err)
	defer Close(l, f)

	data, err := ReadAll(l, f, 0).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestReadAllPathClosesOnSuccess(t *testing.T) {
	l := runLoop(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "path.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

	data, err := ReadAllPath(l, path).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestReadAllPathMissingFile(t *testing.T) {
	l := runLoop(t)

	_, err := ReadAllPath(l, "/nonexistent/path/does-not-exist").Await(context.Background())
	require.Error(t, err)
}
