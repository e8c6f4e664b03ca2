// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolve(t *testing.T) {
	tk := New(func(resolve func(int), reject func(error)) {
		resolve(42)
	})

	v, err := tk.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, tk.Done())
}

func TestNewReject(t *testing.T) {
	wantErr := errors.New("boom")
	tk := New(func(resolve func(int), reject func(error)) {
		reject(wantErr)
	})

	_, err := tk.Await(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestNewPanicBecomesReject(t *testing.T) {
	tk := New(func(resolve func(int), reject func(error)) {
		panic("kaboom")
	})

	_, err := tk.Await(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestResolveRejectIdempotent(t *testing.T) {
	tk := New(func(resolve func(int), reject func(error)) {
		resolve(1)
		resolve(2)
		reject(errors.New("ignored"))
	})

	v, err := tk.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestAwaitContextCancellation(t *testing.T) {
	tk := Pending[int](nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tk.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolvedRejected(t *testing.T) {
	ok := Resolved(7)
	v, err := ok.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	wantErr := errors.New("nope")
	bad := Rejected[int](wantErr)
	_, err = bad.Await(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestStart(t *testing.T) {
	var called atomic.Bool
	var gotErr error
	var wg sync.WaitGroup
	wg.Add(1)

	tk := New(func(resolve func(int), reject func(error)) {
		resolve(9)
	})
	tk.Start(func(err error) {
		called.Store(true)
		gotErr = err
		wg.Done()
	})

	wg.Wait()
	assert.True(t, called.Load())
	assert.NoError(t, gotErr)
}

func TestThenSuccess(t *testing.T) {
	tk := Resolved(10)

	var gotValue int
	out := tk.Then(func(v int) error {
		gotValue = v
		return nil
	}, func(err error) {
		t.Fatalf("fail should not run: %v", err)
	})

	_, err := out.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, gotValue)
}

func TestThenFailurePropagates(t *testing.T) {
	wantErr := errors.New("rejected upstream")
	tk := Rejected[int](wantErr)

	var gotErr error
	out := tk.Then(func(v int) error {
		t.Fatal("ok should not run")
		return nil
	}, func(err error) {
		gotErr = err
	})

	_, err := out.Await(context.Background())
	assert.ErrorIs(t, err, wantErr)
	assert.ErrorIs(t, gotErr, wantErr)
}

func TestFinally(t *testing.T) {
	tk := Resolved(Unit{})

	var gotErr error
	done := tk.Finally(func(err error) {
		gotErr = err
	})

	_, err := done.Await(context.Background())
	require.NoError(t, err)
	assert.NoError(t, gotErr)
}

func TestRaceFirstSettledWins(t *testing.T) {
	slow := New(func(resolve func(int), reject func(error)) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			resolve(1)
		}()
	})
	fast := Resolved(2)

	winner := Race(slow, fast)
	v, err := winner.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestRaceNoTasksNeverSettles(t *testing.T) {
	winner := Race[int]()
	assert.False(t, winner.Done())
}

func TestWithPosterRoutesResolve(t *testing.T) {
	var posted atomic.Bool
	poster := func(job func()) {
		posted.Store(true)
		job()
	}

	tk := Pending[int](poster)
	tk.Resolve(5)

	v, err := tk.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.True(t, posted.Load())
}
