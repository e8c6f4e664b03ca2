// SPDX-License-Identifier: GPL-3.0-or-later

package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runLoop(t *testing.T, l *Loop) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestPostRunsOnLoopGoroutine(t *testing.T) {
	l := New()
	runLoop(t, l)

	done := make(chan struct{})
	l.Post(func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("posted job never ran")
	}
}

func TestStopEndsRun(t *testing.T) {
	l := New()
	done := make(chan struct{})
	go func() {
		l.Run(context.Background())
		close(done)
	}()

	l.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestTimerFires(t *testing.T) {
	l := New()
	runLoop(t, l)

	fired := make(chan struct{})
	tm := NewTimer(l)
	tm.Start(func() {
		close(fired)
	}, 10*time.Millisecond, 0)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerRepeat(t *testing.T) {
	l := New()
	runLoop(t, l)

	var count atomic.Int32
	tm := NewTimer(l)
	tm.Start(func() {
		count.Add(1)
	}, 5*time.Millisecond, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	tm.Stop()

	assert.GreaterOrEqual(t, count.Load(), int32(3))
}

func TestTimerStopPreventsFire(t *testing.T) {
	l := New()
	runLoop(t, l)

	var fired atomic.Bool
	tm := NewTimer(l)
	tm.Start(func() {
		fired.Store(true)
	}, 20*time.Millisecond, 0)
	tm.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestCheckFiresOncePerIteration(t *testing.T) {
	l := New()
	runLoop(t, l)

	var count atomic.Int32
	c := NewCheck(l)
	c.Start(func() {
		count.Add(1)
	})

	for i := 0; i < 5; i++ {
		done := make(chan struct{})
		l.Post(func() { close(done) })
		<-done
	}

	assert.GreaterOrEqual(t, count.Load(), int32(5))
}

func TestCheckStop(t *testing.T) {
	l := New()
	runLoop(t, l)

	var count atomic.Int32
	c := NewCheck(l)
	c.Start(func() {
		count.Add(1)
	})
	c.Stop()

	done := make(chan struct{})
	l.Post(func() { close(done) })
	<-done

	assert.Equal(t, int32(0), count.Load())
}

func TestAsyncSend(t *testing.T) {
	l := New()
	runLoop(t, l)

	a := NewAsync(l)
	done := make(chan struct{})
	a.Send(func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async send never ran")
	}
}

func TestQueueTask(t *testing.T) {
	l := New()
	runLoop(t, l)

	tk := QueueTask(l)
	_, err := tk.Await(context.Background())
	require.NoError(t, err)
}

func TestTimeout(t *testing.T) {
	l := New()
	runLoop(t, l)

	start := time.Now()
	tk := Timeout(l, 20*time.Millisecond)
	_, err := tk.Await(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestWorkResolvesOnLoop(t *testing.T) {
	l := New()
	runLoop(t, l)

	tk := Work(l, func() (int, error) {
		return 99, nil
	})

	v, err := tk.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 99, v)
}

func TestWorkPanicBecomesError(t *testing.T) {
	l := New()
	runLoop(t, l)

	tk := Work(l, func() (int, error) {
		panic("work exploded")
	})

	_, err := tk.Await(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "work exploded")
}
