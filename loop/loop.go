//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-uv/include/uvpp (handle.hpp, timer.hpp, check.hpp, async.hpp)
//

// Package loop implements a single-goroutine cooperative event loop, the
// Go rendering of the original's libuv-backed `uv::loop`.
//
// Everything that touches loop-owned state — handle close callbacks,
// timer fires, check hooks, async wakes, work-queue completions — runs
// on the loop's own goroutine, reached only through [Loop.Post]. Code
// running on other goroutines (blocking socket reads, DNS lookups, file
// I/O) must funnel its results back through Post before touching
// anything the loop owns, mirroring the original's strict separation
// between libuv's single-threaded reactor and its worker thread pool.
package loop

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Loop is a single-goroutine cooperative event loop.
//
// The zero value is not usable; construct with [New].
type Loop struct {
	jobs    chan func()
	timers  timerHeap
	timerMu sync.Mutex
	checks  []*Check
	checkMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a [*Loop]. Call [Loop.Run] to start draining it.
func New() *Loop {
	return &Loop{
		jobs:   make(chan func(), 256),
		closed: make(chan struct{}),
	}
}

// Post schedules fn to run on the loop's goroutine. Safe to call from
// any goroutine, including the loop's own. This is the loop's async-wake
// primitive: every cross-goroutine interaction with loop-owned state
// goes through here.
//
// Post blocks if the internal job channel is full; it never silently
// drops a job. Calling Post after [Loop.Stop] has no effect — the job is
// discarded.
func (l *Loop) Post(fn func()) {
	select {
	case l.jobs <- fn:
	case <-l.closed:
	}
}

// Run drains the job queue, fires due timers, and runs registered
// [Check] hooks once per iteration, until ctx is done or [Loop.Stop] is
// called.
//
// Run is intended to be called once, from the goroutine that owns this
// Loop, and blocks until the loop stops.
func (l *Loop) Run(ctx context.Context) {
	for {
		timeout := l.nextTimerDelay()

		var timer *time.Timer
		var timerC <-chan time.Time
		if timeout >= 0 {
			timer = time.NewTimer(timeout)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-l.closed:
			stopTimer(timer)
			return
		case job := <-l.jobs:
			stopTimer(timer)
			job()
		case <-timerC:
			l.fireDueTimers()
		}

		l.runChecks()
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// Stop causes [Loop.Run] to return. Safe to call from any goroutine, any
// number of times.
func (l *Loop) Stop() {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
}

// registerCheck adds c to the set of once-per-iteration hooks.
func (l *Loop) registerCheck(c *Check) {
	l.checkMu.Lock()
	defer l.checkMu.Unlock()
	l.checks = append(l.checks, c)
}

// unregisterCheck removes c from the set of once-per-iteration hooks.
func (l *Loop) unregisterCheck(c *Check) {
	l.checkMu.Lock()
	defer l.checkMu.Unlock()
	for i, existing := range l.checks {
		if existing == c {
			l.checks = append(l.checks[:i], l.checks[i+1:]...)
			return
		}
	}
}

func (l *Loop) runChecks() {
	l.checkMu.Lock()
	checks := make([]*Check, len(l.checks))
	copy(checks, l.checks)
	l.checkMu.Unlock()

	for _, c := range checks {
		c.fire()
	}
}

func (l *Loop) nextTimerDelay() time.Duration {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	if len(l.timers) == 0 {
		return -1
	}
	d := time.Until(l.timers[0].deadline)
	if d < 0 {
		return 0
	}
	return d
}

func (l *Loop) fireDueTimers() {
	now := time.Now()
	for {
		l.timerMu.Lock()
		if len(l.timers) == 0 || l.timers[0].deadline.After(now) {
			l.timerMu.Unlock()
			return
		}
		entry := heap.Pop(&l.timers).(*timerEntry)
		l.timerMu.Unlock()

		if entry.timer.fire(entry) {
			l.timerMu.Lock()
			heap.Push(&l.timers, entry)
			l.timerMu.Unlock()
		}
	}
}

func (l *Loop) scheduleTimer(entry *timerEntry) {
	l.timerMu.Lock()
	heap.Push(&l.timers, entry)
	l.timerMu.Unlock()
}

func (l *Loop) unscheduleTimer(entry *timerEntry) {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	for i, e := range l.timers {
		if e == entry {
			heap.Remove(&l.timers, i)
			return
		}
	}
}
