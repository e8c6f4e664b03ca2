//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-uv/include/uvpp/timer.hpp
//

package loop

import (
	"time"

	"github.com/bassosimone/loopnet/task"
)

// Timer is a [Handle] that invokes a callback after a delay, optionally
// repeating. The Go analogue of `uv::timer`.
//
// The zero value is not usable; construct with [NewTimer].
type Timer struct {
	Handle

	cb     func()
	repeat time.Duration
	entry  *timerEntry
}

// timerEntry is what actually lives in the loop's min-heap; kept
// separate from Timer so Stop/Again can swap it out cleanly.
type timerEntry struct {
	timer    *Timer
	deadline time.Time
}

// fire invokes the timer's callback and, for repeating timers, reports
// whether the entry should be re-scheduled (with an updated deadline).
func (e *timerEntry) fire(self *timerEntry) bool {
	t := e.timer
	if !t.IsActive() {
		return false
	}
	if t.cb != nil {
		t.cb()
	}
	if t.repeat <= 0 {
		return false
	}
	self.deadline = time.Now().Add(t.repeat)
	return true
}

// NewTimer creates a [*Timer] bound to l.
func NewTimer(l *Loop) *Timer {
	t := &Timer{Handle: newHandle(l)}
	return t
}

// Start arranges for cb to fire once after timeout, and then every
// repeat thereafter (repeat == 0 means "once only"). Starting an
// already-started timer replaces its callback and reschedules it.
func (t *Timer) Start(cb func(), timeout, repeat time.Duration) {
	t.Stop()
	t.cb = cb
	t.repeat = repeat
	entry := &timerEntry{timer: t, deadline: time.Now().Add(timeout)}
	t.entry = entry
	t.Loop().scheduleTimer(entry)
}

// Stop cancels a pending fire, if any. Safe to call on a timer that is
// not running.
func (t *Timer) Stop() {
	if t.entry == nil {
		return
	}
	t.Loop().unscheduleTimer(t.entry)
	t.entry = nil
}

// Again re-arms the timer using its current repeat interval (or, if the
// timer has no repeat interval, its original one-shot timeout is not
// recoverable — Again requires a non-zero repeat).
func (t *Timer) Again() {
	if t.repeat <= 0 || t.cb == nil {
		return
	}
	t.Start(t.cb, t.repeat, t.repeat)
}

// SetRepeat changes the repeat interval used by future fires and by
// [Timer.Again]. It does not reschedule a currently pending fire.
func (t *Timer) SetRepeat(d time.Duration) {
	t.repeat = d
}

// Repeat returns the current repeat interval (zero for a one-shot
// timer).
func (t *Timer) Repeat() time.Duration {
	return t.repeat
}

// Close stops the timer and releases it. cb, if non-nil, runs after
// teardown completes.
func (t *Timer) Close(cb func()) {
	t.close(t.Stop, cb)
}

// Timeout returns a [*task.Task][task.Unit] that settles successfully
// once d has elapsed, releasing its internal timer on fire. This is the
// Go rendering of the original's free function `uv::timeout(duration)`.
func Timeout(l *Loop, d time.Duration) *task.Task[task.Unit] {
	out := task.Pending[task.Unit](l.Post)

	t := NewTimer(l)
	t.Start(func() {
		t.Close(nil)
		out.Resolve(task.Unit{})
	}, d, 0)

	return out
}
