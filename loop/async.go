//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-uv/include/uvpp/async.hpp
//

package loop

import "github.com/bassosimone/loopnet/task"

// Async is a [Handle] used to wake the loop from another goroutine and
// run a callback on the loop's own goroutine. The Go analogue of
// `uv::async`; in this implementation it is a thin, named wrapper
// around [Loop.Post] kept for parity with the original's handle-based
// API and for callers that want an explicit, closeable handle rather
// than a bare Post call.
//
// The zero value is not usable; construct with [NewAsync].
type Async struct {
	Handle
}

// NewAsync creates a [*Async] bound to l.
func NewAsync(l *Loop) *Async {
	return &Async{Handle: newHandle(l)}
}

// Send posts cb to run on the owning loop. Safe to call from any
// goroutine, any number of times, including after the Async has been
// closed (the callback is simply dropped once the loop itself stops).
func (a *Async) Send(cb func()) {
	a.Loop().Post(cb)
}

// Close releases the handle. cb, if non-nil, runs after teardown
// completes.
func (a *Async) Close(cb func()) {
	a.close(func() {}, cb)
}

// Queue posts cb to run on l exactly once, with no handle for the
// caller to manage or close. The Go analogue of the original's static
// `uv::async::queue(cb)`.
func Queue(l *Loop, cb func()) {
	l.Post(cb)
}

// QueueTask posts a no-op job to l and returns a [*task.Task][task.Unit]
// that settles once that job has run, i.e. once every job scheduled
// before this call has drained. The Go analogue of the original's
// `uv::async::queue()` task overload.
func QueueTask(l *Loop) *task.Task[task.Unit] {
	out := task.Pending[task.Unit](l.Post)
	Queue(l, func() {
		out.Resolve(task.Unit{})
	})
	return out
}
