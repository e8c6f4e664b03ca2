//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-task/include/task.hpp
//

// Package task implements [Task], a lazily-resolved, single-shot future.
//
// A [Task][T] is the Go rendering of the original's C++20-coroutine
// `task<T>`: something must "resolve" or "reject" it exactly once, and
// callers "await" the result. Go has no stackful coroutines, so there is
// no suspend/resume pair — [Task.Await] simply blocks on a channel. What
// survives from the original is the resolve/reject idempotence, the
// deferred-delete discipline of `start(queue_delete)` (here, [Task.Start]),
// and "first settled wins" racing.
package task

import (
	"context"
	"fmt"
	"sync"
)

// Unit is the Go analogue of C++'s `task<void>`: a task producing no
// value. It is defined here (rather than imported from loopnet) so that
// this package has no dependency on its parent.
type Unit struct{}

// Poster is the loop-affinity hook: when non-nil, [Task.Resolve],
// [Task.Reject], and [Task.Start]'s completion callback are routed
// through Post instead of running inline, so that a continuation always
// observably executes as a posted job on the owning event loop rather
// than inside whatever goroutine happened to call Resolve/Reject.
//
// Constructors in sibling packages (loop.Timeout, stream read helpers,
// dnsresolve, fsio, loop.Work) set this to a [*loop.Loop]'s Post method.
// Tasks created directly via [New] leave it nil and resolve inline.
type Poster func(job func())

// Task is a single-shot future: something resolves or rejects it exactly
// once, and any number of callers can [Task.Await] the outcome.
//
// The zero value is not usable; construct with [New], [Resolved], or
// [Rejected].
type Task[T any] struct {
	done   chan struct{}
	once   sync.Once
	value  T
	err    error
	poster Poster
}

// New creates a [*Task][T] and immediately invokes fn in the caller's
// goroutine, mirroring the original's "runs fn(resolve, reject) in the
// caller's context." A panic inside fn is recovered and converted to a
// Reject, matching the original's `unhandled_exception` capture.
//
// The resolve/reject closures passed to fn are safe to call from any
// goroutine, at any later time; only the first call has effect.
func New[T any](fn func(resolve func(T), reject func(error))) *Task[T] {
	return newWithPoster[T](nil, fn)
}

// newWithPoster is like [New] but threads loop affinity through t.poster
// so that Resolve/Reject observably run as posted loop jobs. [New] calls
// it with a nil poster.
func newWithPoster[T any](poster Poster, fn func(resolve func(T), reject func(error))) (t *Task[T]) {
	t = &Task[T]{done: make(chan struct{}), poster: poster}

	defer func() {
		if r := recover(); r != nil {
			t.Reject(fmt.Errorf("task: panic: %v", r))
		}
	}()

	fn(t.Resolve, t.Reject)
	return t
}

// WithPoster returns t unchanged but records poster as its loop
// affinity, for use by constructors in sibling packages that build a
// [*Task][T] by hand (e.g. wrapping a [*loop.Loop]-owned callback) rather
// than through [New].
func WithPoster[T any](t *Task[T], poster Poster) *Task[T] {
	t.poster = poster
	return t
}

// Pending returns a not-yet-settled [*Task][T] with loop affinity
// poster, for sibling packages (loop.Timeout, loop.Work, stream read
// helpers, dnsresolve, fsio) that need to hand out a [*Task][T] before
// the eventual [Task.Resolve]/[Task.Reject] call is known.
func Pending[T any](poster Poster) *Task[T] {
	return &Task[T]{done: make(chan struct{}), poster: poster}
}

// Resolved returns an already-completed [*Task][T] carrying v.
func Resolved[T any](v T) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	t.value = v
	close(t.done)
	return t
}

// Rejected returns an already-completed [*Task][T] carrying err.
//
// err must not be nil.
func Rejected[T any](err error) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	t.err = err
	close(t.done)
	return t
}

// Resolve completes t successfully with v. Safe to call from any
// goroutine. Every call after the first is a silent no-op, matching the
// original's single-assignment `result` variant.
func (t *Task[T]) Resolve(v T) {
	t.settle(func() {
		t.value = v
		close(t.done)
	})
}

// Reject completes t with err. Safe to call from any goroutine. Every
// call after the first is a silent no-op.
func (t *Task[T]) Reject(err error) {
	t.settle(func() {
		t.err = err
		close(t.done)
	})
}

func (t *Task[T]) settle(apply func()) {
	t.once.Do(func() {
		if t.poster != nil {
			t.poster(apply)
			return
		}
		apply()
	})
}

// Await blocks until t settles or ctx is done, whichever happens first.
// This is the explicit suspension point the original expressed through
// `co_await`.
func (t *Task[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports whether t has settled, without blocking.
func (t *Task[T]) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Start drives t to completion in the background and invokes onDone with
// the resulting error (nil on success) once t settles, without blocking
// the caller.
//
// This mirrors the original's `start(queue_delete)`: there, a detached
// coroutine state could only be safely deleted after completion, and
// `queue_delete` posted that deletion back onto the loop. Go's garbage
// collector makes manual deletion unnecessary, but the same "run the
// completion handler as a posted job, not inline" discipline still
// matters for callbacks that touch loop-owned state, so onDone is routed
// through t's [Poster] when one is set.
func (t *Task[T]) Start(onDone func(error)) {
	go func() {
		_, err := t.Await(context.Background())
		if t.poster != nil {
			t.poster(func() { onDone(err) })
			return
		}
		onDone(err)
	}()
}

// Then registers ok to run with t's value on success, or fail with the
// error on failure, returning a [*Task][Unit] that settles once the
// chosen callback returns.
func (t *Task[T]) Then(ok func(T) error, fail func(error)) *Task[Unit] {
	out := &Task[Unit]{done: make(chan struct{}), poster: t.poster}
	go func() {
		v, err := t.Await(context.Background())
		if err != nil {
			if fail != nil {
				fail(err)
			}
			out.Reject(err)
			return
		}
		if cbErr := ok(v); cbErr != nil {
			out.Reject(cbErr)
			return
		}
		out.Resolve(Unit{})
	}()
	return out
}

// Finally registers cb to run once t settles, with the error (nil on
// success), returning a [*Task][Unit] that settles after cb returns.
func (t *Task[T]) Finally(cb func(error)) *Task[Unit] {
	out := &Task[Unit]{done: make(chan struct{}), poster: t.poster}
	go func() {
		_, err := t.Await(context.Background())
		cb(err)
		if err != nil {
			out.Reject(err)
			return
		}
		out.Resolve(Unit{})
	}()
	return out
}

// Race returns a [*Task][T] that settles as soon as the first of tasks
// settles, with that task's value or error. The remaining tasks keep
// running to completion; their results are discarded.
//
// Calling Race with no tasks returns a [*Task][T] that never settles.
func Race[T any](tasks ...*Task[T]) *Task[T] {
	out := &Task[T]{done: make(chan struct{})}
	if len(tasks) == 0 {
		return out
	}
	for _, t := range tasks {
		t := t
		go func() {
			v, err := t.Await(context.Background())
			out.once.Do(func() {
				out.value = v
				out.err = err
				close(out.done)
			})
		}()
	}
	return out
}
