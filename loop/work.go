//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-uv/include/uvpp/work.hpp
//

package loop

import (
	"fmt"

	"github.com/bassosimone/loopnet/task"
)

// Work runs workFn on a freshly spawned goroutine — Go's scheduler
// standing in for libuv's worker thread pool — and resolves the
// returned [*task.Task][T] back on l once workFn returns. A panic inside
// workFn is recovered and surfaces as a rejection, mirroring the
// original's `std::current_exception` capture around `work_cb()`.
//
// Use Work for any blocking call (DNS resolution, file I/O, a CPU-bound
// computation) that must not block the loop's own goroutine; dnsresolve
// and fsio are both built on this primitive.
func Work[T any](l *Loop, workFn func() (T, error)) *task.Task[T] {
	out := task.Pending[T](l.Post)

	go func() {
		v, err := runWork(workFn)
		if err != nil {
			out.Reject(err)
			return
		}
		out.Resolve(v)
	}()

	return out
}

func runWork[T any](workFn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loop: work panic: %v", r)
		}
	}()
	return workFn()
}
