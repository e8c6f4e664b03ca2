//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/original_source/cpp-uv/include/uvpp/check.hpp
//

package loop

// Check is a [Handle] whose callback fires once per loop iteration,
// after jobs and due timers have run. The Go analogue of `uv::check`.
//
// Tests use one to assert iteration-ordering invariants.
//
// The zero value is not usable; construct with [NewCheck].
type Check struct {
	Handle

	cb      func()
	started bool
}

// NewCheck creates a [*Check] bound to l.
func NewCheck(l *Loop) *Check {
	return &Check{Handle: newHandle(l)}
}

// Start registers cb to run once per loop iteration. Calling Start on an
// already-started Check replaces its callback.
func (c *Check) Start(cb func()) {
	c.cb = cb
	if !c.started {
		c.started = true
		c.Loop().registerCheck(c)
	}
}

// Stop unregisters the callback. Safe to call on a Check that is not
// running.
func (c *Check) Stop() {
	if !c.started {
		return
	}
	c.started = false
	c.Loop().unregisterCheck(c)
}

// Close stops the check and releases it. cb, if non-nil, runs after
// teardown completes.
func (c *Check) Close(cb func()) {
	c.close(c.Stop, cb)
}

func (c *Check) fire() {
	if !c.started || !c.IsActive() || c.cb == nil {
		return
	}
	c.cb()
}
