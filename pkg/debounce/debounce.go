// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package debounce coalesces bursts of calls into one trailing call.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs the most recently submitted function once the delay has
// passed since the first submission of a burst.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	latest  func()
	stopped bool
	pending sync.WaitGroup
}

func New(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Do schedules fn. A function already waiting is replaced. After Stop, fn
// runs immediately on the caller's goroutine.
func (d *Debouncer) Do(fn func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		fn()
		return
	}

	d.latest = fn
	if d.timer == nil {
		d.pending.Add(1)
		d.timer = time.AfterFunc(d.delay, d.fire)
	}
	d.mu.Unlock()
}

func (d *Debouncer) fire() {
	defer d.pending.Done()

	d.mu.Lock()
	fn := d.latest
	d.latest = nil
	d.timer = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Queued reports whether a function is waiting to run.
func (d *Debouncer) Queued() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop flushes a waiting function and waits for any running one to return.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true

	var flush func()
	if d.timer != nil && d.timer.Stop() {
		flush = d.latest
		d.latest = nil
		d.timer = nil
		d.pending.Done()
	}
	d.mu.Unlock()

	if flush != nil {
		flush()
	}
	d.pending.Wait()
}
