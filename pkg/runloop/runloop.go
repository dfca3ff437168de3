// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runloop provides execution contexts: single goroutines that run
// posted tasks one at a time, in the order they were posted.
//
// Operations pin their callback-style events (data arrival, timer firing,
// reachability changes) to one Loop so that no operation ever handles two
// events concurrently with itself. Completion callbacks are likewise routed to
// the Loop that submitted the work.
package runloop

import (
	"sync"
	"sync/atomic"
	"time"
)

// 🔁 Loop is a serial task queue backed by a single goroutine.
//
// The zero Loop is not usable; create one with New.
type Loop struct {
	name string

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

// 🏭 New starts a loop with the given name.
func New(name string) *Loop {
	l := &Loop{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

var (
	defaultOnce sync.Once
	defaultLoop *Loop
)

// Default returns a process-wide loop used by operations that were never
// assigned one. It is created on first use and never closed.
func Default() *Loop {
	defaultOnce.Do(func() {
		defaultLoop = New("default")
	})
	return defaultLoop
}

// Name returns the name given to New.
func (l *Loop) Name() string {
	return l.name
}

func (l *Loop) String() string {
	return "runloop(" + l.name + ")"
}

// 📬 Post enqueues fn to run on the loop. It may be called from any goroutine,
// including the loop itself. It returns false if the loop has been closed, in
// which case fn will never run.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Sync posts fn and waits for it to return. It must not be called from the
// loop itself.
func (l *Loop) Sync(fn func()) bool {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	<-done
	return true
}

// Close stops the loop from accepting new tasks, runs the tasks already
// queued, and waits for the loop goroutine to exit. It must not be called from
// the loop itself.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

// Closed reports whether Close has been called.
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			if l.closed {
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
			<-l.wake
			continue
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}

// ⏰ Timer is a one-shot timer whose callback runs on a Loop.
type Timer struct {
	t       *time.Timer
	stopped atomic.Bool
}

// AfterFunc runs fn on the loop once d has elapsed. If Stop is called on the
// loop before fn runs, fn is guaranteed not to run.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if tm.stopped.Load() {
				return
			}
			fn()
		})
	})
	return tm
}

// Stop prevents the timer from firing. It reports whether the underlying
// timer was still pending.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	t.stopped.Store(true)
	return t.t.Stop()
}
