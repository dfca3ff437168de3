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

package runloop

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostRunsInOrder(t *testing.T) {
	l := New("order")
	defer l.Close()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }), "post should succeed")
	}
	l.Sync(func() {})

	require.Len(t, got, 100, "all tasks should run")
	for i, v := range got {
		assert.Equal(t, i, v, "tasks should run in post order")
	}
}

func TestTasksNeverOverlap(t *testing.T) {
	l := New("serial")
	defer l.Close()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Post(func() {
					n := active.Add(1)
					if n > maxActive.Load() {
						maxActive.Store(n)
					}
					active.Add(-1)
				})
			}
		}()
	}
	wg.Wait()
	l.Sync(func() {})

	assert.Equal(t, int32(1), maxActive.Load(), "at most one task should run at a time")
}

func TestPostFromLoop(t *testing.T) {
	l := New("reentrant")
	defer l.Close()

	done := make(chan string, 1)
	l.Post(func() {
		l.Post(func() { done <- "inner" })
	})

	select {
	case v := <-done:
		assert.Equal(t, "inner", v)
	case <-time.After(time.Second):
		t.Fatal("task posted from the loop never ran")
	}
}

func TestCloseDrainsAndRejects(t *testing.T) {
	l := New("close")

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		l.Post(func() { ran.Add(1) })
	}
	l.Close()

	assert.Equal(t, int32(10), ran.Load(), "queued tasks should run before close returns")
	assert.True(t, l.Closed())
	assert.False(t, l.Post(func() {}), "post after close should fail")
	assert.False(t, l.Sync(func() {}), "sync after close should fail")

	// closing twice is harmless
	l.Close()
}

func TestAfterFunc(t *testing.T) {
	l := New("timer")
	defer l.Close()

	fired := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerStopOnLoopPreventsFire(t *testing.T) {
	l := New("timer-stop")
	defer l.Close()

	var fired atomic.Bool
	l.Sync(func() {
		tm := l.AfterFunc(time.Millisecond, func() { fired.Store(true) })
		// the timer expires and queues its callback behind this task
		time.Sleep(20 * time.Millisecond)
		tm.Stop()
	})
	l.Sync(func() {})

	assert.False(t, fired.Load(), "a stopped timer must not run its callback")
}

func TestDefaultIsShared(t *testing.T) {
	assert.Same(t, Default(), Default(), "default loop should be created once")
	assert.Equal(t, "default", Default().Name())
}
