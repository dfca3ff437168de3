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

package netmgr

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/photonet/pkg/operation"
	"github.com/walteh/photonet/pkg/runloop"
)

func newManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	logger := zerolog.New(os.Stderr).Level(zerolog.InfoLevel)
	opts.Logger = &logger
	m := New(opts)
	t.Cleanup(m.Close)
	return m
}

func newLoop(t *testing.T) *runloop.Loop {
	t.Helper()
	loop := runloop.New(t.Name())
	t.Cleanup(loop.Close)
	return loop
}

// callbacks collects delivered operations.
type callbacks struct {
	mu  sync.Mutex
	ops []operation.Operation
	ch  chan operation.Operation
}

func newCallbacks() *callbacks {
	return &callbacks{ch: make(chan operation.Operation, 64)}
}

func (c *callbacks) record(op operation.Operation) {
	c.mu.Lock()
	c.ops = append(c.ops, op)
	c.mu.Unlock()
	c.ch <- op
}

func (c *callbacks) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ops)
}

func (c *callbacks) wait(t *testing.T, n int) []operation.Operation {
	t.Helper()
	got := make([]operation.Operation, 0, n)
	for len(got) < n {
		select {
		case op := <-c.ch:
			got = append(got, op)
		case <-time.After(5 * time.Second):
			require.FailNow(t, "timed out waiting for callbacks", "got %d of %d", len(got), n)
		}
	}
	return got
}

func TestCallbackRunsOnSubmitterLoop(t *testing.T) {
	for _, pool := range []Pool{PoolManagement, PoolTransfer, PoolCompute} {
		t.Run(pool.String(), func(t *testing.T) {
			m := newManager(t, Options{})
			loop := newLoop(t)
			cb := newCallbacks()

			gate := make(chan struct{})
			loop.Post(func() { <-gate })

			op := operation.NewBlock(func(ctx context.Context) error { return nil })
			require.NoError(t, m.Submit(op, pool, loop, cb.record))

			<-op.Done()
			time.Sleep(30 * time.Millisecond)
			assert.Equal(t, 0, cb.count(), "callback must wait for the submitter loop")

			close(gate)
			got := cb.wait(t, 1)
			assert.Same(t, op, got[0])
			assert.False(t, m.Tracked(op), "delivered operations are unregistered")
		})
	}
}

func TestCancelOnSubmitterLoopSuppressesCallback(t *testing.T) {
	m := newManager(t, Options{})
	loop := newLoop(t)
	cb := newCallbacks()

	op := operation.NewBlock(func(ctx context.Context) error { return nil })

	loop.Sync(func() {
		require.NoError(t, m.AddCPUOperation(op, loop, cb.record))
		// the delivery is queued behind this task
		<-op.Done()
		time.Sleep(10 * time.Millisecond)
		m.Cancel(op)
	})
	loop.Sync(func() {})

	assert.Equal(t, 0, cb.count())
	assert.NoError(t, op.Err(), "the operation itself completed")
	assert.False(t, m.Tracked(op))
}

func TestCancelQueuedOperation(t *testing.T) {
	m := newManager(t, Options{TransferWidth: 1})
	loop := newLoop(t)
	cb := newCallbacks()

	gate := make(chan struct{})
	first := operation.NewBlock(func(ctx context.Context) error {
		<-gate
		return nil
	})
	var ran atomic.Bool
	second := operation.NewBlock(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	require.NoError(t, m.AddTransferOperation(first, loop, cb.record))
	require.NoError(t, m.AddTransferOperation(second, loop, cb.record))

	m.Cancel(second)
	close(gate)

	cb.wait(t, 1)
	<-second.Done()
	loop.Sync(func() {})

	assert.ErrorIs(t, second.Err(), operation.ErrCancelled)
	assert.False(t, ran.Load(), "cancelled before start, the work never runs")
	assert.Equal(t, 1, cb.count())
}

func TestCancelIgnoresUntracked(t *testing.T) {
	m := newManager(t, Options{})
	op := operation.NewBlock(func(ctx context.Context) error { return nil })

	m.Cancel(nil)
	m.Cancel(op)

	assert.False(t, op.IsCancelled(), "untracked operations are left alone")
}

func TestTransferWidth(t *testing.T) {
	tests := []struct {
		name  string
		width int
		ops   int
	}{
		{name: "width_one", width: 1, ops: 4},
		{name: "width_two", width: 2, ops: 7},
		{name: "default_width", width: 0, ops: DefaultTransferWidth + 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, Options{TransferWidth: tt.width})
			loop := newLoop(t)
			cb := newCallbacks()

			want := tt.width
			if want == 0 {
				want = DefaultTransferWidth
			}

			var current, peak atomic.Int32
			for i := 0; i < tt.ops; i++ {
				op := operation.NewBlock(func(ctx context.Context) error {
					n := current.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					time.Sleep(15 * time.Millisecond)
					current.Add(-1)
					return nil
				})
				require.NoError(t, m.AddTransferOperation(op, loop, cb.record))
			}

			cb.wait(t, tt.ops)
			assert.LessOrEqual(t, int(peak.Load()), want)
			assert.GreaterOrEqual(t, int(peak.Load()), 1)
		})
	}
}

func TestFIFOOrder(t *testing.T) {
	m := newManager(t, Options{ComputeWidth: 1})
	loop := newLoop(t)
	cb := newCallbacks()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 6; i++ {
		i := i
		op :=operation.NewBlock(func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
		require.NoError(t, m.AddCPUOperation(op, loop, cb.record))
	}

	cb.wait(t, 6)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
}

func TestLoopAssignment(t *testing.T) {
	m := newManager(t, Options{})
	loop := newLoop(t)

	tests := []struct {
		name     string
		pool     Pool
		wantLoop *runloop.Loop
	}{
		{name: "management", pool: PoolManagement, wantLoop: m.NetworkLoop()},
		{name: "transfer", pool: PoolTransfer, wantLoop: m.NetworkLoop()},
		{name: "compute", pool: PoolCompute, wantLoop: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := make(chan struct{})
			op := operation.NewBlock(func(ctx context.Context) error {
				<-gate
				return nil
			})
			require.NoError(t, m.Submit(op, tt.pool, loop, nil))
			assert.Equal(t, tt.wantLoop, op.Loop())
			close(gate)
			<-op.Done()
		})
	}
}

type callbackLoopOp struct {
	*operation.Block
	callbackLoop *runloop.Loop
}

func (o *callbackLoopOp) CallbackLoop() *runloop.Loop         { return o.callbackLoop }
func (o *callbackLoopOp) SetCallbackLoop(loop *runloop.Loop) { o.callbackLoop = loop }

func TestCallbackLoopDefaultsToSubmitter(t *testing.T) {
	m := newManager(t, Options{})
	loop := newLoop(t)
	other := newLoop(t)

	op := &callbackLoopOp{Block: operation.NewBlock(func(ctx context.Context) error { return nil })}
	require.NoError(t, m.AddManagementOperation(op, loop, nil))
	assert.Same(t, loop, op.CallbackLoop())

	preset := &callbackLoopOp{
		Block:        operation.NewBlock(func(ctx context.Context) error { return nil }),
		callbackLoop: other,
	}
	require.NoError(t, m.AddManagementOperation(preset, loop, nil))
	assert.Same(t, other, preset.CallbackLoop(), "a configured callback loop is kept")

	<-op.Done()
	<-preset.Done()
}

func TestSubmitTwicePanics(t *testing.T) {
	m := newManager(t, Options{})
	gate := make(chan struct{})
	defer close(gate)

	op := operation.NewBlock(func(ctx context.Context) error {
		<-gate
		return nil
	})
	require.NoError(t, m.AddCPUOperation(op, nil, nil))
	assert.Panics(t, func() {
		_ = m.AddCPUOperation(op, nil, nil)
	})
}

func TestNetworkInUse(t *testing.T) {
	m := newManager(t, Options{})
	loop := newLoop(t)

	assert.False(t, m.NetworkInUse())

	gate := make(chan struct{})
	op := operation.NewBlock(func(ctx context.Context) error {
		<-gate
		return nil
	})
	require.NoError(t, m.AddTransferOperation(op, loop, nil))

	assert.Eventually(t, m.NetworkInUse, time.Second, 5*time.Millisecond)
	close(gate)
	assert.Eventually(t, func() bool { return !m.NetworkInUse() }, time.Second, 5*time.Millisecond)
}

func TestRequestToGetURL(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		url       string
		wantAgent string
		wantErr   bool
	}{
		{
			name:      "default_agent",
			url:       "http://photos.example.com/thumbs/1.jpg",
			wantAgent: DefaultUserAgent,
		},
		{
			name:      "configured_agent",
			userAgent: "gallery/2.0",
			url:       "http://photos.example.com/full/1.jpg",
			wantAgent: "gallery/2.0",
		},
		{
			name:    "bad_url",
			url:     "http://[::1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, Options{UserAgent: tt.userAgent})
			req, err := m.RequestToGetURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "GET", req.Method)
			assert.Equal(t, tt.url, req.URL.String())
			assert.Equal(t, tt.wantAgent, req.Header.Get("User-Agent"))
			assert.Equal(t, DefaultAcceptEncoding, req.Header.Get("Accept-Encoding"))
		})
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newManager(t, Options{Registerer: reg, TransferWidth: 1})
	loop := newLoop(t)
	cb := newCallbacks()

	gate := make(chan struct{})
	blocker := operation.NewBlock(func(ctx context.Context) error {
		<-gate
		return nil
	})
	queued := operation.NewBlock(func(ctx context.Context) error { return nil })
	done := operation.NewBlock(func(ctx context.Context) error { return nil })

	require.NoError(t, m.AddTransferOperation(blocker, loop, cb.record))
	require.NoError(t, m.AddTransferOperation(queued, loop, cb.record))
	require.NoError(t, m.AddCPUOperation(done, loop, cb.record))

	cb.wait(t, 1)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.metrics.running.WithLabelValues("transfer")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.queued.WithLabelValues("transfer")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.transfers))

	m.Cancel(queued)
	close(gate)
	cb.wait(t, 1)
	<-queued.Done()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.metrics.submitted.WithLabelValues("transfer")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.submitted.WithLabelValues("compute")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.completed.WithLabelValues("transfer")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.completed.WithLabelValues("compute")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.cancelled.WithLabelValues("transfer")))

	count, err := testutil.GatherAndCount(reg, "photonet_operations_submitted_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per pool used")
}

func TestClose(t *testing.T) {
	m := New(Options{})
	loop := newLoop(t)
	cb := newCallbacks()

	running := operation.NewBlock(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, m.AddTransferOperation(running, loop, cb.record))

	m.Close()
	m.Close()

	assert.ErrorIs(t, running.Err(), operation.ErrCancelled)
	loop.Sync(func() {})
	assert.Equal(t, 0, cb.count())

	late := operation.NewBlock(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, m.AddCPUOperation(late, loop, cb.record), ErrClosed)
	assert.True(t, m.NetworkLoop().Closed())
}

func TestShared(t *testing.T) {
	t.Cleanup(ResetShared)

	a := Shared()
	assert.Same(t, a, Shared())

	ResetShared()
	b := Shared()
	assert.NotSame(t, a, b)

	late := operation.NewBlock(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, a.AddCPUOperation(late, nil, nil), ErrClosed, "reset closes the previous manager")
}
