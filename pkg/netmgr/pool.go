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
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/walteh/photonet/pkg/operation"
)

// Pool identifies one of the manager's worker pools.
type Pool int

const (
	// PoolManagement runs coordinating operations; it has no width limit.
	PoolManagement Pool = iota
	// PoolTransfer runs network transfers, bounded by TransferWidth.
	PoolTransfer
	// PoolCompute runs CPU work, bounded by ComputeWidth.
	PoolCompute
)

func (p Pool) String() string {
	switch p {
	case PoolManagement:
		return "management"
	case PoolTransfer:
		return "transfer"
	case PoolCompute:
		return "compute"
	default:
		return "unknown"
	}
}

// network reports whether operations on the pool belong on the network loop.
func (p Pool) network() bool {
	return p == PoolManagement || p == PoolTransfer
}

// 🏊 pool starts queued operations in FIFO order, never running more than
// its width at once. The dispatcher goroutine is the only thing that starts
// operations; a slot is returned when the operation's Done channel closes.
type pool struct {
	kind Pool
	sem  *semaphore.Weighted // nil means unbounded
	m    *Manager

	mu     sync.Mutex
	queue  []operation.Operation
	closed bool
	wake   chan struct{}

	running    sync.WaitGroup
	dispatched chan struct{}
}

func newPool(m *Manager, kind Pool, width int) *pool {
	p := &pool{
		kind:       kind,
		m:          m,
		wake:       make(chan struct{}, 1),
		dispatched: make(chan struct{}),
	}
	if width > 0 {
		p.sem = semaphore.NewWeighted(int64(width))
	}
	go p.dispatch()
	return p
}

func (p *pool) enqueue(op operation.Operation) {
	p.mu.Lock()
	p.queue = append(p.queue, op)
	p.mu.Unlock()

	p.m.metrics.queued.WithLabelValues(p.kind.String()).Inc()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// next blocks until an operation is queued. It returns false once the pool
// is closed and the queue is empty.
func (p *pool) next() (operation.Operation, bool) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			op := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return op, true
		}
		closed := p.closed
		p.mu.Unlock()

		if closed {
			return nil, false
		}
		<-p.wake
	}
}

func (p *pool) dispatch() {
	defer close(p.dispatched)

	label := p.kind.String()
	for {
		op, ok := p.next()
		if !ok {
			return
		}

		if p.sem != nil {
			// the background context never ends, so Acquire only returns once a slot frees
			_ = p.sem.Acquire(context.Background(), 1)
		}

		p.m.metrics.queued.WithLabelValues(label).Dec()
		p.m.metrics.running.WithLabelValues(label).Inc()
		if p.kind == PoolTransfer {
			p.m.transferStarted()
		}

		p.running.Add(1)
		op.Start()

		go func() {
			defer p.running.Done()
			<-op.Done()

			if p.sem != nil {
				p.sem.Release(1)
			}
			p.m.metrics.running.WithLabelValues(label).Dec()
			if p.kind == PoolTransfer {
				p.m.transferFinished()
			}
			p.m.operationDone(op, p.kind)
		}()
	}
}

// close stops the dispatcher once the queue drains and waits for every
// started operation to finish.
func (p *pool) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}

	<-p.dispatched
	p.running.Wait()
}
