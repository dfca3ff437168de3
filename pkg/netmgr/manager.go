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

// Package netmgr runs operations on three worker pools and routes each
// completion callback back to the execution context that submitted the work.
package netmgr

import (
	"fmt"
	"net/http"
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/photonet/pkg/operation"
	"github.com/walteh/photonet/pkg/runloop"
)

const (
	// DefaultTransferWidth is the number of concurrent transfers.
	DefaultTransferWidth = 4
	// DefaultUserAgent is sent by RequestToGetURL.
	DefaultUserAgent = "photonet/1.0"
	// DefaultAcceptEncoding is sent by RequestToGetURL.
	DefaultAcceptEncoding = "gzip"
)

// ErrClosed is returned when submitting to a manager that has been closed.
var ErrClosed = errors.Base("operation manager closed")

// Callback receives an operation once it has finished.
type Callback func(op operation.Operation)

// CallbackLoopBinder is implemented by operations that publish their own
// progress on a callback execution context. The manager hands them the
// submitter's loop when they have none.
type CallbackLoopBinder interface {
	CallbackLoop() *runloop.Loop
	SetCallbackLoop(loop *runloop.Loop)
}

// Options configure a Manager. Zero values select the defaults.
type Options struct {
	TransferWidth int
	ComputeWidth  int
	UserAgent     string
	// Registerer receives the manager's metrics; nil leaves them unregistered.
	Registerer prometheus.Registerer
	Logger     *zerolog.Logger
}

type registration struct {
	callback Callback
	loop     *runloop.Loop
	pool     Pool
}

// 🎛️ Manager owns the management, transfer and compute pools. Every
// submitted operation is tracked in one registry until its callback is
// delivered or it is cancelled through the manager.
type Manager struct {
	logger      zerolog.Logger
	userAgent   string
	networkLoop *runloop.Loop
	pools       [3]*pool
	metrics     *metrics

	mu        sync.Mutex
	registry  map[operation.Operation]*registration
	transfers int
	closed    bool
}

// 🏗️ New creates a manager and starts its pools and network loop.
func New(opts Options) *Manager {
	transferWidth := opts.TransferWidth
	if transferWidth <= 0 {
		transferWidth = DefaultTransferWidth
	}
	computeWidth := opts.ComputeWidth
	if computeWidth <= 0 {
		computeWidth = runtime.GOMAXPROCS(0)
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	m := &Manager{
		logger:      logger.With().Str("component", "netmgr").Logger(),
		userAgent:   userAgent,
		networkLoop: runloop.New("network"),
		metrics:     newMetrics(opts.Registerer),
		registry:    make(map[operation.Operation]*registration),
	}
	m.pools[PoolManagement] = newPool(m, PoolManagement, 0)
	m.pools[PoolTransfer] = newPool(m, PoolTransfer, transferWidth)
	m.pools[PoolCompute] = newPool(m, PoolCompute, computeWidth)

	m.logger.Debug().
		Int("transfer_width", transferWidth).
		Int("compute_width", computeWidth).
		Msg("operation manager started")

	return m
}

// NetworkLoop is the execution context given to network operations that
// have none of their own.
func (m *Manager) NetworkLoop() *runloop.Loop {
	return m.networkLoop
}

// 📥 Submit registers op with its callback and queues it on pool. The
// callback runs on loop (runloop.Default when nil) exactly once, unless op
// is cancelled through Cancel first. Submitting an operation twice panics.
func (m *Manager) Submit(op operation.Operation, p Pool, loop *runloop.Loop, callback Callback) error {
	if op == nil {
		return errors.New("nil operation")
	}
	if p < PoolManagement || p > PoolCompute {
		return errors.Errorf("unknown pool %d", p)
	}
	if loop == nil {
		loop = runloop.Default()
	}

	if lb, ok := op.(operation.LoopBinder); ok && p.network() && lb.Loop() == nil {
		lb.SetLoop(m.networkLoop)
	}
	if cb, ok := op.(CallbackLoopBinder); ok && cb.CallbackLoop() == nil {
		cb.SetCallbackLoop(loop)
	}
	if ls, ok := op.(interface {
		operation.LoggerSetter
		HasLogger() bool
	}); ok && !ls.HasLogger() {
		ls.SetLogger(m.logger.With().Str("pool", p.String()).Logger())
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, dup := m.registry[op]; dup {
		m.mu.Unlock()
		panic(fmt.Sprintf("operation %s submitted twice", op.ID()))
	}
	m.registry[op] = &registration{callback: callback, loop: loop, pool: p}
	m.mu.Unlock()

	m.metrics.submitted.WithLabelValues(p.String()).Inc()
	m.pools[p].enqueue(op)
	return nil
}

// AddManagementOperation queues op on the management pool.
func (m *Manager) AddManagementOperation(op operation.Operation, loop *runloop.Loop, callback Callback) error {
	return m.Submit(op, PoolManagement, loop, callback)
}

// AddTransferOperation queues op on the transfer pool.
func (m *Manager) AddTransferOperation(op operation.Operation, loop *runloop.Loop, callback Callback) error {
	return m.Submit(op, PoolTransfer, loop, callback)
}

// AddCPUOperation queues op on the compute pool.
func (m *Manager) AddCPUOperation(op operation.Operation, loop *runloop.Loop, callback Callback) error {
	return m.Submit(op, PoolCompute, loop, callback)
}

// ⛔ Cancel stops tracking op and cancels it. Called on the loop the
// operation was submitted with, it guarantees the callback will not run.
// Nil and untracked operations are ignored.
func (m *Manager) Cancel(op operation.Operation) {
	if op == nil {
		return
	}

	m.mu.Lock()
	reg, ok := m.registry[op]
	if ok {
		delete(m.registry, op)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	m.metrics.cancelled.WithLabelValues(reg.pool.String()).Inc()
	op.Cancel()
}

// operationDone is called by a pool once op has finished. Delivery happens
// on the submitter's loop and re-checks the registry there, which is what
// makes a same-loop Cancel final.
func (m *Manager) operationDone(op operation.Operation, p Pool) {
	m.mu.Lock()
	reg, ok := m.registry[op]
	m.mu.Unlock()
	if !ok {
		return
	}

	if !reg.loop.Post(func() { m.deliver(op) }) {
		m.mu.Lock()
		delete(m.registry, op)
		m.mu.Unlock()
		m.logger.Warn().
			Str("op", op.ID()).
			Str("loop", reg.loop.Name()).
			Msg("dropping callback for closed execution context")
	}
}

func (m *Manager) deliver(op operation.Operation) {
	m.mu.Lock()
	reg, ok := m.registry[op]
	if ok {
		delete(m.registry, op)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	m.metrics.completed.WithLabelValues(reg.pool.String()).Inc()
	if reg.callback != nil {
		reg.callback(op)
	}
}

// Tracked reports whether op is registered with the manager.
func (m *Manager) Tracked(op operation.Operation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.registry[op]
	return ok
}

func (m *Manager) transferStarted() {
	m.mu.Lock()
	m.transfers++
	m.mu.Unlock()
	m.metrics.transfers.Inc()
}

func (m *Manager) transferFinished() {
	m.mu.Lock()
	m.transfers--
	m.mu.Unlock()
	m.metrics.transfers.Dec()
}

// 📶 NetworkInUse reports whether any transfer is running.
func (m *Manager) NetworkInUse() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfers > 0
}

// 🌐 RequestToGetURL builds a GET request carrying the manager's default
// headers.
func (m *Manager) RequestToGetURL(rawURL string) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Errorf("building request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", m.userAgent)
	req.Header.Set("Accept-Encoding", DefaultAcceptEncoding)
	return req, nil
}

// 🧹 Close cancels every tracked operation, waits for the pools to drain and
// stops the network loop. Callbacks for cancelled operations do not run.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pending := make([]operation.Operation, 0, len(m.registry))
	for op := range m.registry {
		pending = append(pending, op)
	}
	m.mu.Unlock()

	for _, op := range pending {
		m.Cancel(op)
	}
	for _, p := range m.pools {
		p.close()
	}
	m.networkLoop.Close()

	m.logger.Debug().Int("cancelled", len(pending)).Msg("operation manager closed")
}
