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

package operation

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/photonet/pkg/runloop"
)

// ErrCancelled is the completion error of every operation that was cancelled
// before it finished.
var ErrCancelled = errors.Base("operation cancelled")

// 📊 State is the lifecycle state of an operation. It only ever moves forward.
type State int32

const (
	StateCreated State = iota
	StateExecuting
	StateFinished
)

// String returns a string representation of State
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateExecuting:
		return "executing"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// 🎯 Operation is a cancellable, single-shot unit of asynchronous work.
type Operation interface {
	// ID returns an identifier used in logs
	ID() string
	// Start is called once by the pool that owns the operation
	Start()
	// Cancel requests cancellation; it is idempotent and safe from any goroutine
	Cancel()
	// State returns the current lifecycle state
	State() State
	// Err returns the completion error once the operation has finished
	Err() error
	// IsCancelled reports whether cancellation was requested
	IsCancelled() bool
	// Done is closed when the operation reaches StateFinished
	Done() <-chan struct{}
}

// 🪝 Hooks are implemented by concrete operations. Both are called on the
// operation's execution context.
//
// OperationDidStart runs when execution begins, unless the operation was
// cancelled before it started. It may call Finish.
//
// OperationWillFinish runs exactly once, just before the operation becomes
// finished, including on cancellation. Err is already set when it runs.
type Hooks interface {
	OperationDidStart()
	OperationWillFinish()
}

// LoopBinder is implemented by operations that can be pinned to an execution
// context before they are queued.
type LoopBinder interface {
	Loop() *runloop.Loop
	SetLoop(loop *runloop.Loop)
}

// LoggerSetter is implemented by operations that accept a logger from whoever
// queues them.
type LoggerSetter interface {
	SetLogger(logger zerolog.Logger)
}

// 🧱 Base carries the lifecycle shared by every operation. Concrete
// operations embed a *Base created with NewBase and signal completion by
// calling Finish on their execution context.
type Base struct {
	id    string
	hooks Hooks

	mu        sync.Mutex
	state     State
	finishing bool
	err       error
	loop      *runloop.Loop
	logger    zerolog.Logger
	hasLogger bool

	cancelled atomic.Bool
	done      chan struct{}
}

// 🏭 NewBase creates the lifecycle core for an operation whose hooks are
// implemented by hooks.
func NewBase(hooks Hooks) *Base {
	return &Base{
		id:     uuid.NewString(),
		hooks:  hooks,
		state:  StateCreated,
		logger: zerolog.Nop(),
		done:   make(chan struct{}),
	}
}

func (b *Base) ID() string {
	return b.id
}

// Loop returns the configured execution context, or nil if none was set.
func (b *Base) Loop() *runloop.Loop {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loop
}

// SetLoop pins the operation to loop. It must be called before the operation
// is queued.
func (b *Base) SetLoop(loop *runloop.Loop) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateCreated {
		panic(fmt.Sprintf("operation %s: execution context changed while %s", b.id, b.state))
	}
	b.loop = loop
}

// ActualLoop returns the loop the operation runs on: the configured one, or
// runloop.Default when none was set.
func (b *Base) ActualLoop() *runloop.Loop {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.actualLoopLocked()
}

func (b *Base) actualLoopLocked() *runloop.Loop {
	if b.loop == nil {
		return runloop.Default()
	}
	return b.loop
}

// SetLogger replaces the operation's logger. The operation id is attached to
// every entry.
func (b *Base) SetLogger(logger zerolog.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger.With().Str("op", b.id).Logger()
	b.hasLogger = true
}

// HasLogger reports whether SetLogger has been called.
func (b *Base) HasLogger() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasLogger
}

// Logger returns the operation's logger.
func (b *Base) Logger() *zerolog.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := b.logger
	return &l
}

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Err returns the completion error. It is only meaningful once Done is closed.
func (b *Base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Base) IsCancelled() bool {
	return b.cancelled.Load()
}

func (b *Base) Done() <-chan struct{} {
	return b.done
}

// ▶️ Start moves the operation to StateExecuting and hands it to its execution
// context. It never blocks.
func (b *Base) Start() {
	b.mu.Lock()
	if b.state != StateCreated {
		st := b.state
		b.mu.Unlock()
		panic(fmt.Sprintf("operation %s: start called while %s", b.id, st))
	}
	b.state = StateExecuting
	loop := b.actualLoopLocked()
	b.mu.Unlock()

	if !loop.Post(b.startOnLoop) {
		// Nothing can ever run on a closed loop, so this is the one Finish
		// that happens off the execution context: on the starter's goroutine,
		// with OperationDidStart skipped and OperationWillFinish still called.
		b.Finish(errors.Errorf("execution context %s closed: %w", loop.Name(), ErrCancelled))
	}
}

func (b *Base) startOnLoop() {
	if b.IsCancelled() {
		b.Finish(ErrCancelled)
		return
	}
	b.Logger().Debug().Msg("operation started")
	b.hooks.OperationDidStart()
}

// ⛔ Cancel requests cancellation. An operation that has not started will
// finish with ErrCancelled as soon as it starts; an executing one finishes
// with ErrCancelled on its execution context. Finished operations ignore it.
func (b *Base) Cancel() {
	if b.cancelled.Swap(true) {
		return
	}

	b.mu.Lock()
	st := b.state
	loop := b.actualLoopLocked()
	b.mu.Unlock()

	if st == StateExecuting {
		loop.Post(b.cancelOnLoop)
	}
}

func (b *Base) cancelOnLoop() {
	if b.Executing() {
		b.Finish(ErrCancelled)
	}
}

// Executing reports whether the operation is running and has not begun
// finishing.
func (b *Base) Executing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateExecuting && !b.finishing
}

// 🏁 Finish completes the operation with err (nil for success). It must be
// called on the execution context and at most once; a second call panics.
func (b *Base) Finish(err error) {
	b.mu.Lock()
	if b.state != StateExecuting || b.finishing {
		st := b.state
		b.mu.Unlock()
		panic(fmt.Sprintf("operation %s: finish called while %s", b.id, st))
	}
	b.finishing = true
	b.err = err
	b.mu.Unlock()

	b.hooks.OperationWillFinish()

	b.mu.Lock()
	b.state = StateFinished
	b.mu.Unlock()

	if err != nil {
		b.Logger().Debug().Err(err).Msg("operation finished with error")
	} else {
		b.Logger().Debug().Msg("operation finished")
	}
	close(b.done)
}

// 📬 Post runs fn on the execution context if the operation is still
// executing when fn's turn comes. Events from in-flight work that arrive after
// the operation finished are dropped.
func (b *Base) Post(fn func()) bool {
	return b.ActualLoop().Post(func() {
		if b.Executing() {
			fn()
		}
	})
}
