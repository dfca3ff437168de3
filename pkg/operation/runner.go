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
	"context"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/photonet/pkg/runloop"
)

// 🏃 Runner starts a single operation outside of any pool and waits for it.
type Runner struct {
	logger *zerolog.Logger
	loop   *runloop.Loop
}

// 🏗️ NewRunner creates a new runner. Operations without an execution context
// are pinned to loop; a nil loop leaves them on runloop.Default.
func NewRunner(logger *zerolog.Logger, loop *runloop.Loop) *Runner {
	return &Runner{
		logger: logger,
		loop:   loop,
	}
}

// 🏃 Run starts op and blocks until it finishes. If ctx ends first the
// operation is cancelled and Run still waits for it to reach StateFinished.
func (r *Runner) Run(ctx context.Context, op Operation) error {
	if lb, ok := op.(LoopBinder); ok && lb.Loop() == nil && r.loop != nil {
		lb.SetLoop(r.loop)
	}
	if ls, ok := op.(LoggerSetter); ok && r.logger != nil {
		ls.SetLogger(*r.logger)
	}

	op.Start()

	select {
	case <-op.Done():
		return op.Err()
	case <-ctx.Done():
		op.Cancel()
		<-op.Done()
		return errors.Errorf("operation cancelled: %w", ctx.Err())
	}
}
