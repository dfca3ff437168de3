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
)

// 🧮 Block runs a function as an operation. It is meant for CPU-bound work
// queued on a compute pool: the function runs on its own goroutine and the
// operation finishes on its execution context with the function's error.
type Block struct {
	*Base

	fn     func(ctx context.Context) error
	cancel context.CancelFunc
}

// 🏭 NewBlock wraps fn. The context passed to fn is cancelled when the
// operation is cancelled.
func NewBlock(fn func(ctx context.Context) error) *Block {
	op := &Block{fn: fn}
	op.Base = NewBase(op)
	return op
}

func (o *Block) OperationDidStart() {
	ctx, cancel := context.WithCancel(o.Logger().WithContext(context.Background()))
	o.cancel = cancel

	go func() {
		err := o.fn(ctx)
		o.Post(func() {
			o.Finish(err)
		})
	}()
}

func (o *Block) OperationWillFinish() {
	if o.cancel != nil {
		o.cancel()
	}
}
