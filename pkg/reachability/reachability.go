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

// Package reachability provides an operation that waits until a host's
// reachability flags match a target.
package reachability

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/walteh/photonet/pkg/operation"
)

const (
	// DefaultInterval is how often the host is probed.
	DefaultInterval = 2 * time.Second

	DefaultTargetMask  = FlagReachable | FlagInterventionRequired
	DefaultTargetValue = FlagReachable
)

// 🛰️ Operation runs until (flags & FlagsTargetMask) == FlagsTargetValue for
// its host. It never fails on its own; only cancellation ends it early.
//
// The exported fields must not be changed once the operation is queued.
type Operation struct {
	*operation.Base

	FlagsTargetMask  Flags
	FlagsTargetValue Flags
	// Prober samples the host; nil uses a DialProber.
	Prober Prober
	// Interval between probes.
	Interval time.Duration

	host   string
	flags  atomic.Uint32
	cancel context.CancelFunc
}

// 🏭 New creates an operation watching host, which may carry a port.
func New(host string) *Operation {
	op := &Operation{
		host:             host,
		FlagsTargetMask:  DefaultTargetMask,
		FlagsTargetValue: DefaultTargetValue,
		Interval:         DefaultInterval,
	}
	op.Base = operation.NewBase(op)
	return op
}

// HostName returns the watched host.
func (o *Operation) HostName() string {
	return o.host
}

// Flags returns the most recently observed flags.
func (o *Operation) Flags() Flags {
	return Flags(o.flags.Load())
}

func (o *Operation) OperationDidStart() {
	ctx, cancel := context.WithCancel(o.Logger().WithContext(context.Background()))
	o.cancel = cancel

	prober := o.Prober
	if prober == nil {
		prober = &DialProber{}
	}
	interval := o.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	go o.watch(ctx, prober, interval)
}

func (o *Operation) OperationWillFinish() {
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Operation) watch(ctx context.Context, prober Prober, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		flags, err := prober.Probe(ctx, o.host)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			o.Logger().Debug().Err(err).Str("host", o.host).Msg("reachability probe failed")
		} else {
			o.Post(func() { o.setFlags(flags) })
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (o *Operation) setFlags(flags Flags) {
	old := Flags(o.flags.Swap(uint32(flags)))
	if old != flags {
		o.Logger().Debug().
			Str("host", o.host).
			Stringer("flags", flags).
			Msg("reachability changed")
	}
	if flags&o.FlagsTargetMask == o.FlagsTargetValue {
		o.Finish(nil)
	}
}
