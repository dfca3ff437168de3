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

package retry

import (
	"math"
	"time"
)

// ⏱️ Backoff decides how long to wait before retry number n (starting at 1).
type Backoff interface {
	Delay(retry int) time.Duration
}

// ConstantBackoff waits the same duration before every retry.
type ConstantBackoff time.Duration

func (b ConstantBackoff) Delay(int) time.Duration {
	return time.Duration(b)
}

// ExponentialBackoff waits Initial, then Initial*Factor, ... capped at Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
	// Factor defaults to 2 when <= 1.
	Factor float64
}

func (b ExponentialBackoff) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2
	}
	d := float64(b.Initial) * math.Pow(factor, float64(retry-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// StepBackoff walks a fixed table and repeats its last entry.
type StepBackoff []time.Duration

func (b StepBackoff) Delay(retry int) time.Duration {
	if len(b) == 0 {
		return 0
	}
	i := retry - 1
	if i < 0 {
		i = 0
	}
	if i >= len(b) {
		i = len(b) - 1
	}
	return b[i]
}

// DefaultBackoff waits a second, then a minute, then an hour between retries.
var DefaultBackoff = StepBackoff{time.Second, time.Minute, time.Hour}
