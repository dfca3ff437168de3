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
	"net/http"
	"time"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/photonet/pkg/httpop"
	"github.com/walteh/photonet/pkg/operation"
	"github.com/walteh/photonet/pkg/reachability"
)

// 📋 Policy configures how a retrying operation reacts to retryable failures.
type Policy struct {
	// MaxRetries bounds the number of retries; negative means unlimited.
	MaxRetries int
	// Backoff picks the delay before each retry; nil uses DefaultBackoff.
	Backoff Backoff
	// Reachability gates each retry on the request host becoming reachable.
	Reachability bool
	// ReachabilityInterval is the probe interval of the gate.
	ReachabilityInterval time.Duration
	// Prober is used by the gate; nil uses a reachability.DialProber.
	Prober reachability.Prober
}

// DefaultPolicy retries forever on the default backoff table, waiting for the
// host to be reachable before each retry.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:           -1,
		Backoff:              DefaultBackoff,
		Reachability:         true,
		ReachabilityInterval: reachability.DefaultInterval,
	}
}

func (p Policy) backoff() Backoff {
	if p.Backoff == nil {
		return DefaultBackoff
	}
	return p.Backoff
}

func (p Policy) exhausted(retries int) bool {
	return p.MaxRetries >= 0 && retries >= p.MaxRetries
}

// 🔁 IsRetryable reports whether a failed exchange is worth repeating.
// Transport failures and 408, 429 and 5xx statuses are; cancellation and
// every rejection of the response itself are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, operation.ErrCancelled) {
		return false
	}

	var se *httpop.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusRequestTimeout,
			se.StatusCode == http.StatusTooManyRequests,
			se.StatusCode >= 500 && se.StatusCode <= 599:
			return true
		default:
			return false
		}
	}

	var cte *httpop.ContentTypeError
	if errors.As(err, &cte) {
		return false
	}
	if errors.Is(err, httpop.ErrResponseTooLarge) ||
		errors.Is(err, httpop.ErrOutputStream) ||
		errors.Is(err, httpop.ErrAuthenticationRejected) {
		return false
	}

	return true
}
