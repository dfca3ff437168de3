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

// Package retry provides an operation that keeps issuing a GET until it
// succeeds, fails permanently, runs out of retries or is cancelled. Between
// attempts it waits for a backoff delay and, optionally, for the host to
// become reachable.
package retry

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/photonet/pkg/httpop"
	"github.com/walteh/photonet/pkg/netmgr"
	"github.com/walteh/photonet/pkg/operation"
	"github.com/walteh/photonet/pkg/reachability"
	"github.com/walteh/photonet/pkg/runloop"
)

// State is the retry state of an Operation.
type State int32

const (
	StateNotStarted State = iota
	StateGetting
	StateWaitingToRetry
	StateRetrying
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateGetting:
		return "getting"
	case StateWaitingToRetry:
		return "waiting-to-retry"
	case StateRetrying:
		return "retrying"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Submitter queues the operations a retrying operation coordinates.
// *netmgr.Manager implements it.
type Submitter interface {
	AddTransferOperation(op operation.Operation, loop *runloop.Loop, callback netmgr.Callback) error
	AddManagementOperation(op operation.Operation, loop *runloop.Loop, callback netmgr.Callback) error
	Cancel(op operation.Operation)
}

var sequence atomic.Uint64

// 🔁 Operation coordinates a series of HTTP attempts for one request. It
// runs on a management pool; every attempt is an httpop.Operation queued on
// the transfer pool, and every gate a reachability.Operation queued on the
// management pool.
//
// Exported fields must be set before the operation is queued.
type Operation struct {
	*operation.Base

	Policy Policy
	// Peers shares success between operations against the same host.
	Peers *PeerGroup
	// ResponseFilePath, when set, receives the body instead of memory.
	ResponseFilePath       string
	AcceptableContentTypes []string
	// MaximumResponseSize overrides the attempt's limit when non-zero.
	MaximumResponseSize    int64
	Client                 *http.Client
	AuthenticationDelegate httpop.AuthenticationDelegate

	submitter Submitter
	request   *http.Request
	sequence  uint64
	internal  atomic.Int32

	// confined to the execution context
	network      *httpop.Operation
	gate         *reachability.Operation
	timer        *runloop.Timer
	timerElapsed bool
	file         *os.File
	fileChecked  bool
	// fileCreated is set when ResponseFilePath did not exist before the first attempt
	fileCreated  bool

	mu                     sync.Mutex
	callbackLoop           *runloop.Loop
	clientState            State
	observers              []func(op *Operation)
	retryCount             int
	hasHadRetryableFailure bool
	response               *http.Response
	content                []byte
	contentType            string
}

// 🏭 New creates a retrying GET for req whose attempts are queued through s.
func New(s Submitter, req *http.Request) *Operation {
	op := &Operation{
		Policy:    DefaultPolicy(),
		submitter: s,
		request:   req,
		sequence:  sequence.Add(1),
	}
	op.Base = operation.NewBase(op)
	return op
}

// NewWithURL is New with a plain GET for rawURL.
func NewWithURL(s Submitter, rawURL string) (*Operation, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Errorf("building request for %s: %w", rawURL, err)
	}
	return New(s, req), nil
}

func (o *Operation) Request() *http.Request {
	return o.request
}

func (o *Operation) URL() *url.URL {
	return o.request.URL
}

// SequenceNumber orders operations by creation across the process.
func (o *Operation) SequenceNumber() uint64 {
	return o.sequence
}

// CallbackLoop is where state changes are published.
func (o *Operation) CallbackLoop() *runloop.Loop {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.callbackLoop
}

func (o *Operation) SetCallbackLoop(loop *runloop.Loop) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbackLoop = loop
}

// OnStateChange registers fn to run on the callback loop whenever the
// published retry state changes.
func (o *Operation) OnStateChange(fn func(op *Operation)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// RetryState is the published state. It only changes on the callback loop
// and may skip short-lived states.
func (o *Operation) RetryState() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clientState
}

// RetryCount is the number of retries issued so far.
func (o *Operation) RetryCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retryCount
}

// HasHadRetryableFailure reports whether any attempt failed in a way that
// was retried.
func (o *Operation) HasHadRetryableFailure() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hasHadRetryableFailure
}

// Response is the final response of a successful operation.
func (o *Operation) Response() *http.Response {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.response
}

// ResponseContent is the body of a successful operation that did not write
// to ResponseFilePath.
func (o *Operation) ResponseContent() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.content
}

// ResponseContentType is the media type of the successful response.
func (o *Operation) ResponseContentType() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.contentType
}

func (o *Operation) state() State {
	return State(o.internal.Load())
}

// setState records s and schedules a publication on the callback loop. The
// publication reads whatever state is current when it runs.
func (o *Operation) setState(s State) {
	o.internal.Store(int32(s))

	loop := o.CallbackLoop()
	if loop == nil {
		loop = o.ActualLoop()
	}
	loop.Post(o.publish)
}

func (o *Operation) publish() {
	s := o.state()

	o.mu.Lock()
	if s == o.clientState {
		o.mu.Unlock()
		return
	}
	o.clientState = s
	observers := slices.Clone(o.observers)
	o.mu.Unlock()

	for _, fn := range observers {
		fn(o)
	}
}

func (o *Operation) OperationDidStart() {
	o.Logger().Debug().
		Uint64("seq", o.sequence).
		Str("url", o.request.URL.String()).
		Msg("retrying get started")

	o.startRequest()
}

func (o *Operation) OperationWillFinish() {
	if o.network != nil {
		o.submitter.Cancel(o.network)
		o.network = nil
	}
	if o.gate != nil {
		o.submitter.Cancel(o.gate)
		o.gate = nil
	}
	o.timer.Stop()
	o.timer = nil
	if o.Peers != nil {
		o.Peers.remove(o.request.URL.Host, o)
	}
	o.closeFile()

	if err := o.Err(); err != nil && o.fileCreated {
		if rerr := os.Remove(o.ResponseFilePath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			o.Logger().Warn().Err(rerr).Str("path", o.ResponseFilePath).Msg("removing partial response file")
		}
	}

	o.setState(StateFinished)
}

func (o *Operation) startRequest() {
	req := o.request.Clone(context.Background())
	if o.request.GetBody != nil {
		body, err := o.request.GetBody()
		if err != nil {
			o.Finish(errors.Errorf("rewinding request body: %w", err))
			return
		}
		req.Body = body
	}

	attempt := httpop.New(req)
	attempt.Client = o.Client
	attempt.AcceptableContentTypes = o.AcceptableContentTypes
	attempt.AuthenticationDelegate = o.AuthenticationDelegate
	if o.MaximumResponseSize != 0 {
		attempt.MaximumResponseSize = o.MaximumResponseSize
	}

	if o.ResponseFilePath != "" {
		if !o.fileChecked {
			o.fileChecked = true
			_, err := os.Stat(o.ResponseFilePath)
			o.fileCreated = errors.Is(err, os.ErrNotExist)
		}
		f, err := os.Create(o.ResponseFilePath)
		if err != nil {
			o.Finish(errors.Errorf("creating response file: %w", err))
			return
		}
		o.file = f
		attempt.ResponseWriter = f
	}

	o.network = attempt
	o.setState(StateGetting)

	if err := o.submitter.AddTransferOperation(attempt, o.ActualLoop(), o.attemptDone); err != nil {
		o.network = nil
		o.Finish(errors.Errorf("queuing attempt: %w", err))
	}
}

func (o *Operation) closeFile() {
	if o.file == nil {
		return
	}
	if err := o.file.Close(); err != nil {
		o.Logger().Warn().Err(err).Str("path", o.ResponseFilePath).Msg("closing response file")
	}
	o.file = nil
}

func (o *Operation) attemptDone(op operation.Operation) {
	attempt, ok := op.(*httpop.Operation)
	if !ok || attempt != o.network || !o.Executing() {
		return
	}
	o.network = nil
	o.closeFile()

	err := attempt.Err()
	if err == nil {
		o.mu.Lock()
		o.response = attempt.LastResponse()
		o.content = attempt.ResponseBody()
		o.contentType = attempt.ResponseContentType()
		o.mu.Unlock()

		if o.Peers != nil {
			o.Peers.succeeded(o.request.URL.Host, o)
		}
		o.Finish(nil)
		return
	}

	if !IsRetryable(err) {
		o.Logger().Warn().Err(err).Str("url", o.request.URL.String()).Msg("get failed")
		o.Finish(err)
		return
	}

	o.mu.Lock()
	if o.Policy.exhausted(o.retryCount) {
		retries := o.retryCount
		o.mu.Unlock()
		o.Logger().Warn().Err(err).Int("retries", retries).Str("url", o.request.URL.String()).Msg("giving up")
		o.Finish(err)
		return
	}
	o.hasHadRetryableFailure = true
	o.retryCount++
	retries := o.retryCount
	o.mu.Unlock()

	delay := o.Policy.backoff().Delay(retries)
	o.Logger().Info().
		Err(err).
		Int("retry", retries).
		Dur("delay", delay).
		Str("url", o.request.URL.String()).
		Msg("get failed, will retry")

	o.timerElapsed = false
	o.timer = o.ActualLoop().AfterFunc(delay, o.timerFired)
	if o.Peers != nil {
		o.Peers.add(o.request.URL.Host, o)
	}
	if o.Policy.Reachability {
		o.startGate()
	}
	o.setState(StateWaitingToRetry)
}

func (o *Operation) startGate() {
	gate := reachability.New(reachability.HostForURL(o.request.URL))
	gate.Prober = o.Policy.Prober
	if o.Policy.ReachabilityInterval > 0 {
		gate.Interval = o.Policy.ReachabilityInterval
	}

	o.gate = gate
	if err := o.submitter.AddManagementOperation(gate, o.ActualLoop(), o.gateDone); err != nil {
		o.gate = nil
		o.Logger().Debug().Err(err).Msg("reachability gate unavailable, retrying on timer only")
	}
}

func (o *Operation) gateDone(op operation.Operation) {
	if op != o.gate || !o.Executing() {
		return
	}
	o.gate = nil
	if err := op.Err(); err != nil {
		o.Logger().Debug().Err(err).Msg("reachability gate ended without reaching host")
	}
	o.maybeRetry()
}

func (o *Operation) timerFired() {
	if !o.Executing() || o.state() != StateWaitingToRetry {
		return
	}
	o.timer = nil
	o.timerElapsed = true
	o.maybeRetry()
}

func (o *Operation) peerSucceeded() {
	if o.state() != StateWaitingToRetry || o.timerElapsed {
		return
	}
	o.timer.Stop()
	o.timer = nil
	o.timerElapsed = true
	o.Logger().Debug().Str("host", o.request.URL.Host).Msg("peer succeeded, skipping backoff")
	o.maybeRetry()
}

// maybeRetry issues the next attempt once both the backoff and the
// reachability gate are satisfied.
func (o *Operation) maybeRetry() {
	if o.state() != StateWaitingToRetry || !o.timerElapsed || o.gate != nil {
		return
	}
	if o.Peers != nil {
		o.Peers.remove(o.request.URL.Host, o)
	}
	o.setState(StateRetrying)
	o.startRequest()
}
