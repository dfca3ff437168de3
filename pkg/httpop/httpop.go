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

// Package httpop implements an operation that performs exactly one HTTP
// request/response exchange, validating the status code, content type and
// size of the response as it arrives.
package httpop

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/photonet/pkg/operation"
	"github.com/walteh/photonet/pkg/runloop"
)

const (
	// DefaultMaximumResponseSize caps in-memory bodies at 4 MiB.
	DefaultMaximumResponseSize int64 = 4 << 20
	// DefaultResponseSize pre-sizes the accumulator when Content-Length is unknown.
	DefaultResponseSize int64 = 1 << 20

	readChunkSize = 32 << 10
)

// StatusRange is an inclusive range of status codes.
type StatusRange struct {
	Min, Max int
}

// StatusCodes is a set of acceptable status codes.
type StatusCodes []StatusRange

// DefaultStatusCodes accepts 200 through 299.
var DefaultStatusCodes = StatusCodes{{Min: 200, Max: 299}}

// Contains reports whether code falls in any range of the set.
func (s StatusCodes) Contains(code int) bool {
	for _, r := range s {
		if code >= r.Min && code <= r.Max {
			return true
		}
	}
	return false
}

// 🌐 Operation runs one HTTP request.
//
// The exported fields configure the exchange and must not be changed once
// the operation has been queued.
type Operation struct {
	*operation.Base

	// Client performs the exchange; nil means http.DefaultClient. Redirects
	// follow the client's policy.
	Client *http.Client
	// AcceptableStatusCodes defaults to DefaultStatusCodes when nil.
	AcceptableStatusCodes StatusCodes
	// AcceptableContentTypes are media type patterns such as "image/*". When
	// empty any content type is accepted.
	AcceptableContentTypes []string
	// AuthenticationDelegate answers 401/407 challenges; nil rejects them.
	AuthenticationDelegate AuthenticationDelegate
	// ResponseWriter receives the body instead of the in-memory accumulator.
	ResponseWriter io.Writer
	// DefaultResponseSize pre-sizes the accumulator when the length is unknown.
	DefaultResponseSize int64
	// MaximumResponseSize bounds the body; zero or negative means unlimited.
	MaximumResponseSize int64

	// DebugError replaces a nil completion error. Test seam only.
	DebugError error
	// DebugDelay postpones completion. Test seam only.
	DebugDelay time.Duration

	request *http.Request

	// owned by the execution context
	ctx          context.Context
	cancel       context.CancelFunc
	accumulator  *bytes.Buffer
	received     int64
	authFailures int
	debugTimer   *runloop.Timer

	mu           sync.Mutex
	lastRequest  *http.Request
	lastResponse *http.Response
	responseBody []byte
}

// 🏭 New creates an operation for req.
func New(req *http.Request) *Operation {
	op := &Operation{
		request:             req,
		DefaultResponseSize: DefaultResponseSize,
		MaximumResponseSize: DefaultMaximumResponseSize,
	}
	op.Base = operation.NewBase(op)
	return op
}

// NewWithURL creates an operation that GETs rawURL.
func NewWithURL(rawURL string) (*Operation, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Errorf("creating request: %w", err)
	}
	return New(req), nil
}

// Request returns the request the operation was created with.
func (o *Operation) Request() *http.Request {
	return o.request
}

// URL returns the URL of the original request.
func (o *Operation) URL() *url.URL {
	return o.request.URL
}

// LastRequest returns the request actually sent, after redirects.
func (o *Operation) LastRequest() *http.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastRequest
}

// LastResponse returns the final response. Its body has been consumed.
func (o *Operation) LastResponse() *http.Response {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastResponse
}

// ResponseBody returns the accumulated body of a successful exchange. It is
// nil when the body was streamed to ResponseWriter.
func (o *Operation) ResponseBody() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.responseBody
}

// ResponseContentType returns the media type of the last response, without
// parameters.
func (o *Operation) ResponseContentType() string {
	resp := o.LastResponse()
	if resp == nil {
		return ""
	}
	return mediaType(resp.Header.Get("Content-Type"))
}

func (o *Operation) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

func (o *Operation) statusCodes() StatusCodes {
	if o.AcceptableStatusCodes == nil {
		return DefaultStatusCodes
	}
	return o.AcceptableStatusCodes
}

func (o *Operation) OperationDidStart() {
	o.ctx, o.cancel = context.WithCancel(o.Logger().WithContext(context.Background()))

	o.Logger().Debug().
		Str("method", o.request.Method).
		Str("url", o.request.URL.String()).
		Msg("http request starting")

	go o.transfer(o.ctx, o.request.Clone(o.ctx))
}

func (o *Operation) OperationWillFinish() {
	if o.cancel != nil {
		o.cancel()
	}
	o.debugTimer.Stop()
}

// responseAction tells the transfer goroutine what to do after headers.
type responseAction struct {
	read   bool
	resend *http.Request
}

// transfer drives the network exchange off the execution context. Every
// result is handed to the context through Post; the context answers through
// channels, and ctx is cancelled when the operation finishes.
func (o *Operation) transfer(ctx context.Context, req *http.Request) {
	for {
		resp, err := o.client().Do(req)
		if err != nil {
			o.Post(func() { o.didFail(err) })
			return
		}

		next := make(chan responseAction, 1)
		if !o.Post(func() { next <- o.didReceiveResponse(resp) }) {
			resp.Body.Close()
			return
		}

		var act responseAction
		select {
		case act = <-next:
		case <-ctx.Done():
			resp.Body.Close()
			return
		}

		if act.resend != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, readChunkSize))
			resp.Body.Close()
			req = act.resend
			continue
		}
		if !act.read {
			resp.Body.Close()
			return
		}

		body, err := decodedBody(resp)
		if err != nil {
			resp.Body.Close()
			o.Post(func() { o.didFail(err) })
			return
		}
		o.readBody(ctx, body)
		return
	}
}

type gzipBody struct {
	*gzip.Reader
	raw io.Closer
}

func (g gzipBody) Close() error {
	g.Reader.Close()
	return g.raw.Close()
}

// decodedBody undoes a gzip Content-Encoding the transport left in place,
// which happens whenever the request set Accept-Encoding itself.
func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	if resp.Uncompressed || !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return resp.Body, nil
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, errors.Errorf("decoding gzip body: %w", err)
	}
	return gzipBody{Reader: zr, raw: resp.Body}, nil
}

func (o *Operation) readBody(ctx context.Context, body io.ReadCloser) {
	defer body.Close()

	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			ack := make(chan bool, 1)
			if !o.Post(func() { ack <- o.didReceiveData(chunk) }) {
				return
			}
			select {
			case ok := <-ack:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
		if errors.Is(err, io.EOF) {
			o.Post(o.didFinishLoading)
			return
		}
		if err != nil {
			o.Post(func() { o.didFail(err) })
			return
		}
	}
}

func (o *Operation) didReceiveResponse(resp *http.Response) responseAction {
	o.mu.Lock()
	o.lastRequest = resp.Request
	o.lastResponse = resp
	o.mu.Unlock()

	o.Logger().Debug().
		Int("status", resp.StatusCode).
		Str("content_type", resp.Header.Get("Content-Type")).
		Int64("content_length", resp.ContentLength).
		Msg("http response received")

	if challenge, ok := challengeFrom(resp, o.authFailures); ok {
		if resend, handled := o.handleChallenge(challenge); handled {
			return responseAction{resend: resend}
		}
		if !o.Executing() {
			return responseAction{}
		}
	}

	if !o.statusCodes().Contains(resp.StatusCode) {
		o.finish(&StatusError{StatusCode: resp.StatusCode, URL: resp.Request.URL.String()})
		return responseAction{}
	}

	if len(o.AcceptableContentTypes) > 0 {
		ct := mediaType(resp.Header.Get("Content-Type"))
		if !contentTypeAcceptable(o.AcceptableContentTypes, ct) {
			o.finish(&ContentTypeError{ContentType: ct, Acceptable: o.AcceptableContentTypes})
			return responseAction{}
		}
	}

	if o.MaximumResponseSize > 0 && resp.ContentLength > o.MaximumResponseSize {
		o.finish(errors.Errorf("content length %d exceeds %d: %w", resp.ContentLength, o.MaximumResponseSize, ErrResponseTooLarge))
		return responseAction{}
	}

	if o.ResponseWriter == nil {
		size := resp.ContentLength
		if size < 0 {
			size = o.DefaultResponseSize
		}
		if o.MaximumResponseSize > 0 && size > o.MaximumResponseSize {
			size = o.MaximumResponseSize
		}
		if size < 0 {
			size = 0
		}
		o.accumulator = bytes.NewBuffer(make([]byte, 0, size))
	}

	return responseAction{read: true}
}

// handleChallenge returns the request to resend and true when the delegate
// supplied a credential. It finishes the operation when the delegate fails.
func (o *Operation) handleChallenge(challenge Challenge) (*http.Request, bool) {
	d := o.AuthenticationDelegate
	if d == nil || !d.CanAuthenticate(o, challenge.Space) {
		o.Logger().Debug().Str("realm", challenge.Space.Realm).Msg("authentication challenge rejected")
		return nil, false
	}

	cred, err := d.HandleChallenge(o, challenge)
	if err != nil {
		o.finish(&AuthenticationError{Err: err})
		return nil, false
	}
	if cred == nil {
		return nil, false
	}

	o.authFailures++
	req := o.request.Clone(o.ctx)
	if o.request.GetBody != nil {
		body, err := o.request.GetBody()
		if err != nil {
			o.finish(errors.Errorf("rewinding request body: %w", err))
			return nil, false
		}
		req.Body = body
	}
	cred.Apply(req, challenge.Space.Proxy)
	return req, true
}

func (o *Operation) didReceiveData(chunk []byte) bool {
	o.received += int64(len(chunk))
	if o.MaximumResponseSize > 0 && o.received > o.MaximumResponseSize {
		o.finish(errors.Errorf("received %d bytes, limit %d: %w", o.received, o.MaximumResponseSize, ErrResponseTooLarge))
		return false
	}

	if o.ResponseWriter != nil {
		if _, err := o.ResponseWriter.Write(chunk); err != nil {
			o.finish(errors.Errorf("%w: %s", ErrOutputStream, err.Error()))
			return false
		}
		return true
	}

	o.accumulator.Write(chunk)
	return true
}

func (o *Operation) didFinishLoading() {
	if o.accumulator != nil {
		o.mu.Lock()
		o.responseBody = o.accumulator.Bytes()
		o.mu.Unlock()
	}
	o.Logger().Debug().Int64("bytes", o.received).Msg("http response complete")
	o.finish(nil)
}

func (o *Operation) didFail(err error) {
	o.finish(&TransportError{Err: err})
}

// finish applies the debug seams before completing the operation.
func (o *Operation) finish(err error) {
	if err == nil && o.DebugError != nil {
		err = o.DebugError
	}
	if err != nil {
		o.mu.Lock()
		o.responseBody = nil
		o.mu.Unlock()
	}
	if o.DebugDelay > 0 && o.debugTimer == nil {
		o.debugTimer = o.ActualLoop().AfterFunc(o.DebugDelay, func() {
			if o.Executing() {
				o.Finish(err)
			}
		})
		return
	}
	o.Finish(err)
}

func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}

func contentTypeAcceptable(patterns []string, mt string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(strings.ToLower(p), mt); ok {
			return true
		}
	}
	return false
}
