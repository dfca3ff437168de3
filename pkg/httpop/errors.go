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

package httpop

import (
	"fmt"
	"strings"

	"gitlab.com/tozd/go/errors"
)

var (
	// ErrResponseTooLarge is returned when the body exceeds MaximumResponseSize.
	ErrResponseTooLarge = errors.Base("response too large")
	// ErrOutputStream is returned when ResponseWriter fails.
	ErrOutputStream = errors.Base("response output stream failed")
	// ErrAuthenticationRejected is returned when the authentication delegate
	// refuses a challenge with an error.
	ErrAuthenticationRejected = errors.Base("authentication rejected")
)

// 🚦 StatusError reports a response whose status code is not acceptable.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unacceptable http status %d from %s", e.StatusCode, e.URL)
}

// 📄 ContentTypeError reports a response whose media type is not acceptable.
type ContentTypeError struct {
	ContentType string
	Acceptable  []string
}

func (e *ContentTypeError) Error() string {
	ct := e.ContentType
	if ct == "" {
		ct = "<none>"
	}
	return fmt.Sprintf("unacceptable content type %s (want %s)", ct, strings.Join(e.Acceptable, ", "))
}

// 🔌 TransportError wraps a failure of the underlying HTTP transport
// (connection refused, DNS, timeouts, truncated bodies).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the transport failure was a timeout.
func (e *TransportError) Timeout() bool {
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// 🔐 AuthenticationError wraps the error an AuthenticationDelegate returned
// for a challenge. It matches ErrAuthenticationRejected with errors.Is.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return "authentication rejected: " + e.Err.Error()
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthenticationRejected
}
