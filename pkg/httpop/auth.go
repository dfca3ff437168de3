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
	"net/http"
	"strings"
)

// ProtectionSpace describes who is asking for credentials.
type ProtectionSpace struct {
	Host   string
	Scheme string // authentication scheme, e.g. "Basic"
	Realm  string
	Proxy  bool
}

// 🔑 Challenge is an authentication challenge received in a 401 or 407
// response.
type Challenge struct {
	Space ProtectionSpace
	// PreviousFailureCount is the number of credentials already rejected for
	// this operation.
	PreviousFailureCount int
	// Response carries the status and headers of the challenging response.
	Response *http.Response
}

// Credential is applied to the request that is resent after a challenge.
type Credential interface {
	Apply(req *http.Request, proxy bool)
}

// BasicCredential answers a challenge with HTTP basic authentication.
type BasicCredential struct {
	User     string
	Password string
}

func (c BasicCredential) Apply(req *http.Request, proxy bool) {
	if !proxy {
		req.SetBasicAuth(c.User, c.Password)
		return
	}
	tmp := &http.Request{Header: http.Header{}}
	tmp.SetBasicAuth(c.User, c.Password)
	req.Header.Set("Proxy-Authorization", tmp.Header.Get("Authorization"))
}

// HeaderCredential answers a challenge with a literal authorization header
// value such as "Bearer abc".
type HeaderCredential struct {
	Value string
}

func (c HeaderCredential) Apply(req *http.Request, proxy bool) {
	if proxy {
		req.Header.Set("Proxy-Authorization", c.Value)
		return
	}
	req.Header.Set("Authorization", c.Value)
}

// 🤝 AuthenticationDelegate decides how an operation answers challenges.
// Both methods run on the operation's execution context.
//
// HandleChallenge returns a credential to resend the request with, a nil
// credential to reject the challenge (the challenging response then goes
// through normal status validation), or an error to fail the operation with
// ErrAuthenticationRejected.
type AuthenticationDelegate interface {
	CanAuthenticate(op *Operation, space ProtectionSpace) bool
	HandleChallenge(op *Operation, challenge Challenge) (Credential, error)
}

// challengeFrom extracts a challenge from resp, if it is one.
func challengeFrom(resp *http.Response, failures int) (Challenge, bool) {
	var header string
	proxy := false
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		header = resp.Header.Get("WWW-Authenticate")
	case http.StatusProxyAuthRequired:
		header = resp.Header.Get("Proxy-Authenticate")
		proxy = true
	default:
		return Challenge{}, false
	}
	if header == "" {
		return Challenge{}, false
	}

	scheme, params, _ := strings.Cut(strings.TrimSpace(header), " ")
	space := ProtectionSpace{
		Scheme: scheme,
		Realm:  authParam(params, "realm"),
		Proxy:  proxy,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		space.Host = resp.Request.URL.Host
	}

	return Challenge{
		Space:                space,
		PreviousFailureCount: failures,
		Response:             resp,
	}, true
}

// authParam finds key="value" (or key=value) in an auth-param list.
func authParam(params, key string) string {
	for _, part := range strings.Split(params, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), key) {
			continue
		}
		return strings.Trim(strings.TrimSpace(v), `"`)
	}
	return ""
}
