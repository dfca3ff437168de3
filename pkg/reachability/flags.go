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

package reachability

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"
)

// 📶 Flags describe how a host can be reached. Bit positions follow the
// SystemConfiguration reachability flags so masks can be shared with clients
// that speak that vocabulary.
type Flags uint32

const (
	FlagTransientConnection  Flags = 1 << 0
	FlagReachable            Flags = 1 << 1
	FlagConnectionRequired   Flags = 1 << 2
	FlagConnectionOnTraffic  Flags = 1 << 3
	FlagInterventionRequired Flags = 1 << 4
	FlagConnectionOnDemand   Flags = 1 << 5
	FlagIsLocalAddress       Flags = 1 << 16
	FlagIsDirect             Flags = 1 << 17
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagTransientConnection, "transient"},
	{FlagReachable, "reachable"},
	{FlagConnectionRequired, "connection-required"},
	{FlagConnectionOnTraffic, "connection-on-traffic"},
	{FlagInterventionRequired, "intervention-required"},
	{FlagConnectionOnDemand, "connection-on-demand"},
	{FlagIsLocalAddress, "local"},
	{FlagIsDirect, "direct"},
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// 🔍 Prober samples the reachability of a host. A host that cannot be reached
// is reported through the flags, not an error; errors mean the probe itself
// could not run.
type Prober interface {
	Probe(ctx context.Context, host string) (Flags, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, host string) (Flags, error)

func (f ProberFunc) Probe(ctx context.Context, host string) (Flags, error) {
	return f(ctx, host)
}

// HostForURL returns the host:port a prober should dial to reach u. A URL
// without a port gets its scheme's default.
func HostForURL(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "http", "ws":
			port = "80"
		default:
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// 📡 DialProber resolves the host and opens a TCP connection to it.
//
//   - resolution fails: no flags
//   - resolution succeeds, dial fails: FlagConnectionRequired
//   - dial succeeds: FlagReachable, plus FlagIsLocalAddress / FlagIsDirect for
//     loopback and private addresses
type DialProber struct {
	// Port is used when the host carries no port; defaults to "443".
	Port     string
	Timeout  time.Duration
	Resolver *net.Resolver
}

func (p *DialProber) Probe(ctx context.Context, host string) (Flags, error) {
	name, port, err := net.SplitHostPort(host)
	if err != nil {
		name = host
		port = p.Port
		if port == "" {
			port = "443"
		}
	}

	resolver := p.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := resolver.LookupIPAddr(ctx, name)
	if err != nil || len(addrs) == 0 {
		return 0, nil
	}

	var flags Flags
	for _, a := range addrs {
		if a.IP.IsLoopback() {
			flags |= FlagIsLocalAddress | FlagIsDirect
		} else if a.IP.IsPrivate() || a.IP.IsLinkLocalUnicast() {
			flags |= FlagIsDirect
		}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(name, port))
	if err != nil {
		return flags | FlagConnectionRequired, nil
	}
	conn.Close()
	return flags | FlagReachable, nil
}
