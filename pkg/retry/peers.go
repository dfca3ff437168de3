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
	"strings"
	"sync"
)

// 👥 PeerGroup links retrying operations that talk to the same host. When
// one of them succeeds, every peer still waiting out its backoff retries
// immediately.
type PeerGroup struct {
	mu      sync.Mutex
	waiting map[string]map[*Operation]struct{}
}

// NewPeerGroup creates an empty group.
func NewPeerGroup() *PeerGroup {
	return &PeerGroup{waiting: make(map[string]map[*Operation]struct{})}
}

func (g *PeerGroup) add(host string, op *Operation) {
	host = strings.ToLower(host)
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.waiting[host]
	if !ok {
		set = make(map[*Operation]struct{})
		g.waiting[host] = set
	}
	set[op] = struct{}{}
}

func (g *PeerGroup) remove(host string, op *Operation) {
	host = strings.ToLower(host)
	g.mu.Lock()
	defer g.mu.Unlock()
	if set, ok := g.waiting[host]; ok {
		delete(set, op)
		if len(set) == 0 {
			delete(g.waiting, host)
		}
	}
}

// Waiting returns the number of operations waiting to retry against host.
func (g *PeerGroup) Waiting(host string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiting[strings.ToLower(host)])
}

// succeeded tells every waiting peer of from that its host is healthy again.
func (g *PeerGroup) succeeded(host string, from *Operation) {
	host = strings.ToLower(host)
	g.mu.Lock()
	peers := make([]*Operation, 0, len(g.waiting[host]))
	for op := range g.waiting[host] {
		if op != from {
			peers = append(peers, op)
		}
	}
	g.mu.Unlock()

	for _, op := range peers {
		op.Post(op.peerSucceeded)
	}
}
