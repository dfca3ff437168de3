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

package netmgr

import "sync"

var (
	sharedMu sync.Mutex
	shared   *Manager
)

// Shared returns the process-wide manager, creating it with default options
// on first use.
func Shared() *Manager {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		shared = New(Options{})
	}
	return shared
}

// SetShared installs m as the process-wide manager, closing any previous one.
func SetShared(m *Manager) {
	sharedMu.Lock()
	old := shared
	shared = m
	sharedMu.Unlock()

	if old != nil && old != m {
		old.Close()
	}
}

// ResetShared closes and forgets the process-wide manager.
func ResetShared() {
	SetShared(nil)
}
