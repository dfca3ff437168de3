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

package opts

import (
	"net/http"

	"github.com/walteh/photonet/pkg/config"
	"github.com/walteh/photonet/pkg/log"
	"github.com/walteh/photonet/pkg/netmgr"
	"github.com/walteh/photonet/pkg/runloop"
)

// 🧰 RootOpts carries what every command needs
type RootOpts struct {
	Config     *config.Config
	Manager    *netmgr.Manager
	Client     *http.Client
	Console    *log.Logger
	UserLogger *log.UserLogger
	// Loop is the command's own execution context; callbacks land here
	Loop *runloop.Loop
}

// Close shuts down the manager and the command loop
func (o *RootOpts) Close() {
	if o.Manager != nil {
		o.Manager.Close()
	}
	if o.Loop != nil {
		o.Loop.Close()
	}
}
